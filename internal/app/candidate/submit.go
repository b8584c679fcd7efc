package candidate

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/tenon/internal/adapters/apiclient"
	"github.com/okian/tenon/internal/domain/model"
	"github.com/okian/tenon/internal/domain/session"
	"github.com/okian/tenon/pkg/logger"
	"github.com/okian/tenon/pkg/metrics"
)

// Answer is what the candidate typed for the current task.
type Answer struct {
	Text string
	Code string
}

// payload validates a against the task kind. Code tasks send the code blob,
// every other kind sends text.
func payload(task model.Task, a Answer) (model.SubmitPayload, error) {
	if model.IsCodeTask(task.Type) {
		if strings.TrimSpace(a.Code) == "" {
			return model.SubmitPayload{}, ErrEmptyCode
		}
		code := a.Code
		return model.SubmitPayload{CodeBlob: &code}, nil
	}
	if strings.TrimSpace(a.Text) == "" {
		return model.SubmitPayload{}, ErrEmptyText
	}
	text := a.Text
	return model.SubmitPayload{ContentText: &text}, nil
}

// Submit sends the answer for the current task. Empty answers never reach the
// network. A second call while one is running returns ErrSubmitPending.
//
// On success the draft is cleared, the task is marked completed and, after
// the advance delay, the next task is fetched. An already submitted task
// (409) is not a failure: the current task is reloaded instead.
func (c *Controller) Submit(ctx context.Context, a Answer) (model.SubmissionResult, error) {
	st := c.sessions.State()
	task := st.Task.CurrentTask
	if task == nil {
		return model.SubmissionResult{}, ErrNoCurrentTask
	}
	p, err := payload(*task, a)
	if err != nil {
		c.setSubmitError(err.Error())
		metrics.RecordSubmissionOutcome("invalid")
		return model.SubmissionResult{}, err
	}
	csid := st.SessionID()
	switch {
	case st.AuthToken == "":
		c.setSubmitError(ErrMissingLogin.Error())
		return model.SubmissionResult{}, ErrMissingLogin
	case csid == 0:
		c.setSubmitError(ErrMissingSession.Error())
		return model.SubmissionResult{}, ErrMissingSession
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return model.SubmissionResult{}, ErrSubmitPending
	}
	c.submitting = true
	c.submitError = ""
	c.submitted = nil
	c.mu.Unlock()

	cctx, cancel := c.callCtx(ctx)
	res, err := c.api.SubmitTask(cctx, apiclient.SubmitParams{
		TaskID:             task.ID,
		CandidateSessionID: csid,
		AuthToken:          st.AuthToken,
		Payload:            p,
	})
	cancel()

	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()

	switch {
	case err == nil:
		c.submitSucceeded(ctx, csid, task.ID, res)
		return res, nil
	case apiclient.IsAbort(err):
		metrics.RecordSubmissionOutcome("aborted")
		return model.SubmissionResult{}, err
	case apiclient.StatusOf(err) == http.StatusConflict:
		metrics.RecordSubmissionOutcome("duplicate")
		c.log.Info(ctx, "task already submitted, reloading", logger.Int64("task_id", task.ID))
		c.sessions.Dispatch(ctx, session.ClearTaskError{})
		c.fetchCurrentTask(ctx, true)
		return model.SubmissionResult{}, err
	default:
		metrics.RecordSubmissionOutcome("error")
		msg := apiclient.MessageOf(err, msgSubmitDefault)
		c.log.Warn(ctx, "submit task", logger.Int64("task_id", task.ID),
			logger.Int("status", apiclient.StatusOf(err)), logger.Error(err))
		c.setSubmitError(msg)
		c.sessions.Dispatch(ctx, session.TaskError{Message: msg})
		return model.SubmissionResult{}, err
	}
}

func (c *Controller) submitSucceeded(ctx context.Context, csid, taskID int64, res model.SubmissionResult) {
	metrics.RecordSubmissionOutcome("accepted")
	c.autosave.Discard(ctx, csid, taskID)
	c.sessions.Dispatch(ctx, session.TaskSubmitted{TaskID: taskID})

	c.mu.Lock()
	r := res
	c.submitted = &r
	if res.Progress.Total > 0 {
		c.total = res.Progress.Total
	}
	c.mu.Unlock()

	advanceCtx := context.WithoutCancel(ctx)
	err := c.scope.Schedule(timerAdvance, c.advanceDelay, func() {
		c.mu.Lock()
		c.submitted = nil
		c.mu.Unlock()
		c.fetchCurrentTask(advanceCtx, true)
	})
	if err != nil {
		c.log.Debug(ctx, "advance not scheduled", logger.Error(err))
	}
}

func (c *Controller) setSubmitError(msg string) {
	c.mu.Lock()
	c.submitError = msg
	c.mu.Unlock()
}
