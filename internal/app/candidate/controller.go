// Package candidate drives one candidate's invite page: resolving the invite,
// verifying the email, starting the simulation, loading the current task and
// submitting answers.
package candidate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/okian/tenon/internal/adapters/apiclient"
	"github.com/okian/tenon/internal/domain/dedupe"
	"github.com/okian/tenon/internal/domain/draft"
	"github.com/okian/tenon/internal/domain/model"
	"github.com/okian/tenon/internal/domain/session"
	"github.com/okian/tenon/pkg/lifecycle"
	"github.com/okian/tenon/pkg/logger"
	"github.com/okian/tenon/pkg/metrics"
)

const (
	kindCurrentTask = "current_task"
	timerAdvance    = "advance"

	defaultAdvanceDelay  = 900 * time.Millisecond
	defaultDraftDebounce = 350 * time.Millisecond
)

// API is the slice of the BFF client the controller calls.
type API interface {
	ResolveInvite(ctx context.Context, inviteToken, authToken string) (model.Bootstrap, error)
	VerifyEmail(ctx context.Context, inviteToken, email, authToken string) (model.VerifyResponse, error)
	CurrentTask(ctx context.Context, candidateSessionID int64, authToken string) (model.CurrentTaskResponse, error)
	SubmitTask(ctx context.Context, p apiclient.SubmitParams) (model.SubmissionResult, error)
}

// Storage is the per-tab store backing both the session and the drafts.
type Storage interface {
	session.Storage
	draft.Storage
}

// Snapshot is what the page renders.
type Snapshot struct {
	View            session.View
	State           session.State
	Bootstrap       session.BootstrapPhase
	BootstrapError  string
	BootstrapStatus int
	AuthError       string
	VerifyError     string
	Verifying       bool
	Submitting      bool
	SubmitError     string
	Submitted       *model.SubmissionResult
	DayIndex        int
}

// Controller owns the state of one viewed invite. Methods are safe for
// concurrent use; Close ends every timer and in-flight request.
type Controller struct {
	api      API
	sessions *session.Store
	drafts   *draft.Store
	autosave *draft.Autosaver
	scope    *lifecycle.Scope
	tasks    *dedupe.Group[model.CurrentTaskResponse]
	taskGen  dedupe.Generation
	log      logger.Logger

	authToken     func(ctx context.Context) (string, error)
	advanceDelay  time.Duration
	draftDebounce time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu              sync.Mutex
	viewedToken     string
	authLoading     bool
	authError       string
	phase           session.BootstrapPhase
	bootstrapError  string
	bootstrapStatus int
	bootstrapFor    string
	verifying       bool
	verifyError     string
	submitting      bool
	submitError     string
	submitted       *model.SubmissionResult
	total           int
	closed          bool
}

// New returns a controller persisting to storage.
func New(api API, storage Storage, opts ...Option) *Controller {
	c := &Controller{
		api:           api,
		log:           logger.NewNop(),
		advanceDelay:  defaultAdvanceDelay,
		draftDebounce: defaultDraftDebounce,
		phase:         session.BootstrapIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("candidate")
	c.sessions = session.NewStore(storage, session.WithLogger(c.log))
	c.drafts = draft.NewStore(storage, c.log)
	c.scope = lifecycle.NewScope()
	c.autosave = draft.NewAutosaver(c.drafts, c.scope, c.draftDebounce)
	c.tasks = dedupe.NewGroup[model.CurrentTaskResponse](dedupe.WithJoinHook(metrics.RecordCoalescedJoin))
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Mount binds the controller to inviteToken: it restores the persisted
// session, resets it when it belongs to another invite, loads the auth token
// and resolves the invite. A started session also reloads its current task.
func (c *Controller) Mount(ctx context.Context, inviteToken string) {
	inviteToken = strings.TrimSpace(inviteToken)
	c.mu.Lock()
	c.viewedToken = inviteToken
	c.authLoading = true
	c.mu.Unlock()

	c.sessions.Rehydrate(ctx)
	st := c.sessions.BindInviteToken(ctx, inviteToken)

	token := st.AuthToken
	if c.authToken != nil {
		t, err := c.authToken(ctx)
		if err != nil {
			c.log.Warn(ctx, "load auth token", logger.Error(err))
			c.mu.Lock()
			c.authLoading = false
			c.authError = msgAuthLoad
			c.mu.Unlock()
			return
		}
		token = t
	}
	c.mu.Lock()
	c.authLoading = false
	c.authError = ""
	c.mu.Unlock()
	if token != "" {
		st = c.sessions.Dispatch(ctx, session.SetAuthToken{Token: token})
	}

	if st.Bootstrap != nil && st.HasVerifiedAccess(inviteToken) {
		c.mu.Lock()
		c.phase = session.BootstrapReady
		c.mu.Unlock()
	}
	c.LoadBootstrap(ctx)

	if st = c.sessions.State(); st.Started && st.Bootstrap != nil && st.HasVerifiedAccess(inviteToken) {
		c.FetchCurrentTask(ctx)
	}
}

// LoadBootstrap resolves the viewed invite. Only one resolve per token runs
// at a time; a repeat call while one is running does nothing.
func (c *Controller) LoadBootstrap(ctx context.Context) {
	c.mu.Lock()
	token := c.viewedToken
	if c.closed || c.bootstrapFor != "" && c.bootstrapFor == token {
		c.mu.Unlock()
		return
	}
	auth := c.sessions.State().AuthToken
	if auth == "" {
		c.mu.Unlock()
		return
	}
	if token == "" {
		c.phase = session.BootstrapError
		c.bootstrapError = ErrMissingInviteToken.Error()
		c.bootstrapStatus = 0
		c.mu.Unlock()
		return
	}
	ready := c.phase == session.BootstrapReady
	if !ready {
		c.phase = session.BootstrapLoading
	}
	c.bootstrapFor = token
	c.bootstrapError = ""
	c.bootstrapStatus = 0
	c.mu.Unlock()

	c.sessions.Dispatch(ctx, session.SetInviteToken{Token: token})
	cctx, cancel := c.callCtx(ctx)
	b, err := c.api.ResolveInvite(cctx, token, auth)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bootstrapFor = ""
	if c.closed || c.viewedToken != token {
		return
	}
	switch {
	case err == nil:
		c.phase = session.BootstrapReady
	case apiclient.IsAbort(err):
		if !ready {
			c.phase = session.BootstrapIdle
		}
		return
	default:
		c.phase = session.BootstrapError
		c.bootstrapStatus = apiclient.StatusOf(err)
		c.bootstrapError = apiclient.MessageOf(err, msgBootstrapDefault)
		c.log.Warn(ctx, "resolve invite", logger.Int("status", c.bootstrapStatus), logger.Error(err))
		return
	}
	c.sessions.Dispatch(ctx, session.SetBootstrap{Bootstrap: b})
	if b.CandidateSessionID != 0 {
		c.sessions.Dispatch(ctx, session.SetCandidateSessionID{ID: b.CandidateSessionID})
	}
}

// Verify confirms the signed-in email for the viewed invite. It does nothing
// while a verification is running or once access is verified.
func (c *Controller) Verify(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	c.mu.Lock()
	token := c.viewedToken
	st := c.sessions.State()
	if c.verifying || st.HasVerifiedAccess(token) {
		c.mu.Unlock()
		return nil
	}
	var local error
	switch {
	case email == "":
		local = ErrEmailRequired
	case token == "":
		local = ErrMissingInviteToken
	case st.AuthToken == "":
		local = ErrMissingLogin
	}
	if local != nil {
		c.verifyError = local.Error()
		c.mu.Unlock()
		return local
	}
	c.verifying = true
	c.verifyError = ""
	c.mu.Unlock()

	cctx, cancel := c.callCtx(ctx)
	res, err := c.api.VerifyEmail(cctx, token, email, st.AuthToken)
	cancel()

	c.mu.Lock()
	c.verifying = false
	if err != nil {
		if !apiclient.IsAbort(err) {
			c.verifyError = apiclient.MessageOf(err, msgVerifyDefault)
		}
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.sessions.Dispatch(ctx, session.SetCandidateSessionID{ID: res.CandidateSessionID})
	c.sessions.Dispatch(ctx, session.SetVerifiedEmail{Email: email})
	if c.sessions.State().Bootstrap == nil {
		c.sessions.Dispatch(ctx, session.SetBootstrap{Bootstrap: res})
	}
	c.mu.Lock()
	if c.phase == session.BootstrapError {
		c.phase = session.BootstrapReady
		c.bootstrapError = ""
		c.bootstrapStatus = 0
	}
	c.mu.Unlock()
	return nil
}

// Start marks the simulation started and loads the first task.
func (c *Controller) Start(ctx context.Context) {
	c.sessions.Dispatch(ctx, session.SetStarted{Started: true})
	c.FetchCurrentTask(ctx)
}

// FetchCurrentTask reloads the current task. Concurrent calls share one
// request; a result that arrives after a newer fetch started is dropped.
func (c *Controller) FetchCurrentTask(ctx context.Context) {
	c.fetchCurrentTask(ctx, false)
}

func (c *Controller) fetchCurrentTask(ctx context.Context, force bool) {
	st := c.sessions.State()
	csid := st.SessionID()
	if csid == 0 || st.AuthToken == "" {
		c.sessions.Dispatch(ctx, session.TaskError{Message: ErrMissingSession.Error()})
		return
	}
	ticket := c.taskGen.Next()
	c.sessions.Dispatch(ctx, session.TaskLoading{})

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	res, err := c.tasks.Do(cctx, kindCurrentTask, force, func(cctx context.Context) (model.CurrentTaskResponse, error) {
		return c.api.CurrentTask(cctx, csid, st.AuthToken)
	})
	if !c.taskGen.IsCurrent(ticket) {
		return
	}
	switch {
	case err == nil:
		c.sessions.Dispatch(ctx, session.TaskLoaded{
			IsComplete:       res.IsComplete,
			CompletedTaskIDs: res.CompletedTaskIDs,
			CurrentTask:      res.CurrentTask,
		})
	case apiclient.IsAbort(err), errors.Is(err, dedupe.ErrClosed):
		c.sessions.Dispatch(context.WithoutCancel(ctx), session.TaskLoadAborted{})
	case errors.Is(err, context.DeadlineExceeded):
		c.log.Warn(ctx, "load current task timed out", logger.Error(err))
		c.sessions.Dispatch(context.WithoutCancel(ctx), session.TaskError{Message: apiclient.NetworkErrorMessage})
	default:
		c.log.Warn(ctx, "load current task", logger.Int("status", apiclient.StatusOf(err)), logger.Error(err))
		c.sessions.Dispatch(ctx, session.TaskError{Message: apiclient.MessageOf(err, msgTaskDefault)})
	}
}

// callCtx ties a request to both the caller and the controller lifetime.
func (c *Controller) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.baseCtx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// View derives the screen to show.
func (c *Controller) View() session.View {
	return c.Snapshot().View
}

// Snapshot returns everything the page needs to render.
func (c *Controller) Snapshot() Snapshot {
	st := c.sessions.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:           st,
		Bootstrap:       c.phase,
		BootstrapError:  c.bootstrapError,
		BootstrapStatus: c.bootstrapStatus,
		AuthError:       c.authError,
		VerifyError:     c.verifyError,
		Verifying:       c.verifying,
		Submitting:      c.submitting,
		SubmitError:     c.submitError,
		DayIndex:        st.CurrentDayIndex(),
	}
	if c.submitted != nil {
		r := *c.submitted
		snap.Submitted = &r
	}
	if st.Task.IsComplete && c.total > 0 {
		snap.DayIndex = c.total
	}
	snap.View = session.DeriveView(session.ViewInputs{
		AuthLoading:       c.authLoading,
		AuthError:         c.authError,
		Bootstrap:         c.phase,
		BootstrapStatus:   c.bootstrapStatus,
		HasVerifiedAccess: st.HasVerifiedAccess(c.viewedToken),
		Started:           st.Started,
		HasBootstrap:      st.Bootstrap != nil,
		TaskLoading:       st.Task.Loading,
		IsComplete:        st.Task.IsComplete,
	})
	return snap
}

// Draft returns the saved draft of the current task.
func (c *Controller) Draft(ctx context.Context) draft.Draft {
	st := c.sessions.State()
	if st.Task.CurrentTask == nil || st.SessionID() == 0 {
		return draft.Draft{}
	}
	return c.drafts.Load(ctx, st.SessionID(), st.Task.CurrentTask.ID)
}

// UpdateDraft schedules an autosave of the current task's draft.
func (c *Controller) UpdateDraft(ctx context.Context, d draft.Draft) {
	st := c.sessions.State()
	if st.Task.CurrentTask == nil || st.SessionID() == 0 {
		return
	}
	c.autosave.Update(ctx, st.SessionID(), st.Task.CurrentTask.ID, d)
}

// Close flushes the pending draft of the current task, cancels in-flight
// requests and stops every timer.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if st := c.sessions.State(); st.Task.CurrentTask != nil && st.SessionID() != 0 {
		c.autosave.Flush(ctx, st.SessionID(), st.Task.CurrentTask.ID)
	}
	c.cancel()
	c.tasks.Close()
	c.scope.Close()
}
