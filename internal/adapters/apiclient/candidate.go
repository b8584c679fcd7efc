package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/tenon/internal/domain/model"
)

const candidateSessionHeader = "X-Candidate-Session-Id"

// ResolveInvite turns an invite token into the bootstrap of its simulation.
func (c *Client) ResolveInvite(ctx context.Context, inviteToken, authToken string) (model.Bootstrap, error) {
	if err := requireToken(authToken); err != nil {
		return model.Bootstrap{}, err
	}
	raw, _, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/candidate/session/" + url.PathEscape(inviteToken),
		token:  authToken,
	})
	if err != nil {
		return model.Bootstrap{}, bootstrapTable.apply(err)
	}
	res := model.ParseBootstrap(raw)
	if !res.Valid {
		return model.Bootstrap{}, invalidResponse(bootstrapTable.fallback, res.Err())
	}
	return res.Value, nil
}

// VerifyEmail asks the backend to accept email for the invite.
func (c *Client) VerifyEmail(ctx context.Context, inviteToken, email, authToken string) (model.VerifyResponse, error) {
	if err := requireToken(authToken); err != nil {
		return model.VerifyResponse{}, err
	}
	inviteToken = strings.TrimSpace(inviteToken)
	email = strings.TrimSpace(email)
	if inviteToken == "" {
		return model.VerifyResponse{}, &HTTPError{Status: http.StatusBadRequest, Message: "Missing invite token."}
	}
	if email == "" {
		return model.VerifyResponse{}, &HTTPError{Status: http.StatusBadRequest, Message: "Email is required to verify your invite."}
	}
	raw, _, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/candidate/session/" + url.PathEscape(inviteToken) + "/verify",
		token:  authToken,
		body:   map[string]string{"email": email},
	})
	if err != nil {
		return model.VerifyResponse{}, verifyTable.apply(err)
	}
	res := model.ParseVerifyResponse(raw)
	if !res.Valid {
		return model.VerifyResponse{}, invalidResponse(verifyTable.fallback, res.Err())
	}
	return res.Value, nil
}

// CurrentTask fetches the current task and completed progress.
func (c *Client) CurrentTask(ctx context.Context, candidateSessionID int64, authToken string) (model.CurrentTaskResponse, error) {
	if err := requireToken(authToken); err != nil {
		return model.CurrentTaskResponse{}, err
	}
	id := strconv.FormatInt(candidateSessionID, 10)
	raw, _, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/candidate/session/" + id + "/current_task",
		token:  authToken,
		header: http.Header{candidateSessionHeader: {id}},
	})
	if err != nil {
		return model.CurrentTaskResponse{}, currentTaskTable.apply(err)
	}
	res := model.ParseCurrentTask(raw)
	if !res.Valid {
		return model.CurrentTaskResponse{}, invalidResponse(currentTaskTable.fallback, res.Err())
	}
	return res.Value, nil
}

// SubmitParams identifies one submission.
type SubmitParams struct {
	TaskID             int64
	CandidateSessionID int64
	AuthToken          string
	Payload            model.SubmitPayload
}

// SubmitTask submits the answer of a task.
func (c *Client) SubmitTask(ctx context.Context, p SubmitParams) (model.SubmissionResult, error) {
	if err := requireToken(p.AuthToken); err != nil {
		return model.SubmissionResult{}, err
	}
	raw, _, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/tasks/" + strconv.FormatInt(p.TaskID, 10) + "/submit",
		token:  p.AuthToken,
		header: http.Header{candidateSessionHeader: {strconv.FormatInt(p.CandidateSessionID, 10)}},
		body:   p.Payload,
	})
	if err != nil {
		return model.SubmissionResult{}, submitTable.apply(err)
	}
	res := model.ParseSubmissionResult(raw)
	if !res.Valid {
		return model.SubmissionResult{}, invalidResponse(submitTable.fallback, res.Err())
	}
	return res.Value, nil
}
