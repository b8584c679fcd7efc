package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/tenon/internal/domain/invite"
	"github.com/okian/tenon/internal/domain/model"
)

// AccessToken returns the bearer token of the current BFF session.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	raw, _, err := c.do(ctx, call{method: http.MethodGet, path: "/auth/access-token", token: c.token})
	if err != nil {
		return "", table{fallback: "Unable to load your login session. Please sign in again."}.apply(err)
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := jsonUnmarshal(raw, &out); err != nil || out.AccessToken == "" {
		return "", &HTTPError{Status: http.StatusUnauthorized, Message: "Unable to load your login session. Please sign in again."}
	}
	return out.AccessToken, nil
}

// Profile fetches the signed-in recruiter.
func (c *Client) Profile(ctx context.Context) (model.RecruiterProfile, error) {
	raw, _, err := c.do(ctx, call{method: http.MethodGet, path: "/auth/me", token: c.token})
	if err != nil {
		return model.RecruiterProfile{}, profileTable.apply(err)
	}
	res := model.ParseRecruiterProfile(raw)
	if !res.Valid {
		return model.RecruiterProfile{}, invalidResponse(profileTable.fallback, res.Err())
	}
	return res.Value, nil
}

// Simulations lists the recruiter's simulations.
func (c *Client) Simulations(ctx context.Context) ([]model.SimulationListItem, error) {
	raw, _, err := c.do(ctx, call{method: http.MethodGet, path: "/simulations", token: c.token})
	if err != nil {
		return nil, simulationsTable.apply(err)
	}
	res := model.ParseSimulationList(raw)
	if !res.Valid {
		return nil, invalidResponse(simulationsTable.fallback, res.Err())
	}
	return res.Value, nil
}

// Candidates lists the candidates invited to a simulation.
func (c *Client) Candidates(ctx context.Context, simulationID string) ([]model.CandidateListItem, error) {
	raw, _, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/simulations/" + url.PathEscape(simulationID) + "/candidates",
		token:  c.token,
	})
	if err != nil {
		return nil, candidatesTable.apply(err)
	}
	res := model.ParseCandidateList(raw)
	if !res.Valid {
		return nil, invalidResponse(candidatesTable.fallback, res.Err())
	}
	return res.Value, nil
}

// InviteCandidate invites one candidate. The form is validated locally first.
func (c *Client) InviteCandidate(ctx context.Context, simulationID string, req model.InviteRequest) (model.InviteResponse, error) {
	name, email, err := invite.Validate(req.CandidateName, req.InviteEmail)
	if err != nil {
		return model.InviteResponse{}, &HTTPError{Status: http.StatusBadRequest, Message: err.Error(), Details: err}
	}
	raw, _, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/simulations/" + url.PathEscape(simulationID) + "/invite",
		token:  c.token,
		body:   model.InviteRequest{CandidateName: name, InviteEmail: email},
	})
	if err != nil {
		return model.InviteResponse{}, inviteTable.apply(err)
	}
	res := model.ParseInviteResponse(raw)
	if !res.Valid {
		return model.InviteResponse{}, invalidResponse(inviteTable.fallback, res.Err())
	}
	return res.Value, nil
}

// ResendInvite resends an invite and returns the cooldown before the next
// resend: the retry-after header when it is a number of seconds, fallback
// otherwise. The cooldown is returned on a 429 too.
func (c *Client) ResendInvite(ctx context.Context, simulationID string, candidateSessionID int64, fallback time.Duration) (time.Duration, error) {
	_, header, err := c.do(ctx, call{
		method: http.MethodPost,
		path: "/simulations/" + url.PathEscape(simulationID) + "/candidates/" +
			strconv.FormatInt(candidateSessionID, 10) + "/invite/resend",
		token: c.token,
	})
	if err != nil {
		mapped := resendTable.apply(err)
		var he *HTTPError
		if errors.As(mapped, &he) && he.Status == http.StatusTooManyRequests {
			return invite.ParseRetryAfter(header.Get("Retry-After"), fallback), mapped
		}
		return 0, mapped
	}
	return invite.ParseRetryAfter(header.Get("Retry-After"), fallback), nil
}
