package dashboard

import (
	"context"
	"strings"
	"time"

	"github.com/okian/tenon/internal/adapters/apiclient"
	"github.com/okian/tenon/internal/domain/invite"
	"github.com/okian/tenon/internal/domain/model"
	"github.com/okian/tenon/pkg/logger"
)

const (
	timerToast  = "toast"
	timerCopied = "copied"
)

// InviteStatus is the state of the invite form.
type InviteStatus string

// Invite form states.
const (
	InviteIdle    InviteStatus = "idle"
	InviteLoading InviteStatus = "loading"
	InviteSuccess InviteStatus = "success"
	InviteError   InviteStatus = "error"
)

// InviteState is the invite form of one simulation.
type InviteState struct {
	Status          InviteStatus
	SimulationID    string
	SimulationTitle string
	InviteURL       string
	Token           string
	Message         string
}

// ToastKind tells a success toast from an error one.
type ToastKind string

// Toast kinds.
const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// Toast is a short notice that dismisses itself.
type Toast struct {
	Kind    ToastKind
	Message string
}

// OpenInvite starts an invite for sim with a clean form.
func (d *Dashboard) OpenInvite(sim model.SimulationListItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invite = InviteState{Status: InviteIdle, SimulationID: sim.ID, SimulationTitle: sim.Title}
	d.copied = false
}

// CloseInvite drops the invite form.
func (d *Dashboard) CloseInvite() {
	d.scope.Cancel(timerCopied)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invite = InviteState{Status: InviteIdle}
	d.copied = false
}

// Invite returns the invite form.
func (d *Dashboard) Invite() InviteState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.invite
}

// SubmitInvite invites a candidate to the open simulation. A blank name or
// email is rejected before any request; a form that is already submitting
// is left alone.
func (d *Dashboard) SubmitInvite(ctx context.Context, candidateName, inviteEmail string) (model.InviteResponse, error) {
	d.mu.Lock()
	simID := d.invite.SimulationID
	if simID == "" {
		d.mu.Unlock()
		return model.InviteResponse{}, ErrNoSimulation
	}
	if d.invite.Status == InviteLoading {
		d.mu.Unlock()
		return model.InviteResponse{}, nil
	}
	name, email, err := invite.Validate(candidateName, inviteEmail)
	if err != nil {
		d.invite.Status = InviteError
		d.invite.Message = err.Error()
		d.mu.Unlock()
		return model.InviteResponse{}, err
	}
	d.invite.Status = InviteLoading
	d.invite.Message = ""
	d.mu.Unlock()

	res, err := d.api.InviteCandidate(ctx, simID, model.InviteRequest{CandidateName: name, InviteEmail: email})

	d.mu.Lock()
	if d.invite.SimulationID != simID {
		d.mu.Unlock()
		return res, err
	}
	if err != nil {
		msg := apiclient.MessageOf(err, msgInviteDefault)
		d.invite.Status = InviteError
		d.invite.Message = msg
		d.mu.Unlock()
		d.log.Warn(ctx, "invite candidate", logger.String("simulation_id", simID),
			logger.Int("status", apiclient.StatusOf(err)), logger.Error(err))
		d.showToast(ctx, ToastError, msg)
		return res, err
	}
	d.invite.Status = InviteSuccess
	d.invite.InviteURL = res.InviteURL
	d.invite.Token = res.Token
	d.mu.Unlock()

	d.showToast(ctx, ToastSuccess, "Invite sent to "+email+".")
	return res, nil
}

// MarkCopied shows the copied indicator for the invite link; it resets on
// its own.
func (d *Dashboard) MarkCopied(ctx context.Context) {
	d.mu.Lock()
	d.copied = true
	d.mu.Unlock()
	err := d.scope.Schedule(timerCopied, d.copyReset, func() {
		d.mu.Lock()
		d.copied = false
		d.mu.Unlock()
	})
	if err != nil {
		d.log.Debug(ctx, "copied reset not scheduled", logger.Error(err))
	}
}

// Copied reports whether the copied indicator is on.
func (d *Dashboard) Copied() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copied
}

// Resend resends the invite of a candidate session. While the session is
// cooling down the call fails with a *CooldownError and makes no request.
func (d *Dashboard) Resend(ctx context.Context, simulationID string, candidateSessionID int64) error {
	if left := d.cooldowns.Remaining(candidateSessionID); left > 0 {
		return &CooldownError{Remaining: left}
	}
	wait, err := d.api.ResendInvite(ctx, simulationID, candidateSessionID, d.resendFallback)
	if wait > 0 {
		d.cooldowns.Start(candidateSessionID, wait)
	}
	if err != nil {
		if isAbort(err) {
			return err
		}
		msg := apiclient.MessageOf(err, msgResendDefault)
		d.authRedirect(d.gen.Current(), err)
		d.log.Warn(ctx, "resend invite", logger.Int64("candidate_session_id", candidateSessionID),
			logger.Int("status", apiclient.StatusOf(err)), logger.Error(err))
		d.showToast(ctx, ToastError, msg)
		return err
	}
	d.showToast(ctx, ToastSuccess, "Invite resent.")
	return nil
}

// ResendCooldown returns how long until a candidate session can be resent.
func (d *Dashboard) ResendCooldown(candidateSessionID int64) time.Duration {
	return d.cooldowns.Remaining(candidateSessionID)
}

// Toast returns the toast on screen, if any.
func (d *Dashboard) Toast() *Toast {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.toast == nil {
		return nil
	}
	t := *d.toast
	return &t
}

// DismissToast hides the toast now.
func (d *Dashboard) DismissToast() {
	d.scope.Cancel(timerToast)
	d.mu.Lock()
	d.toast = nil
	d.mu.Unlock()
}

// showToast replaces the toast on screen and restarts its dismiss timer.
func (d *Dashboard) showToast(ctx context.Context, kind ToastKind, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	d.mu.Lock()
	d.toast = &Toast{Kind: kind, Message: msg}
	d.mu.Unlock()
	err := d.scope.Schedule(timerToast, d.toastDismiss, func() {
		d.mu.Lock()
		d.toast = nil
		d.mu.Unlock()
	})
	if err != nil {
		d.log.Debug(ctx, "toast dismiss not scheduled", logger.Error(err))
	}
}
