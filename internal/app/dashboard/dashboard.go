// Package dashboard is the recruiter dashboard: profile and simulation
// loading, candidate lists, invites and invite resends.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/tenon/internal/adapters/apiclient"
	"github.com/okian/tenon/internal/adapters/auth"
	"github.com/okian/tenon/internal/domain/dedupe"
	"github.com/okian/tenon/internal/domain/invite"
	"github.com/okian/tenon/internal/domain/model"
	"github.com/okian/tenon/pkg/lifecycle"
	"github.com/okian/tenon/pkg/logger"
	"github.com/okian/tenon/pkg/metrics"
)

const (
	kindProfile     = "profile"
	kindSimulations = "simulations"

	defaultToastDismiss = 6500 * time.Millisecond
	defaultCopyReset    = 2 * time.Second
)

// API is the slice of the BFF client the dashboard calls.
type API interface {
	Profile(ctx context.Context) (model.RecruiterProfile, error)
	Simulations(ctx context.Context) ([]model.SimulationListItem, error)
	Candidates(ctx context.Context, simulationID string) ([]model.CandidateListItem, error)
	InviteCandidate(ctx context.Context, simulationID string, req model.InviteRequest) (model.InviteResponse, error)
	ResendInvite(ctx context.Context, simulationID string, candidateSessionID int64, fallback time.Duration) (time.Duration, error)
}

// State is the loaded dashboard data.
type State struct {
	Profile            *model.RecruiterProfile
	ProfileError       string
	Simulations        []model.SimulationListItem
	SimulationsError   string
	LoadingProfile     bool
	LoadingSimulations bool
}

// Dashboard holds one recruiter's dashboard. Close aborts in-flight loads and
// stops every timer.
type Dashboard struct {
	api      API
	profiles *dedupe.Group[model.RecruiterProfile]
	sims     *dedupe.Group[[]model.SimulationListItem]
	lists    *dedupe.Group[[]model.CandidateListItem]
	gen      dedupe.Generation
	scope    *lifecycle.Scope
	log      logger.Logger

	redirect       func(target string)
	returnTo       string
	toastDismiss   time.Duration
	copyReset      time.Duration
	resendFallback time.Duration
	cooldowns      *invite.Cooldowns

	mu         sync.Mutex
	state      State
	redirected uint64
	candidates map[string][]model.CandidateListItem
	invite     InviteState
	toast      *Toast
	copied     bool
}

// New returns a dashboard that has not loaded anything yet.
func New(api API, opts ...Option) *Dashboard {
	join := dedupe.WithJoinHook(metrics.RecordCoalescedJoin)
	d := &Dashboard{
		api:            api,
		profiles:       dedupe.NewGroup[model.RecruiterProfile](join),
		sims:           dedupe.NewGroup[[]model.SimulationListItem](join),
		lists:          dedupe.NewGroup[[]model.CandidateListItem](join),
		scope:          lifecycle.NewScope(),
		log:            logger.NewNop(),
		returnTo:       "/dashboard",
		toastDismiss:   defaultToastDismiss,
		copyReset:      defaultCopyReset,
		resendFallback: invite.DefaultResendCooldown,
		cooldowns:      invite.NewCooldowns(nil),
		candidates:     make(map[string][]model.CandidateListItem),
		invite:         InviteState{Status: InviteIdle},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("dashboard")
	return d
}

// State returns a copy of the loaded data.
func (d *Dashboard) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.state
	out.Simulations = append([]model.SimulationListItem(nil), d.state.Simulations...)
	if d.state.Profile != nil {
		p := *d.state.Profile
		out.Profile = &p
	}
	return out
}

// Refresh loads the profile and the simulation list concurrently. Without
// force, a call made while loads are running joins them instead of starting
// new requests. Results of a refresh superseded by a newer one are dropped.
func (d *Dashboard) Refresh(ctx context.Context, force bool) {
	ticket := d.gen.Next()
	d.mu.Lock()
	d.state.LoadingProfile = true
	d.state.LoadingSimulations = true
	d.state.ProfileError = ""
	d.state.SimulationsError = ""
	d.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		p, err := d.profiles.Do(ctx, kindProfile, force, d.api.Profile)
		d.applyProfile(ctx, ticket, p, err)
		return nil
	})
	g.Go(func() error {
		list, err := d.sims.Do(ctx, kindSimulations, force, d.api.Simulations)
		d.applySimulations(ctx, ticket, list, err)
		return nil
	})
	_ = g.Wait()
}

func (d *Dashboard) applyProfile(ctx context.Context, ticket uint64, p model.RecruiterProfile, err error) {
	if err != nil && d.authRedirect(ticket, err) {
		d.finishProfile(ticket)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.gen.IsCurrent(ticket) {
		return
	}
	d.state.LoadingProfile = false
	switch {
	case err == nil:
		d.state.Profile = &p
		d.state.ProfileError = ""
	case isAbort(err):
	default:
		d.log.Warn(ctx, "load profile", logger.Int("status", apiclient.StatusOf(err)), logger.Error(err))
		d.state.ProfileError = apiclient.MessageOf(err, msgProfileDefault)
	}
}

func (d *Dashboard) finishProfile(ticket uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen.IsCurrent(ticket) {
		d.state.LoadingProfile = false
	}
}

func (d *Dashboard) applySimulations(ctx context.Context, ticket uint64, list []model.SimulationListItem, err error) {
	redirected := err != nil && d.authRedirect(ticket, err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.gen.IsCurrent(ticket) {
		return
	}
	d.state.LoadingSimulations = false
	switch {
	case redirected, isAbort(err):
	case err == nil:
		if list == nil {
			list = []model.SimulationListItem{}
		}
		d.state.Simulations = list
		d.state.SimulationsError = ""
	default:
		d.log.Warn(ctx, "load simulations", logger.Int("status", apiclient.StatusOf(err)), logger.Error(err))
		d.state.SimulationsError = apiclient.MessageOf(err, msgSimulationsDefault)
	}
}

// authRedirect sends the browser to login on 401 and to the not authorized
// page on 403. Only the current refresh redirects, and only once.
func (d *Dashboard) authRedirect(ticket uint64, err error) bool {
	var target string
	switch apiclient.StatusOf(err) {
	case http.StatusUnauthorized:
		target = auth.LoginURL("recruiter", d.returnTo)
	case http.StatusForbidden:
		target = auth.NotAuthorizedURL("recruiter", d.returnTo)
	default:
		return false
	}
	d.mu.Lock()
	fire := d.gen.IsCurrent(ticket) && d.redirected != ticket
	if fire {
		d.redirected = ticket
	}
	d.mu.Unlock()
	if fire && d.redirect != nil {
		d.redirect(target)
	}
	return true
}

// Candidates loads the candidates invited to a simulation. Concurrent loads
// of the same simulation share one request.
func (d *Dashboard) Candidates(ctx context.Context, simulationID string) ([]model.CandidateListItem, error) {
	list, err := d.lists.Do(ctx, "candidates:"+simulationID, false, func(cctx context.Context) ([]model.CandidateListItem, error) {
		return d.api.Candidates(cctx, simulationID)
	})
	if err != nil {
		if isAbort(err) {
			return nil, err
		}
		d.authRedirect(d.gen.Current(), err)
		return nil, &apiclient.HTTPError{Status: apiclient.StatusOf(err), Message: apiclient.MessageOf(err, msgCandidatesDefault)}
	}
	d.mu.Lock()
	d.candidates[simulationID] = list
	d.mu.Unlock()
	return list, nil
}

// Close aborts in-flight loads and stops every timer.
func (d *Dashboard) Close() {
	d.profiles.Close()
	d.sims.Close()
	d.lists.Close()
	d.scope.Close()
}

func isAbort(err error) bool {
	return apiclient.IsAbort(err) || errors.Is(err, dedupe.ErrClosed)
}
