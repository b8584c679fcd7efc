package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/okian/tenon/internal/adapters/apiclient"
	"github.com/okian/tenon/internal/domain/invite"
	"github.com/okian/tenon/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeAPI struct {
	mu          sync.Mutex
	gate        chan struct{}
	profileErr  error
	simsErr     error
	inviteErr   error
	resendErr   error
	resendWait  time.Duration
	profiles    int
	simulations int
	candidates  int
	invites     []model.InviteRequest
	resends     int
}

func (f *fakeAPI) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) Profile(ctx context.Context) (model.RecruiterProfile, error) {
	f.mu.Lock()
	f.profiles++
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return model.RecruiterProfile{}, err
	}
	if f.profileErr != nil {
		return model.RecruiterProfile{}, f.profileErr
	}
	return model.RecruiterProfile{ID: 1, Name: "Rita", Email: "rita@example.com", Role: "recruiter"}, nil
}

func (f *fakeAPI) Simulations(ctx context.Context) ([]model.SimulationListItem, error) {
	f.mu.Lock()
	f.simulations++
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.simsErr != nil {
		return nil, f.simsErr
	}
	return []model.SimulationListItem{{ID: "sim-1", Title: "Backend Engineer Simulation", Role: "Backend Engineer"}}, nil
}

func (f *fakeAPI) Candidates(ctx context.Context, _ string) ([]model.CandidateListItem, error) {
	f.mu.Lock()
	f.candidates++
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return []model.CandidateListItem{{CandidateSessionID: 7, InviteEmail: "jane@example.com", Status: "invited"}}, nil
}

func (f *fakeAPI) InviteCandidate(_ context.Context, _ string, req model.InviteRequest) (model.InviteResponse, error) {
	f.mu.Lock()
	f.invites = append(f.invites, req)
	f.mu.Unlock()
	if f.inviteErr != nil {
		return model.InviteResponse{}, f.inviteErr
	}
	return model.InviteResponse{CandidateSessionID: 7, Token: "tok", InviteURL: "https://app.example.com/candidate/tok"}, nil
}

func (f *fakeAPI) ResendInvite(_ context.Context, _ string, _ int64, fallback time.Duration) (time.Duration, error) {
	f.mu.Lock()
	f.resends++
	f.mu.Unlock()
	wait := f.resendWait
	if wait == 0 {
		wait = fallback
	}
	return wait, f.resendErr
}

func (f *fakeAPI) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles, f.simulations
}

type redirects struct {
	mu      sync.Mutex
	targets []string
}

func (r *redirects) record(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

func (r *redirects) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

func TestRefresh(t *testing.T) {
	Convey("Given a dashboard", t, func() {
		ctx := context.Background()
		api := &fakeAPI{}
		rd := &redirects{}
		d := New(api, WithRedirect(rd.record), WithReturnTo("/dashboard/simulations"))
		defer d.Close()

		Convey("A refresh loads the profile and the simulations", func() {
			d.Refresh(ctx, false)
			st := d.State()
			So(st.Profile.Name, ShouldEqual, "Rita")
			So(st.Simulations, ShouldHaveLength, 1)
			So(st.LoadingProfile, ShouldBeFalse)
			So(st.LoadingSimulations, ShouldBeFalse)
			So(st.ProfileError, ShouldBeEmpty)
		})

		Convey("Concurrent refreshes share one request of each kind", func() {
			api.gate = make(chan struct{})
			var wg sync.WaitGroup
			for range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d.Refresh(ctx, false)
				}()
			}
			time.Sleep(20 * time.Millisecond)
			close(api.gate)
			wg.Wait()
			profiles, sims := api.counts()
			So(profiles, ShouldEqual, 1)
			So(sims, ShouldEqual, 1)
			So(d.State().Profile, ShouldNotBeNil)
		})

		Convey("A forced refresh supersedes the running one", func() {
			api.gate = make(chan struct{})
			done := make(chan struct{})
			go func() {
				d.Refresh(ctx, false)
				close(done)
			}()
			time.Sleep(10 * time.Millisecond)
			go func() {
				time.Sleep(10 * time.Millisecond)
				close(api.gate)
			}()
			d.Refresh(ctx, true)
			<-done
			profiles, sims := api.counts()
			So(profiles, ShouldEqual, 2)
			So(sims, ShouldEqual, 2)
			st := d.State()
			So(st.ProfileError, ShouldBeEmpty)
			So(st.SimulationsError, ShouldBeEmpty)
			So(st.Simulations, ShouldHaveLength, 1)
		})

		Convey("A 401 redirects to login without a profile error", func() {
			api.profileErr = &apiclient.HTTPError{Status: http.StatusUnauthorized, Message: "Not authenticated"}
			api.simsErr = &apiclient.HTTPError{Status: http.StatusUnauthorized, Message: "Not authenticated"}
			d.Refresh(ctx, true)
			st := d.State()
			So(st.ProfileError, ShouldBeEmpty)
			So(st.SimulationsError, ShouldBeEmpty)
			So(rd.all(), ShouldResemble, []string{"/auth/login?mode=recruiter&returnTo=%2Fdashboard%2Fsimulations"})
		})

		Convey("A 403 redirects to the not authorized page", func() {
			api.simsErr = &apiclient.HTTPError{Status: http.StatusForbidden, Message: "Forbidden"}
			d.Refresh(ctx, true)
			So(rd.all(), ShouldResemble, []string{"/not-authorized?mode=recruiter&returnTo=%2Fdashboard%2Fsimulations"})
			So(d.State().Profile, ShouldNotBeNil)
		})

		Convey("Other failures keep their messages", func() {
			api.profileErr = &apiclient.HTTPError{Status: http.StatusInternalServerError, Message: "Unable to load your profile right now."}
			api.simsErr = &apiclient.HTTPError{Status: http.StatusBadGateway, Message: "Upstream request failed"}
			d.Refresh(ctx, true)
			st := d.State()
			So(st.ProfileError, ShouldEqual, "Unable to load your profile right now.")
			So(st.SimulationsError, ShouldEqual, "Upstream request failed")
			So(rd.all(), ShouldBeEmpty)
		})

		Convey("Close aborts a running refresh without errors", func() {
			api.gate = make(chan struct{})
			done := make(chan struct{})
			go func() {
				d.Refresh(ctx, false)
				close(done)
			}()
			time.Sleep(10 * time.Millisecond)
			d.Close()
			<-done
			st := d.State()
			So(st.ProfileError, ShouldBeEmpty)
			So(st.SimulationsError, ShouldBeEmpty)
		})

		Convey("Candidate lists are loaded per simulation", func() {
			list, err := d.Candidates(ctx, "sim-1")
			So(err, ShouldBeNil)
			So(list[0].InviteEmail, ShouldEqual, "jane@example.com")
		})
	})
}

func TestInvite(t *testing.T) {
	Convey("Given an open invite form", t, func() {
		ctx := context.Background()
		api := &fakeAPI{}
		d := New(api, WithToastDismiss(20*time.Millisecond), WithCopyReset(20*time.Millisecond))
		defer d.Close()
		d.OpenInvite(model.SimulationListItem{ID: "sim-1", Title: "Backend Engineer Simulation"})

		Convey("Blank fields are rejected locally", func() {
			_, err := d.SubmitInvite(ctx, " ", "jane@example.com")
			So(errors.Is(err, invite.ErrNameRequired), ShouldBeTrue)
			_, err = d.SubmitInvite(ctx, "Jane", "")
			So(errors.Is(err, invite.ErrEmailRequired), ShouldBeTrue)
			So(d.Invite().Message, ShouldEqual, "Candidate email is required.")
			So(api.invites, ShouldBeEmpty)
		})

		Convey("A successful invite shows the link and a toast that dismisses itself", func() {
			res, err := d.SubmitInvite(ctx, " Jane Doe ", "jane@example.com")
			So(err, ShouldBeNil)
			So(res.Token, ShouldEqual, "tok")
			So(api.invites[0].CandidateName, ShouldEqual, "Jane Doe")
			inv := d.Invite()
			So(inv.Status, ShouldEqual, InviteSuccess)
			So(inv.InviteURL, ShouldEqual, "https://app.example.com/candidate/tok")
			So(d.Toast().Kind, ShouldEqual, ToastSuccess)

			d.MarkCopied(ctx)
			So(d.Copied(), ShouldBeTrue)
			time.Sleep(60 * time.Millisecond)
			So(d.Toast(), ShouldBeNil)
			So(d.Copied(), ShouldBeFalse)
		})

		Convey("A conflict keeps the form open with the message", func() {
			api.inviteErr = &apiclient.HTTPError{Status: http.StatusConflict, Message: "That candidate has already been invited."}
			_, err := d.SubmitInvite(ctx, "Jane", "jane@example.com")
			So(err, ShouldNotBeNil)
			inv := d.Invite()
			So(inv.Status, ShouldEqual, InviteError)
			So(inv.Message, ShouldEqual, "That candidate has already been invited.")
			So(d.Toast().Kind, ShouldEqual, ToastError)
		})

		Convey("Closing the form stops its timers", func() {
			d.MarkCopied(ctx)
			d.CloseInvite()
			So(d.Copied(), ShouldBeFalse)
			So(d.Invite().SimulationID, ShouldBeEmpty)
		})
	})

	Convey("Given no open invite form", t, func() {
		d := New(&fakeAPI{})
		defer d.Close()
		_, err := d.SubmitInvite(context.Background(), "Jane", "jane@example.com")
		So(errors.Is(err, ErrNoSimulation), ShouldBeTrue)
	})
}

func TestResend(t *testing.T) {
	Convey("Given a dashboard with a fixed clock", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		clock := func() time.Time { return now }
		api := &fakeAPI{}
		d := New(api, WithClock(clock))
		defer d.Close()

		Convey("A 429 starts the cooldown from retry-after", func() {
			api.resendWait = 12 * time.Second
			api.resendErr = &apiclient.HTTPError{Status: http.StatusTooManyRequests, Message: "Please wait before resending this invite."}
			So(d.Resend(ctx, "sim-1", 7), ShouldNotBeNil)
			So(d.ResendCooldown(7), ShouldEqual, 12*time.Second)

			err := d.Resend(ctx, "sim-1", 7)
			var ce *CooldownError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Remaining, ShouldEqual, 12*time.Second)
			So(api.resends, ShouldEqual, 1)

			now = now.Add(13 * time.Second)
			api.resendErr = nil
			So(d.Resend(ctx, "sim-1", 7), ShouldBeNil)
			So(api.resends, ShouldEqual, 2)
		})

		Convey("A success without retry-after uses the fallback", func() {
			So(d.Resend(ctx, "sim-1", 8), ShouldBeNil)
			So(d.ResendCooldown(8), ShouldEqual, invite.DefaultResendCooldown)
			So(d.Toast().Message, ShouldEqual, "Invite resent.")
			So(d.ResendCooldown(9), ShouldEqual, time.Duration(0))
		})

		Convey("The fallback can be overridden", func() {
			d2 := New(api, WithClock(clock), WithResendFallback(5*time.Second))
			defer d2.Close()
			So(d2.Resend(ctx, "sim-1", 8), ShouldBeNil)
			So(d2.ResendCooldown(8), ShouldEqual, 5*time.Second)
		})
	})
}
