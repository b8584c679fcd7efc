package candidate

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/okian/tenon/internal/adapters/apiclient"
	"github.com/okian/tenon/internal/adapters/storage"
	"github.com/okian/tenon/internal/domain/draft"
	"github.com/okian/tenon/internal/domain/model"
	"github.com/okian/tenon/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeAPI struct {
	mu        sync.Mutex
	bootstrap func(token string) (model.Bootstrap, error)
	verify    func(token, email string) (model.VerifyResponse, error)
	tasks     []model.CurrentTaskResponse
	taskErr   error
	taskGate  chan struct{}
	submit    func(p apiclient.SubmitParams) (model.SubmissionResult, error)

	bootstrapCalls int
	taskCalls      int
	submits        []apiclient.SubmitParams
}

func (f *fakeAPI) ResolveInvite(_ context.Context, token, _ string) (model.Bootstrap, error) {
	f.mu.Lock()
	f.bootstrapCalls++
	fn := f.bootstrap
	f.mu.Unlock()
	return fn(token)
}

func (f *fakeAPI) VerifyEmail(_ context.Context, token, email, _ string) (model.VerifyResponse, error) {
	return f.verify(token, email)
}

func (f *fakeAPI) CurrentTask(ctx context.Context, _ int64, _ string) (model.CurrentTaskResponse, error) {
	f.mu.Lock()
	gate := f.taskGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.CurrentTaskResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls++
	if f.taskErr != nil {
		return model.CurrentTaskResponse{}, f.taskErr
	}
	i := min(f.taskCalls-1, len(f.tasks)-1)
	return f.tasks[i], nil
}

func (f *fakeAPI) SubmitTask(_ context.Context, p apiclient.SubmitParams) (model.SubmissionResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, p)
	fn := f.submit
	f.mu.Unlock()
	return fn(p)
}

func (f *fakeAPI) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bootstrapCalls, f.taskCalls, len(f.submits)
}

var validBootstrap = model.Bootstrap{
	CandidateSessionID: 123,
	Status:             model.StatusInProgress,
	Simulation:         model.Simulation{Title: "Backend Engineer Simulation", Role: "Backend Engineer"},
}

func day(id int64, index int, kind string) *model.Task {
	return &model.Task{ID: id, DayIndex: index, Type: kind, Title: "Day", Description: "work"}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		bootstrap: func(token string) (model.Bootstrap, error) {
			if token != "VALID_TOKEN" {
				return model.Bootstrap{}, &apiclient.HTTPError{Status: http.StatusNotFound, Message: "That invite link is invalid."}
			}
			return validBootstrap, nil
		},
		verify: func(_, _ string) (model.VerifyResponse, error) { return validBootstrap, nil },
		tasks: []model.CurrentTaskResponse{
			{CompletedTaskIDs: []int64{}, CurrentTask: day(1, 1, model.TaskDesign)},
			{CompletedTaskIDs: []int64{1}, CurrentTask: day(2, 2, model.TaskCode)},
		},
		submit: func(p apiclient.SubmitParams) (model.SubmissionResult, error) {
			return model.SubmissionResult{
				SubmissionID:       9,
				TaskID:             p.TaskID,
				CandidateSessionID: p.CandidateSessionID,
				Progress:           model.Progress{Completed: 1, Total: 5},
			}, nil
		},
	}
}

func staticToken(ctx context.Context) (string, error) { return "auth-token", nil }

func newController(api API, store Storage) *Controller {
	return New(api, store,
		WithAuthTokenSource(staticToken),
		WithAdvanceDelay(10*time.Millisecond),
		WithDraftDebounce(5*time.Millisecond),
	)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestCandidateJourney(t *testing.T) {
	Convey("Given a valid invite", t, func() {
		ctx := context.Background()
		api := newFakeAPI()
		store := storage.NewMemoryStore()
		c := newController(api, store)
		defer c.Close(ctx)

		c.Mount(ctx, "VALID_TOKEN")

		Convey("The bootstrap resolves and the candidate is asked to verify", func() {
			snap := c.Snapshot()
			So(snap.Bootstrap, ShouldEqual, session.BootstrapReady)
			So(snap.State.Bootstrap.Simulation.Title, ShouldEqual, "Backend Engineer Simulation")
			So(snap.View, ShouldEqual, session.ViewVerify)
		})

		Convey("Verifying, starting and submitting advances to day 2", func() {
			So(c.Verify(ctx, " jane@example.com "), ShouldBeNil)
			So(c.View(), ShouldEqual, session.ViewIntro)
			So(c.Snapshot().State.VerifiedEmail, ShouldEqual, "jane@example.com")

			c.Start(ctx)
			snap := c.Snapshot()
			So(snap.View, ShouldEqual, session.ViewRunning)
			So(snap.State.Task.CurrentTask.ID, ShouldEqual, 1)
			So(snap.DayIndex, ShouldEqual, 1)

			res, err := c.Submit(ctx, Answer{Text: "ok"})
			So(err, ShouldBeNil)
			So(res.Progress, ShouldResemble, model.Progress{Completed: 1, Total: 5})
			So(res.IsComplete, ShouldBeFalse)
			So(c.Snapshot().Submitted, ShouldNotBeNil)
			So(*api.submits[0].Payload.ContentText, ShouldEqual, "ok")
			So(api.submits[0].Payload.CodeBlob, ShouldBeNil)
			So(api.submits[0].CandidateSessionID, ShouldEqual, 123)

			So(eventually(func() bool { return c.Snapshot().DayIndex == 2 }), ShouldBeTrue)
			snap = c.Snapshot()
			So(snap.Submitted, ShouldBeNil)
			So(snap.State.Task.CompletedTaskIDs, ShouldResemble, []int64{1})
			So(snap.View, ShouldEqual, session.ViewRunning)
		})

		Convey("Verify does nothing once access is verified", func() {
			calls := 0
			api.verify = func(_, _ string) (model.VerifyResponse, error) {
				calls++
				return validBootstrap, nil
			}
			So(c.Verify(ctx, "jane@example.com"), ShouldBeNil)
			So(c.Verify(ctx, "jane@example.com"), ShouldBeNil)
			So(calls, ShouldEqual, 1)
		})

		Convey("Verify rejects a blank email without calling upstream", func() {
			err := c.Verify(ctx, "   ")
			So(errors.Is(err, ErrEmailRequired), ShouldBeTrue)
			So(c.Snapshot().VerifyError, ShouldEqual, "Email is required to continue.")
		})

		Convey("A mismatched email keeps the verify view with the message", func() {
			api.verify = func(_, _ string) (model.VerifyResponse, error) {
				return model.VerifyResponse{}, &apiclient.HTTPError{Status: http.StatusForbidden, Message: "That email does not match this invite."}
			}
			So(c.Verify(ctx, "other@example.com"), ShouldNotBeNil)
			snap := c.Snapshot()
			So(snap.View, ShouldEqual, session.ViewVerify)
			So(snap.VerifyError, ShouldEqual, "That email does not match this invite.")
		})
	})
}

func TestBootstrapFailures(t *testing.T) {
	Convey("Given a controller", t, func() {
		ctx := context.Background()
		api := newFakeAPI()
		c := newController(api, storage.NewMemoryStore())
		defer c.Close(ctx)

		Convey("An invalid invite shows the error view", func() {
			c.Mount(ctx, "BAD_TOKEN")
			snap := c.Snapshot()
			So(snap.View, ShouldEqual, session.ViewError)
			So(snap.BootstrapStatus, ShouldEqual, http.StatusNotFound)
			So(snap.BootstrapError, ShouldEqual, "That invite link is invalid.")
		})

		Convey("A network failure can be retried", func() {
			api.bootstrap = func(string) (model.Bootstrap, error) {
				return model.Bootstrap{}, &apiclient.HTTPError{Status: 0, Message: apiclient.NetworkErrorMessage}
			}
			c.Mount(ctx, "VALID_TOKEN")
			snap := c.Snapshot()
			So(snap.View, ShouldEqual, session.ViewError)
			So(snap.BootstrapStatus, ShouldEqual, 0)
			So(snap.BootstrapError, ShouldEqual, apiclient.NetworkErrorMessage)

			api.bootstrap = newFakeAPI().bootstrap
			c.LoadBootstrap(ctx)
			snap = c.Snapshot()
			So(snap.Bootstrap, ShouldEqual, session.BootstrapReady)
			So(snap.BootstrapError, ShouldBeEmpty)
			So(snap.View, ShouldEqual, session.ViewVerify)
		})

		Convey("A 401 from bootstrap asks for verification", func() {
			api.bootstrap = func(string) (model.Bootstrap, error) {
				return model.Bootstrap{}, &apiclient.HTTPError{Status: http.StatusUnauthorized, Message: "nope"}
			}
			c.Mount(ctx, "VALID_TOKEN")
			So(c.View(), ShouldEqual, session.ViewVerify)
		})
	})

	Convey("Given an auth token source that fails", t, func() {
		ctx := context.Background()
		api := newFakeAPI()
		c := New(api, storage.NewMemoryStore(), WithAuthTokenSource(func(context.Context) (string, error) {
			return "", errors.New("no session")
		}))
		defer c.Close(ctx)

		c.Mount(ctx, "VALID_TOKEN")

		Convey("The error view shows the login message and no request is made", func() {
			snap := c.Snapshot()
			So(snap.View, ShouldEqual, session.ViewError)
			So(snap.AuthError, ShouldEqual, "Unable to load your login session. Please sign in again.")
			calls, _, _ := api.counts()
			So(calls, ShouldEqual, 0)
		})
	})
}

func startedController(ctx context.Context, api *fakeAPI, store Storage) *Controller {
	c := newController(api, store)
	c.Mount(ctx, "VALID_TOKEN")
	_ = c.Verify(ctx, "jane@example.com")
	c.Start(ctx)
	return c
}

func TestSubmit(t *testing.T) {
	Convey("Given a running session", t, func() {
		ctx := context.Background()
		api := newFakeAPI()
		c := startedController(ctx, api, storage.NewMemoryStore())
		defer c.Close(ctx)

		Convey("Blank text never reaches the network", func() {
			_, err := c.Submit(ctx, Answer{Text: "  \n\t"})
			So(errors.Is(err, ErrEmptyText), ShouldBeTrue)
			So(c.Snapshot().SubmitError, ShouldEqual, "Please enter an answer before submitting.")
			_, _, submits := api.counts()
			So(submits, ShouldEqual, 0)
		})

		Convey("Blank code gets the code message", func() {
			api.tasks = []model.CurrentTaskResponse{{CurrentTask: day(3, 3, model.TaskDebug)}}
			api.taskCalls = 0
			c.FetchCurrentTask(ctx)
			_, err := c.Submit(ctx, Answer{Code: "   "})
			So(errors.Is(err, ErrEmptyCode), ShouldBeTrue)
			_, _, submits := api.counts()
			So(submits, ShouldEqual, 0)
		})

		Convey("A duplicate submit reloads the task without a fatal error", func() {
			api.submit = func(apiclient.SubmitParams) (model.SubmissionResult, error) {
				return model.SubmissionResult{}, &apiclient.HTTPError{Status: http.StatusConflict, Message: "Task already submitted."}
			}
			api.tasks = []model.CurrentTaskResponse{{CurrentTask: day(1, 1, model.TaskDesign)}}
			_, before, _ := api.counts()

			_, err := c.Submit(ctx, Answer{Text: "again"})
			So(apiclient.StatusOf(err), ShouldEqual, http.StatusConflict)
			_, after, _ := api.counts()
			So(after, ShouldEqual, before+1)
			snap := c.Snapshot()
			So(snap.State.Task.Error, ShouldBeEmpty)
			So(snap.State.Task.CurrentTask.ID, ShouldEqual, 1)
			So(snap.View, ShouldEqual, session.ViewRunning)
		})

		Convey("An out of order submit surfaces the upstream message", func() {
			api.submit = func(apiclient.SubmitParams) (model.SubmissionResult, error) {
				return model.SubmissionResult{}, &apiclient.HTTPError{Status: http.StatusBadRequest, Message: "Task out of order"}
			}
			_, err := c.Submit(ctx, Answer{Text: "answer"})
			So(err, ShouldNotBeNil)
			snap := c.Snapshot()
			So(snap.SubmitError, ShouldEqual, "Task out of order")
			So(snap.State.Task.Error, ShouldEqual, "Task out of order")
			So(snap.State.Task.CurrentTask.ID, ShouldEqual, 1)
		})

		Convey("A second submit while one is running is rejected", func() {
			release := make(chan struct{})
			entered := make(chan struct{})
			api.submit = func(p apiclient.SubmitParams) (model.SubmissionResult, error) {
				close(entered)
				<-release
				return model.SubmissionResult{TaskID: p.TaskID, Progress: model.Progress{Completed: 1, Total: 5}}, nil
			}
			done := make(chan error, 1)
			go func() {
				_, err := c.Submit(ctx, Answer{Text: "first"})
				done <- err
			}()
			<-entered
			So(c.Snapshot().Submitting, ShouldBeTrue)
			_, err := c.Submit(ctx, Answer{Text: "second"})
			So(errors.Is(err, ErrSubmitPending), ShouldBeTrue)
			close(release)
			So(<-done, ShouldBeNil)
			_, _, submits := api.counts()
			So(submits, ShouldEqual, 1)
		})
	})
}

func TestCurrentTaskCoalescing(t *testing.T) {
	Convey("Given a running session with a slow current task call", t, func() {
		ctx := context.Background()
		api := newFakeAPI()
		c := startedController(ctx, api, storage.NewMemoryStore())
		defer c.Close(ctx)

		gate := make(chan struct{})
		api.mu.Lock()
		api.taskGate = gate
		api.taskCalls = 0
		api.mu.Unlock()

		Convey("Concurrent fetches share one request", func() {
			var wg sync.WaitGroup
			for range 3 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.FetchCurrentTask(ctx)
				}()
			}
			time.Sleep(20 * time.Millisecond)
			close(gate)
			wg.Wait()
			_, calls, _ := api.counts()
			So(calls, ShouldEqual, 1)
			So(c.Snapshot().State.Task.Loading, ShouldBeFalse)
		})

		Convey("Close cancels the fetch without recording an error", func() {
			done := make(chan struct{})
			go func() {
				c.FetchCurrentTask(ctx)
				close(done)
			}()
			time.Sleep(10 * time.Millisecond)
			c.Close(ctx)
			<-done
			So(c.Snapshot().State.Task.Error, ShouldBeEmpty)
		})

		Convey("A fetch that runs out of time reports a network error", func() {
			tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			c.FetchCurrentTask(tctx)

			snap := c.Snapshot()
			So(snap.State.Task.Error, ShouldEqual, apiclient.NetworkErrorMessage)
			So(snap.State.Task.Loading, ShouldBeFalse)
			So(snap.View, ShouldEqual, session.ViewRunning)
		})

		Convey("A cancelled fetch stops loading without an error", func() {
			cctx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				c.FetchCurrentTask(cctx)
				close(done)
			}()
			time.Sleep(10 * time.Millisecond)
			So(c.Snapshot().View, ShouldEqual, session.ViewStarting)
			cancel()
			<-done

			snap := c.Snapshot()
			So(snap.State.Task.Error, ShouldBeEmpty)
			So(snap.State.Task.Loading, ShouldBeFalse)
			So(snap.View, ShouldEqual, session.ViewRunning)
		})
	})
}

func TestPersistence(t *testing.T) {
	Convey("Given a session stored for one invite", t, func() {
		ctx := context.Background()
		api := newFakeAPI()
		api.tasks = api.tasks[:1]
		store := storage.NewMemoryStore()
		first := startedController(ctx, api, store)
		first.UpdateDraft(ctx, draft.Draft{Text: "half an answer"})
		first.Close(ctx)

		Convey("Reopening the same invite keeps the place and the draft", func() {
			second := newController(api, store)
			defer second.Close(ctx)
			second.Mount(ctx, "VALID_TOKEN")
			snap := second.Snapshot()
			So(snap.State.Started, ShouldBeTrue)
			So(snap.State.VerifiedEmail, ShouldEqual, "jane@example.com")
			So(snap.View, ShouldEqual, session.ViewRunning)
			So(second.Draft(ctx).Text, ShouldEqual, "half an answer")
		})

		Convey("A successful submit clears the draft", func() {
			second := newController(api, store)
			defer second.Close(ctx)
			second.Mount(ctx, "VALID_TOKEN")
			_, err := second.Submit(ctx, Answer{Text: "done"})
			So(err, ShouldBeNil)
			So(draft.NewStore(store, nil).Load(ctx, 123, 1).Empty(), ShouldBeTrue)
		})

		Convey("Opening another invite starts from scratch", func() {
			api.bootstrap = func(string) (model.Bootstrap, error) {
				return model.Bootstrap{CandidateSessionID: 456, Status: model.StatusNotStarted,
					Simulation: model.Simulation{Title: "Frontend", Role: "Frontend Engineer"}}, nil
			}
			other := newController(api, store)
			defer other.Close(ctx)
			other.Mount(ctx, "OTHER_TOKEN")
			snap := other.Snapshot()
			So(snap.State.InviteToken, ShouldEqual, "OTHER_TOKEN")
			So(snap.State.VerifiedEmail, ShouldBeEmpty)
			So(snap.State.Started, ShouldBeFalse)
			So(snap.State.SessionID(), ShouldEqual, 456)
			So(snap.State.Task.CompletedTaskIDs, ShouldBeEmpty)
			So(snap.View, ShouldEqual, session.ViewVerify)
		})
	})
}
