package session

import "net/http"

// View is the screen a candidate sees. Exactly one applies at a time.
type View string

// Views in the order a session usually walks through them.
const (
	ViewLoading  View = "loading"
	ViewVerify   View = "verify"
	ViewIntro    View = "intro"
	ViewError    View = "error"
	ViewStarting View = "starting"
	ViewRunning  View = "running"
	ViewComplete View = "complete"
)

// BootstrapPhase is the state of the invite resolve call.
type BootstrapPhase string

// Bootstrap phases.
const (
	BootstrapIdle    BootstrapPhase = "idle"
	BootstrapLoading BootstrapPhase = "loading"
	BootstrapReady   BootstrapPhase = "ready"
	BootstrapError   BootstrapPhase = "error"
)

// ViewInputs is everything the view depends on.
type ViewInputs struct {
	AuthLoading       bool
	AuthError         string
	Bootstrap         BootstrapPhase
	BootstrapStatus   int
	HasVerifiedAccess bool
	Started           bool
	HasBootstrap      bool
	TaskLoading       bool
	IsComplete        bool
}

type viewRule struct {
	name  string
	match func(ViewInputs) bool
	view  View
}

// Several inputs can hold at once (not started while bootstrap is loading,
// for example); the first matching rule decides.
var viewRules = []viewRule{
	{"auth loading", func(in ViewInputs) bool { return in.AuthLoading }, ViewLoading},
	{"auth error", func(in ViewInputs) bool { return in.AuthError != "" }, ViewError},
	{"bootstrap loading", func(in ViewInputs) bool { return in.Bootstrap == BootstrapLoading }, ViewLoading},
	{"bootstrap unauthorized", func(in ViewInputs) bool {
		return in.Bootstrap == BootstrapError && in.BootstrapStatus == http.StatusUnauthorized
	}, ViewVerify},
	{"bootstrap error", func(in ViewInputs) bool { return in.Bootstrap == BootstrapError }, ViewError},
	{"not verified", func(in ViewInputs) bool { return !in.HasVerifiedAccess }, ViewVerify},
	{"not started", func(in ViewInputs) bool { return !in.Started }, ViewIntro},
	{"bootstrap pending", func(in ViewInputs) bool { return !in.HasBootstrap }, ViewStarting},
	{"task loading", func(in ViewInputs) bool { return in.TaskLoading }, ViewStarting},
	{"complete", func(in ViewInputs) bool { return in.IsComplete }, ViewComplete},
}

// DeriveView maps inputs to the single view that applies.
func DeriveView(in ViewInputs) View {
	for _, r := range viewRules {
		if r.match(in) {
			return r.view
		}
	}
	return ViewRunning
}
