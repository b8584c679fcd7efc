package session

import (
	"slices"

	"github.com/okian/tenon/internal/domain/model"
)

// Action is a named transition. Reduce is the only way to apply one.
type Action interface {
	apply(State) State
	Name() string
}

// Reduce returns the state after applying a. The input is not modified.
func Reduce(s State, a Action) State {
	return a.apply(s.clone())
}

// SetInviteToken records the invite token from the URL.
type SetInviteToken struct{ Token string }

// SetAuthToken records the bearer credential of the signed-in identity.
type SetAuthToken struct{ Token string }

// SetVerifiedEmail records the email the backend accepted.
type SetVerifiedEmail struct{ Email string }

// SetCandidateSessionID records the backend-assigned session id.
type SetCandidateSessionID struct{ ID int64 }

// SetBootstrap stores the resolved invite.
type SetBootstrap struct{ Bootstrap model.Bootstrap }

// SetStarted marks whether the intro was acknowledged.
type SetStarted struct{ Started bool }

// TaskLoading marks a current-task fetch as in flight.
type TaskLoading struct{}

// TaskLoadAborted ends a current-task fetch that was cancelled. The error
// shown, if any, stays.
type TaskLoadAborted struct{}

// TaskLoaded replaces the task state with a fetched snapshot.
type TaskLoaded struct {
	IsComplete       bool
	CompletedTaskIDs []int64
	CurrentTask      *model.Task
}

// TaskSubmitted records an accepted submission for a task.
type TaskSubmitted struct{ TaskID int64 }

// TaskError records a failed fetch or submit, keeping what was already shown.
type TaskError struct{ Message string }

// ClearTaskError drops the task error.
type ClearTaskError struct{}

// Reset returns to the pristine state.
type Reset struct{}

func (SetInviteToken) Name() string        { return "SET_INVITE_TOKEN" }
func (SetAuthToken) Name() string          { return "SET_TOKEN" }
func (SetVerifiedEmail) Name() string      { return "SET_VERIFIED_EMAIL" }
func (SetCandidateSessionID) Name() string { return "SET_CANDIDATE_SESSION_ID" }
func (SetBootstrap) Name() string          { return "SET_BOOTSTRAP" }
func (SetStarted) Name() string            { return "SET_STARTED" }
func (TaskLoading) Name() string           { return "TASK_LOADING" }
func (TaskLoadAborted) Name() string       { return "TASK_LOAD_ABORTED" }
func (TaskLoaded) Name() string            { return "TASK_LOADED" }
func (TaskSubmitted) Name() string         { return "TASK_SUBMITTED" }
func (TaskError) Name() string             { return "TASK_ERROR" }
func (ClearTaskError) Name() string        { return "TASK_CLEAR_ERROR" }
func (Reset) Name() string                 { return "RESET" }

func (a SetInviteToken) apply(s State) State { s.InviteToken = a.Token; return s }
func (a SetAuthToken) apply(s State) State   { s.AuthToken = a.Token; return s }
func (a SetVerifiedEmail) apply(s State) State {
	s.VerifiedEmail = a.Email
	return s
}
func (a SetCandidateSessionID) apply(s State) State {
	s.CandidateSessionID = a.ID
	return s
}
func (a SetBootstrap) apply(s State) State {
	b := a.Bootstrap
	s.Bootstrap = &b
	return s
}
func (a SetStarted) apply(s State) State { s.Started = a.Started; return s }

func (TaskLoading) apply(s State) State {
	s.Task.Loading = true
	s.Task.Error = ""
	return s
}

func (TaskLoadAborted) apply(s State) State {
	s.Task.Loading = false
	return s
}

// The task state is replaced as a whole. Completed ids keep every id already
// known and append new ones in arrival order, so the list never shrinks.
func (a TaskLoaded) apply(s State) State {
	ids := s.Task.CompletedTaskIDs
	for _, id := range a.CompletedTaskIDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	var current *model.Task
	if !a.IsComplete && a.CurrentTask != nil {
		t := *a.CurrentTask
		current = &t
	}
	s.Task = TaskState{
		IsComplete:       a.IsComplete,
		CompletedTaskIDs: ids,
		CurrentTask:      current,
	}
	return s
}

func (a TaskSubmitted) apply(s State) State {
	if !slices.Contains(s.Task.CompletedTaskIDs, a.TaskID) {
		s.Task.CompletedTaskIDs = append(s.Task.CompletedTaskIDs, a.TaskID)
	}
	return s
}

func (a TaskError) apply(s State) State {
	s.Task.Loading = false
	s.Task.Error = a.Message
	return s
}

func (ClearTaskError) apply(s State) State {
	s.Task.Error = ""
	return s
}

func (Reset) apply(State) State { return Initial() }
