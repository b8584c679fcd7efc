// Package session holds the candidate session state machine: the state, the
// named transitions that are the only way to change it, persistence to
// per-tab storage, and the derived view.
package session

import (
	"github.com/okian/tenon/internal/domain/model"
)

// TaskState is the authoritative task progress of a session.
type TaskState struct {
	Loading          bool
	Error            string
	IsComplete       bool
	CompletedTaskIDs []int64
	CurrentTask      *model.Task
}

// State is the whole candidate session as held by one tab.
type State struct {
	InviteToken        string
	AuthToken          string
	VerifiedEmail      string
	CandidateSessionID int64
	Bootstrap          *model.Bootstrap
	Started            bool
	Task               TaskState
}

// Initial returns the pristine state.
func Initial() State {
	return State{Task: TaskState{CompletedTaskIDs: []int64{}}}
}

// SessionID returns the candidate session id, preferring the one assigned on
// verification over the one reported by bootstrap. Zero means unknown.
func (s State) SessionID() int64 {
	if s.CandidateSessionID != 0 {
		return s.CandidateSessionID
	}
	if s.Bootstrap != nil {
		return s.Bootstrap.CandidateSessionID
	}
	return 0
}

// HasVerifiedAccess reports whether the session id can be trusted for the
// invite token currently being viewed.
func (s State) HasVerifiedAccess(viewedToken string) bool {
	return s.SessionID() != 0 && s.VerifiedEmail != "" && s.InviteToken == viewedToken
}

// CurrentDayIndex is the 1-based day shown in the progress bar. The current
// task's own day index wins; otherwise it is the day after the last completed one.
func (s State) CurrentDayIndex() int {
	if s.Task.CurrentTask != nil && s.Task.CurrentTask.DayIndex > 0 {
		return s.Task.CurrentTask.DayIndex
	}
	return len(s.Task.CompletedTaskIDs) + 1
}

func (s State) clone() State {
	out := s
	out.Task.CompletedTaskIDs = append([]int64{}, s.Task.CompletedTaskIDs...)
	if s.Task.CurrentTask != nil {
		t := *s.Task.CurrentTask
		out.Task.CurrentTask = &t
	}
	if s.Bootstrap != nil {
		b := *s.Bootstrap
		out.Bootstrap = &b
	}
	return out
}
