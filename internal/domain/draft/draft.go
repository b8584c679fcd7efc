// Package draft keeps unsubmitted task answers in per-tab storage, separate
// from the authoritative session state.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tenon/pkg/lifecycle"
	"github.com/okian/tenon/pkg/logger"
)

// Storage is the per-tab blob store drafts live in.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Draft is an in-progress answer. Text tasks use Text, code tasks use Code.
type Draft struct {
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

// Empty reports whether the draft holds nothing.
func (d Draft) Empty() bool { return d.Text == "" && d.Code == "" }

// Key returns the storage key of a draft. Both text and code drafts are
// scoped by candidate session and task.
func Key(candidateSessionID, taskID int64) string {
	return fmt.Sprintf("tenon:candidate_task_draft:%d:%d", candidateSessionID, taskID)
}

// Store reads and writes drafts. Storage failures are logged and treated as
// an empty draft so the editor still opens.
type Store struct {
	storage Storage
	log     logger.Logger
}

// NewStore returns a draft store over storage.
func NewStore(storage Storage, log logger.Logger) *Store {
	return &Store{storage: storage, log: logger.OrNop(log)}
}

// Load returns the saved draft, or an empty one.
func (s *Store) Load(ctx context.Context, candidateSessionID, taskID int64) Draft {
	raw, ok, err := s.storage.Get(ctx, Key(candidateSessionID, taskID))
	if err != nil {
		s.log.Warn(ctx, "load draft", logger.Int64("task_id", taskID), logger.Error(err))
		return Draft{}
	}
	if !ok {
		return Draft{}
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		s.log.Warn(ctx, "discarding unreadable draft", logger.Int64("task_id", taskID), logger.Error(err))
		return Draft{}
	}
	return d
}

// Save writes d, or removes the entry when d is empty.
func (s *Store) Save(ctx context.Context, candidateSessionID, taskID int64, d Draft) {
	key := Key(candidateSessionID, taskID)
	if d.Empty() {
		s.Clear(ctx, candidateSessionID, taskID)
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		s.log.Warn(ctx, "encode draft", logger.Error(err))
		return
	}
	if err := s.storage.Set(ctx, key, raw); err != nil {
		s.log.Warn(ctx, "save draft", logger.Int64("task_id", taskID), logger.Error(err))
	}
}

// Clear removes the draft.
func (s *Store) Clear(ctx context.Context, candidateSessionID, taskID int64) {
	if err := s.storage.Delete(ctx, Key(candidateSessionID, taskID)); err != nil {
		s.log.Warn(ctx, "clear draft", logger.Int64("task_id", taskID), logger.Error(err))
	}
}

// Autosaver debounces draft writes so typing does not hit storage on every
// keystroke. Pending writes are dropped when the owning scope closes.
type Autosaver struct {
	store *Store
	scope *lifecycle.Scope
	delay time.Duration

	mu      sync.Mutex
	pending map[string]pendingSave
}

type pendingSave struct {
	csid, taskID int64
	draft        Draft
}

// NewAutosaver returns an autosaver whose timers belong to scope.
func NewAutosaver(store *Store, scope *lifecycle.Scope, delay time.Duration) *Autosaver {
	return &Autosaver{store: store, scope: scope, delay: delay, pending: make(map[string]pendingSave)}
}

// Update schedules d to be saved after the debounce window. A later Update
// for the same task replaces it.
func (a *Autosaver) Update(ctx context.Context, candidateSessionID, taskID int64, d Draft) {
	key := Key(candidateSessionID, taskID)
	a.mu.Lock()
	a.pending[key] = pendingSave{csid: candidateSessionID, taskID: taskID, draft: d}
	a.mu.Unlock()

	saveCtx := context.WithoutCancel(ctx)
	err := a.scope.Schedule(key, a.delay, func() { a.flushKey(saveCtx, key) })
	if err != nil {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}
}

func (a *Autosaver) flushKey(ctx context.Context, key string) {
	a.mu.Lock()
	p, ok := a.pending[key]
	delete(a.pending, key)
	a.mu.Unlock()
	if ok {
		a.store.Save(ctx, p.csid, p.taskID, p.draft)
	}
}

// Flush writes the pending draft for a task now.
func (a *Autosaver) Flush(ctx context.Context, candidateSessionID, taskID int64) {
	key := Key(candidateSessionID, taskID)
	a.scope.Cancel(key)
	a.flushKey(ctx, key)
}

// Discard drops any pending write and clears the stored draft.
func (a *Autosaver) Discard(ctx context.Context, candidateSessionID, taskID int64) {
	key := Key(candidateSessionID, taskID)
	a.scope.Cancel(key)
	a.mu.Lock()
	delete(a.pending, key)
	a.mu.Unlock()
	a.store.Clear(ctx, candidateSessionID, taskID)
}
