package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/okian/tenon/internal/domain/model"
	"github.com/okian/tenon/pkg/logger"
)

// StorageKey is where the session blob lives in per-tab storage.
const StorageKey = "tenon:candidate_session_v1"

// Storage is the per-tab blob store the session persists to.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Store applies transitions, persisting the state after each one.
type Store struct {
	mu      sync.Mutex
	state   State
	storage Storage
	log     logger.Logger
	onApply func(Action, State)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l) }
}

// WithObserver registers fn to run after every applied transition.
func WithObserver(fn func(Action, State)) Option {
	return func(s *Store) { s.onApply = fn }
}

// NewStore returns a store in the initial state. Call Rehydrate to restore a
// persisted session.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{state: Initial(), storage: storage, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Dispatch applies a and persists the result. Persistence failures are logged
// and never fail the transition.
func (s *Store) Dispatch(ctx context.Context, a Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	next := s.state.clone()
	s.persistLocked(ctx)
	s.mu.Unlock()

	if s.onApply != nil {
		s.onApply(a, next)
	}
	return next
}

// BindInviteToken makes token the viewed invite. A session persisted for a
// different invite is reset first so nothing leaks between invites.
func (s *Store) BindInviteToken(ctx context.Context, token string) State {
	cur := s.State()
	if cur.InviteToken != "" && cur.InviteToken != token {
		s.log.Info(ctx, "invite token changed, resetting candidate session")
		s.Dispatch(ctx, Reset{})
	}
	return s.Dispatch(ctx, SetInviteToken{Token: token})
}

type persisted struct {
	Token              *string         `json:"token"`
	Bootstrap          json.RawMessage `json:"bootstrap"`
	Started            *bool           `json:"started"`
	InviteToken        *string         `json:"inviteToken"`
	VerifiedEmail      *string         `json:"verifiedEmail"`
	CandidateSessionID *int64          `json:"candidateSessionId"`
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) persistLocked(ctx context.Context) {
	if s.storage == nil {
		return
	}
	p := persisted{
		Token:         strPtr(s.state.AuthToken),
		Started:       &s.state.Started,
		InviteToken:   strPtr(s.state.InviteToken),
		VerifiedEmail: strPtr(s.state.VerifiedEmail),
		Bootstrap:     json.RawMessage("null"),
	}
	if s.state.CandidateSessionID != 0 {
		id := s.state.CandidateSessionID
		p.CandidateSessionID = &id
	}
	if s.state.Bootstrap != nil {
		if b, err := json.Marshal(s.state.Bootstrap); err == nil {
			p.Bootstrap = b
		}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		s.log.Warn(ctx, "encode candidate session", logger.Error(err))
		return
	}
	if err := s.storage.Set(ctx, StorageKey, raw); err != nil {
		s.log.Warn(ctx, "persist candidate session", logger.Error(err))
	}
}

// Rehydrate restores the persisted session. Fields that fail validation are
// dropped individually; an unreadable blob leaves the state untouched.
func (s *Store) Rehydrate(ctx context.Context) State {
	if s.storage == nil {
		return s.State()
	}
	raw, ok, err := s.storage.Get(ctx, StorageKey)
	if err != nil {
		s.log.Warn(ctx, "load candidate session", logger.Error(err))
		return s.State()
	}
	if !ok {
		return s.State()
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warn(ctx, "discarding unreadable candidate session", logger.Error(err))
		return s.State()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if p.Token != nil && *p.Token != "" {
		st = Reduce(st, SetAuthToken{Token: *p.Token})
	}
	if p.InviteToken != nil && *p.InviteToken != "" {
		st = Reduce(st, SetInviteToken{Token: *p.InviteToken})
	}
	if p.VerifiedEmail != nil && *p.VerifiedEmail != "" {
		st = Reduce(st, SetVerifiedEmail{Email: *p.VerifiedEmail})
	}
	if p.CandidateSessionID != nil && *p.CandidateSessionID > 0 {
		st = Reduce(st, SetCandidateSessionID{ID: *p.CandidateSessionID})
	}
	if len(p.Bootstrap) > 0 && string(p.Bootstrap) != "null" {
		if r := model.ParseBootstrap(p.Bootstrap); r.Valid {
			st = Reduce(st, SetBootstrap{Bootstrap: r.Value})
		} else {
			s.log.Warn(ctx, "dropping invalid persisted bootstrap", logger.Any("problems", r.Problems))
		}
	}
	if p.Started != nil {
		st = Reduce(st, SetStarted{Started: *p.Started})
	}
	s.state = st
	return st.clone()
}
