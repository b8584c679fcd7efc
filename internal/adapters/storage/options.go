package storage

import "github.com/google/uuid"

// Option applies a configuration option to the SQLiteStore.
type Option func(*SQLiteStore)

// WithScope sets the tab scope rows are written under. An empty scope keeps
// the generated one.
func WithScope(scope string) Option {
	return func(s *SQLiteStore) {
		if scope != "" {
			s.scope = scope
		}
	}
}

func newScope() string { return uuid.NewString() }
