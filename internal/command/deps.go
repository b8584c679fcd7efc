package command

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/okian/tenon/internal/adapters/apiclient"
	"github.com/okian/tenon/internal/adapters/storage"
	"github.com/okian/tenon/internal/app/candidate"
	"github.com/okian/tenon/internal/app/dashboard"
	"github.com/okian/tenon/internal/config"
	"github.com/okian/tenon/pkg/logger"
)

// API is everything the commands call on the BFF.
type API interface {
	candidate.API
	dashboard.API
}

// Storage is the per-tab store the candidate commands persist to.
type Storage interface {
	candidate.Storage
}

// Deps lets tests replace the BFF client and the state store.
type Deps struct {
	Out         io.Writer
	NewAPI      func(baseURL, token string, log logger.Logger) API
	OpenStorage func(ctx context.Context, path, tab string) (Storage, func() error, error)
	LoadConfig  func(ctx context.Context) (*config.Config, error)
}

func (d Deps) config(ctx context.Context) (*config.Config, error) {
	if d.LoadConfig != nil {
		return d.LoadConfig(ctx)
	}
	return config.LoadClient(ctx)
}

func (d Deps) out() io.Writer {
	if d.Out != nil {
		return d.Out
	}
	return os.Stdout
}

func (d Deps) api(baseURL, token string, log logger.Logger) API {
	if d.NewAPI != nil {
		return d.NewAPI(baseURL, token, log)
	}
	return apiclient.New(strings.TrimRight(baseURL, "/")+"/api",
		apiclient.WithToken(token),
		apiclient.WithLogger(log),
	)
}

// storage opens the sqlite state file, or an in-memory store when no path
// is given.
func (d Deps) storage(ctx context.Context, path, tab string) (Storage, func() error, error) {
	if d.OpenStorage != nil {
		return d.OpenStorage(ctx, path, tab)
	}
	if path == "" {
		return storage.NewMemoryStore(), func() error { return nil }, nil
	}
	s, err := storage.OpenSQLite(ctx, path, storage.WithScope(tab))
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
