package cli

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/engine"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/store"
)

// env bundles everything a command needs: config, the open store, and an
// engine wired to the configured backend. Close when done.
type env struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
}

func (e *env) Close() {
	_ = e.store.Close()
}

// openEnv loads config and opens the local store. The engine starts online
// only when a backend is configured; with no base_url every write queues.
func openEnv(opts *RootOptions) (*env, error) {
	path := opts.Config
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	online := cfg.Remote.BaseURL != ""
	var rs remote.Store = remote.NewHTTPClient(cfg.Remote.BaseURL, http.DefaultClient)
	mon := engine.NewMonitor(online)

	eng := engine.New(st, rs, mon, cfg.AccountID,
		engine.WithLogger(newLogger(cfg, opts)),
		engine.WithNetworkTimeout(cfg.Remote.Timeout),
		engine.WithBackoff(cfg.Sync.BackoffMin, cfg.Sync.BackoffMax),
		engine.WithDrainInterval(cfg.Sync.DrainInterval),
		engine.WithReviewDebounce(cfg.Sync.ReviewDebounce),
	)
	return &env{cfg: cfg, store: st, engine: eng}, nil
}

func newLogger(cfg *config.Config, opts *RootOptions) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}
