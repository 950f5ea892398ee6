// Package appctx carries per-invocation state (the loaded configuration and a
// run id) on the command context.
package appctx

import (
	"context"

	"github.com/google/uuid"

	"github.com/elmscope/elmscope/pkg/config"
)

type key string

const (
	configKey key = "elmscope.config.manager"
	runIDKey  key = "elmscope.run.id"
)

// WithConfig stores the shared config manager on context.
func WithConfig(ctx context.Context, manager *config.Manager) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey, manager)
}

// Config retrieves the shared config manager from context.
func Config(ctx context.Context) (*config.Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	mgr, ok := ctx.Value(configKey).(*config.Manager)
	return mgr, ok && mgr != nil
}

// Settings returns the loaded configuration, or the defaults when no manager
// is on the context.
func Settings(ctx context.Context) config.Config {
	if mgr, ok := Config(ctx); ok {
		return mgr.Get()
	}
	return config.DefaultConfig()
}

// WithRunID tags ctx with a fresh run id unless it already carries one.
func WithRunID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := RunID(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, uuid.NewString())
}

// RunID returns the run id set by WithRunID.
func RunID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok && id != ""
}
