package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/fellowship/internal/commands"
	"github.com/roach88/fellowship/internal/config"
	"github.com/roach88/fellowship/internal/gateway"
	"github.com/roach88/fellowship/internal/localstore"
	"github.com/roach88/fellowship/internal/projection"
	"github.com/roach88/fellowship/internal/remote"
	"github.com/roach88/fellowship/internal/remote/realtime"
	"github.com/roach88/fellowship/internal/subscription"
)

// app is the runtime one command works against: the local store with its
// projection engine, the remote store, and the Command service over both.
type app struct {
	cfg    *config.Config
	local  *localstore.Store
	engine *projection.Engine
	remote remote.Store
	svc    *commands.Service

	closers []func() error
}

// openLocal opens the local store and installs the projection engine.
// The returned app has no remote side; collaborative commands fail with
// INVALID_COMMAND.
func openLocal(opts *RootOptions) (*app, error) {
	cfg, err := opts.Settings()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load settings", err)
	}

	local, err := localstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open local store", err)
	}
	engine, err := projection.New(projection.DefaultRules()...)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("projection rules: %w", err)
	}
	local.Use(engine)

	a := &app{cfg: cfg, local: local, engine: engine}
	a.closers = append(a.closers, local.Close)
	a.svc = commands.New(local)
	return a, nil
}

// openApp opens the local side and connects the collaborative side. With
// no remote URL configured, groups and discussions live in an in-process
// store that ends with the command.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	a, err := openLocal(opts)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	if cfg.Remote.URL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout())
		client, err := realtime.Dial(dialCtx, cfg.Remote.URL, realtime.WithBearerToken(cfg.Remote.Token))
		cancel()
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitFailure, "connect "+cfg.Remote.URL, err)
		}
		slog.Debug("connected to hub", "url", cfg.Remote.URL)
		a.remote = client
		a.closers = append(a.closers, client.Close)
	} else {
		slog.Debug("no remote configured, using in-process store")
		mem := remote.NewMemoryStore()
		a.remote = mem
		a.closers = append(a.closers, mem.Close)
	}

	cache := remote.NewGroupCache(a.remote, cfg.GroupCacheTTL(), uint64(cfg.GroupCache.Capacity))
	go cache.Start()
	a.closers = append(a.closers, func() error { cache.Stop(); return nil })

	subs := subscription.NewManager(a.remote, subscription.WithCoalescing(cfg.Subscription.Coalesce))
	a.closers = append(a.closers, func() error { subs.Close(); return nil })

	gw := gateway.New(a.remote,
		gateway.WithGroupCache(cache),
		gateway.WithJoinTimeout(cfg.JoinTimeout()),
	)
	a.svc = commands.New(a.local,
		commands.WithGateway(gw),
		commands.WithSubscriptions(subs),
	)
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
