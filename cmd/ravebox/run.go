package main

import (
	"context"
	"log/slog"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/cybre/ravebox/internal/activity"
	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/config"
	"github.com/cybre/ravebox/internal/lights"
	"github.com/cybre/ravebox/internal/playback"
	"github.com/cybre/ravebox/internal/player"
	"github.com/cybre/ravebox/internal/provider"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
	"github.com/cybre/ravebox/internal/state"
	"github.com/cybre/ravebox/internal/store"
)

// runBox wires every component and runs them until ctx ends or one of them fails.
func runBox(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := store.Open(ctx, store.Options{
		Path:   config.ExpandPath(cfg.Database.Path),
		Logger: logger,
		Debug:  cfg.Log.SQL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(db); err != nil {
			logger.Warn("closing database failed", slog.Any("error", err))
		}
	}()

	b := bus.NewMemory(logger)
	settingsStore := settings.New(db, settings.Options{TTL: cfg.Database.SettingsTTL, Logger: logger})
	queueStore := queue.New(db)
	tracker := activity.NewTracker(b, settingsStore)

	p, err := openPlayer(ctx, cfg.Player, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("closing player failed", slog.Any("error", err))
		}
	}()
	bus.Put(b, bus.ActivePlayer, cfg.Player.Backend)
	guard := player.NewGuard(p, b, player.GuardOptions{Timeout: cfg.Player.LockTimeout, Logger: logger})

	library := provider.NewLibrary(config.ExpandPath(cfg.Library.Root), logger)
	if err := library.Scan(); err != nil {
		logger.Warn("scanning the library failed", slog.String("root", library.Root()), slog.Any("error", err))
	}
	registry := provider.NewRegistry(settingsStore)
	registry.Register(provider.Local, provider.LocalFactory(library))
	archive := provider.NewArchive(db)
	requester := provider.NewRequester(registry, archive, queueStore, settingsStore, b, logger)
	defer requester.Wait()

	engine := playback.NewEngine(playback.Deps{
		Queue:     queueStore,
		Settings:  settingsStore,
		Bus:       b,
		Guard:     guard,
		Registry:  registry,
		Requester: requester,
		Archive:   archive,
		Activity:  tracker,
	}, playback.Options{
		StartTimeout: cfg.Player.StartTimeout,
		PollInterval: cfg.Player.PollInterval,
		ErrorBackoff: cfg.Player.ErrorBackoff,
		Sounds: playback.Sounds{
			Alarm:     config.ExpandPath(cfg.Sounds.Alarm),
			BuzzerYes: config.ExpandPath(cfg.Sounds.BuzzerYes),
			BuzzerNo:  config.ExpandPath(cfg.Sounds.BuzzerNo),
		},
		Logger: logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	if cfg.Library.Watch {
		g.Go(func() error {
			return library.Watch(gctx)
		})
	}

	var programs state.ProgramSource
	if cfg.Lights.Enabled {
		hardware, err := openLights(gctx, cfg.Lights, logger)
		if err != nil {
			return err
		}
		defer hardware.close()

		opts := hardware.options
		opts.Settings = settingsStore
		opts.Bus = b
		opts.Logger = logger
		manager := lights.NewManager(gctx, opts)
		programs = manager
		g.Go(func() error {
			return manager.Run(gctx)
		})
	}

	if cfg.State.Enabled {
		server := state.NewServer(state.Options{
			Logger: logger,
			Bus:    b,
			Snapshots: &state.Snapshotter{
				Settings: settingsStore,
				Bus:      b,
				Queue:    queueStore,
				Programs: programs,
				Users:    tracker,
			},
			Users: tracker,
		})
		g.Go(func() error {
			return server.Run(gctx, cfg.State.Addr, cfg.State.Path)
		})
	}

	if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openPlayer(ctx context.Context, cfg config.PlayerConfig, logger *slog.Logger) (player.Player, error) {
	switch cfg.Backend {
	case config.BackendMPD:
		mpd, err := player.DialMPD(ctx, player.MPDOptions{
			Network:  cfg.MPD.Network,
			Addr:     cfg.MPD.Addr,
			Password: cfg.MPD.Password,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return mpd, nil
	case config.BackendLocal:
		return player.NewLocal(player.LocalOptions{SampleRate: cfg.SampleRate, Logger: logger})
	case config.BackendFake:
		return player.NewFake(player.FakeOptions{}), nil
	default:
		return nil, eris.Wrapf(config.ErrInvalid, "unknown player backend %q", cfg.Backend)
	}
}
