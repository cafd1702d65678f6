package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/relayjournal/internal/config"
	"github.com/agentworkforce/relayjournal/internal/httpapi"
	"github.com/agentworkforce/relayjournal/internal/journalsync"
	"github.com/agentworkforce/relayjournal/internal/ledger"
	"github.com/agentworkforce/relayjournal/internal/nostr"
)

const (
	cycleTimeout    = 5 * time.Minute
	shutdownTimeout = 5 * time.Second
)

// app is one wired sync stack. It owns the state dir lock until Close.
type app struct {
	cfg    config.Config
	logger *log.Logger
	lock   *ledger.DirLock
	store  *ledger.Store
	vault  *journalsync.OSVault
	syncer *journalsync.Syncer
}

func openApp(cfg config.Config, logger *log.Logger) (*app, error) {
	lock, err := ledger.AcquireDirLock(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to lock state dir: %w", err)
	}
	backend, err := ledger.BuildBackendFromDSN(cfg.LedgerDSN)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("failed to build ledger backend: %w", err)
	}
	store := ledger.Open(backend, logger)
	closeAll := func() {
		_ = store.Close()
		_ = lock.Release()
	}

	vault, err := journalsync.NewOSVault(cfg.VaultDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		closeAll()
		return nil, err
	}
	pool := nostr.NewPool(nostr.PoolOptions{
		Timeout:          cfg.RelayTimeout.Duration,
		VerifySignatures: cfg.VerifySignatures,
		Logger:           logger,
	})
	syncer, err := journalsync.NewSyncer(pool, store, vault, journalsync.SyncerOptions{
		Settings:    settingsFromConfig(cfg),
		NotesFolder: cfg.NotesFolder,
		Marker:      cfg.Marker,
		Location:    loc,
		Logger:      logger,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize syncer: %w", err)
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		lock:   lock,
		store:  store,
		vault:  vault,
		syncer: syncer,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.lock.Release())
}

// serve runs the scheduler, the optional control API and the config watcher
// until ctx is done or the control listener fails.
func (a *app) serve(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := journalsync.NewRunner(a.syncer, journalsync.RunnerOptions{
		Interval: a.cfg.Interval(),
		Jitter:   a.cfg.IntervalJitter,
		Timeout:  cycleTimeout,
		Logger:   a.logger,
	})

	listenErr := make(chan error, 1)
	if a.cfg.Control.Listen != "" {
		server := &http.Server{
			Addr: a.cfg.Control.Listen,
			Handler: httpapi.NewServer(a.syncer, httpapi.ServerConfig{
				JWTSecret:       a.cfg.Control.JWTSecret,
				RateLimitMax:    a.cfg.Control.RateLimitMax,
				RateLimitWindow: a.cfg.Control.RateLimitWindow.Duration,
				CycleTimeout:    cycleTimeout,
				Queue:           runner,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Printf("control API listening on %s", a.cfg.Control.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				listenErr <- err
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Printf("control API shutdown: %v", err)
			}
		}()
	}

	if configPath != "" {
		err := config.Watch(ctx, configPath, a.logger, func(next config.Config) {
			a.applyConfig(next, runner)
		})
		if err != nil {
			a.logger.Printf("config watch disabled: %v", err)
		}
	}

	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- runner.Run(ctx)
	}()

	select {
	case err := <-listenErr:
		cancel()
		<-runnerDone
		return fmt.Errorf("control API: %w", err)
	case err := <-runnerDone:
		return err
	}
}

// applyConfig hands a reloaded config to the running stack. Identifier,
// relays, interval and note layout apply from the next cycle; keys fixed at
// startup are reported instead.
func (a *app) applyConfig(next config.Config, runner *journalsync.Runner) {
	loc, err := next.Location()
	if err != nil {
		a.logger.Printf("config reload skipped: %v", err)
		return
	}
	a.syncer.UpdateSettings(settingsFromConfig(next))
	a.syncer.UpdateLayout(journalsync.MergerOptions{
		NotesFolder: next.NotesFolder,
		Marker:      next.Marker,
		Location:    loc,
	})
	if runner != nil {
		runner.SetInterval(next.Interval(), next.IntervalJitter)
	}
	a.logger.Printf("config reloaded: %d relays, every %s", len(next.Relays), next.Interval())
	if keys := restartRequiredKeys(a.cfg, next); len(keys) > 0 {
		a.logger.Printf("config keys need a restart to apply: %s", strings.Join(keys, ", "))
	}
}

// restartRequiredKeys lists the keys that differ between the running and the
// reloaded config but are only read at startup.
func restartRequiredKeys(running, next config.Config) []string {
	var keys []string
	if running.VaultDir != next.VaultDir {
		keys = append(keys, "vault_dir")
	}
	if running.StateDir != next.StateDir {
		keys = append(keys, "state_dir")
	}
	if running.LedgerDSN != next.LedgerDSN {
		keys = append(keys, "ledger_dsn")
	}
	if running.RelayTimeout != next.RelayTimeout {
		keys = append(keys, "relay_timeout")
	}
	if running.VerifySignatures != next.VerifySignatures {
		keys = append(keys, "verify_signatures")
	}
	if running.Control != next.Control {
		keys = append(keys, "control")
	}
	if running.Log != next.Log {
		keys = append(keys, "log")
	}
	return keys
}

func settingsFromConfig(cfg config.Config) journalsync.Settings {
	return journalsync.Settings{
		Identifier: cfg.Identifier,
		Relays:     cfg.Relays,
	}
}
