// Package daemon assembles the pipeline: store, stage handlers, workflow
// manager, and control API, guarded by a single-instance lock.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"lingopipe/internal/api"
	"lingopipe/internal/chunker"
	"lingopipe/internal/config"
	"lingopipe/internal/logging"
	"lingopipe/internal/media"
	"lingopipe/internal/search"
	"lingopipe/internal/store"
	"lingopipe/internal/subtitles"
	"lingopipe/internal/transcribe"
	"lingopipe/internal/translate"
	"lingopipe/internal/workflow"
)

// Daemon owns the long-running pieces of lingopiped.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	manager *workflow.Manager
	api     *api.Server
	lock    *flock.Flock
}

// New opens the store and wires every pipeline stage into the workflow
// manager. The caller runs the result with Run and must Close it afterwards.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	mediaService, err := media.NewService(cfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("media service: %w", err)
	}

	manager := workflow.NewManager(cfg, st, logger)
	manager.Register(store.StageExtracting, media.NewStage(st, mediaService, logger))
	manager.Register(store.StageTranscribing, transcribe.NewStage(st, transcribe.NewClient(cfg.Transcriber), logger))
	manager.Register(store.StageChunking, chunker.NewStage(st, cfg.Chunker, logger))
	manager.Register(store.StageTranslating, translate.NewStage(st, translate.NewClient(cfg.Translator), logger))
	manager.Register(store.StageEmittingSubtitles, subtitles.NewStage(st, cfg, logger))
	manager.Register(store.StageIndexing, search.NewStage(st, search.NewClient(cfg.Search), logger))

	return &Daemon{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "daemon"),
		store:   st,
		manager: manager,
		api:     api.NewServer(cfg, st, manager, logger),
		lock:    flock.New(filepath.Join(cfg.Paths.LogDir, "lingopiped.lock")),
	}, nil
}

// Manager exposes the workflow manager, mainly for tests and the CLI's
// embedded mode.
func (d *Daemon) Manager() *workflow.Manager {
	return d.manager
}

// Store exposes the underlying job store.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Run acquires the instance lock and serves until the context is cancelled.
// The API and the workflow manager run concurrently; a hard failure in
// either stops the other.
func (d *Daemon) Run(ctx context.Context) error {
	held, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !held {
		return fmt.Errorf("another lingopiped instance holds %s", d.lock.Path())
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release instance lock", logging.Error(err))
		}
	}()

	d.logger.Info("daemon starting",
		logging.String("db", d.store.Path()),
		logging.String("bind", d.cfg.Paths.APIBind),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.api.Start(runCtx); err != nil {
			errs <- fmt.Errorf("api: %w", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.manager.Run(runCtx); err != nil {
			errs <- fmt.Errorf("workflow: %w", err)
			cancel()
		}
	}()

	wg.Wait()
	close(errs)

	var firstErr error
	for err := range errs {
		if firstErr == nil {
			firstErr = err
		} else {
			d.logger.Error("additional shutdown error", logging.Error(err))
		}
	}
	if firstErr != nil {
		return firstErr
	}
	d.logger.Info("daemon stopped")
	return nil
}

// Close releases the daemon's resources.
func (d *Daemon) Close() error {
	return d.store.Close()
}
