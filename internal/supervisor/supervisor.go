// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package supervisor wires every pipeline stage together, runs the
// startup health checks, and owns the signal-driven lifecycle of the
// daemon (spec §2, §5).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/nishisan-dev/protect-backup/internal/clipbuffer"
	"github.com/nishisan-dev/protect-backup/internal/config"
	"github.com/nishisan-dev/protect-backup/internal/downloader"
	"github.com/nishisan-dev/protect-backup/internal/inflight"
	"github.com/nishisan-dev/protect-backup/internal/ledger"
	"github.com/nishisan-dev/protect-backup/internal/listener"
	"github.com/nishisan-dev/protect-backup/internal/model"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
	"github.com/nishisan-dev/protect-backup/internal/probe"
	"github.com/nishisan-dev/protect-backup/internal/queue"
	"github.com/nishisan-dev/protect-backup/internal/reconciler"
	"github.com/nishisan-dev/protect-backup/internal/retention"
	"github.com/nishisan-dev/protect-backup/internal/storagetool"
	"github.com/nishisan-dev/protect-backup/internal/uploader"
)

// downloadQueueCapacity bounds the number of pending events awaiting
// download. Unlike the ClipBuffer, an event reference is a handful of
// bytes, so a fixed generous capacity (rather than a config knob) is
// enough headroom for any realistic burst.
const downloadQueueCapacity = 512

// lowDiskThresholdPercent is the disk-used watermark above which the
// startup health check only warns — it never blocks startup, since the
// RetentionPurger may be exactly what frees the space.
const lowDiskThresholdPercent = 90.0

// shutdownGrace bounds how long Supervisor waits for in-flight
// subprocesses (uploads, deletes, probes) to finish once cancellation
// begins (spec §5 "bounded by a short grace period").
const shutdownGrace = 25 * time.Second

// Supervisor owns every long-running component and the task group they
// run in.
type Supervisor struct {
	cfg    *config.Config
	client nvr.Client
	logger *slog.Logger

	ledgerDB *ledger.Ledger
	storage  *storagetool.Tool
	clips    *clipbuffer.ClipBuffer
	dlQueue  *queue.DownloadQueue
	inFlight *inflight.Set
	tally    *downloader.FailureTally

	listener   *listener.Listener
	downloader *downloader.Downloader
	uploaders  *uploader.Pool
	reconciler *reconciler.Reconciler
	retention  *retention.Purger
}

// New builds the full pipeline from cfg, wired to client. The caller
// owns client's lifetime and must close/disconnect it after Run
// returns — the NVR session is closed last, per spec §5.
func New(cfg *config.Config, client nvr.Client, logger *slog.Logger) (*Supervisor, error) {
	ledgerDB, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	destination := cfg.Storage.Remote + ":" + cfg.Storage.Destination
	storage := storagetool.New(cfg.Storage.Tool, destination, cfg.Storage.ExtraArgs)
	prober := probe.New(cfg.Storage.ProbeTool)

	clips := clipbuffer.New(cfg.Backup.ClipBufferSizeRaw)
	dlQueue := queue.New(downloadQueueCapacity)
	inFlight := inflight.NewSet()
	tally := downloader.NewFailureTally()

	wantedCfg := model.WantedEventConfig{
		IgnoreCameras:  cfg.IgnoreCameraSet(),
		OnlyCameras:    cfg.OnlyCameraSet(),
		DetectionTypes: cfg.DetectionTypeSet(),
	}

	cameras := nvr.NewCameraCache(client)
	renderer, err := uploader.NewPathRenderer(cfg.Storage.PathTemplate, cameras)
	if err != nil {
		ledgerDB.Close()
		return nil, fmt.Errorf("building path renderer: %w", err)
	}

	l := listener.New(client, dlQueue, inFlight, wantedCfg, logger)

	dl := downloader.New(client, dlQueue, clips, ledgerDB, inFlight, tally, logger,
		downloader.WithRateLimit(cfg.Backup.RateLimitPerMin),
		downloader.WithMaxEventLength(cfg.Backup.MaxEventLength),
		downloader.WithLengthProbe(prober),
	)

	up := uploader.NewPool(clips, ledgerDB, inFlight, renderer, storage.Upload, cfg.Storage.Remote, logger)

	rec := reconciler.New(client, ledgerDB, dlQueue, inFlight, wantedCfg,
		cfg.Retention.WindowRaw, cfg.Reconciler.LookbackRaw, cfg.Reconciler.PageSize, cfg.Reconciler.SkipMissing, logger)

	purger := retention.New(ledgerDB, storage, cfg.Retention.WindowRaw, cfg.Retention.PruneEmptyDirs, logger)

	return &Supervisor{
		cfg:        cfg,
		client:     client,
		logger:     logger.With("component", "supervisor"),
		ledgerDB:   ledgerDB,
		storage:    storage,
		clips:      clips,
		dlQueue:    dlQueue,
		inFlight:   inFlight,
		tally:      tally,
		listener:   l,
		downloader: dl,
		uploaders:  up,
		reconciler: rec,
		retention:  purger,
	}, nil
}

// Preflight runs the startup health checks of spec §6.4/§7: the
// configured remote must be known to the storage tool, the destination
// is created if absent, and low local disk space is logged (not fatal —
// the RetentionPurger may be what reclaims it).
func (s *Supervisor) Preflight(ctx context.Context) error {
	remotes, err := s.storage.ListRemotes(ctx)
	if err != nil {
		return fmt.Errorf("listing storage remotes: %w", err)
	}
	found := false
	for _, r := range remotes {
		if r == s.cfg.Storage.Remote+":" {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("configured remote %q not found among %v", s.cfg.Storage.Remote, remotes)
	}

	if err := s.storage.EnsureDestination(ctx); err != nil {
		return fmt.Errorf("ensuring destination exists: %w", err)
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err != nil {
		s.logger.Debug("failed to collect disk usage", "error", err)
	} else if usage.UsedPercent >= lowDiskThresholdPercent {
		s.logger.Warn("local disk usage is high", "used_percent", usage.UsedPercent)
	}

	return nil
}

// Run starts every worker, blocks until a termination signal or ctx is
// done, then shuts the pipeline down in dependency order and returns.
// SIGHUP is logged and otherwise ignored; the configuration is not
// re-read.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Preflight(ctx); err != nil {
		return fmt.Errorf("preflight check failed: %w", err)
	}

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	// workCtx governs operations that shell out to the storage tool or
	// otherwise do real I/O on behalf of an already-dequeued event
	// (downloader fetches, uploads). It outlives pipelineCtx so that
	// canceling the dequeue loops doesn't SIGKILL a subprocess already
	// running — shutdown bounds workCtx itself with shutdownGrace instead.
	workCtx, cancelWork := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(pipelineCtx); err != nil && pipelineCtx.Err() == nil {
				s.logger.Error("worker loop exited unexpectedly", "loop", name, "error", err)
			}
		}()
	}

	runLoop("listener", s.listener.Run)
	runLoop("downloader", func(ctx context.Context) error { return s.downloader.Run(ctx, workCtx) })

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.uploaders.Run(workCtx, s.cfg.Backup.UploadWorkers)
	}()

	if err := s.reconciler.RunOnce(pipelineCtx); err != nil {
		s.logger.Warn("initial reconciler pass failed", "error", err)
	}
	if err := s.reconciler.Start(pipelineCtx, s.cfg.Reconciler.IntervalRaw); err != nil {
		cancelPipeline()
		cancelWork()
		wg.Wait()
		return fmt.Errorf("starting reconciler: %w", err)
	}

	if err := s.retention.Start(pipelineCtx, s.cfg.Retention.PurgeIntervalRaw); err != nil {
		cancelPipeline()
		cancelWork()
		wg.Wait()
		return fmt.Errorf("starting retention purger: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context canceled, shutting down")
			s.shutdown(cancelPipeline, cancelWork, &wg)
			return ctx.Err()

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				s.reload()
				continue
			}
			s.logger.Info("received signal, shutting down", "signal", sig)
			s.shutdown(cancelPipeline, cancelWork, &wg)
			return nil
		}
	}
}

// shutdown stops the cron-scheduled components first (each Stop waits
// for any pass already in progress), cancels the dequeue loops so no new
// work is accepted and closes the ClipBuffer (uploaders drain what is
// already queued, then exit), then waits up to shutdownGrace for
// in-flight fetches and uploads — still running under workCtx — to
// finish on their own before workCtx itself is canceled. Only after that
// does it close the FailureTally and the Ledger.
func (s *Supervisor) shutdown(cancelPipeline, cancelWork context.CancelFunc, wg *sync.WaitGroup) {
	s.retention.Stop()
	s.reconciler.Stop()

	cancelPipeline()
	s.clips.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn("shutdown grace period elapsed with workers still running")
	}
	cancelWork()

	s.tally.Close()
	if err := s.ledgerDB.Close(); err != nil {
		s.logger.Error("failed to close ledger", "error", err)
	}
}

// reload handles SIGHUP by logging it. It does not re-read the
// configuration file: any configuration change, logging included,
// requires a restart.
func (s *Supervisor) reload() {
	s.logger.Info("received SIGHUP; configuration is not reloaded, restart to apply changes")
	// Rebuilding the pipeline live would risk losing in-flight state
	// (ClipBuffer contents, FailureTally).
}
