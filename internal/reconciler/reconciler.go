// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package reconciler implements the periodic pass that rediscovers
// events the EventListener may have missed — on reconnect gaps, process
// restarts, or a missed push message (spec §4.6).
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/protect-backup/internal/inflight"
	"github.com/nishisan-dev/protect-backup/internal/ledger"
	"github.com/nishisan-dev/protect-backup/internal/model"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
	"github.com/nishisan-dev/protect-backup/internal/queue"
)

// defaultPageSize bounds a single get_events call when the caller does
// not specify one; the Reconciler advances its window past the oldest
// complete event of each page until a short page is returned (spec §4.6
// step 3).
const defaultPageSize = 500

type trackedMissing struct {
	event    model.Event
	attempts int
}

// Reconciler periodically lists completed NVR events within a lookback
// window and enqueues any not already in the Ledger or in flight.
type Reconciler struct {
	client      nvr.Client
	ledgerDB    *ledger.Ledger
	queue       *queue.DownloadQueue
	inFlight    *inflight.Set
	wantedCfg   model.WantedEventConfig
	retention   time.Duration
	lookback    time.Duration
	pageSize    int
	skipMissing bool
	logger      *slog.Logger

	cron *cron.Cron

	lastCheck time.Time
	tracked   map[string]*trackedMissing
}

// New creates a Reconciler. lookback bounds how far before the previous
// pass's cutoff subsequent passes re-scan (spec §4.6 step 2). pageSize
// bounds each get_events call; zero or negative selects defaultPageSize.
// If skipMissing is true, newly discovered events are recorded as
// permanently ignored instead of enqueued — used at initial import to
// avoid downloading an arbitrarily large backlog.
func New(client nvr.Client, ledgerDB *ledger.Ledger, q *queue.DownloadQueue, inFlight *inflight.Set, wantedCfg model.WantedEventConfig, retention, lookback time.Duration, pageSize int, skipMissing bool, logger *slog.Logger) *Reconciler {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Reconciler{
		client:      client,
		ledgerDB:    ledgerDB,
		queue:       q,
		inFlight:    inFlight,
		wantedCfg:   wantedCfg,
		retention:   retention,
		lookback:    lookback,
		pageSize:    pageSize,
		skipMissing: skipMissing,
		logger:      logger.With("component", "reconciler"),
		tracked:     make(map[string]*trackedMissing),
	}
}

// Start schedules RunOnce every interval via a dedicated cron instance
// and returns immediately; call Stop to halt it.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) error {
	r.cron = cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelDebug))))

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := r.cron.AddFunc(spec, func() {
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Warn("reconciler pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling reconciler: %w", err)
	}

	r.cron.Start()
	return nil
}

// Stop halts the cron schedule, waiting for any in-progress pass.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunOnce performs a single reconciliation pass. Exported so the
// Supervisor can trigger an immediate pass on startup in addition to the
// scheduled cadence.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if err := r.client.WaitConnected(ctx); err != nil {
		return fmt.Errorf("waiting for nvr connection: %w", err)
	}

	now := time.Now()
	start := now.Add(-r.retention)
	if !r.lastCheck.IsZero() {
		candidate := r.lastCheck.Add(-r.lookback)
		if candidate.After(start) {
			start = candidate
		}
	}

	existing, err := r.existingIDs()
	if err != nil {
		return fmt.Errorf("building existing-id set: %w", err)
	}

	newLastCheck := now
	cursor := start
	for {
		events, err := r.client.GetEvents(ctx, cursor, now, nil, r.pageSize)
		if err != nil {
			return fmt.Errorf("fetching events page: %w", err)
		}

		var oldestIncompleteStart *time.Time
		for _, event := range events {
			if !model.RestEventComplete(event) {
				if oldestIncompleteStart == nil || event.Start.Before(*oldestIncompleteStart) {
					t := event.Start
					oldestIncompleteStart = &t
				}
				continue
			}
			if _, ok := existing[event.ID]; ok {
				continue
			}
			if !model.WantedEvent(event, r.wantedCfg) {
				continue
			}
			r.yield(ctx, event)
		}

		if oldestIncompleteStart != nil && oldestIncompleteStart.Before(newLastCheck) {
			newLastCheck = *oldestIncompleteStart
		}

		if len(events) < r.pageSize {
			break
		}
		cursor = events[len(events)-1].End
	}

	r.reviewTracked()
	r.lastCheck = newLastCheck
	return nil
}

func (r *Reconciler) existingIDs() (map[string]struct{}, error) {
	ids, err := r.ledgerDB.AllIDs()
	if err != nil {
		return nil, err
	}
	for id := range r.inFlight.Snapshot() {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (r *Reconciler) yield(ctx context.Context, event model.Event) {
	if r.skipMissing {
		if err := r.ledgerDB.RecordIgnored(event); err != nil {
			r.logger.Error("failed to record skip-missing event as ignored", "event_id", event.ID, "error", err)
		}
		return
	}

	r.tracked[event.ID] = &trackedMissing{event: event}
	r.inFlight.Add(event.ID)
	if err := r.queue.Enqueue(ctx, event); err != nil {
		r.logger.Warn("failed to enqueue missing event", "event_id", event.ID, "error", err)
		r.inFlight.Remove(event.ID)
		delete(r.tracked, event.ID)
		return
	}
	r.logger.Info("enqueued missing event", "event_id", event.ID, "camera_id", event.CameraID)
}

// reviewTracked applies spec §4.6 step 6 to events enqueued by a
// previous pass: drop them once they land in the Ledger, leave them if
// still in flight, otherwise re-enqueue.
func (r *Reconciler) reviewTracked() {
	for id, tm := range r.tracked {
		has, err := r.ledgerDB.Has(id)
		if err != nil {
			r.logger.Warn("failed to check ledger for tracked-missing event", "event_id", id, "error", err)
			continue
		}
		if has {
			delete(r.tracked, id)
			continue
		}
		if r.inFlight.Has(id) {
			continue
		}
		tm.attempts++
		r.logger.Debug("re-enqueuing tracked-missing event", "event_id", id, "attempts", tm.attempts)
		r.inFlight.Add(id)
		if err := r.queue.TryEnqueue(tm.event); err != nil {
			r.inFlight.Remove(id)
		}
	}
}
