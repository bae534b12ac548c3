// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package retention implements the periodic purge of backed-up events
// whose retention window has elapsed (spec §4.7).
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/protect-backup/internal/ledger"
)

// Deleter is the subset of the storage tool the purger needs.
type Deleter interface {
	Delete(ctx context.Context, remote, path string) error
	PruneEmptyDirs(ctx context.Context) error
}

// Purger deletes Ledger rows (and their remote objects) once an event's
// retention window has elapsed.
type Purger struct {
	ledgerDB       *ledger.Ledger
	storage        Deleter
	retention      time.Duration
	pruneEmptyDirs bool
	logger         *slog.Logger
	now            func() time.Time

	cron *cron.Cron
}

// New creates a Purger. pruneEmptyDirs controls whether a pass that
// deletes anything also asks the storage tool to remove directories left
// empty by those deletes (spec §4.7 "optionally prunes empty remote
// directories").
func New(ledgerDB *ledger.Ledger, storage Deleter, retention time.Duration, pruneEmptyDirs bool, logger *slog.Logger) *Purger {
	return &Purger{
		ledgerDB:       ledgerDB,
		storage:        storage,
		retention:      retention,
		pruneEmptyDirs: pruneEmptyDirs,
		logger:         logger.With("component", "retention"),
		now:            time.Now,
	}
}

// Start schedules RunOnce every interval.
func (p *Purger) Start(ctx context.Context, interval time.Duration) error {
	p.cron = cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(p.logger.Handler(), slog.LevelDebug))))

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := p.cron.AddFunc(spec, func() {
		if err := p.RunOnce(ctx); err != nil {
			p.logger.Warn("retention pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention purger: %w", err)
	}

	p.cron.Start()
	return nil
}

// Stop halts the cron schedule, waiting for any in-progress pass.
func (p *Purger) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// RunOnce purges every Ledger event older than the retention window.
// Per event, every backup's remote object is deleted first and only
// once all of them succeed is the Ledger row removed (spec §4.7 step 2)
// — a deletion failure is logged, the pass continues with the next
// event, and the failed event's row is left in place to retry next
// interval. Matches the original's "log and continue" policy for rclone
// delete failures, and `original_source/purge.py`'s interleaved
// delete-then-drop-row order per event.
func (p *Purger) RunOnce(ctx context.Context) error {
	cutoff := p.now().Add(-p.retention)

	candidates, err := p.ledgerDB.PurgeCandidates(cutoff)
	if err != nil {
		return fmt.Errorf("listing ledger rows older than %s: %w", cutoff, err)
	}
	if len(candidates) == 0 {
		return nil
	}

	deletedAny := false
	for _, c := range candidates {
		failed := false
		for _, b := range c.Backups {
			p.logger.Info("purging backup", "event_id", c.EventID, "remote", b.Remote, "path", b.Path)
			if err := p.storage.Delete(ctx, b.Remote, b.Path); err != nil {
				p.logger.Warn("failed to delete remote object", "event_id", c.EventID, "remote", b.Remote, "path", b.Path, "error", err)
				failed = true
			}
		}
		if failed {
			continue
		}
		if err := p.ledgerDB.DeleteEvent(c.EventID); err != nil {
			p.logger.Error("failed to delete ledger row after remote cleanup", "event_id", c.EventID, "error", err)
			continue
		}
		deletedAny = true
	}

	if deletedAny && p.pruneEmptyDirs {
		if err := p.storage.PruneEmptyDirs(ctx); err != nil {
			p.logger.Warn("failed to prune empty directories", "error", err)
		}
	}
	return nil
}
