// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package uploader

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/protect-backup/internal/clipbuffer"
	"github.com/nishisan-dev/protect-backup/internal/inflight"
	"github.com/nishisan-dev/protect-backup/internal/ledger"
)

// UploadFunc streams body to path on the configured remote, returning an
// error on any non-zero exit from the underlying storage tool.
// *storagetool.Tool.Upload satisfies this signature directly.
type UploadFunc func(ctx context.Context, body io.Reader, path string) error

// Pool is a fixed-size pool of upload workers draining a shared
// ClipBuffer. Ordering across workers is not guaranteed; per-event
// atomicity (render, upload, record) is.
type Pool struct {
	clips    *clipbuffer.ClipBuffer
	ledgerDB *ledger.Ledger
	inFlight *inflight.Set
	renderer *PathRenderer
	upload   UploadFunc
	remote   string
	logger   *slog.Logger
}

// NewPool creates a Pool. remote is recorded alongside the rendered path
// in the Ledger (spec §4.1 backups table). inFlight is the same set the
// Listener and Reconciler add to on enqueue — the Pool removes an event from it once
// the event is durably recorded (Ledger success) or its upload is
// abandoned for this pass, per the in-flight set's documented contract.
func NewPool(clips *clipbuffer.ClipBuffer, ledgerDB *ledger.Ledger, inFlight *inflight.Set, renderer *PathRenderer, upload UploadFunc, remote string, logger *slog.Logger) *Pool {
	return &Pool{
		clips:    clips,
		ledgerDB: ledgerDB,
		inFlight: inFlight,
		renderer: renderer,
		upload:   upload,
		remote:   remote,
		logger:   logger.With("component", "uploader"),
	}
}

// Run starts n worker goroutines and blocks until the ClipBuffer is
// closed and all workers have drained it.
func (p *Pool) Run(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	log := p.logger.With("worker", workerID)
	for {
		event, clip, err := p.clips.Get()
		if err != nil {
			return // buffer closed, nothing left to drain
		}

		path, err := p.renderer.Render(ctx, event)
		if err != nil {
			log.Error("failed to render destination path, abandoning event", "event_id", event.ID, "error", err)
			p.inFlight.Remove(event.ID)
			continue
		}

		if err := p.upload(ctx, bytes.NewReader(clip), path); err != nil {
			log.Warn("upload failed, abandoning event for this pass", "event_id", event.ID, "path", path, "error", err)
			p.inFlight.Remove(event.ID)
			continue
		}

		if err := p.ledgerDB.RecordSuccess(event, p.remote, path); err != nil {
			log.Error("upload succeeded but ledger write failed", "event_id", event.ID, "path", path, "error", err)
			p.inFlight.Remove(event.ID)
			continue
		}

		p.inFlight.Remove(event.ID)
		log.Info("uploaded event", "event_id", event.ID, "path", path)
	}
}
