// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package downloader implements the single-worker download stage that
// fetches clip bytes for queued events and hands them to the ClipBuffer
// (spec §4.4).
package downloader

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/protect-backup/internal/clipbuffer"
	"github.com/nishisan-dev/protect-backup/internal/inflight"
	"github.com/nishisan-dev/protect-backup/internal/ledger"
	"github.com/nishisan-dev/protect-backup/internal/model"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
	"github.com/nishisan-dev/protect-backup/internal/probe"
	"github.com/nishisan-dev/protect-backup/internal/queue"
)

// readyGate is the minimum age a clip must reach before fetching it —
// the NVR cuts clips on 5-second keyframe boundaries and needs this much
// additional pipeline time, or the fetched bytes are truncated.
const readyGate = 7500 * time.Millisecond

const (
	fetchAttempts = 5
	fetchSpacing  = 1 * time.Second
)

// Downloader is the single worker pulling events off the download queue
// and filling the ClipBuffer with their video bytes.
type Downloader struct {
	client       nvr.Client
	queue        *queue.DownloadQueue
	clips        *clipbuffer.ClipBuffer
	ledgerDB     *ledger.Ledger
	inFlight     *inflight.Set
	tally        *FailureTally
	limiter      *rate.Limiter // nil disables rate limiting
	maxEventLen  time.Duration // 0 disables the length gate
	prober       *probe.Prober // nil disables the advisory length check
	logger       *slog.Logger
	now          func() time.Time
	sleep        func(time.Duration)
}

// Option configures optional Downloader behavior.
type Option func(*Downloader)

// WithRateLimit caps fetches to at most eventsPerMinute events per
// minute, blocking for a free token otherwise.
func WithRateLimit(eventsPerMinute int) Option {
	return func(d *Downloader) {
		if eventsPerMinute > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(float64(eventsPerMinute)/60.0), eventsPerMinute)
		}
	}
}

// WithMaxEventLength sets the length gate: events longer than max are
// permanently ignored without ever being fetched.
func WithMaxEventLength(max time.Duration) Option {
	return func(d *Downloader) { d.maxEventLen = max }
}

// WithLengthProbe enables the advisory post-fetch duration check.
func WithLengthProbe(p *probe.Prober) Option {
	return func(d *Downloader) { d.prober = p }
}

// New creates a Downloader.
func New(client nvr.Client, q *queue.DownloadQueue, clips *clipbuffer.ClipBuffer, ledgerDB *ledger.Ledger, inFlight *inflight.Set, tally *FailureTally, logger *slog.Logger, opts ...Option) *Downloader {
	d := &Downloader{
		client:   client,
		queue:    q,
		clips:    clips,
		ledgerDB: ledgerDB,
		inFlight: inFlight,
		tally:    tally,
		logger:   logger.With("component", "downloader"),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dequeues events until ctx is done, processing each under workCtx.
// The two are kept separate so that shutting down the dequeue loop (ctx
// canceled, no more events accepted) does not also cut off a fetch
// already in flight on workCtx — that is bounded instead by the
// supervisor's shutdown grace period (spec §5).
func (d *Downloader) Run(ctx, workCtx context.Context) error {
	for {
		event, err := d.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		d.process(workCtx, event)
	}
}

// process handles one dequeued event. It removes event from the
// in-flight set on every terminal outcome that is the Downloader's own
// (oversized/blacklisted permanent ignore, or an abandoned pass the
// Reconciler may re-offer) — but NOT on the success handoff at the end,
// where the event hands off to the ClipBuffer/Uploader. The in-flight
// set's contract (internal/inflight) has the Uploader remove it once the
// event is durably recorded (Ledger success) or its upload is abandoned,
// since until then the event is still "in flight" per spec §3.
func (d *Downloader) process(ctx context.Context, event model.Event) {
	tz, err := d.client.Timezone(ctx)
	if err != nil {
		d.logger.Warn("could not resolve nvr timezone, using UTC", "event_id", event.ID, "error", err)
		tz = time.UTC
	}
	event.Start = event.Start.In(tz)
	event.End = event.End.In(tz)

	if wait := readyGate - d.now().Sub(event.End); wait > 0 {
		d.sleep(wait)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("rate limiter wait canceled", "event_id", event.ID, "error", err)
			d.inFlight.Remove(event.ID)
			return
		}
	}

	if d.maxEventLen > 0 && event.Duration() > d.maxEventLen {
		d.logger.Info("event exceeds max length, ignoring permanently", "event_id", event.ID, "duration", event.Duration())
		if err := d.ledgerDB.RecordIgnored(event); err != nil {
			d.logger.Error("failed to record oversized event as ignored", "event_id", event.ID, "error", err)
		}
		d.inFlight.Remove(event.ID)
		return
	}

	clip, err := d.fetchWithRetry(ctx, event)
	if err != nil {
		tally := d.tally.Increment(event.ID)
		d.logger.Warn("download failed after retries", "event_id", event.ID, "error", err, "tally", tally)
		if d.tally.Exceeded(event.ID) {
			d.logger.Error("event exceeded failure threshold, permanently ignoring", "event_id", event.ID)
			if err := d.ledgerDB.RecordIgnored(event); err != nil {
				d.logger.Error("failed to record blacklisted event", "event_id", event.ID, "error", err)
			}
		}
		d.inFlight.Remove(event.ID)
		return
	}
	d.tally.Clear(event.ID)

	if d.prober != nil && d.prober.Available() {
		if seconds, err := d.prober.Length(ctx, clip); err == nil {
			if time.Duration(seconds*float64(time.Second)) < event.Duration() {
				d.logger.Warn("probed clip length shorter than requested duration", "event_id", event.ID, "probed_seconds", seconds, "requested", event.Duration())
			}
		} else {
			d.logger.Debug("length probe failed, continuing without it", "event_id", event.ID, "error", err)
		}
	}

	if err := d.clips.Put(event, clip); err != nil {
		d.logger.Error("clip rejected by clip buffer", "event_id", event.ID, "error", err)
		d.inFlight.Remove(event.ID)
	}
}

func (d *Downloader) fetchWithRetry(ctx context.Context, event model.Event) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			d.sleep(fetchSpacing)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		clip, err := d.client.GetCameraVideo(ctx, event.CameraID, event.Start, event.End)
		if err == nil && len(clip) > 0 {
			return clip, nil
		}
		if err == nil {
			err = errEmptyClip
		}
		lastErr = err
		d.logger.Debug("fetch attempt failed", "event_id", event.ID, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}
