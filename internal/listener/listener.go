// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package listener implements the EventListener: the bridge between the
// NVR's push channel and the download queue (spec §4.3).
package listener

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/protect-backup/internal/inflight"
	"github.com/nishisan-dev/protect-backup/internal/model"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
	"github.com/nishisan-dev/protect-backup/internal/queue"
)

// Connection state strings, mirroring the lock-free atomic.Value state
// tracking the control channel uses for its own connection state.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// enqueueBackoff is how long the listener yields before retrying a full
// download queue. It must stay well under the NVR client's own
// disconnect timeout so a slow Downloader never trips a reconnect.
const enqueueBackoff = 50 * time.Millisecond

// Listener subscribes to the NVR's push channel, filters events through
// the wanted-event predicate, and hands completed events to the
// download queue.
type Listener struct {
	client      nvr.Client
	queue       *queue.DownloadQueue
	inFlight    *inflight.Set
	wantedCfg   model.WantedEventConfig
	logger      *slog.Logger
	unsubEvents func()
	unsubState  func()

	connState atomic.Value // string
}

// ConnectionState returns the most recently observed NVR connection
// state, defaulting to StateDisconnected before the first notification.
func (l *Listener) ConnectionState() string {
	if v := l.connState.Load(); v != nil {
		return v.(string)
	}
	return StateDisconnected
}

// New creates a Listener. Run must be called to start subscribing.
func New(client nvr.Client, q *queue.DownloadQueue, inFlight *inflight.Set, wantedCfg model.WantedEventConfig, logger *slog.Logger) *Listener {
	return &Listener{
		client:    client,
		queue:     q,
		inFlight:  inFlight,
		wantedCfg: wantedCfg,
		logger:    logger.With("component", "listener"),
	}
}

// Run subscribes to the NVR's event and connection-state channels and
// blocks until ctx is done, at which point it unsubscribes and returns.
func (l *Listener) Run(ctx context.Context) error {
	l.unsubState = l.client.SubscribeConnectionState(func(state nvr.ConnectionState) {
		switch state {
		case nvr.Connected:
			l.connState.Store(StateConnected)
			l.logger.Info("nvr connected")
		case nvr.Disconnected:
			l.connState.Store(StateDisconnected)
			l.logger.Warn("nvr disconnected, relying on client reconnect")
		}
	})
	defer l.unsubState()

	l.unsubEvents = l.client.SubscribeEvents(func(pe nvr.PushEvent) {
		l.handlePushEvent(ctx, pe)
	})
	defer l.unsubEvents()

	<-ctx.Done()
	return ctx.Err()
}

func (l *Listener) handlePushEvent(ctx context.Context, pe nvr.PushEvent) {
	if pe.Action != nvr.ActionUpdate {
		return
	}

	if !model.PushEventComplete(pe.ChangedAttrs) {
		return
	}

	event := pe.Event
	event.ID = model.StripCameraSuffix(event.ID, event.CameraID)

	if !model.WantedEvent(event, l.wantedCfg) {
		l.logger.Debug("event not wanted, dropping", "event_id", event.ID, "camera_id", event.CameraID)
		return
	}

	l.inFlight.Add(event.ID)
	for {
		if ctx.Err() != nil {
			l.inFlight.Remove(event.ID)
			return
		}
		err := l.queue.TryEnqueue(event)
		if err == nil {
			l.logger.Debug("event enqueued", "event_id", event.ID, "camera_id", event.CameraID)
			return
		}
		// Queue is full. Yield briefly rather than block the push
		// channel's callback indefinitely — a stalled callback risks
		// the client's own disconnect detection firing.
		l.logger.Warn("download queue full, backing off", "event_id", event.ID)
		time.Sleep(enqueueBackoff)
	}
}
