// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package queue implements the item-count-bounded channel that sits
// between the EventListener/Reconciler and the Downloader (spec §4.3,
// §4.6). Unlike the ClipBuffer, capacity here is a count of pending
// events, not bytes — an event reference is tiny compared to its clip.
package queue

import (
	"context"
	"errors"

	"github.com/nishisan-dev/protect-backup/internal/model"
)

// ErrFull is returned by TryEnqueue when the queue has no free slot.
var ErrFull = errors.New("downloadqueue: full")

// DownloadQueue is a bounded FIFO of pending events awaiting download.
type DownloadQueue struct {
	ch chan model.Event
}

// New creates a DownloadQueue with room for capacity pending events.
func New(capacity int) *DownloadQueue {
	return &DownloadQueue{ch: make(chan model.Event, capacity)}
}

// TryEnqueue places event on the queue without blocking, returning
// ErrFull if there is no room. This is what the EventListener uses so a
// full queue never stalls the NVR push channel long enough to trip its
// own disconnect detection (spec §4.3).
func (q *DownloadQueue) TryEnqueue(event model.Event) error {
	select {
	case q.ch <- event:
		return nil
	default:
		return ErrFull
	}
}

// Enqueue places event on the queue, blocking until there is room or ctx
// is done. The Reconciler uses this form — it has no disconnect risk to
// protect against, so blocking briefly under load is acceptable.
func (q *DownloadQueue) Enqueue(ctx context.Context, event model.Event) error {
	select {
	case q.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an event is available or ctx is done.
func (q *DownloadQueue) Dequeue(ctx context.Context) (model.Event, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	}
}

// Len reports the number of events currently queued.
func (q *DownloadQueue) Len() int {
	return len(q.ch)
}
