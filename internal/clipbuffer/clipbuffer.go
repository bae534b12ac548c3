// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package clipbuffer implements the byte-bounded FIFO that connects the
// Downloader to the Uploader pool (spec §4.2). Unlike a channel bounded by
// item count, capacity here is measured in bytes of payload, since clip
// sizes vary by orders of magnitude and the real backpressure concern is
// memory, not clip count.
package clipbuffer

import (
	"errors"
	"sync"

	"github.com/nishisan-dev/protect-backup/internal/model"
)

// ErrTooLarge is returned by Put when a single item exceeds the buffer's
// total capacity — it can never fit, so Put rejects immediately instead
// of blocking forever.
var ErrTooLarge = errors.New("clipbuffer: item larger than buffer capacity")

// ErrClosed is returned by Put/Get once the buffer has been closed.
var ErrClosed = errors.New("clipbuffer: closed")

type item struct {
	event model.Event
	bytes []byte
}

// ClipBuffer is a byte-capacity-bounded FIFO of (event, clip-bytes) pairs.
// Single producer, multiple consumers are supported; ordering is FIFO.
type ClipBuffer struct {
	capacity int64

	mu          sync.Mutex
	notFull     sync.Cond
	notEmpty    sync.Cond
	items       []item
	queuedBytes int64
	closed      bool
}

// New creates a ClipBuffer with the given byte capacity.
func New(capacity int64) *ClipBuffer {
	cb := &ClipBuffer{capacity: capacity}
	cb.notFull.L = &cb.mu
	cb.notEmpty.L = &cb.mu
	return cb
}

// Put enqueues (event, bytes), blocking until queuedBytes+len(bytes) <=
// capacity. If len(bytes) exceeds the total capacity it can never fit, so
// Put rejects immediately with ErrTooLarge instead of blocking forever —
// this is the one case where Put returns an error without waiting and the
// clip is not queued (spec §4.2).
func (cb *ClipBuffer) Put(event model.Event, bytes []byte) error {
	if int64(len(bytes)) > cb.capacity {
		return ErrTooLarge
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	for cb.queuedBytes+int64(len(bytes)) > cb.capacity && !cb.closed {
		cb.notFull.Wait()
	}
	if cb.closed {
		return ErrClosed
	}

	cb.items = append(cb.items, item{event: event, bytes: bytes})
	cb.queuedBytes += int64(len(bytes))
	cb.notEmpty.Broadcast()
	return nil
}

// Get blocks until the buffer is non-empty (or closed) and returns the
// oldest (event, bytes) pair.
func (cb *ClipBuffer) Get() (model.Event, []byte, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for len(cb.items) == 0 && !cb.closed {
		cb.notEmpty.Wait()
	}
	if len(cb.items) == 0 {
		return model.Event{}, nil, ErrClosed
	}

	next := cb.items[0]
	cb.items = cb.items[1:]
	cb.queuedBytes -= int64(len(next.bytes))
	cb.notFull.Broadcast()
	return next.event, next.bytes, nil
}

// SizeBytes returns the current number of bytes queued.
func (cb *ClipBuffer) SizeBytes() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.queuedBytes
}

// SizeItems returns the current number of items queued.
func (cb *ClipBuffer) SizeItems() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.items)
}

// Close marks the buffer closed. Blocked Put/Get calls unblock and return
// ErrClosed (Get may still drain items enqueued before Close, matching the
// teacher RingBuffer's "Close lets readers drain remaining data" contract
// — except ClipBuffer intentionally returns ErrClosed for Get once
// drained, since there is no partial-stream semantics to preserve here).
func (cb *ClipBuffer) Close() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	cb.notFull.Broadcast()
	cb.notEmpty.Broadcast()
}
