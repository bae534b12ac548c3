// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package clipbuffer

import (
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/protect-backup/internal/model"
)

func TestClipBuffer_PutGet(t *testing.T) {
	cb := New(1024)

	e := model.Event{ID: "a"}
	if err := cb.Put(e, []byte("clip bytes")); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, bytes, err := cb.Get()
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != "a" {
		t.Errorf("expected event id 'a', got %q", got.ID)
	}
	if string(bytes) != "clip bytes" {
		t.Errorf("expected 'clip bytes', got %q", bytes)
	}
}

func TestClipBuffer_FIFOOrder(t *testing.T) {
	cb := New(1024)
	cb.Put(model.Event{ID: "1"}, []byte("a"))
	cb.Put(model.Event{ID: "2"}, []byte("b"))
	cb.Put(model.Event{ID: "3"}, []byte("c"))

	for _, want := range []string{"1", "2", "3"} {
		got, _, err := cb.Get()
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got.ID != want {
			t.Errorf("expected event id %q, got %q", want, got.ID)
		}
	}
}

func TestClipBuffer_OversizedItemRejected(t *testing.T) {
	cb := New(10)
	err := cb.Put(model.Event{ID: "big"}, make([]byte, 100))
	if err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestClipBuffer_BlocksWhenFull(t *testing.T) {
	// Capacity = 1 MiB. Two events of 900 KiB and 700 KiB — second Put
	// should block until the first is consumed (spec seed scenario S3).
	cb := New(1 * 1024 * 1024)

	first := make([]byte, 900*1024)
	second := make([]byte, 700*1024)

	if err := cb.Put(model.Event{ID: "e1"}, first); err != nil {
		t.Fatalf("Put e1 error: %v", err)
	}

	putDone := make(chan struct{})
	go func() {
		cb.Put(model.Event{ID: "e2"}, second)
		close(putDone)
	}()

	select {
	case <-putDone:
		t.Fatal("expected second Put to block while buffer is full")
	case <-time.After(100 * time.Millisecond):
	}

	// Draining the first item must unblock the second Put.
	if _, _, err := cb.Get(); err != nil {
		t.Fatalf("Get error: %v", err)
	}

	select {
	case <-putDone:
	case <-time.After(1 * time.Second):
		t.Fatal("expected second Put to unblock after first item was consumed")
	}
}

func TestClipBuffer_SizeAccounting(t *testing.T) {
	cb := New(1024)
	cb.Put(model.Event{ID: "a"}, make([]byte, 100))
	cb.Put(model.Event{ID: "b"}, make([]byte, 50))

	if cb.SizeBytes() != 150 {
		t.Errorf("expected 150 queued bytes, got %d", cb.SizeBytes())
	}
	if cb.SizeItems() != 2 {
		t.Errorf("expected 2 queued items, got %d", cb.SizeItems())
	}

	cb.Get()
	if cb.SizeBytes() != 50 {
		t.Errorf("expected 50 queued bytes after one Get, got %d", cb.SizeBytes())
	}
}

func TestClipBuffer_MultipleConsumers(t *testing.T) {
	cb := New(1024)
	const n = 20
	for i := 0; i < n; i++ {
		cb.Put(model.Event{ID: "e"}, []byte("x"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	received := 0

	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, _, err := cb.Get()
				if err != nil {
					return
				}
				mu.Lock()
				received++
				done := received == n
				mu.Unlock()
				if done {
					return
				}
			}
		}()
	}

	cb.Close()
	wg.Wait()

	if received != n {
		t.Errorf("expected %d items received across consumers, got %d", n, received)
	}
}

func TestClipBuffer_CloseUnblocksGet(t *testing.T) {
	cb := New(1024)

	getErr := make(chan error, 1)
	go func() {
		_, _, err := cb.Get()
		getErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cb.Close()

	select {
	case err := <-getErr:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("expected blocked Get to unblock on Close")
	}
}
