// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package uploader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/protect-backup/internal/clipbuffer"
	"github.com/nishisan-dev/protect-backup/internal/inflight"
	"github.com/nishisan-dev/protect-backup/internal/ledger"
	"github.com/nishisan-dev/protect-backup/internal/model"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestPool_UploadsAndRecordsSuccess(t *testing.T) {
	clips := clipbuffer.New(1024)
	l := openTestLedger(t)
	fc := &fakeClient{cameras: map[string]nvr.Camera{"cam-1": {ID: "cam-1", Name: "Garage"}}}
	renderer, err := NewPathRenderer("{{.CameraName}}/{{.Event.ID}}.mp4", nvr.NewCameraCache(fc))
	if err != nil {
		t.Fatalf("NewPathRenderer: %v", err)
	}

	var uploadedBody string
	var mu sync.Mutex
	upload := func(ctx context.Context, body io.Reader, path string) error {
		b, _ := io.ReadAll(body)
		mu.Lock()
		uploadedBody = string(b)
		mu.Unlock()
		return nil
	}

	inFlight := inflight.NewSet()
	pool := NewPool(clips, l, inFlight, renderer, upload, "gdrive", testLogger())

	now := time.Now()
	event := model.Event{ID: "evt-1", CameraID: "cam-1", Type: model.EventMotion, Start: now.Add(-time.Second), End: now}
	inFlight.Add(event.ID)
	clips.Put(event, []byte("clip-bytes"))
	clips.Close()

	pool.Run(context.Background(), 2)

	mu.Lock()
	got := uploadedBody
	mu.Unlock()
	if got != "clip-bytes" {
		t.Errorf("expected uploaded body 'clip-bytes', got %q", got)
	}

	has, err := l.Has("evt-1")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Error("expected successful upload to be recorded in the ledger")
	}
	if inFlight.Has("evt-1") {
		t.Error("expected event to be removed from the in-flight set after a durable ledger record")
	}
}

func TestPool_UploadFailureDoesNotRecordSuccess(t *testing.T) {
	clips := clipbuffer.New(1024)
	l := openTestLedger(t)
	fc := &fakeClient{cameras: map[string]nvr.Camera{"cam-1": {ID: "cam-1", Name: "Garage"}}}
	renderer, _ := NewPathRenderer("{{.CameraName}}/{{.Event.ID}}.mp4", nvr.NewCameraCache(fc))

	upload := func(ctx context.Context, body io.Reader, path string) error {
		return errors.New("storage tool exited non-zero")
	}

	inFlight := inflight.NewSet()
	pool := NewPool(clips, l, inFlight, renderer, upload, "gdrive", testLogger())

	now := time.Now()
	event := model.Event{ID: "evt-2", CameraID: "cam-1", Type: model.EventMotion, Start: now.Add(-time.Second), End: now}
	inFlight.Add(event.ID)
	clips.Put(event, []byte("clip-bytes"))
	clips.Close()

	pool.Run(context.Background(), 1)

	has, err := l.Has("evt-2")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if has {
		t.Error("expected failed upload not to be recorded in the ledger")
	}
	if inFlight.Has("evt-2") {
		t.Error("expected event to be removed from the in-flight set once its upload is abandoned")
	}
}

func TestPool_MultipleWorkersDrainAllItems(t *testing.T) {
	clips := clipbuffer.New(1 << 20)
	l := openTestLedger(t)
	fc := &fakeClient{cameras: map[string]nvr.Camera{"cam-1": {ID: "cam-1", Name: "Garage"}}}
	renderer, _ := NewPathRenderer("{{.CameraName}}/{{.Event.ID}}.mp4", nvr.NewCameraCache(fc))

	upload := func(ctx context.Context, body io.Reader, path string) error {
		io.ReadAll(body)
		return nil
	}
	inFlight := inflight.NewSet()
	pool := NewPool(clips, l, inFlight, renderer, upload, "gdrive", testLogger())

	now := time.Now()
	const n = 10
	for i := 0; i < n; i++ {
		id := "evt-" + string(rune('a'+i))
		inFlight.Add(id)
		clips.Put(model.Event{ID: id, CameraID: "cam-1", Type: model.EventMotion, Start: now.Add(-time.Second), End: now}, []byte("x"))
	}
	clips.Close()

	pool.Run(context.Background(), 4)

	ids, err := l.AllIDs()
	if err != nil {
		t.Fatalf("AllIDs: %v", err)
	}
	if len(ids) != n {
		t.Errorf("expected %d recorded uploads, got %d", n, len(ids))
	}
}
