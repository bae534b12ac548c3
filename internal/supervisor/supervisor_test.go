// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/nishisan-dev/protect-backup/internal/config"
	"github.com/nishisan-dev/protect-backup/internal/model"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
)

type fakeClient struct{}

func (f *fakeClient) Update(ctx context.Context, force bool) error { return nil }
func (f *fakeClient) Cameras(ctx context.Context) (map[string]nvr.Camera, error) {
	return map[string]nvr.Camera{"cam-1": {ID: "cam-1", Name: "Garage"}}, nil
}
func (f *fakeClient) Timezone(ctx context.Context) (*time.Location, error) { return time.UTC, nil }
func (f *fakeClient) SubscribeEvents(cb func(nvr.PushEvent)) func()       { return func() {} }
func (f *fakeClient) SubscribeConnectionState(cb func(nvr.ConnectionState)) func() {
	return func() {}
}
func (f *fakeClient) WaitConnected(ctx context.Context) error { return nil }
func (f *fakeClient) GetEvents(ctx context.Context, start, end time.Time, types []model.EventType, limit int) ([]model.Event, error) {
	return nil, nil
}
func (f *fakeClient) GetCameraVideo(ctx context.Context, cameraID string, start, end time.Time) ([]byte, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStorageBinary writes a shell script standing in for the storage
// CLI: "listremotes" prints the configured remote, anything else
// succeeds silently.
func fakeStorageBinary(t *testing.T, remote string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "faketool")
	script := "#!/bin/sh\nif [ \"$1\" = \"listremotes\" ]; then\n  echo \"" + remote + ":\"\nfi\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func testConfig(t *testing.T, storageTool string) *config.Config {
	cfg := &config.Config{
		NVR: config.NVRInfo{Address: "https://nvr.example.com"},
		Storage: config.StorageInfo{
			Tool:         storageTool,
			Remote:       "gdrive",
			Destination:  "backups",
			PathTemplate: "{{.CameraName}}/{{.Event.ID}}.mp4",
		},
		Backup: config.BackupInfo{
			ClipBufferSizeRaw: 1 << 20,
			UploadWorkers:     1,
			MaxEventLength:    2 * time.Minute,
		},
		Retention:  config.RetentionInfo{WindowRaw: 30 * 24 * time.Hour, PurgeIntervalRaw: 24 * time.Hour},
		Reconciler: config.ReconcilerInfo{IntervalRaw: 5 * time.Minute, LookbackRaw: 3 * time.Hour, PageSize: 500},
		Ledger:     config.LedgerInfo{Path: filepath.Join(t.TempDir(), "ledger.db")},
	}
	return cfg
}

func TestNew_WiresAllComponents(t *testing.T) {
	cfg := testConfig(t, fakeStorageBinary(t, "gdrive"))
	sup, err := New(cfg, &fakeClient{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sup.ledgerDB == nil || sup.listener == nil || sup.downloader == nil || sup.uploaders == nil || sup.reconciler == nil || sup.retention == nil {
		t.Fatal("expected all components to be wired")
	}
}

func TestPreflight_RemoteFound(t *testing.T) {
	cfg := testConfig(t, fakeStorageBinary(t, "gdrive"))
	sup, err := New(cfg, &fakeClient{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Preflight(context.Background()); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
}

func TestPreflight_RemoteMissingFails(t *testing.T) {
	cfg := testConfig(t, fakeStorageBinary(t, "s3"))
	sup, err := New(cfg, &fakeClient{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Preflight(context.Background()); err == nil {
		t.Fatal("expected preflight to fail when configured remote is absent")
	}
}
