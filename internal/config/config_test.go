// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

const minimalConfig = `
nvr:
  address: nvr.local:443
  username: backup
  password: secret
storage:
  tool: rclone
  remote: b2
  destination: b2:cameras
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.NVR.Address != "nvr.local:443" {
		t.Errorf("expected nvr.address 'nvr.local:443', got %q", cfg.NVR.Address)
	}
	if cfg.Storage.Remote != "b2" {
		t.Errorf("expected storage.remote 'b2', got %q", cfg.Storage.Remote)
	}
	if cfg.Backup.UploadWorkers != 2 {
		t.Errorf("expected default upload_workers 2, got %d", cfg.Backup.UploadWorkers)
	}
	if cfg.Backup.ClipBufferSizeRaw != 256*1024*1024 {
		t.Errorf("expected default clip_buffer_size 256mb, got %d", cfg.Backup.ClipBufferSizeRaw)
	}
	if cfg.Retention.WindowRaw.String() != "720h0m0s" {
		t.Errorf("expected default retention window 30d, got %s", cfg.Retention.WindowRaw)
	}
	if cfg.Reconciler.PageSize != 500 {
		t.Errorf("expected default reconciler page_size 500, got %d", cfg.Reconciler.PageSize)
	}
	if len(cfg.Backup.DetectionTypes) != 2 {
		t.Errorf("expected default detection_types [motion ring], got %v", cfg.Backup.DetectionTypes)
	}
}

func TestLoad_MissingNVRAddress(t *testing.T) {
	_, err := Load(writeConfig(t, `
storage:
  tool: rclone
  remote: b2
  destination: b2:cameras
`))
	if err == nil {
		t.Fatal("expected error for missing nvr.address")
	}
}

func TestLoad_IgnoreAndOnlyCamerasMutuallyExclusive(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
backup:
  ignore_cameras: ["cam1"]
  only_cameras: ["cam2"]
`))
	if err == nil {
		t.Fatal("expected error when ignore_cameras and only_cameras are both set")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "nvr: [this is not a map"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestDetectionTypeSet(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
backup:
  detection_types: ["motion", "person", "vehicle"]
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	set := cfg.DetectionTypeSet()
	for _, want := range []string{"motion", "person", "vehicle"} {
		if _, ok := set[want]; !ok {
			t.Errorf("expected detection type set to contain %q", want)
		}
	}
}
