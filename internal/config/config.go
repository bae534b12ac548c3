// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	NVR        NVRInfo        `yaml:"nvr"`
	Storage    StorageInfo    `yaml:"storage"`
	Backup     BackupInfo     `yaml:"backup"`
	Retention  RetentionInfo  `yaml:"retention"`
	Reconciler ReconcilerInfo `yaml:"reconciler"`
	Logging    LoggingInfo    `yaml:"logging"`
	Ledger     LedgerInfo     `yaml:"ledger"`
}

// NVRInfo identifies and authenticates against the Unifi Protect NVR.
type NVRInfo struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"` // skip TLS verification (self-signed NVR cert)
}

// StorageInfo configures the external storage tool (§6.2) and the
// destination path template used by the Uploader (§4.5).
type StorageInfo struct {
	Tool            string   `yaml:"tool"`             // path to the storage CLI binary, e.g. "rclone"
	Remote          string   `yaml:"remote"`            // configured remote name, validated against `listremotes`
	Destination     string   `yaml:"destination"`       // base directory under the remote
	ExtraArgs       []string `yaml:"extra_args"`        // passed through to rcat/delete
	PathTemplate    string   `yaml:"path_template"`     // text/template, fields per spec §4.5
	ProbeTool       string   `yaml:"probe_tool"`        // optional ffprobe-style binary; "" disables
}

// BackupInfo configures the download/upload pipeline.
type BackupInfo struct {
	IgnoreCameras     []string      `yaml:"ignore_cameras"`
	OnlyCameras       []string      `yaml:"only_cameras"`
	DetectionTypes    []string      `yaml:"detection_types"` // "motion", "ring", "line", smart-detect subtypes
	MaxEventLength    time.Duration `yaml:"max_event_length"`
	RateLimitPerMin   int           `yaml:"rate_limit_per_minute"` // 0 disables
	ClipBufferSize    string        `yaml:"clip_buffer_size"`      // e.g. "256mb"
	ClipBufferSizeRaw int64         `yaml:"-"`
	UploadWorkers     int           `yaml:"upload_workers"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
}

// RetentionInfo configures the RetentionPurger.
type RetentionInfo struct {
	Window            string `yaml:"window"` // e.g. "30d"
	WindowRaw         time.Duration `yaml:"-"`
	PurgeInterval     string `yaml:"purge_interval"` // e.g. "1d"
	PurgeIntervalRaw  time.Duration `yaml:"-"`
	PruneEmptyDirs    bool   `yaml:"prune_empty_dirs"`
}

// ReconcilerInfo configures the Reconciler's periodic pass.
type ReconcilerInfo struct {
	Interval      string        `yaml:"interval"` // e.g. "5m"
	IntervalRaw   time.Duration `yaml:"-"`
	Lookback      string        `yaml:"lookback"` // e.g. "3h", the lookback slop on all-but-first passes
	LookbackRaw   time.Duration `yaml:"-"`
	PageSize      int           `yaml:"page_size"`
	SkipMissing   bool          `yaml:"skip_missing"`
}

// LoggingInfo mirrors the teacher's logging configuration.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LedgerInfo configures the SQLite-backed Ledger.
type LedgerInfo struct {
	Path string `yaml:"path"`
}

// Load reads and validates the daemon configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.NVR.Address == "" {
		return fmt.Errorf("nvr.address is required")
	}
	if c.Storage.Tool == "" {
		return fmt.Errorf("storage.tool is required")
	}
	if c.Storage.Remote == "" {
		return fmt.Errorf("storage.remote is required")
	}
	if c.Storage.Destination == "" {
		return fmt.Errorf("storage.destination is required")
	}
	if c.Storage.PathTemplate == "" {
		c.Storage.PathTemplate = "{{.CameraName}}/{{.Event.Start.Format \"2006-01-02\"}}/{{.Event.Start.Format \"2006-01-02T15-04-05\"}} {{.DetectionType}}.mp4"
	}

	if len(c.Backup.IgnoreCameras) > 0 && len(c.Backup.OnlyCameras) > 0 {
		return fmt.Errorf("backup.ignore_cameras and backup.only_cameras are mutually exclusive")
	}
	if len(c.Backup.DetectionTypes) == 0 {
		c.Backup.DetectionTypes = []string{"motion", "ring"}
	}
	if c.Backup.MaxEventLength <= 0 {
		c.Backup.MaxEventLength = 2 * time.Minute
	}
	if c.Backup.ClipBufferSize == "" {
		c.Backup.ClipBufferSize = "256mb"
	}
	parsed, err := ParseByteSize(c.Backup.ClipBufferSize)
	if err != nil {
		return fmt.Errorf("backup.clip_buffer_size: %w", err)
	}
	c.Backup.ClipBufferSizeRaw = parsed
	if c.Backup.UploadWorkers <= 0 {
		c.Backup.UploadWorkers = 2
	}
	if c.Backup.DownloadTimeout <= 0 {
		c.Backup.DownloadTimeout = 2 * time.Minute
	}

	if c.Retention.Window == "" {
		c.Retention.Window = "30d"
	}
	windowRaw, err := ParseDuration(c.Retention.Window)
	if err != nil {
		return fmt.Errorf("retention.window: %w", err)
	}
	c.Retention.WindowRaw = windowRaw

	if c.Retention.PurgeInterval == "" {
		c.Retention.PurgeInterval = "1d"
	}
	purgeRaw, err := ParseDuration(c.Retention.PurgeInterval)
	if err != nil {
		return fmt.Errorf("retention.purge_interval: %w", err)
	}
	c.Retention.PurgeIntervalRaw = purgeRaw

	if c.Reconciler.Interval == "" {
		c.Reconciler.Interval = "5m"
	}
	reconcilerInterval, err := ParseDuration(c.Reconciler.Interval)
	if err != nil {
		return fmt.Errorf("reconciler.interval: %w", err)
	}
	c.Reconciler.IntervalRaw = reconcilerInterval

	if c.Reconciler.Lookback == "" {
		c.Reconciler.Lookback = "3h"
	}
	lookback, err := ParseDuration(c.Reconciler.Lookback)
	if err != nil {
		return fmt.Errorf("reconciler.lookback: %w", err)
	}
	c.Reconciler.LookbackRaw = lookback

	if c.Reconciler.PageSize <= 0 {
		c.Reconciler.PageSize = 500
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "/var/lib/protect-backup/ledger.db"
	}

	return nil
}

// IgnoreCameraSet and OnlyCameraSet and DetectionTypeSet convert the YAML
// string slices into lookup sets for model.WantedEventConfig.
func (c *Config) IgnoreCameraSet() map[string]struct{} {
	return toSet(c.Backup.IgnoreCameras)
}

func (c *Config) OnlyCameraSet() map[string]struct{} {
	return toSet(c.Backup.OnlyCameras)
}

func (c *Config) DetectionTypeSet() map[string]struct{} {
	return toSet(c.Backup.DetectionTypes)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
