// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nishisan-dev/protect-backup/internal/config"
	"github.com/nishisan-dev/protect-backup/internal/logging"
	"github.com/nishisan-dev/protect-backup/internal/supervisor"
)

// exitMisconfigured mirrors the error taxonomy of spec §7: configuration
// errors get a distinct exit code so process supervisors can tell them
// apart from a transient crash.
const exitMisconfigured = 200

func main() {
	configPath := flag.String("config", "/etc/protect-backup/config.yaml", "path to the daemon config file")
	skipMissing := flag.Bool("skip-missing", false, "on first run, mark backlog events as ignored instead of backing them up")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(exitMisconfigured)
	}
	if *skipMissing {
		cfg.Reconciler.SkipMissing = true
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	client, err := NewNVRClient(&cfg.NVR)
	if err != nil {
		logger.Error("failed to construct nvr client", "error", err)
		os.Exit(exitMisconfigured)
	}

	sup, err := supervisor.New(cfg, client, logger)
	if err != nil {
		logger.Error("failed to wire daemon", "error", err)
		os.Exit(exitMisconfigured)
	}

	if err := sup.Run(context.Background()); err != nil && err != context.Canceled {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}
