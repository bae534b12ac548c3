// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/nishisan-dev/protect-backup/internal/config"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
)

// NewNVRClient constructs the concrete nvr.Client for cfg. The Unifi
// Protect wire protocol (websocket bootstrap/update framing, REST auth)
// is explicitly out of scope for this daemon (spec §1 Non-goals) — every
// pipeline component is written against the nvr.Client interface in
// internal/nvr and is exercised in tests against a fake implementation.
// Deployments link a real client satisfying that interface into this
// var; the default reports a clear startup error rather than pretend to
// connect.
var NewNVRClient = func(cfg *config.NVRInfo) (nvr.Client, error) {
	return nil, fmt.Errorf("no nvr.Client implementation linked for address %q: supply one satisfying internal/nvr.Client", cfg.Address)
}
