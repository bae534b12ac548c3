// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package uploader implements the upload worker pool that drains the
// ClipBuffer, renders the remote path for each clip, streams it to the
// storage tool, and records success in the Ledger (spec §4.5).
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"text/template"

	"github.com/nishisan-dev/protect-backup/internal/model"
	"github.com/nishisan-dev/protect-backup/internal/nvr"
)

// pathSanitizer strips everything outside the allowed character class
// from a rendered path (spec §4.5): word characters, -, _, ., (, ), space,
// and /.
var pathSanitizer = regexp.MustCompile(`[^\w\-_.() /]`)

// pathFields is the field set exposed to the path template.
type pathFields struct {
	Event           model.Event
	DurationSeconds float64
	DetectionType   string
	CameraName      string
}

// PathRenderer renders and sanitizes the remote destination path for an
// event, using camera names resolved through the NVR's camera cache.
type PathRenderer struct {
	tmpl    *template.Template
	cameras *nvr.CameraCache
}

// NewPathRenderer parses pattern as a text/template path template and
// pairs it with cameras for camera-name lookups.
func NewPathRenderer(pattern string, cameras *nvr.CameraCache) (*PathRenderer, error) {
	tmpl, err := template.New("path").Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("parsing path template: %w", err)
	}
	return &PathRenderer{tmpl: tmpl, cameras: cameras}, nil
}

// Render produces the sanitized remote path for event.
func (r *PathRenderer) Render(ctx context.Context, event model.Event) (string, error) {
	name, err := r.cameras.Name(ctx, event.CameraID)
	if err != nil {
		name = event.CameraID // degrade to the raw id rather than fail the upload
	}

	fields := pathFields{
		Event:           event,
		DurationSeconds: event.Duration().Seconds(),
		DetectionType:   event.DetectionTypeLabel(),
		CameraName:      name,
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("rendering path template for event %q: %w", event.ID, err)
	}

	return pathSanitizer.ReplaceAllString(buf.String(), ""), nil
}
