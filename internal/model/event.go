// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package model defines the domain types shared by every pipeline stage:
// the event the NVR reports and the wanted-event predicate applied by
// both the EventListener and the Reconciler. Backup locations are defined
// by the Ledger itself (ledger.BackupLocation).
package model

import (
	"strings"
	"time"
)

// EventType enumerates the detection kinds the NVR reports.
type EventType string

const (
	EventMotion          EventType = "motion"
	EventRing            EventType = "ring"
	EventSmartDetect     EventType = "smartDetectZone"
	EventSmartDetectLine EventType = "smartDetectLine"
)

// Event is a single Unifi Protect detection record. End is the zero Time
// when the event is still ongoing; Complete reports whether it has ended.
type Event struct {
	ID                string
	Type              EventType
	CameraID          string
	SmartDetectTypes  []string
	Start             time.Time
	End               time.Time
}

// Complete reports whether the REST representation of the event carries
// a set End timestamp. Per the Open Question in spec §9, REST responses
// should be judged on End being present, not on a changed-fields set.
func (e Event) Complete() bool {
	return !e.End.IsZero()
}

// Duration returns the event length. Only meaningful once Complete.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// StripCameraSuffix removes a trailing "-<cameraID>" suffix from a push
// channel event id, returning the canonical id used everywhere else
// (REST responses, the Ledger, the in-flight set). This is the single
// boundary where the suffix is stripped — downstream code must never see
// the suffixed form (spec §9 "Event IDs with suffix").
func StripCameraSuffix(id, cameraID string) string {
	suffix := "-" + cameraID
	if cameraID != "" && strings.HasSuffix(id, suffix) {
		return strings.TrimSuffix(id, suffix)
	}
	return id
}

// DetectionTypeLabel renders the human-readable detection_type field used
// by the upload path template (spec §4.5): "<type>" normally, or
// "<type> (<smartTypes joined by space>)" for smart detections that carry
// subtypes.
func (e Event) DetectionTypeLabel() string {
	if len(e.SmartDetectTypes) > 0 {
		return string(e.Type) + " (" + strings.Join(e.SmartDetectTypes, " ") + ")"
	}
	return string(e.Type)
}
