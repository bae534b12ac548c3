// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package model

// WantedEventConfig carries the camera/detection-type filters applied by
// both EventListener (spec §4.3) and Reconciler (spec §4.6). IgnoreCameras
// and OnlyCameras are mutually exclusive — config validation enforces
// that at startup, not here.
type WantedEventConfig struct {
	IgnoreCameras  map[string]struct{}
	OnlyCameras    map[string]struct{}
	DetectionTypes map[string]struct{} // "motion", "ring", "line", plus smart-detect subtypes
}

// WantedEvent implements the shared predicate of spec §4.8. It returns
// false for an event whose End is unset (e.Complete()); callers apply
// their own source-specific completion signal (push changed_data vs. REST
// End presence) before calling it — see the Open Question decision in
// DESIGN.md.
func WantedEvent(e Event, cfg WantedEventConfig) bool {
	if !e.Complete() {
		return false
	}
	if _, ignored := cfg.IgnoreCameras[e.CameraID]; ignored {
		return false
	}
	if len(cfg.OnlyCameras) > 0 {
		if _, ok := cfg.OnlyCameras[e.CameraID]; !ok {
			return false
		}
	}

	switch e.Type {
	case EventMotion:
		_, ok := cfg.DetectionTypes["motion"]
		return ok
	case EventRing:
		_, ok := cfg.DetectionTypes["ring"]
		return ok
	case EventSmartDetectLine:
		_, ok := cfg.DetectionTypes["line"]
		return ok
	case EventSmartDetect:
		for _, t := range e.SmartDetectTypes {
			if _, ok := cfg.DetectionTypes[t]; !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// PushEventComplete reports completion from a push message's changed_data
// field set — the more specific signal for push messages (spec §9 Open
// Questions): an update that doesn't touch End still carries a non-nil
// End, so presence-on-the-struct is not enough there.
func PushEventComplete(changedFields map[string]struct{}) bool {
	_, ok := changedFields["end"]
	return ok
}

// RestEventComplete reports completion from a REST-fetched event: End
// presence is the correct (and only available) signal there.
func RestEventComplete(e Event) bool {
	return e.Complete()
}
