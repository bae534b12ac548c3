// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package nvr defines the boundary between the backup pipeline and the
// Unifi Protect NVR itself. The wire protocol is explicitly out of scope
// (spec §6.1, Non-goals); this package only states the shape a concrete
// client must satisfy and the small amount of bookkeeping (camera name
// cache, connection gate) that every caller needs regardless of wire
// format.
package nvr

import (
	"context"
	"time"

	"github.com/nishisan-dev/protect-backup/internal/model"
)

// Camera is the subset of bootstrap camera data the pipeline consumes.
type Camera struct {
	ID   string
	Name string
}

// ConnectionState mirrors the NVR client's own connected/disconnected
// notifications.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

// Action is the websocket frame action a PushEvent was delivered under.
// Only ActionUpdate frames carry the incremental ChangedAttrs the
// Listener relies on to detect event completion; Add/Remove frames
// describe a different lifecycle transition entirely.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// PushEvent is what subscribe_events delivers per spec §6.1: the event
// as the NVR currently understands it, the action the frame carried,
// and the set of fields that changed on this particular message (used
// to detect completion, since the push transport has no explicit
// "done" marker).
type PushEvent struct {
	Action       Action
	Event        model.Event
	ChangedAttrs map[string]struct{}
}

// Client is the opaque NVR API collaborator. A concrete implementation
// owns the actual websocket/REST wire protocol; everything in this
// repository only calls through this interface.
type Client interface {
	// Update refreshes cached bootstrap data (cameras, NVR info). When
	// force is true, a cache miss elsewhere should trigger one of these
	// before giving up on a camera lookup.
	Update(ctx context.Context, force bool) error

	// Cameras returns the current bootstrap camera map.
	Cameras(ctx context.Context) (map[string]Camera, error)

	// Timezone returns the NVR's configured timezone, used to localize
	// event timestamps that the wire protocol returns in UTC.
	Timezone(ctx context.Context) (*time.Location, error)

	// SubscribeEvents registers cb for push-channel event updates and
	// returns an unsubscribe function.
	SubscribeEvents(cb func(PushEvent)) (unsubscribe func())

	// SubscribeConnectionState registers cb for connect/disconnect
	// notifications and returns an unsubscribe function.
	SubscribeConnectionState(cb func(ConnectionState)) (unsubscribe func())

	// WaitConnected blocks until the client reports Connected, or ctx is
	// done.
	WaitConnected(ctx context.Context) error

	// GetEvents performs a REST query for completed events in
	// [start, end), oldest-first, restricted to types, at most limit
	// results.
	GetEvents(ctx context.Context, start, end time.Time, types []model.EventType, limit int) ([]model.Event, error)

	// GetCameraVideo synchronously fetches a clip's bytes.
	GetCameraVideo(ctx context.Context, cameraID string, start, end time.Time) ([]byte, error)
}
