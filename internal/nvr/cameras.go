// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nvr

import (
	"context"
	"fmt"
	"sync"
)

// CameraCache resolves camera ids to names for path-template rendering
// (spec §4.5), refreshing via Client.Update(force=true) on a lookup miss
// rather than polling — camera additions are rare, and the Uploader's
// path renderer looks a name up once per clip, so a miss costs at most
// one refresh per clip.
type CameraCache struct {
	client Client

	mu      sync.Mutex
	cameras map[string]Camera
}

// NewCameraCache creates a cache backed by client. The cache starts empty
// and is populated on first Name call.
func NewCameraCache(client Client) *CameraCache {
	return &CameraCache{client: client}
}

// Name resolves cameraID to its configured display name. On a cache
// miss it forces one bootstrap refresh before giving up.
func (c *CameraCache) Name(ctx context.Context, cameraID string) (string, error) {
	c.mu.Lock()
	cached := c.cameras
	c.mu.Unlock()

	if cam, ok := cached[cameraID]; ok {
		return cam.Name, nil
	}

	if err := c.client.Update(ctx, true); err != nil {
		return "", fmt.Errorf("refreshing camera bootstrap for %q: %w", cameraID, err)
	}

	cams, err := c.client.Cameras(ctx)
	if err != nil {
		return "", fmt.Errorf("listing cameras after refresh: %w", err)
	}

	c.mu.Lock()
	c.cameras = cams
	c.mu.Unlock()

	if cam, ok := cams[cameraID]; ok {
		return cam.Name, nil
	}
	return "", fmt.Errorf("camera %q not found after bootstrap refresh", cameraID)
}
