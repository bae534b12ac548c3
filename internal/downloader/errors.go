// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package downloader

import "errors"

var errEmptyClip = errors.New("downloader: empty clip payload")
