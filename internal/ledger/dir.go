// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ledger

import "os"

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
