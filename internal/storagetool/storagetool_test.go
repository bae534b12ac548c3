// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package storagetool

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeBinary writes a tiny shell script standing in for the real
// storage CLI: it echoes its argv to stdout (one token per line,
// prefixed "ARG:") and, for rcat, also echoes stdin (prefixed
// "STDIN:"), then exits 0 unless the first argument is "fail".
func fakeBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary is a POSIX shell script")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "faketool")
	script := `#!/bin/sh
if [ "$1" = "fail" ]; then
	echo "synthetic failure" 1>&2
	exit 1
fi
for a in "$@"; do
	echo "ARG:$a"
done
if [ "$1" = "rcat" ]; then
	echo "STDIN:$(cat)"
fi
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func TestTool_ListRemotes(t *testing.T) {
	script := "#!/bin/sh\necho gdrive:\necho s3:\n"
	path := filepath.Join(t.TempDir(), "listremotes")
	os.WriteFile(path, []byte(script), 0o755)
	tool := New(path, "dest:path", nil)

	remotes, err := tool.ListRemotes(context.Background())
	if err != nil {
		t.Fatalf("ListRemotes: %v", err)
	}
	if len(remotes) != 2 || remotes[0] != "gdrive:" || remotes[1] != "s3:" {
		t.Errorf("unexpected remotes: %v", remotes)
	}
}

func TestTool_EnsureDestination(t *testing.T) {
	tool := New(fakeBinary(t), "gdrive:backups", nil)
	if err := tool.EnsureDestination(context.Background()); err != nil {
		t.Fatalf("EnsureDestination: %v", err)
	}
}

func TestTool_Upload(t *testing.T) {
	tool := New(fakeBinary(t), "gdrive:backups", []string{"--transfers=1"})
	body := bytes.NewBufferString("clip-bytes")

	if err := tool.Upload(context.Background(), body, "cam-1/evt.mp4"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestTool_RunFailureIncludesStderr(t *testing.T) {
	tool := New(fakeBinary(t), "gdrive:backups", nil)

	_, err := tool.run(context.Background(), nil, "fail")
	if err == nil {
		t.Fatal("expected error from failing subprocess")
	}
	if !strings.Contains(err.Error(), "synthetic failure") {
		t.Errorf("expected stderr to be included in error, got: %v", err)
	}
}

func TestTool_Delete(t *testing.T) {
	tool := New(fakeBinary(t), "gdrive:backups", nil)
	if err := tool.Delete(context.Background(), "gdrive", "cam-1/evt.mp4"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestTool_PruneEmptyDirs(t *testing.T) {
	tool := New(fakeBinary(t), "gdrive:backups", nil)
	if err := tool.PruneEmptyDirs(context.Background()); err != nil {
		t.Fatalf("PruneEmptyDirs: %v", err)
	}
}
