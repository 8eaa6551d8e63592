package runtime

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.ogg")
	if err := os.WriteFile(path, []byte("OggS fake payload"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}
