package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverExportFilesSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "channels", "general", "general.txt"), "x")
	mustWrite(t, filepath.Join(root, "dms", "alice-bob", "alice-bob.txt"), "x")
	mustWrite(t, filepath.Join(root, "huddle_transcripts", "ignored.txt"), "x")
	mustWrite(t, filepath.Join(root, "lists", "ignored.txt"), "x")
	mustWrite(t, filepath.Join(root, "files", "f1", "attachment.bin"), "x")
	mustWrite(t, filepath.Join(root, "users.json"), "[]")

	files, err := discoverExportFiles(root)
	if err != nil {
		t.Fatalf("discoverExportFiles returned error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 export files, got %d: %+v", len(files), files)
	}
	for _, f := range files {
		if filepath.Ext(f) != ".txt" {
			t.Errorf("expected only .txt files, got %s", f)
		}
	}
}

func TestDiscoverExportFilesReturnsSortedOrder(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "channels", "zeta", "zeta.txt"), "x")
	mustWrite(t, filepath.Join(root, "channels", "alpha", "alpha.txt"), "x")

	files, err := discoverExportFiles(root)
	if err != nil {
		t.Fatalf("discoverExportFiles returned error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0] > files[1] {
		t.Errorf("expected sorted order, got %v", files)
	}
}

func TestCancelFlagIsPerJobAndIdempotent(t *testing.T) {
	c := New(nil, nil, nil, nil, nil, "model", t.TempDir(), 2)

	if c.cancelFlag("job-1").Load() {
		t.Fatal("expected a freshly created cancel flag to be false")
	}

	c.Cancel("job-1")
	if !c.cancelFlag("job-1").Load() {
		t.Fatal("expected Cancel to set the flag for job-1")
	}
	if c.cancelFlag("job-2").Load() {
		t.Fatal("expected job-2's flag to be unaffected by job-1's cancellation")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
