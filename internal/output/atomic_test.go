package output

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicFile_Commit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.geojson")

	a, err := CreateAtomic(path)
	if err != nil {
		t.Fatalf("CreateAtomic: %v", err)
	}
	if _, err := a.Write([]byte("{}")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("destination visible before commit (err=%v)", err)
	}
	if err := a.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "{}" {
		t.Fatalf("content=%q", b)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("staging file left behind: %v", entries)
	}
	if err := a.Abort(); err != ErrClosed {
		t.Fatalf("Abort after Commit: %v", err)
	}
}

func TestAtomicFile_AbortKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.geojson")
	if err := os.WriteFile(path, []byte("previous"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	a, err := CreateAtomic(path)
	if err != nil {
		t.Fatalf("CreateAtomic: %v", err)
	}
	_, _ = a.Write([]byte(`{"type":"FeatureCollection","features":[`))
	if err := a.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil || string(b) != "previous" {
		t.Fatalf("previous output clobbered: %q err=%v", b, err)
	}
	if _, err := os.Stat(a.Name()); !os.IsNotExist(err) {
		t.Fatalf("staging file survived Abort (err=%v)", err)
	}
}
