package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicFile stages output in a temp file next to the destination. Commit
// makes it visible under the final name; Abort removes it, leaving any
// previous file at that path untouched.
type AtomicFile struct {
	path string
	tmp  *os.File
	done bool
}

func CreateAtomic(path string) (*AtomicFile, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.partial")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	return &AtomicFile{path: path, tmp: tmp}, nil
}

func (a *AtomicFile) Write(p []byte) (int, error) {
	return a.tmp.Write(p)
}

// Name is the staging file's path.
func (a *AtomicFile) Name() string { return a.tmp.Name() }

func (a *AtomicFile) Commit() error {
	if a.done {
		return ErrClosed
	}
	a.done = true
	if err := a.tmp.Sync(); err != nil {
		a.discard()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := a.tmp.Close(); err != nil {
		_ = os.Remove(a.tmp.Name())
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(a.tmp.Name(), 0o644); err != nil {
		_ = os.Remove(a.tmp.Name())
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(a.tmp.Name(), a.path); err != nil {
		_ = os.Remove(a.tmp.Name())
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

func (a *AtomicFile) Abort() error {
	if a.done {
		return ErrClosed
	}
	a.done = true
	return a.discard()
}

func (a *AtomicFile) discard() error {
	cerr := a.tmp.Close()
	rerr := os.Remove(a.tmp.Name())
	if errors.Is(cerr, os.ErrClosed) {
		cerr = nil
	}
	return errors.Join(cerr, rerr)
}
