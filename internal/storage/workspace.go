package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is a job-owned scratch directory.
type Workspace struct {
	Dir string
}

// Path returns the absolute path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, filepath.Base(name))
}

// Cleanup removes the workspace and everything in it. It is safe to call
// more than once.
func (w *Workspace) Cleanup() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.Dir, err)
	}
	return nil
}
