package storage

import (
	"fmt"
	"os"
)

const dataDirPattern = "webcat-data-*"

// Dir is a working directory on the local disk. Directories created by
// Make are removed by Cleanup, directories handed in by the user are kept.
type Dir struct {
	Dir string

	remove bool
}

// Make uses dir when it is not empty, otherwise it creates a temporary
// directory below tmpDir (the system default when tmpDir is empty).
func (d *Dir) Make(tmpDir, dir string) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating directory %q: %w", dir, err)
		}
		d.Dir = dir
		return nil
	}

	var err error
	if d.Dir, err = os.MkdirTemp(tmpDir, dataDirPattern); err != nil {
		return fmt.Errorf("creating a temporary directory: %w", err)
	}
	d.remove = true

	return nil
}

// Cleanup removes the directory if Make created it.
func (d *Dir) Cleanup() error {
	if !d.remove {
		return nil
	}
	if err := os.RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("removing %q: %w", d.Dir, err)
	}
	d.remove = false
	return nil
}
