package fileutil

import (
	"fmt"
	"os"
)

// SyncFileName flushes file with given name to stable storage.
func SyncFileName(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("failed os.Open %q: %v", fname, err)
	}
	err = f.Sync()
	cerr := f.Close()
	if err != nil {
		return fmt.Errorf("failed f.Sync %q: %v", fname, err)
	}
	if cerr != nil {
		return fmt.Errorf("failed f.Close %q: %v", fname, cerr)
	}
	return nil
}
