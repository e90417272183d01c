package fstore

import (
	"io"
	"os"
	"path/filepath"

	"partsrv/lib/utils/fs/fileutil"
)

// NewMover makes mover which uses tmpstor for intermediate copies.
func NewMover(tmpstor *FStore) *Mover {
	return &Mover{tmpstor: tmpstor}
}

// statCopyMove copies from into temporary file and renames it to to.
// Existing destination is left alone.
func (m *Mover) statCopyMove(from, to string) (err error) {
	// first check if exists
	_, err = os.Stat(to)
	if err == nil {
		// exists - don't overwrite
		return nil
	}
	if !os.IsNotExist(err) {
		return
	}

	rf, err := os.Open(from)
	if err != nil {
		return
	}
	defer rf.Close()

	// copy dest - tmp file for atomicity
	wf, err := m.tmpstor.TempFile("mover-", "")
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			n := wf.Name()
			_ = wf.Close()
			_ = os.Remove(n)
		}
	}()

	if _, err = io.Copy(wf, rf); err != nil {
		return
	}
	// sync to ensure consistency
	if err = wf.Sync(); err != nil {
		return
	}
	fn := wf.Name()
	if err = wf.Close(); err != nil {
		return
	}
	if err = os.Rename(fn, to); err != nil {
		return
	}
	return fileutil.SyncDir(filepath.Dir(to))
}
