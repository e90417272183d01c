// +build windows

package fstore

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

type Mover struct {
	nohardlink bool
	tmpstor    *FStore
}

func (m *Mover) HardlinkOrCopyIfNeededStable(from, to string) error {
	if !m.nohardlink {
		e := os.Link(from, to)
		if e == nil {
			return nil
		}
		var n windows.Errno
		if errors.As(e, &n) &&
			(n == windows.ERROR_FILE_EXISTS || n == windows.ERROR_ALREADY_EXISTS) {

			return nil
		}
		// anything else - most likely no hardlink support there
		m.nohardlink = true
	}

	return m.statCopyMove(from, to)
}
