// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package fstore

import "golang.org/x/sys/unix"

type Mover struct {
	nohardlink bool
	tmpstor    *FStore
}

// HardlinkOrCopyIfNeededStable makes file at to have content of from,
// unless to already exists. from stays in place.
func (m *Mover) HardlinkOrCopyIfNeededStable(from, to string) error {
	if !m.nohardlink {
		// link fails if destination already exists
		e := unix.Link(from, to)
		if e == nil {
			return nil
		}
		n, ok := e.(unix.Errno)
		if !ok {
			return e
		}
		switch n {
		case unix.EEXIST:
			return nil
		case unix.EXDEV, /* cross device */
			unix.EOPNOTSUPP, /* not supported by FS */
			unix.EPERM /* used by linux to mark no support */ :
			m.nohardlink = true
		default:
			return e
		}
	}

	// fast path failed, do slow instead
	return m.statCopyMove(from, to)
}
