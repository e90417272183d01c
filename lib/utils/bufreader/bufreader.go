package bufreader

// growable read buffer for scanners which need to look ahead
// of what they hand out. unread data is never dropped by refills.

import (
	"errors"
	"io"
)

var ErrBufferFull = errors.New("bufreader: buffer full")

const (
	defaultBufSize = 4096
	maxEmptyReads  = 100
)

type BufReader struct {
	u    io.Reader
	b    []byte
	w, r int
	max  int // 0 - unlimited
	err  error
}

func NewBufReader(u io.Reader) *BufReader {
	return &BufReader{u: u, b: make([]byte, defaultBufSize)}
}

// NewBufReaderSize makes reader with initial buffer size s which
// is allowed to grow upto max bytes. max <= 0 means no limit.
func NewBufReaderSize(u io.Reader, s, max int) *BufReader {
	if s <= 0 {
		panic("size must be >0")
	}
	if max > 0 && max < s {
		max = s
	}
	return &BufReader{u: u, b: make([]byte, s), max: max}
}

// Buffered returns current unread window.
// It's valid only until next Fill or Consume call.
func (r *BufReader) Buffered() []byte {
	return r.b[r.r:r.w]
}

// Len returns size of unread window.
func (r *BufReader) Len() int {
	return r.w - r.r
}

// Size returns current size of underlying storage.
func (r *BufReader) Size() int {
	return len(r.b)
}

// Consume marks n bytes of unread window as read.
func (r *BufReader) Consume(n int) {
	if n < 0 || n > r.w-r.r {
		panic("bufreader: consume out of range")
	}
	r.r += n
	if r.r == r.w {
		r.r = 0
		r.w = 0
	}
}

// Unread puts p in front of unread window.
func (r *BufReader) Unread(p []byte) error {
	if len(p) <= r.r {
		r.r -= len(p)
		copy(r.b[r.r:], p)
		return nil
	}
	n := r.w - r.r
	if err := r.ensureCap(n + len(p) + 1); err != nil {
		return err
	}
	copy(r.b[len(p):], r.b[r.r:r.w])
	copy(r.b, p)
	r.r = 0
	r.w = n + len(p)
	return nil
}

// compact moves unread window to the start of storage.
func (r *BufReader) compact() {
	if r.r != 0 {
		copy(r.b, r.b[r.r:r.w])
		r.w -= r.r
		r.r = 0
	}
}

// ensureCap makes storage at least n bytes big, with unread data at front.
func (r *BufReader) ensureCap(n int) error {
	if n <= len(r.b) {
		r.compact()
		return nil
	}
	if r.max > 0 && n > r.max {
		return ErrBufferFull
	}
	c := len(r.b) * 2
	for c < n {
		c *= 2
	}
	if r.max > 0 && c > r.max {
		c = r.max
	}
	nb := make([]byte, c)
	r.w = copy(nb, r.b[r.r:r.w])
	r.r = 0
	r.b = nb
	return nil
}

// makeRoom ensures there's space after the window for reading into
// and that storage can hold min unread bytes.
func (r *BufReader) makeRoom(min int) error {
	if min <= r.w-r.r {
		min = r.w - r.r + 1
	}
	if r.w < len(r.b) && len(r.b)-r.r >= min {
		return nil
	}
	// consumed prefix takes more than half - rebase first
	if r.r > len(r.b)/2 || len(r.b) >= min {
		r.compact()
		if r.w < len(r.b) && len(r.b) >= min {
			return nil
		}
	}
	return r.ensureCap(min)
}

// Fill ensures that at least min bytes are buffered, reading more if needed.
// It returns number of bytes in unread window. Error is returned only if
// min bytes could not be gathered: either underlying reader error
// (io.EOF on stream end) or ErrBufferFull.
func (r *BufReader) Fill(min int) (int, error) {
	empty := 0
	for r.w-r.r < min {
		if r.err != nil {
			return r.w - r.r, r.err
		}
		if e := r.makeRoom(min); e != nil {
			return r.w - r.r, e
		}
		n, e := r.u.Read(r.b[r.w:])
		if n < 0 || n > len(r.b)-r.w {
			panic("bufreader: invalid Read count")
		}
		r.w += n
		if e != nil {
			r.err = e
			continue
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				r.err = io.ErrNoProgress
			}
		} else {
			empty = 0
		}
	}
	return r.w - r.r, nil
}

// FillMore reads atleast one more byte into window.
func (r *BufReader) FillMore() error {
	_, e := r.Fill(r.w - r.r + 1)
	return e
}

// Read implements io.Reader.
func (r *BufReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.r == r.w {
		if r.err != nil {
			return 0, r.err
		}
		if _, e := r.Fill(1); e != nil && r.r == r.w {
			return 0, e
		}
	}
	n := copy(p, r.b[r.r:r.w])
	r.Consume(n)
	return n, nil
}

var _ io.Reader = (*BufReader)(nil)
