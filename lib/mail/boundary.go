package mail

import (
	"fmt"
	"strings"
)

const (
	maxBoundaryLen = 70
	// max transport padding after boundary before CRLF
	maxBoundaryPadding = 64
)

type scanResult int

const (
	scanNone      scanResult = iota // no boundary, whole window is body
	scanNeedMore                    // tail of window may be start of boundary
	scanFound                       // complete boundary line starts after safe bytes
	scanMalformed                   // boundary followed by garbage
)

type tailKind int

const (
	tailNone     tailKind = iota // not a boundary at all
	tailNeedMore                 // can't tell yet
	tailDelim                    // delimiter line, next part follows
	tailTerminal                 // close delimiter
	tailMalformed
)

// boundaryScanner finds "\r\n--boundary" with KMP so that hostile
// bodies can't make us do more than linear work.
type boundaryScanner struct {
	pat  []byte // "\r\n--" + boundary
	fail []int
}

func validBoundary(boundary string) error {
	if boundary == "" {
		return fmt.Errorf("%w: empty boundary", ErrMalformedBoundary)
	}
	if len(boundary) > maxBoundaryLen {
		return fmt.Errorf("%w: boundary longer than %d bytes", ErrMalformedBoundary, maxBoundaryLen)
	}
	if strings.ContainsAny(boundary, "\r\n") {
		return fmt.Errorf("%w: boundary contains line break", ErrMalformedBoundary)
	}
	return nil
}

func newBoundaryScanner(boundary string) *boundaryScanner {
	pat := []byte("\r\n--" + boundary)
	fail := make([]int, len(pat))
	k := 0
	for i := 1; i < len(pat); i++ {
		for k > 0 && pat[i] != pat[k] {
			k = fail[k-1]
		}
		if pat[i] == pat[k] {
			k++
		}
		fail[i] = k
	}
	return &boundaryScanner{pat: pat, fail: fail}
}

// index returns offset of leftmost complete pattern occurence in b.
// If there's none, it returns -1 and length of longest suffix of b
// which is a proper prefix of pattern.
func (s *boundaryScanner) index(b []byte) (int, int) {
	pat, fail := s.pat, s.fail
	q := 0
	for i, c := range b {
		for q > 0 && pat[q] != c {
			q = fail[q-1]
		}
		if pat[q] == c {
			q++
		}
		if q == len(pat) {
			return i + 1 - len(pat), 0
		}
	}
	return -1, q
}

// tail classifies bytes following "\r\n--boundary".
// For delimiters it also returns length of rest of line including CRLF.
func (s *boundaryScanner) tail(t []byte) (tailKind, int) {
	if len(t) == 0 {
		return tailNeedMore, 0
	}
	if t[0] == '-' {
		if len(t) == 1 {
			return tailNeedMore, 0
		}
		if t[1] == '-' {
			return tailTerminal, 2
		}
		return tailNone, 0
	}
	i := 0
	for i < len(t) && (t[i] == ' ' || t[i] == '\t') {
		i++
		if i > maxBoundaryPadding {
			return tailMalformed, 0
		}
	}
	if i == len(t) {
		return tailNeedMore, 0
	}
	if t[i] != '\r' {
		if i == 0 {
			// longer boundary sharing our prefix
			return tailNone, 0
		}
		return tailMalformed, 0
	}
	if i+1 == len(t) {
		return tailNeedMore, 0
	}
	if t[i+1] != '\n' {
		return tailMalformed, 0
	}
	return tailDelim, i + 2
}

// scan classifies window. n is ammount of bytes at front which
// are certainly body content.
func (s *boundaryScanner) scan(b []byte) (n int, res scanResult) {
	off := 0
	for {
		i, partial := s.index(b[off:])
		if i < 0 {
			if partial != 0 {
				return len(b) - partial, scanNeedMore
			}
			return len(b), scanNone
		}
		i += off
		switch k, _ := s.tail(b[i+len(s.pat):]); k {
		case tailDelim, tailTerminal:
			return i, scanFound
		case tailNeedMore:
			return i, scanNeedMore
		case tailMalformed:
			return i, scanMalformed
		}
		// pattern has no CR past first byte so next match can't overlap this one
		off = i + len(s.pat)
	}
}
