package filelogger

import (
	"bufio"
	"bytes"
)

// splitter prefixes every written line with message prefix
type splitter struct {
	w       *bufio.Writer
	p       bytes.Buffer // prefix
	midline bool
	wrote   bool
}

func (s *splitter) reset() {
	s.p.Reset()
	s.midline = false
	s.wrote = false
}

func (s *splitter) Write(b []byte) (int, error) {
	n := len(b)
	for len(b) != 0 {
		if !s.midline {
			if _, e := s.w.Write(s.p.Bytes()); e != nil {
				return n - len(b), e
			}
			s.midline = true
			s.wrote = true
		}
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			if _, e := s.w.Write(b); e != nil {
				return n - len(b), e
			}
			break
		}
		if _, e := s.w.Write(b[:i+1]); e != nil {
			return n - len(b), e
		}
		b = b[i+1:]
		s.midline = false
	}
	return n, nil
}

// finish terminates current line and flushes
func (s *splitter) finish() {
	if !s.wrote {
		s.w.Write(s.p.Bytes())
		s.midline = true
	}
	if s.midline {
		s.w.WriteByte('\n')
	}
	s.reset()
	s.w.Flush()
}
