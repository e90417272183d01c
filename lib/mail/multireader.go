package mail

import (
	"bytes"
	"fmt"
	"io"

	"partsrv/lib/utils/bufreader"
	. "partsrv/lib/utils/logx"
)

type partState int

const (
	stateStart partState = iota
	statePreamble
	stateBoundaryLine
	stateHeaders
	stateBody
	stateEpilogue
	stateExhausted
	stateFailed
)

var stateNames = [...]string{
	stateStart:        "start",
	statePreamble:     "preamble",
	stateBoundaryLine: "boundary-line",
	stateHeaders:      "headers",
	stateBody:         "body",
	stateEpilogue:     "epilogue",
	stateExhausted:    "exhausted",
	stateFailed:       "failed",
}

func (s partState) String() string { return stateNames[s] }

type PartReaderConfig struct {
	MaxHeaderBytes int   // size of single part header block
	MaxHeaders     int   // header lines per part
	MaxParts       int   // 0 - unlimited
	MaxPartBytes   int64 // body size of single part, 0 - unlimited
	BufferSize     int   // initial buffer size
	Logger         LoggerX
}

var DefaultPartReaderConfig = PartReaderConfig{
	MaxHeaderBytes: 16 * 1024,
	MaxHeaders:     64,
	BufferSize:     4096,
}

// PartReader reads multipart/form-data body part by part.
// It never holds more than single part header block plus
// boundary-sized lookahead in memory.
type PartReader struct {
	br    *bufreader.BufReader
	bs    *boundaryScanner
	cfg   PartReaderConfig
	log   Logger
	state partState
	err   error // sticky

	cur    *Part
	nparts int

	safe    int  // ammount of buffered body bytes known not to be boundary
	found   bool // delimiter follows safe bytes
	atStart bool // nothing of current body was scanned yet
}

// Part is single part of multipart body.
// It reads its body until next boundary.
// Part becomes invalid once PartReader.NextPart is called again.
type Part struct {
	PartHeaders

	pr *PartReader
	n  int64
}

func NewPartReader(r io.Reader, boundary string) *PartReader {
	return DefaultPartReaderConfig.NewPartReader(r, boundary)
}

func (cfg *PartReaderConfig) NewPartReader(r io.Reader, boundary string) *PartReader {
	pr := &PartReader{
		cfg: *cfg,
		log: NewLogToX(cfg.Logger, "mail.partreader"),
	}
	if e := validBoundary(boundary); e != nil {
		pr.state = stateFailed
		pr.err = e
		return pr
	}
	bsize := cfg.BufferSize
	if bsize <= 0 {
		bsize = DefaultPartReaderConfig.BufferSize
	}
	// lookahead never needs much more than single header block
	bmax := 2*cfg.MaxHeaderBytes + bsize
	if cfg.MaxHeaderBytes <= 0 {
		bmax = 0
	}
	pr.br = bufreader.NewBufReaderSize(r, bsize, bmax)
	pr.bs = newBoundaryScanner(boundary)
	return pr
}

func (pr *PartReader) setState(s partState) {
	pr.log.LogPrintf(DEBUG, "%v -> %v", pr.state, s)
	pr.state = s
}

func (pr *PartReader) fail(e error) error {
	if pr.state == stateFailed {
		return pr.err
	}
	pr.log.LogPrintf(INFO, "failed in %v state: %v", pr.state, e)
	pr.state = stateFailed
	pr.err = e
	pr.cur = nil
	return e
}

// Err returns error which stopped processing, if any.
func (pr *PartReader) Err() error {
	if pr.state == stateFailed {
		return pr.err
	}
	return nil
}

// NextPart returns next part. Unread data of previous part is skipped.
// It returns io.EOF after final boundary. Any other error is sticky.
func (pr *PartReader) NextPart() (*Part, error) {
	switch pr.state {
	case stateFailed:
		return nil, pr.err
	case stateExhausted:
		return nil, io.EOF
	}
	p, e := pr.nextPart()
	if e != nil {
		if e == io.EOF {
			return nil, e
		}
		return nil, pr.fail(e)
	}
	return p, nil
}

func (pr *PartReader) nextPart() (*Part, error) {
	if pr.state == stateStart {
		// virtual CRLF so that first boundary at stream start matches
		if e := pr.br.Unread([]byte("\r\n")); e != nil {
			return nil, e
		}
		pr.setState(statePreamble)
	}
	if pr.state == statePreamble {
		if _, e := pr.skipBody(); e != nil {
			if e == ErrTruncatedBody {
				return nil, fmt.Errorf("%w: no boundary found", ErrTruncatedBody)
			}
			return nil, e
		}
	}
	if pr.state == stateBody {
		// drain current part
		if _, e := pr.skipBody(); e != nil {
			return nil, e
		}
	}

	terminal, e := pr.readBoundaryLine()
	if e != nil {
		return nil, e
	}
	if terminal {
		// don't care about epilogue, don't even read it
		pr.setState(stateEpilogue)
		pr.setState(stateExhausted)
		pr.cur = nil
		return nil, io.EOF
	}

	if pr.cfg.MaxParts > 0 && pr.nparts >= pr.cfg.MaxParts {
		return nil, fmt.Errorf("%w: more than %d parts", ErrPartLimitExceeded, pr.cfg.MaxParts)
	}

	pr.setState(stateHeaders)
	h, e := readPartHeaders(pr.br, headerLimits{
		maxBytes:   pr.cfg.MaxHeaderBytes,
		maxHeaders: pr.cfg.MaxHeaders,
	})
	if e != nil {
		return nil, e
	}

	pr.nparts++
	pr.cur = &Part{PartHeaders: h, pr: pr}
	pr.safe, pr.found, pr.atStart = 0, false, true
	pr.setState(stateBody)
	return pr.cur, nil
}

// readBoundaryLine consumes boundary line found by previous body scan.
func (pr *PartReader) readBoundaryLine() (terminal bool, e error) {
	plen := len(pr.bs.pat)
	for {
		b := pr.br.Buffered()
		if len(b) >= plen {
			k, n := pr.bs.tail(b[plen:])
			switch k {
			case tailTerminal:
				pr.br.Consume(plen + n)
				return true, nil
			case tailDelim:
				pr.br.Consume(plen + n)
				return false, nil
			case tailMalformed, tailNone:
				return false, fmt.Errorf("%w: bad delimiter line", ErrMalformedBoundary)
			}
		}
		if e = pr.br.FillMore(); e != nil {
			return false, wrapIOError(e)
		}
	}
}

// scanBody ensures that either safe body bytes are available or
// delimiter was found.
func (pr *PartReader) scanBody() error {
	if pr.atStart {
		if e := pr.checkBodyStart(); e != nil {
			return e
		}
	}
	for pr.safe == 0 && !pr.found {
		n, res := pr.bs.scan(pr.br.Buffered())
		switch res {
		case scanFound:
			pr.found = true
		case scanMalformed:
			return fmt.Errorf("%w: garbage after boundary", ErrMalformedBoundary)
		}
		pr.safe = n
		if n == 0 && !pr.found {
			if e := pr.br.FillMore(); e != nil {
				if e == bufreader.ErrBufferFull {
					return fmt.Errorf("%w: boundary line too long", ErrMalformedBoundary)
				}
				return wrapIOError(e)
			}
		}
	}
	return nil
}

// checkBodyStart handles boundary placed right after header block,
// without CRLF of its own.
func (pr *PartReader) checkBodyStart() error {
	dash := pr.bs.pat[2:]
	for {
		b := pr.br.Buffered()
		n := len(b)
		if n > len(dash) {
			n = len(dash)
		}
		if !bytes.Equal(b[:n], dash[:n]) {
			break
		}
		if len(b) > len(dash) {
			k, _ := pr.bs.tail(b[len(dash):])
			if k == tailDelim || k == tailTerminal {
				// make it look like normal delimiter
				if e := pr.br.Unread(pr.bs.pat[:2]); e != nil {
					return e
				}
				pr.found = true
				break
			}
			if k == tailMalformed {
				return fmt.Errorf("%w: garbage after boundary", ErrMalformedBoundary)
			}
			if k == tailNone {
				break
			}
		}
		if e := pr.br.FillMore(); e != nil {
			if e == bufreader.ErrBufferFull {
				return fmt.Errorf("%w: boundary line too long", ErrMalformedBoundary)
			}
			return wrapIOError(e)
		}
	}
	pr.atStart = false
	return nil
}

func (pr *PartReader) endBody() {
	pr.safe, pr.found, pr.atStart = 0, false, false
	pr.setState(stateBoundaryLine)
}

// skipBody discards body bytes upto next delimiter.
func (pr *PartReader) skipBody() (n int64, e error) {
	for {
		if e = pr.scanBody(); e != nil {
			return
		}
		if pr.safe != 0 {
			pr.br.Consume(pr.safe)
			n += int64(pr.safe)
			pr.safe = 0
			continue
		}
		// found
		pr.endBody()
		return
	}
}

func (pr *PartReader) readBody(p *Part, b []byte) (n int, e error) {
	if len(b) == 0 {
		return 0, nil
	}
	if e = pr.scanBody(); e != nil {
		return 0, pr.fail(e)
	}
	if pr.safe == 0 {
		pr.endBody()
		return 0, io.EOF
	}
	n = copy(b, pr.br.Buffered()[:pr.safe])
	pr.br.Consume(n)
	pr.safe -= n
	p.n += int64(n)
	if pr.cfg.MaxPartBytes > 0 && p.n > pr.cfg.MaxPartBytes {
		return n, pr.fail(fmt.Errorf(
			"%w: part %q exceeds %d bytes",
			ErrPartLimitExceeded, p.formName, pr.cfg.MaxPartBytes))
	}
	return n, nil
}

// ForEach calls fn for every remaining part.
// Iteration stops on first error returned by either parsing or fn.
func (pr *PartReader) ForEach(fn func(p *Part) error) error {
	for {
		p, e := pr.NextPart()
		if e != nil {
			if e == io.EOF {
				return nil
			}
			return e
		}
		if e = fn(p); e != nil {
			return e
		}
	}
}

// Close releases buffers. Underlying reader isn't closed.
func (pr *PartReader) Close() error {
	if pr.state != stateFailed && pr.state != stateExhausted {
		pr.state = stateFailed
		pr.err = ErrClosed
	}
	pr.br = nil
	pr.cur = nil
	return nil
}

func (p *Part) active() bool {
	return p.pr.cur == p && p.pr.state == stateBody
}

// Read reads part body. It returns io.EOF once boundary is reached.
func (p *Part) Read(b []byte) (int, error) {
	if !p.active() {
		if p.pr.state == stateFailed {
			return 0, p.pr.err
		}
		return 0, io.EOF
	}
	return p.pr.readBody(p, b)
}

// Skip discards rest of part body, returning number of bytes skipped.
func (p *Part) Skip() (int64, error) {
	if !p.active() {
		if p.pr.state == stateFailed {
			return 0, p.pr.err
		}
		return 0, nil
	}
	n, e := p.pr.skipBody()
	if e != nil {
		return n, p.pr.fail(e)
	}
	return n, nil
}

// N returns ammount of body bytes read so far.
func (p *Part) N() int64 {
	return p.n
}

var _ io.Reader = (*Part)(nil)
