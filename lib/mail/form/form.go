package form

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"strings"

	"github.com/gobwas/glob"

	"partsrv/lib/mail"
	. "partsrv/lib/utils/logx"
)

type FormParser struct {
	MaxHeaderBytes    int
	MaxMemory         int // total size of text fields
	MaxFields         int
	MaxFileCount      int // -1 - unlimited
	MaxFileSingleSize int64
	MaxFileAllSize    int64
	MaxParts          int // including ignored ones, 0 - unlimited

	// content type globs accepted for files, like "image/*".
	// empty - accept anything
	FileTypes []string

	Logger LoggerX
}

var DefaultFormParser = FormParser{
	MaxHeaderBytes: 16 * 1024,
	MaxMemory:      1024 * 1024,
	MaxFields:      1024,
	MaxFileCount:   256,
}

// FieldsChecker tells whether field with given name is wanted.
type FieldsChecker func(field string) bool

func FieldsCheckFunc(fields []string) FieldsChecker {
	return func(field string) bool {
		for _, v := range fields {
			if field == v {
				return true
			}
		}
		return false
	}
}

func AllFields(string) bool { return true }

func NoFields(string) bool { return false }

type FileOpener interface {
	OpenFile() (*os.File, error)
}

// TempFileOpener opens files in OS temp directory, or in Dir if set.
type TempFileOpener struct {
	Dir     string
	Pattern string
}

func (o TempFileOpener) OpenFile() (*os.File, error) {
	p := o.Pattern
	if p == "" {
		p = "formdata-"
	}
	return ioutil.TempFile(o.Dir, p)
}

type File struct {
	F           *os.File // File is seeked to 0 position
	ContentType string
	FileName    string // Windows and UNIX paths are stripped
	Size        int64
}

func (f File) Remove() {
	fn := f.F.Name()
	f.F.Close()
	if fn != "" {
		os.Remove(fn)
	}
}

type Form struct {
	Values map[string][]string
	Files  map[string][]File
}

func (f Form) RemoveAll() {
	for k, v := range f.Files {
		for i := range v {
			v[i].Remove()
		}
		delete(f.Files, k)
	}
}

var (
	ErrFormTooBig       = errors.New("form submission is too big")
	ErrTooManyFields    = errors.New("form submission contains too many fields")
	ErrTooManyFiles     = errors.New("form submission contains too many files")
	ErrFileTypeRejected = errors.New("form submission contains file of unacceptable type")
)

// IsLimitError tells whether err is caused by exceeding some limit.
func IsLimitError(err error) bool {
	return errors.Is(err, ErrFormTooBig) ||
		errors.Is(err, ErrTooManyFields) ||
		errors.Is(err, ErrTooManyFiles) ||
		errors.Is(err, mail.ErrHeaderTooLarge) ||
		errors.Is(err, mail.ErrPartLimitExceeded)
}

func ParseForm(
	r io.Reader, boundary string, textfields, filefields FieldsChecker,
	fo FileOpener) (Form, error) {

	return DefaultFormParser.ParseForm(
		r, boundary, textfields, filefields, fo)
}

// CompileFileTypes compiles FileTypes patterns; nil result accepts anything.
func (fp *FormParser) CompileFileTypes() ([]glob.Glob, error) {
	if len(fp.FileTypes) == 0 {
		return nil, nil
	}
	gs := make([]glob.Glob, len(fp.FileTypes))
	for i, p := range fp.FileTypes {
		g, e := glob.Compile(strings.ToLower(p), '/')
		if e != nil {
			return nil, fmt.Errorf("bad file type pattern %q: %v", p, e)
		}
		gs[i] = g
	}
	return gs, nil
}

func fileTypeAllowed(gs []glob.Glob, ct string) bool {
	if gs == nil {
		return true
	}
	// parameters don't matter
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	for _, g := range gs {
		if g.Match(ct) {
			return true
		}
	}
	return false
}

func (fp *FormParser) ParseForm(
	r io.Reader, boundary string, textfields, filefields FieldsChecker,
	fo FileOpener) (f Form, e error) {

	defer func() {
		if e != nil {
			f.RemoveAll()
		}
	}()

	f.Values = make(map[string][]string)
	f.Files = make(map[string][]File)

	log := NewLogToX(fp.Logger, "form")

	types, e := fp.CompileFileTypes()
	if e != nil {
		return
	}

	prc := mail.DefaultPartReaderConfig
	if fp.MaxHeaderBytes > 0 {
		prc.MaxHeaderBytes = fp.MaxHeaderBytes
	}
	prc.MaxParts = fp.MaxParts
	prc.Logger = fp.Logger
	pr := prc.NewPartReader(r, boundary)
	defer pr.Close()

	memleft := fp.MaxMemory
	fieldsleft := fp.MaxFields
	buf := bytes.Buffer{}
	numfiles := 0
	var filebytesleft int64
	if fp.MaxFileAllSize > 0 {
		filebytesleft = fp.MaxFileAllSize
	} else {
		filebytesleft = math.MaxInt64
	}
	var n int64
	for {
		var p *mail.Part
		p, e = pr.NextPart()
		if e != nil {
			if e != io.EOF {
				e = fmt.Errorf("failed reading part: %w", e)
				return
			}
			e = nil
			return
		}
		name := p.FormName()
		if !p.HasFileName() {
			// not file
			if !textfields(name) {
				// don't need
				log.LogPrintf(DEBUG, "skipping unwanted field %q", name)
				continue
			}
			fieldsleft--
			if fieldsleft < 0 {
				e = ErrTooManyFields
				return
			}
			n, e = io.CopyN(&buf, p, int64(memleft)+1)
			if e != nil && e != io.EOF {
				e = fmt.Errorf("failed copying field content: %w", e)
				return
			}
			if n > int64(memleft) {
				e = ErrFormTooBig
				return
			}
			memleft -= int(n)
			f.Values[name] = append(f.Values[name], buf.String())
			buf.Reset()
		} else {
			if !filefields(name) {
				log.LogPrintf(DEBUG, "skipping unwanted file %q", name)
				continue
			}
			ct := p.ContentType()
			if !fileTypeAllowed(types, ct) {
				e = fmt.Errorf("%w: %q", ErrFileTypeRejected, ct)
				return
			}
			numfiles++
			if fp.MaxFileCount >= 0 && numfiles > fp.MaxFileCount {
				e = ErrTooManyFiles
				return
			}
			fbl := filebytesleft
			if fp.MaxFileSingleSize > 0 && fbl > fp.MaxFileSingleSize {
				fbl = fp.MaxFileSingleSize
			}
			if fbl <= 0 {
				e = ErrFormTooBig
				return
			}
			var fw *os.File
			fw, e = fo.OpenFile()
			if e != nil {
				e = fmt.Errorf("failed opening file for storage: %v", e)
				return
			}
			killfile := func() {
				fn := fw.Name()
				fw.Close()
				if fn != "" {
					os.Remove(fn)
				}
			}
			// one byte past limit tells oversized file apart
			lim := fbl
			if lim < math.MaxInt64 {
				lim++
			}
			n, e = io.CopyN(fw, p, lim)
			if e != nil && e != io.EOF {
				killfile()
				e = fmt.Errorf("failed copying file: %w", e)
				return
			}
			if fbl < math.MaxInt64 && n > fbl {
				killfile()
				e = ErrFormTooBig
				return
			}
			filebytesleft -= n
			_, e = fw.Seek(0, 0)
			if e != nil {
				killfile()
				e = fmt.Errorf("failed seeking file: %v", e)
				return
			}

			// users will only need this part
			fname := p.FileName()
			if i := strings.LastIndexAny(fname, "/\\"); i >= 0 {
				fname = fname[i+1:]
			}

			f.Files[name] = append(f.Files[name], File{
				F:           fw,
				FileName:    fname,
				ContentType: ct,
				Size:        n,
			})
			log.LogPrintf(DEBUG, "stored file %q (%q, %d bytes)", name, fname, n)
		}
	}
}
