package mail

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/textproto"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"

	"partsrv/lib/utils/bufreader"
)

const defaultPartContentType = "text/plain"

// HeaderField is single header line of part. Name is canonicalized.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartHeaders holds copy of part header block in order of appearance.
type PartHeaders struct {
	Fields []HeaderField

	formName    string
	fileName    string
	hasFileName bool
	contentType string
}

// Get returns first value of header with given name, or "".
func (h *PartHeaders) Get(name string) string {
	name = canonicalHeaderName(name)
	for i := range h.Fields {
		if h.Fields[i].Name == name {
			return h.Fields[i].Value
		}
	}
	return ""
}

// Values returns all values of header with given name.
func (h *PartHeaders) Values(name string) (v []string) {
	name = canonicalHeaderName(name)
	for i := range h.Fields {
		if h.Fields[i].Name == name {
			v = append(v, h.Fields[i].Value)
		}
	}
	return
}

// FormName returns name parameter of Content-Disposition.
func (h *PartHeaders) FormName() string { return h.formName }

// FileName returns filename parameter of Content-Disposition, if any.
// It's client supplied and must not be used as path as is.
func (h *PartHeaders) FileName() string { return h.fileName }

// HasFileName tells whether part is file upload.
// Empty filename (as sent for empty file inputs) still counts.
func (h *PartHeaders) HasFileName() bool { return h.hasFileName }

// ContentType returns Content-Type of part, text/plain if absent.
func (h *PartHeaders) ContentType() string { return h.contentType }

var headerOverrides = map[string]string{
	"Content-Id":   "Content-ID",
	"Mime-Version": "MIME-Version",
}

func canonicalHeaderName(s string) string {
	s = textproto.CanonicalMIMEHeaderKey(s)
	if o, ok := headerOverrides[s]; ok {
		return o
	}
	return s
}

func validHeaderName(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c <= ' ' || c >= 0x7F || c == ':' {
			return false
		}
	}
	return true
}

func trimWS(b []byte) []byte {
	for len(b) != 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) != 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

type headerLimits struct {
	maxBytes   int
	maxHeaders int
}

// readPartHeaders reads header block upto and including empty line.
// Values are copied out so buffer can be advanced afterwards.
func readPartHeaders(br *bufreader.BufReader, lim headerLimits) (h PartHeaders, e error) {
	total := 0
	searched := 0
	for {
		b := br.Buffered()
		i := bytes.IndexByte(b[searched:], '\n')
		if i < 0 {
			searched = len(b)
			if lim.maxBytes > 0 && total+len(b) >= lim.maxBytes {
				return h, ErrHeaderTooLarge
			}
			if e = br.FillMore(); e != nil {
				if e == bufreader.ErrBufferFull {
					return h, ErrHeaderTooLarge
				}
				return h, wrapIOError(e)
			}
			continue
		}
		i += searched
		searched = 0

		total += i + 1
		if lim.maxBytes > 0 && total > lim.maxBytes {
			return h, ErrHeaderTooLarge
		}

		line := b[:i]
		if len(line) != 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			br.Consume(i + 1)
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			return h, fmt.Errorf("%w: folded header line", ErrMalformedHeaders)
		}
		c := bytes.IndexByte(line, ':')
		if c < 0 {
			return h, fmt.Errorf("%w: missing colon in header line", ErrMalformedHeaders)
		}
		name := line[:c]
		// tolerate whitespace before ':'
		for len(name) != 0 && (name[len(name)-1] == ' ' || name[len(name)-1] == '\t') {
			name = name[:len(name)-1]
		}
		if !validHeaderName(name) {
			return h, fmt.Errorf("%w: invalid header name %q", ErrMalformedHeaders, name)
		}
		if lim.maxHeaders > 0 && len(h.Fields) >= lim.maxHeaders {
			return h, fmt.Errorf("%w: too many part headers", ErrPartLimitExceeded)
		}
		h.Fields = append(h.Fields, HeaderField{
			Name:  canonicalHeaderName(string(name)),
			Value: string(trimWS(line[c+1:])),
		})
		br.Consume(i + 1)
	}

	e = h.processFormData()
	return
}

func (h *PartHeaders) processFormData() error {
	cd := h.Get("Content-Disposition")
	if cd == "" {
		return fmt.Errorf("%w: missing Content-Disposition", ErrMalformedHeaders)
	}
	disp, params, e := mime.ParseMediaType(cd)
	if e != nil {
		return fmt.Errorf("%w: bad Content-Disposition: %v", ErrMalformedHeaders, e)
	}
	if disp != "form-data" {
		return fmt.Errorf("%w: Content-Disposition is %q, not form-data", ErrMalformedHeaders, disp)
	}
	name, ok := params["name"]
	if !ok {
		return fmt.Errorf("%w: Content-Disposition without name", ErrMalformedHeaders)
	}
	h.formName = name

	if _, ok := dispositionParam(cd, "filename"); ok {
		h.fileName, h.hasFileName = params["filename"], true
	}
	if ext, ok := dispositionParam(cd, "filename*"); ok {
		// takes precedence over plain filename.
		// mime.ParseMediaType only knows utf-8 and us-ascii so decode it ourselves
		fn, e := decodeExtValue(ext)
		if e == nil {
			h.fileName, h.hasFileName = fn, true
		} else if !h.hasFileName {
			return fmt.Errorf("%w: bad filename*: %v", ErrMalformedHeaders, e)
		}
	}

	h.contentType = h.Get("Content-Type")
	if h.contentType == "" {
		h.contentType = defaultPartContentType
	}
	return nil
}

// dispositionParam finds raw value of parameter by name, skipping quoted strings.
func dispositionParam(v, name string) (string, bool) {
	i := strings.IndexByte(v, ';')
	if i < 0 {
		return "", false
	}
	v = v[i+1:]
	for len(v) != 0 {
		// find end of this parameter
		end, q := 0, false
		for end < len(v) {
			c := v[end]
			if q {
				if c == '\\' {
					end++
				} else if c == '"' {
					q = false
				}
			} else if c == '"' {
				q = true
			} else if c == ';' {
				break
			}
			end++
		}
		if end > len(v) {
			end = len(v)
		}
		p := strings.TrimSpace(v[:end])
		if eq := strings.IndexByte(p, '='); eq > 0 &&
			strings.EqualFold(strings.TrimSpace(p[:eq]), name) {

			return strings.TrimSpace(p[eq+1:]), true
		}
		if end >= len(v) {
			break
		}
		v = v[end+1:]
	}
	return "", false
}

var errBadExtValue = errors.New("invalid extended parameter value")

// decodeExtValue decodes RFC 5987 charset'lang'pct-encoded value.
func decodeExtValue(v string) (string, error) {
	p := strings.SplitN(v, "'", 3)
	if len(p) != 3 {
		return "", errBadExtValue
	}
	raw, e := url.PathUnescape(p[2])
	if e != nil {
		return "", e
	}
	switch cs := strings.ToLower(p[0]); cs {
	case "", "utf-8", "us-ascii":
		if !utf8.ValidString(raw) {
			return "", errBadExtValue
		}
		return raw, nil
	default:
		enc, e := ianaindex.IANA.Encoding(cs)
		if e != nil {
			return "", e
		}
		if enc == nil {
			return "", fmt.Errorf("unsupported charset %q", cs)
		}
		return enc.NewDecoder().String(raw)
	}
}
