package formhandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"partsrv/lib/mail"
	"partsrv/lib/mail/form"
	"partsrv/lib/uploaddb"
	"partsrv/lib/utils/fs/fstore"
	"partsrv/lib/utils/handler"
	"partsrv/lib/utils/hashtools"
	. "partsrv/lib/utils/logx"
)

const filesDir = "files"

// SubmissionStore records accepted submissions.
type SubmissionStore interface {
	StoreSubmission(ctx context.Context, key, remote string, parts []uploaddb.Part) (int64, bool, error)
	GetSubmission(ctx context.Context, id int64) (uploaddb.Submission, []uploaddb.Part, error)
}

type Config struct {
	Parser       form.FormParser
	FileFields   []string // empty - any field can carry files
	Store        *fstore.FStore
	HashType     hashtools.HashType // 0 - default
	ChecksumKey  []byte
	MaxBodyBytes int64           // 0 - unlimited
	Submissions  SubmissionStore // optional
	Indent       string
	Logger       LoggerX
}

type Handler struct {
	fp          form.FormParser
	filefields  form.FieldsChecker
	store       *fstore.FStore
	mover       *fstore.Mover
	hashType    hashtools.HashType
	checksum    *hashtools.Checksum
	maxBody     int64
	submissions SubmissionStore
	indent      string
	log         Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("formhandler: no store")
	}
	h := &Handler{
		fp:          cfg.Parser,
		store:       cfg.Store,
		mover:       fstore.NewMover(cfg.Store),
		hashType:    cfg.HashType,
		maxBody:     cfg.MaxBodyBytes,
		submissions: cfg.Submissions,
		indent:      cfg.Indent,
		log:         NewLogToX(cfg.Logger, "formhandler"),
	}
	if h.fp.Logger == nil {
		h.fp.Logger = cfg.Logger
	}
	if len(cfg.FileFields) != 0 {
		h.filefields = form.FieldsCheckFunc(cfg.FileFields)
	} else {
		h.filefields = form.AllFields
	}
	if _, e := h.fp.CompileFileTypes(); e != nil {
		return nil, e
	}
	var e error
	if h.checksum, e = hashtools.NewChecksum(cfg.ChecksumKey); e != nil {
		return nil, e
	}
	if e = h.store.MakeGlobalDir(filesDir, 0777); e != nil {
		return nil, fmt.Errorf("error making files dir: %v", e)
	}
	return h, nil
}

// Router returns handler of all endpoints:
//
//	POST /upload                stores form files, answers with their hashes
//	POST /parse                 lists parts with sizes and checksums
//	GET  /files/{name}          serves stored file
//	GET  /submissions/{id}      shows recorded submission
func (h *Handler) Router() http.Handler {
	rp := handler.NewRegexPath()
	rp.Handle("/upload", handler.NewMethod().HandleFunc("POST", h.ServeUpload))
	rp.Handle("/parse", handler.NewMethod().HandleFunc("POST", h.ServeParse))
	rp.Handle(`/files/{{name:[0-9a-z]+(?:\.[0-9A-Za-z]{1,8})?}}`,
		handler.NewMethod().HandleFunc("GET", h.ServeFile))
	if h.submissions != nil {
		rp.Handle("/submissions/{{id:[0-9]+}}",
			handler.NewMethod().HandleFunc("GET", h.ServeSubmission))
	}
	return rp
}

func (h *Handler) body(r *http.Request) (io.Reader, string, error) {
	boundary, e := BoundaryFromRequest(r)
	if e != nil {
		return nil, "", e
	}
	if h.maxBody > 0 && r.ContentLength > h.maxBody {
		return nil, "", ErrRequestTooLarge
	}
	return limitBody(r.Body, h.maxBody), boundary, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusForError(err)
	if code >= 500 {
		h.log.LogPrintf(ERROR, "%s %s from %s: %v", r.Method, r.URL.Path, r.RemoteAddr, err)
	} else {
		h.log.LogPrintf(INFO, "%s %s from %s rejected (%d): %v", r.Method, r.URL.Path, r.RemoteAddr, code, err)
	}
	h.returnError(w, err)
}

type UploadedFile struct {
	Field       string `json:"field"`
	FileName    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ID          string `json:"id"`
	URL         string `json:"url"`
}

type UploadResult struct {
	Submission int64               `json:"submission,omitempty"`
	Duplicate  bool                `json:"duplicate,omitempty"`
	Fields     map[string][]string `json:"fields"`
	Files      []UploadedFile      `json:"files"`
}

// fileExt returns extension of uploaded file name if it's safe for storage.
func fileExt(fname string) string {
	ext := filepath.Ext(fname)
	if len(ext) < 2 || len(ext) > 9 {
		return ""
	}
	for _, c := range ext[1:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return ""
		}
	}
	return ext
}

func sortedKeys(m interface{}) (keys []string) {
	switch mm := m.(type) {
	case map[string][]string:
		for k := range mm {
			keys = append(keys, k)
		}
	case map[string][]form.File:
		for k := range mm {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return
}

// storeFile hashes file content and links it into global files directory.
func (h *Handler) storeFile(f form.File) (id string, err error) {
	var hash string
	if h.hashType != 0 {
		hash, _, err = hashtools.MakeCustomFileHash(f.F, h.hashType)
	} else {
		hash, err = hashtools.MakeFileHash(f.F)
	}
	if err != nil {
		return "", fmt.Errorf("error hashing file: %v", err)
	}
	id = hash + fileExt(f.FileName)
	to := h.store.Main() + filesDir + string(os.PathSeparator) + id
	err = h.mover.HardlinkOrCopyIfNeededStable(f.F.Name(), to)
	if err != nil {
		return "", fmt.Errorf("error storing file: %v", err)
	}
	return id, nil
}

// submissionKey identifies submission content, so that repeated
// submission of same form is recognised.
func submissionKey(parts []uploaddb.Part) (string, error) {
	var b strings.Builder
	for i := range parts {
		p := &parts[i]
		fmt.Fprintf(&b, "%d:%s%t%d:%s%d:%s%d:%s\n",
			len(p.Name), p.Name, p.HasFileName,
			len(p.FileName), p.FileName, len(p.Hash), p.Hash,
			len(p.Value), p.Value)
	}
	return hashtools.MakeFileHash(strings.NewReader(b.String()))
}

func (h *Handler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	body, boundary, err := h.body(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	f, err := h.fp.ParseForm(
		body, boundary, form.AllFields, h.filefields, StoreFileOpener{h.store})
	if err != nil {
		h.fail(w, r, fmt.Errorf("error parsing form: %w", err))
		return
	}
	defer f.RemoveAll()

	res := UploadResult{Fields: f.Values, Files: []UploadedFile{}}
	var parts []uploaddb.Part

	for _, k := range sortedKeys(f.Values) {
		for _, v := range f.Values[k] {
			parts = append(parts, uploaddb.Part{
				Name:        k,
				ContentType: "text/plain",
				Size:        int64(len(v)),
				Value:       v,
			})
		}
	}
	for _, k := range sortedKeys(f.Files) {
		for _, ff := range f.Files[k] {
			id, e := h.storeFile(ff)
			if e != nil {
				h.fail(w, r, e)
				return
			}
			h.log.LogPrintf(DEBUG, "stored %q (%q, %d bytes) as %s", k, ff.FileName, ff.Size, id)
			res.Files = append(res.Files, UploadedFile{
				Field:       k,
				FileName:    ff.FileName,
				ContentType: ff.ContentType,
				Size:        ff.Size,
				ID:          id,
				URL:         "/" + filesDir + "/" + id,
			})
			parts = append(parts, uploaddb.Part{
				Name:        k,
				HasFileName: true,
				FileName:    ff.FileName,
				ContentType: ff.ContentType,
				Size:        ff.Size,
				Hash:        id,
			})
		}
	}

	if h.submissions != nil {
		key, e := submissionKey(parts)
		if e != nil {
			h.fail(w, r, e)
			return
		}
		res.Submission, res.Duplicate, e =
			h.submissions.StoreSubmission(r.Context(), key, r.RemoteAddr, parts)
		if e != nil {
			h.fail(w, r, fmt.Errorf("error recording submission: %v", e))
			return
		}
	}

	h.log.LogPrintf(INFO, "upload from %s: %d fields, %d files",
		r.RemoteAddr, len(parts)-len(res.Files), len(res.Files))
	h.prepareEncoder(w, 0).Encode(&res)
}

type ParsedPart struct {
	Name        string             `json:"name"`
	FileName    *string            `json:"filename,omitempty"`
	ContentType string             `json:"content_type"`
	Headers     []mail.HeaderField `json:"headers"`
	Size        int64              `json:"size"`
	Checksum    string             `json:"checksum"`
}

type ParseResult struct {
	Parts []ParsedPart `json:"parts"`
}

// ServeParse streams request body through part reader without storing
// anything and lists parts it found.
func (h *Handler) ServeParse(w http.ResponseWriter, r *http.Request) {
	body, boundary, err := h.body(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	prc := mail.DefaultPartReaderConfig
	if h.fp.MaxHeaderBytes > 0 {
		prc.MaxHeaderBytes = h.fp.MaxHeaderBytes
	}
	prc.MaxParts = h.fp.MaxParts
	prc.MaxPartBytes = h.fp.MaxFileSingleSize
	prc.Logger = h.fp.Logger
	pr := prc.NewPartReader(body, boundary)
	defer pr.Close()

	res := ParseResult{Parts: []ParsedPart{}}
	err = pr.ForEach(func(p *mail.Part) error {
		cs := h.checksum.New()
		n, e := io.Copy(cs, p)
		if e != nil {
			return e
		}
		pp := ParsedPart{
			Name:        p.FormName(),
			ContentType: p.ContentType(),
			Headers:     p.Fields,
			Size:        n,
			Checksum:    fmt.Sprintf("%016x", cs.Sum64()),
		}
		if p.HasFileName() {
			fn := p.FileName()
			pp.FileName = &fn
		}
		res.Parts = append(res.Parts, pp)
		return nil
	})
	if err != nil {
		h.fail(w, r, fmt.Errorf("error parsing body: %w", err))
		return
	}
	h.prepareEncoder(w, 0).Encode(&res)
}

func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name := handler.PathVar(r, "name")
	fn := h.store.Main() + filesDir + string(os.PathSeparator) + name
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, fn)
}

type SubmissionResult struct {
	ID     int64           `json:"id"`
	Added  string          `json:"added"`
	Remote string          `json:"remote"`
	Parts  []uploaddb.Part `json:"parts"`
}

func (h *Handler) ServeSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(handler.PathVar(r, "id"), 10, 64)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", errSubmissionAbsent, err))
		return
	}
	s, parts, err := h.submissions.GetSubmission(r.Context(), id)
	if err != nil {
		if errors.Is(err, uploaddb.ErrNotFound) {
			err = fmt.Errorf("%w: %d", errSubmissionAbsent, id)
		}
		h.fail(w, r, err)
		return
	}
	h.prepareEncoder(w, 0).Encode(&SubmissionResult{
		ID:     s.ID,
		Added:  s.Added.UTC().Format("2006-01-02T15:04:05Z"),
		Remote: s.Remote,
		Parts:  parts,
	})
}
