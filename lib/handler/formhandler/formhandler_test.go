package formhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"partsrv/lib/mail"
	"partsrv/lib/mail/form"
	"partsrv/lib/uploaddb"
	"partsrv/lib/utils/fs/fstore"
	"partsrv/lib/utils/hashtools"
)

const bnd = "----handlertestboundary"

func field(name, value string) string {
	return "--" + bnd + "\r\nContent-Disposition: form-data; name=\"" + name + "\"\r\n\r\n" +
		value + "\r\n"
}

func file(name, fname, ct, content string) string {
	return "--" + bnd + "\r\nContent-Disposition: form-data; name=\"" + name +
		"\"; filename=\"" + fname + "\"\r\nContent-Type: " + ct + "\r\n\r\n" +
		content + "\r\n"
}

func end() string {
	return "--" + bnd + "--\r\n"
}

type memSubmissions struct {
	keys  map[string]int64
	subs  []uploaddb.Submission
	parts [][]uploaddb.Part
}

func (m *memSubmissions) StoreSubmission(
	ctx context.Context, key, remote string, parts []uploaddb.Part) (int64, bool, error) {

	if id, ok := m.keys[key]; ok {
		return id, true, nil
	}
	id := int64(len(m.subs) + 1)
	m.keys[key] = id
	for i := range parts {
		parts[i].Num = i
	}
	m.subs = append(m.subs, uploaddb.Submission{
		ID: id, Key: key, Added: time.Unix(0, 0), Remote: remote})
	m.parts = append(m.parts, append([]uploaddb.Part(nil), parts...))
	return id, false, nil
}

func (m *memSubmissions) GetSubmission(
	ctx context.Context, id int64) (uploaddb.Submission, []uploaddb.Part, error) {

	if id < 1 || id > int64(len(m.subs)) {
		return uploaddb.Submission{}, nil, uploaddb.ErrNotFound
	}
	return m.subs[id-1], m.parts[id-1], nil
}

func newTestHandler(t *testing.T, mod func(*Config)) (*Handler, *memSubmissions, string) {
	dir := t.TempDir()
	st, err := fstore.OpenFStore(fstore.Config{Path: dir, Private: "."})
	if err != nil {
		t.Fatalf("OpenFStore: %v", err)
	}
	subs := &memSubmissions{keys: make(map[string]int64)}
	cfg := Config{
		Parser:      form.DefaultFormParser,
		Store:       st,
		HashType:    hashtools.BLAKE2b_224,
		Submissions: subs,
	}
	if mod != nil {
		mod(&cfg)
	}
	h, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, subs, dir
}

func postForm(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=\""+bnd+"\"")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBoundaryFromRequest(t *testing.T) {
	tests := []struct {
		ct       string
		boundary string
		err      error
	}{
		{"multipart/form-data; boundary=abc", "abc", nil},
		{"Multipart/Form-Data; boundary=\"a b:c\"", "a b:c", nil},
		{"", "", ErrNotMultipart},
		{"text/plain", "", ErrNotMultipart},
		{"multipart/mixed; boundary=abc", "", ErrNotMultipart},
		{"multipart/form-data", "", ErrNoBoundary},
		{"multipart/form-data; boundary=", "", errBadContentType},
		{"multipart/form-data; boundary=\"", "", errBadContentType},
	}
	for i, tt := range tests {
		req := httptest.NewRequest("POST", "/", nil)
		if tt.ct != "" {
			req.Header.Set("Content-Type", tt.ct)
		}
		b, err := BoundaryFromRequest(req)
		if b != tt.boundary || !errors.Is(err, tt.err) {
			t.Errorf("%d: expected (%q, %v) got (%q, %v)", i, tt.boundary, tt.err, b, err)
		}
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, 200},
		{ErrNotMultipart, 415},
		{ErrNoBoundary, 400},
		{fmt.Errorf("x: %w", mail.ErrMalformedHeaders), 400},
		{fmt.Errorf("x: %w", mail.ErrTruncatedBody), 400},
		{mail.ErrMalformedBoundary, 400},
		{fmt.Errorf("x: %w", mail.ErrHeaderTooLarge), 413},
		{mail.ErrPartLimitExceeded, 413},
		{form.ErrTooManyFiles, 413},
		{&mail.IOError{Err: ErrRequestTooLarge}, 413},
		{form.ErrFileTypeRejected, 415},
		{&mail.IOError{Err: io.ErrUnexpectedEOF}, 500},
		{errors.New("disk full"), 500},
	}
	for i, tt := range tests {
		if c := StatusForError(tt.err); c != tt.code {
			t.Errorf("%d: %v: expected %d got %d", i, tt.err, tt.code, c)
		}
	}
}

func TestLimitBody(t *testing.T) {
	b, err := ioutil.ReadAll(limitBody(strings.NewReader("12345"), 5))
	if err != nil || string(b) != "12345" {
		t.Errorf("exact limit: %q %v", b, err)
	}
	b, err = ioutil.ReadAll(limitBody(strings.NewReader("123456"), 5))
	if err != ErrRequestTooLarge || string(b) != "12345" {
		t.Errorf("over limit: %q %v", b, err)
	}
	b, err = ioutil.ReadAll(limitBody(strings.NewReader("123456"), 0))
	if err != nil || string(b) != "123456" {
		t.Errorf("no limit: %q %v", b, err)
	}
}

func TestUpload(t *testing.T) {
	h, subs, dir := newTestHandler(t, nil)
	router := h.Router()

	body := field("title", "hello") +
		file("file", "/home/user/cat.PNG", "image/png", "not really png") +
		file("file", "notes", "text/plain", "") +
		end()

	rec := postForm(router, "/upload", body)
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var res UploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if res.Submission != 1 || res.Duplicate {
		t.Errorf("unexpected submission %d %v", res.Submission, res.Duplicate)
	}
	if v := res.Fields["title"]; len(v) != 1 || v[0] != "hello" {
		t.Errorf("unexpected fields %s", spew.Sdump(res.Fields))
	}
	if len(res.Files) != 2 {
		t.Fatalf("unexpected files %s", spew.Sdump(res.Files))
	}

	expHash, _, _ := hashtools.MakeCustomFileHash(
		strings.NewReader("not really png"), hashtools.BLAKE2b_224)
	f0 := res.Files[0]
	if f0.Field != "file" || f0.FileName != "cat.PNG" || f0.ContentType != "image/png" ||
		f0.Size != 14 || f0.ID != expHash+".PNG" || f0.URL != "/files/"+expHash+".PNG" {

		t.Errorf("unexpected file %s", spew.Sdump(f0))
	}
	if f1 := res.Files[1]; f1.FileName != "notes" || f1.Size != 0 || strings.Contains(f1.ID, ".") {
		t.Errorf("unexpected file %s", spew.Sdump(f1))
	}

	b, err := ioutil.ReadFile(filepath.Join(dir, filesDir, f0.ID))
	if err != nil || string(b) != "not really png" {
		t.Errorf("stored file: %q %v", b, err)
	}
	if fis, _ := ioutil.ReadDir(filepath.Join(dir, "_tmp")); len(fis) != 0 {
		t.Errorf("temporary files left: %d", len(fis))
	}

	// served back
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", f0.URL, nil))
	if rec.Code != 200 || rec.Body.String() != "not really png" {
		t.Errorf("GET %s: %d %q", f0.URL, rec.Code, rec.Body.String())
	}

	// same content again is recognised
	rec = postForm(router, "/upload", body)
	res = UploadResult{}
	if err = json.Unmarshal(rec.Body.Bytes(), &res); err != nil || rec.Code != 200 {
		t.Fatalf("second upload: %d %v", rec.Code, err)
	}
	if res.Submission != 1 || !res.Duplicate || len(subs.subs) != 1 {
		t.Errorf("resubmission not recognised: %d %v", res.Submission, res.Duplicate)
	}

	// recorded
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/submissions/1", nil))
	var sr SubmissionResult
	if err = json.Unmarshal(rec.Body.Bytes(), &sr); err != nil || rec.Code != 200 {
		t.Fatalf("GET submission: %d %v", rec.Code, err)
	}
	if sr.ID != 1 || len(sr.Parts) != 3 || sr.Parts[0].Value != "hello" ||
		sr.Parts[1].Hash != f0.ID || sr.Added != "1970-01-01T00:00:00Z" {

		t.Errorf("unexpected submission %s", spew.Sdump(sr))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/submissions/2", nil))
	if rec.Code != 404 {
		t.Errorf("missing submission: %d", rec.Code)
	}
}

func TestUploadErrors(t *testing.T) {
	h, subs, dir := newTestHandler(t, func(cfg *Config) {
		cfg.Parser.FileTypes = []string{"image/*"}
		cfg.FileFields = []string{"file"}
		cfg.MaxBodyBytes = 1024
	})
	router := h.Router()

	tests := []struct {
		name string
		ct   string
		body string
		code int
	}{
		{"not multipart", "text/plain", "x", 415},
		{"no boundary", "multipart/form-data", "x", 400},
		{"truncated", "", field("a", "b"), 400},
		{"bad headers", "", "--" + bnd + "\r\nX: y\r\n\r\n\r\n" + end(), 400},
		{"bad type", "", file("file", "a.txt", "text/plain", "x") + end(), 415},
		{"too large", "", field("a", strings.Repeat("x", 2000)) + end(), 413},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("POST", "/upload", strings.NewReader(tt.body))
		if tt.ct == "" {
			tt.ct = "multipart/form-data; boundary=" + bnd
		}
		req.Header.Set("Content-Type", tt.ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d got %d: %s", tt.name, tt.code, rec.Code, rec.Body.String())
		}
		var je jsonError
		if err := json.Unmarshal(rec.Body.Bytes(), &je); err != nil || je.Err.Code != tt.code {
			t.Errorf("%s: bad error json %q", tt.name, rec.Body.String())
		}
	}

	// files under other names are ignored, so their type doesn't matter
	rec := postForm(router, "/upload", file("other", "a.txt", "text/plain", "x")+end())
	if rec.Code != 200 {
		t.Errorf("ignored file: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/upload", nil))
	if rec.Code != 405 || rec.Header().Get("Allow") != "OPTIONS, POST" {
		t.Errorf("GET /upload: %d allow %q", rec.Code, rec.Header().Get("Allow"))
	}

	if len(subs.subs) != 1 {
		t.Errorf("expected only single recorded submission, got %d", len(subs.subs))
	}
	if fis, _ := ioutil.ReadDir(filepath.Join(dir, "_tmp")); len(fis) != 0 {
		t.Errorf("temporary files left: %d", len(fis))
	}
	if fis, _ := ioutil.ReadDir(filepath.Join(dir, filesDir)); len(fis) != 0 {
		t.Errorf("files stored: %d", len(fis))
	}
}

func TestParse(t *testing.T) {
	h, _, dir := newTestHandler(t, func(cfg *Config) {
		cfg.ChecksumKey = []byte("0123456789abcdef0123456789abcdef")
		cfg.Submissions = nil
	})
	router := h.Router()

	body := "preamble\r\n" +
		field("a", "first") +
		file("f", "x.bin", "application/octet-stream", "\x00\x01--"+bnd) +
		"--" + bnd + "\r\nContent-Disposition: form-data; name=\"e\"; filename=\"\"\r\nX-Extra: 1\r\n\r\n\r\n" +
		end() + "epilogue"

	rec := postForm(router, "/parse", body)
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var res ParseResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad json: %v", err)
	}

	cs, _ := hashtools.NewChecksum([]byte("0123456789abcdef0123456789abcdef"))
	sum := func(s string) string {
		hh := cs.New()
		io.WriteString(hh, s)
		return fmt.Sprintf("%016x", hh.Sum64())
	}
	if len(res.Parts) != 3 {
		t.Fatalf("unexpected parts %s", spew.Sdump(res.Parts))
	}
	p := res.Parts
	if p[0].Name != "a" || p[0].FileName != nil || p[0].Size != 5 ||
		p[0].ContentType != "text/plain" || p[0].Checksum != sum("first") {

		t.Errorf("part 0: %s", spew.Sdump(p[0]))
	}
	if p[1].Name != "f" || p[1].FileName == nil || *p[1].FileName != "x.bin" ||
		p[1].Size != int64(4+len(bnd)) || p[1].Checksum != sum("\x00\x01--"+bnd) {

		t.Errorf("part 1: %s", spew.Sdump(p[1]))
	}
	if p[2].FileName == nil || *p[2].FileName != "" || p[2].Size != 0 ||
		len(p[2].Headers) != 2 || p[2].Headers[1].Name != "X-Extra" {

		t.Errorf("part 2: %s", spew.Sdump(p[2]))
	}

	// nothing stored
	if fis, _ := ioutil.ReadDir(filepath.Join(dir, filesDir)); len(fis) != 0 {
		t.Errorf("files stored: %d", len(fis))
	}

	rec = postForm(router, "/parse", field("a", "first"))
	if rec.Code != 400 {
		t.Errorf("truncated: %d", rec.Code)
	}

	// without database there's no submissions endpoint
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/submissions/1", nil))
	if rec.Code != 404 {
		t.Errorf("submissions without db: %d", rec.Code)
	}
}

func TestServeFileMissing(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	router := h.Router()
	for _, p := range []string{"/files/abc", "/files/../x", "/files/ABC"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", p, nil))
		if rec.Code != 404 {
			t.Errorf("%s: expected 404 got %d", p, rec.Code)
		}
	}
}

func TestStoreFileOpener(t *testing.T) {
	dir := t.TempDir()
	st, err := fstore.OpenFStore(fstore.Config{Path: dir, Private: "n1"})
	if err != nil {
		t.Fatal(err)
	}
	f, err := StoreFileOpener{st}.OpenFile()
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if !strings.HasPrefix(f.Name(), filepath.Join(dir, "_priv", "n1", "_tmp")+string(os.PathSeparator)+"upload-") {
		t.Errorf("unexpected temp file name %q", f.Name())
	}
}
