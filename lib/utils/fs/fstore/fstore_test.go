package fstore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTest(t *testing.T) *FStore {
	fs, e := OpenFStore(Config{Path: t.TempDir(), Private: "test"})
	if e != nil {
		t.Fatalf("OpenFStore: %v", e)
	}
	return fs
}

func TestNextSuffix(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		s := nextSuffix()
		if len(s) != 18 || strings.Trim(s, "0123456789") != "" {
			t.Fatalf("bad suffix %q", s)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate suffix %q", s)
		}
		seen[s] = struct{}{}
	}
}

func TestBadConfig(t *testing.T) {
	for _, cfg := range []Config{{}, {Path: "x"}, {Path: "x", Private: "a/b"}, {Path: "x", Private: ".hidden"}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("OpenFStore(%#v) didn't panic", cfg)
				}
			}()
			OpenFStore(cfg)
		}()
	}
}

func TestTempFile(t *testing.T) {
	fs := openTest(t)
	f1, e := fs.TempFile("up-", ".tmp")
	if e != nil {
		t.Fatalf("TempFile: %v", e)
	}
	defer f1.Close()
	f2, e := fs.TempFile("up-", ".tmp")
	if e != nil {
		t.Fatalf("TempFile: %v", e)
	}
	defer f2.Close()
	if f1.Name() == f2.Name() {
		t.Fatalf("same name twice: %q", f1.Name())
	}
	exp := filepath.Join(fs.Main()+"_priv", "test", tmpDir)
	if filepath.Dir(f1.Name()) != exp {
		t.Errorf("expected file in %q got %q", exp, f1.Name())
	}
	if b := filepath.Base(f1.Name()); !strings.HasPrefix(b, "up-") || !strings.HasSuffix(b, ".tmp") {
		t.Errorf("unexpected name %q", b)
	}

	if e = fs.CleanTemp(); e != nil {
		t.Fatalf("CleanTemp: %v", e)
	}
	if _, e = os.Stat(f1.Name()); !os.IsNotExist(e) {
		t.Errorf("temp file survived CleanTemp: %v", e)
	}
	// usable after cleaning
	f3, e := fs.TempFile("", "")
	if e != nil {
		t.Fatalf("TempFile after CleanTemp: %v", e)
	}
	f3.Close()
}

func TestNewDirAndGlobal(t *testing.T) {
	fs := openTest(t)
	d, e := fs.NewDir("work", "d-", "")
	if e != nil {
		t.Fatalf("NewDir: %v", e)
	}
	if fi, e := os.Stat(d); e != nil || !fi.IsDir() {
		t.Errorf("NewDir result %q isn't directory: %v", d, e)
	}
	if e = fs.MakeGlobalDir("files", 0755); e != nil {
		t.Fatalf("MakeGlobalDir: %v", e)
	}
	f, e := fs.NewGlobalFile("files", "", ".bin")
	if e != nil {
		t.Fatalf("NewGlobalFile: %v", e)
	}
	f.Close()
	if filepath.Dir(f.Name()) != filepath.Clean(fs.Main()+"files") {
		t.Errorf("unexpected global file location %q", f.Name())
	}
}

func TestMover(t *testing.T) {
	fs := openTest(t)
	m := NewMover(fs)
	if e := fs.MakeGlobalDir("files", 0755); e != nil {
		t.Fatalf("MakeGlobalDir: %v", e)
	}

	src, e := fs.TempFile("src-", "")
	if e != nil {
		t.Fatalf("TempFile: %v", e)
	}
	src.WriteString("content")
	src.Close()

	dst := fs.Main() + "files" + string(os.PathSeparator) + "x"
	if e = m.HardlinkOrCopyIfNeededStable(src.Name(), dst); e != nil {
		t.Fatalf("HardlinkOrCopyIfNeededStable: %v", e)
	}
	b, e := ioutil.ReadFile(dst)
	if e != nil || string(b) != "content" {
		t.Fatalf("unexpected destination content %q %v", b, e)
	}
	if _, e = os.Stat(src.Name()); e != nil {
		t.Errorf("source should stay: %v", e)
	}

	// existing destination is kept as is
	other, _ := fs.TempFile("src-", "")
	other.WriteString("other")
	other.Close()
	if e = m.HardlinkOrCopyIfNeededStable(other.Name(), dst); e != nil {
		t.Fatalf("HardlinkOrCopyIfNeededStable to existing: %v", e)
	}
	if b, _ = ioutil.ReadFile(dst); string(b) != "content" {
		t.Errorf("destination overwritten: %q", b)
	}

	// slow path
	dst2 := dst + "2"
	if e = m.statCopyMove(other.Name(), dst2); e != nil {
		t.Fatalf("statCopyMove: %v", e)
	}
	if b, _ = ioutil.ReadFile(dst2); string(b) != "other" {
		t.Errorf("unexpected copy content %q", b)
	}
}
