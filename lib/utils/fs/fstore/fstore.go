package fstore

// abstracts and automates some filestore operations.
// files of one instance go to private directory, so that multiple
// instances can share single store root; finished uploads go to
// global directories shared by everyone.

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Path    string
	Private string // private subdirectory of this instance, "." to use root
}

type FStore struct {
	root     string // root folder + path separator
	private  string // private folder of this instance + path separator
	initMu   sync.Mutex
	initDirs map[string]struct{}
}

const tmpDir = "_tmp"

func badPrivate(p string) bool {
	return p == "" || (p[0] == '.' && p != ".") ||
		strings.ContainsAny(p, "/\\")
}

func cleanWSlash(p string) string {
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p + string(os.PathSeparator)
}

func OpenFStore(cfg Config) (*FStore, error) {
	if cfg.Path == "" || badPrivate(cfg.Private) {
		panic("incomplete/invalid config")
	}
	s := &FStore{initDirs: make(map[string]struct{})}

	s.root = cleanWSlash(cfg.Path)
	if priv := cleanWSlash(cfg.Private); priv != "" {
		s.private = s.root + "_priv" + string(os.PathSeparator) + priv
	} else {
		s.private = s.root
	}

	dir := s.private
	if dir == "" {
		dir = "."
	}
	if e := os.MkdirAll(dir, 0777); e != nil {
		return nil, fmt.Errorf("error at os.MkdirAll: %v", e)
	}
	return s, nil
}

// Main returns main directory with slash if needed.
func (fs *FStore) Main() string {
	return fs.root
}

// MakeGlobalDir makes directory shared by all instances.
func (fs *FStore) MakeGlobalDir(dir string, mode os.FileMode) error {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()

	if e := os.MkdirAll(fs.root+dir, mode); e != nil {
		return e
	}
	fs.initDirs[fs.root+dir] = struct{}{}
	return nil
}

func (fs *FStore) ensureDir(fulldir string) error {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()

	if _, inited := fs.initDirs[fulldir]; !inited {
		if e := os.MkdirAll(fulldir, 0700); e != nil {
			return fmt.Errorf("error at os.MkdirAll: %v", e)
		}
		fs.initDirs[fulldir] = struct{}{}
	}
	return nil
}

// create makes unique name in fulldir and calls mk on it until it
// doesn't fail with "exists" error.
func create(fulldir, pfx, ext string, mk func(string) error) (name string, err error) {
	nconflict := 0
	for i := 0; i < 10000; i++ {
		name = filepath.Join(fulldir, pfx+nextSuffix()+ext)
		err = mk(name)
		if os.IsExist(err) {
			nconflict++
			if nconflict > 10 {
				reseed()
			}
			continue
		}
		return
	}
	return "", fmt.Errorf("failed to make unique name in %q", fulldir)
}

func (fs *FStore) newFile(root, dir, pfx, ext string) (f *os.File, err error) {
	fulldir := root + dir
	if err = fs.ensureDir(fulldir); err != nil {
		return
	}
	_, err = create(fulldir, pfx, ext, func(name string) (e error) {
		f, e = os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		return
	})
	return
}

// NewFile makes new unique file in private directory dir.
func (fs *FStore) NewFile(dir, pfx, ext string) (*os.File, error) {
	return fs.newFile(fs.private, dir, pfx, ext)
}

// NewGlobalFile makes new unique file in global directory dir.
func (fs *FStore) NewGlobalFile(dir, pfx, ext string) (*os.File, error) {
	return fs.newFile(fs.root, dir, pfx, ext)
}

func (fs *FStore) TempFile(pfx, ext string) (*os.File, error) {
	return fs.NewFile(tmpDir, pfx, ext)
}

// NewDir makes new unique directory in private directory dir.
func (fs *FStore) NewDir(dir, pfx, ext string) (string, error) {
	fulldir := fs.private + dir
	if e := fs.ensureDir(fulldir); e != nil {
		return "", e
	}
	return create(fulldir, pfx, ext, func(name string) error {
		return os.Mkdir(name, 0700)
	})
}

// CleanTemp removes leftovers in temporary directory of this instance.
// It should be called only when nothing else uses store.
func (fs *FStore) CleanTemp() error {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()

	fulldir := fs.private + tmpDir
	delete(fs.initDirs, fulldir)
	return os.RemoveAll(fulldir)
}
