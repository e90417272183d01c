package formcfg

// configuration file of upload server

import (
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/BurntSushi/toml"

	"partsrv/lib/mail/form"
	"partsrv/lib/utils/hashtools"
	"partsrv/lib/utils/logx"
	fl "partsrv/lib/utils/logx/filelogger"
)

type HTTPConfig struct {
	Bind     string `toml:"bind"`
	MaxConns int    `toml:"max_conns"` // 0 - unlimited
}

type FormConfig struct {
	MaxHeaderBytes    int      `toml:"max_header_bytes"`
	MaxMemory         int      `toml:"max_memory"`
	MaxFields         int      `toml:"max_fields"`
	MaxFileCount      int      `toml:"max_file_count"`
	MaxFileSingleSize int64    `toml:"max_file_size"`
	MaxFileAllSize    int64    `toml:"max_files_size"`
	MaxParts          int      `toml:"max_parts"`
	FileTypes         []string `toml:"file_types"`
	FileFields        []string `toml:"file_fields"` // empty - any
}

type StoreConfig struct {
	Path    string `toml:"path"`
	Private string `toml:"private"`
	Hash    string `toml:"hash"`
}

type LogConfig struct {
	Level string `toml:"level"`
	Color string `toml:"color"`
}

type DBConfig struct {
	ConnStr      string `toml:"connstr"` // empty - don't record submissions
	SQLLog       bool   `toml:"sql_log"`
	MaxOpenConns int32  `toml:"max_open_conns"`
	MaxIdleConns int32  `toml:"max_idle_conns"`
}

type Config struct {
	HTTP  HTTPConfig  `toml:"http"`
	Form  FormConfig  `toml:"form"`
	Store StoreConfig `toml:"store"`
	Log   LogConfig   `toml:"log"`
	DB    DBConfig    `toml:"db"`
}

var Default = Config{
	HTTP: HTTPConfig{
		Bind:     "127.0.0.1:1234",
		MaxConns: 256,
	},
	Form: FormConfig{
		MaxHeaderBytes:    form.DefaultFormParser.MaxHeaderBytes,
		MaxMemory:         form.DefaultFormParser.MaxMemory,
		MaxFields:         form.DefaultFormParser.MaxFields,
		MaxFileCount:      form.DefaultFormParser.MaxFileCount,
		MaxFileSingleSize: 64 << 20,
		MaxFileAllSize:    256 << 20,
		MaxParts:          4096,
	},
	Store: StoreConfig{
		Path:    "_uploads",
		Private: ".",
		Hash:    "auto",
	},
	Log: LogConfig{
		Level: "info",
		Color: "auto",
	},
}

// Parse decodes config text on top of Default.
// Unknown keys are treated as errors.
func Parse(s string) (cfg Config, err error) {
	cfg = Default
	// slices from Default must not be shared
	cfg.Form.FileTypes = nil
	md, err := toml.Decode(s, &cfg)
	if err != nil {
		return Config{}, err
	}
	if und := md.Undecoded(); len(und) != 0 {
		keys := make([]string, len(und))
		for i := range und {
			keys[i] = und[i].String()
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(string(b))
	if err != nil {
		return Config{}, fmt.Errorf("error parsing %q: %v", path, err)
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.HTTP.Bind == "" {
		return errors.New("http.bind is empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is empty")
	}
	if p := cfg.Store.Private; p == "" || (p[0] == '.' && p != ".") ||
		strings.ContainsAny(p, "/\\") {

		return fmt.Errorf("invalid store.private %q", p)
	}
	if _, err := hashtools.ParseHashType(cfg.Store.Hash); err != nil {
		return fmt.Errorf("store.hash: %v", err)
	}
	if _, ok := logx.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("unknown log.level %q", cfg.Log.Level)
	}
	if _, ok := fl.ParseColor(cfg.Log.Color); !ok {
		return fmt.Errorf("unknown log.color %q", cfg.Log.Color)
	}
	fp := cfg.FormParser(nil)
	if _, err := fp.CompileFileTypes(); err != nil {
		return fmt.Errorf("form.file_types: %v", err)
	}
	return nil
}

// FormParser makes form parser out of [form] section.
func (cfg *Config) FormParser(lx logx.LoggerX) form.FormParser {
	return form.FormParser{
		MaxHeaderBytes:    cfg.Form.MaxHeaderBytes,
		MaxMemory:         cfg.Form.MaxMemory,
		MaxFields:         cfg.Form.MaxFields,
		MaxFileCount:      cfg.Form.MaxFileCount,
		MaxFileSingleSize: cfg.Form.MaxFileSingleSize,
		MaxFileAllSize:    cfg.Form.MaxFileAllSize,
		MaxParts:          cfg.Form.MaxParts,
		FileTypes:         cfg.Form.FileTypes,
		Logger:            lx,
	}
}

func (cfg *Config) LogLevel() logx.Level {
	l, _ := logx.ParseLevel(cfg.Log.Level)
	return l
}

func (cfg *Config) HashType() hashtools.HashType {
	t, _ := hashtools.ParseHashType(cfg.Store.Hash)
	return t
}
