package psql

// not-too-generic PSQL connector
// used by concrete storage packages

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	. "partsrv/lib/utils/logx"
)

type Config struct {
	ConnStr         string
	ConnDriver      string // "postgres" if empty
	ConnMaxLifetime float64
	MaxIdleConns    int32
	MaxOpenConns    int32
	Logger          LoggerX
}

var DefaultConfig = Config{
	ConnStr:         "",
	ConnDriver:      "postgres",
	ConnMaxLifetime: 0.0,
	MaxIdleConns:    0,
	MaxOpenConns:    0,
}

type PSQL struct {
	DB *sqlx.DB

	log Logger
	id  string
}

func OpenPSQL(cfg Config) (PSQL, error) {
	drv := cfg.ConnDriver
	if drv == "" {
		drv = "postgres"
	}
	sdb, err := sql.Open(drv, cfg.ConnStr)
	if err != nil {
		return PSQL{}, err
	}
	// wrapped drivers are registered under other names
	// but bind variables are still postgres ones
	db := sqlx.NewDb(sdb, "postgres")

	if cfg.ConnMaxLifetime > 0.0 {
		db.SetConnMaxLifetime(
			time.Duration(float64(time.Second) *
				cfg.ConnMaxLifetime))
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(int(cfg.MaxIdleConns))
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxOpenConns))
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return PSQL{}, err
	}

	p := PSQL{DB: db}
	p.id = fmt.Sprintf("psql.%p", p.DB)
	p.log = NewLogToX(cfg.Logger, p.id)

	return p, nil
}

func (p PSQL) Close() error {
	return p.DB.Close()
}

func (p PSQL) ID() string {
	return p.id
}

func OpenAndPrepare(cfg Config) (db PSQL, err error) {
	db, err = OpenPSQL(cfg)
	if err != nil {
		err = fmt.Errorf("error opening: %v", err)
		return
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	valid, err := db.IsValidDB()
	if err != nil {
		err = fmt.Errorf("error validating: %v", err)
		return
	}
	// if not valid, try to create
	if !valid {
		db.log.LogPrint(NOTICE, "uninitialized PSQL db, attempting to initialize")

		err = db.InitDB()
		if err != nil {
			err = fmt.Errorf("error initializing: %v", err)
			return
		}

		// revalidate
		valid, err = db.IsValidDB()
		if err != nil {
			err = fmt.Errorf("error validating (2): %v", err)
			return
		}
		if !valid {
			err = errors.New("database still not valid after initialization")
			return
		}
	}

	err = db.CheckVersion()
	if err != nil {
		err = fmt.Errorf("version check fail: %v", err)
		return
	}

	return
}
