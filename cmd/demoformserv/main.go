package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lib/pq"
	"github.com/luna-duclos/instrumentedsql"
	"golang.org/x/net/netutil"

	"partsrv/lib/formcfg"
	"partsrv/lib/handler/formhandler"
	"partsrv/lib/psql"
	"partsrv/lib/uploaddb"
	"partsrv/lib/utils/fs/fstore"
	"partsrv/lib/utils/hashtools"
	. "partsrv/lib/utils/logx"
	fl "partsrv/lib/utils/logx/filelogger"
)

func main() {
	var err error
	// initialize flags
	cfgpath := flag.String("config", "", "path to TOML config file")
	httpbind := flag.String("httpbind", "", "http bind address (overrides config)")
	dbconnstr := flag.String("dbstr", "", "postgresql connection string (overrides config)")
	storepath := flag.String("store", "", "upload store directory (overrides config)")
	logsql := flag.Bool("logsql", false, "sql logging")

	flag.Parse()

	cfg := formcfg.Default
	if *cfgpath != "" {
		cfg, err = formcfg.Load(*cfgpath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "formcfg.Load error: %v\n", err)
			os.Exit(1)
		}
	}
	if *httpbind != "" {
		cfg.HTTP.Bind = *httpbind
	}
	if *dbconnstr != "" {
		cfg.DB.ConnStr = *dbconnstr
	}
	if *storepath != "" {
		cfg.Store.Path = *storepath
	}
	if *logsql {
		cfg.DB.SQLLog = true
	}

	// logger
	color, _ := fl.ParseColor(cfg.Log.Color)
	lgr, err := fl.NewFileLogger(os.Stderr, cfg.LogLevel(), color)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fl.NewFileLogger error: %v\n", err)
		os.Exit(1)
	}
	mlg := NewLogToX(lgr, "main")

	if cfg.Store.Hash != "" && cfg.Store.Hash != "auto" {
		hashtools.SetDefaultHashType(cfg.HashType())
	}

	store, err := fstore.OpenFStore(fstore.Config{
		Path:    cfg.Store.Path,
		Private: cfg.Store.Private,
	})
	if err != nil {
		mlg.LogPrintln(CRITICAL, "fstore.OpenFStore error:", err)
		return
	}
	// nothing else uses it yet
	if err = store.CleanTemp(); err != nil {
		mlg.LogPrintln(WARN, "store.CleanTemp error:", err)
	}

	hcfg := formhandler.Config{
		Parser:     cfg.FormParser(lgr),
		FileFields: cfg.Form.FileFields,
		Store:      store,
		Indent:     "  ",
		Logger:     lgr,
	}

	if cfg.Form.MaxFileAllSize > 0 && cfg.Form.MaxMemory > 0 {
		// room for headers and framing
		hcfg.MaxBodyBytes = cfg.Form.MaxFileAllSize + int64(cfg.Form.MaxMemory) + (1 << 20)
	}

	if cfg.DB.ConnStr != "" {
		sqlcfg := psql.DefaultConfig
		sqlcfg.Logger = lgr
		sqlcfg.ConnStr = cfg.DB.ConnStr
		sqlcfg.MaxOpenConns = cfg.DB.MaxOpenConns
		sqlcfg.MaxIdleConns = cfg.DB.MaxIdleConns

		if cfg.DB.SQLLog {
			logger := instrumentedsql.LoggerFunc(
				func(ctx context.Context, msg string, keyvals ...interface{}) {
					mlg.LogPrintf(DEBUG, "SQL: %s %v", msg, keyvals)
				})
			const drvstr = "instrumented-postgres"
			sql.Register(drvstr,
				instrumentedsql.WrapDriver(&pq.Driver{},
					instrumentedsql.WithLogger(logger)))
			sqlcfg.ConnDriver = drvstr
		}

		db, err := psql.OpenAndPrepare(sqlcfg)
		if err != nil {
			mlg.LogPrintln(CRITICAL, "psql.OpenAndPrepare error:", err)
			return
		}
		defer db.Close()

		udb, err := uploaddb.NewInitAndPrepare(uploaddb.Config{
			DB:     &db,
			Logger: lgr,
		})
		if err != nil {
			mlg.LogPrintln(CRITICAL, "uploaddb.NewInitAndPrepare error:", err)
			return
		}
		hcfg.Submissions = udb
	} else {
		mlg.LogPrint(NOTICE, "no database configured, submissions won't be recorded")
	}

	fh, err := formhandler.NewHandler(hcfg)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "formhandler.NewHandler error:", err)
		return
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Bind)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "net.Listen error:", err)
		return
	}
	if cfg.HTTP.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.HTTP.MaxConns)
	}

	server := &http.Server{Handler: fh.Router()}

	// graceful shutdown by signal
	killc := make(chan os.Signal, 2)
	signal.Notify(killc, os.Interrupt, syscall.SIGTERM)
	go func(c chan os.Signal) {
		for {
			s := <-c
			switch s {
			case os.Interrupt, syscall.SIGTERM:
				signal.Reset(os.Interrupt, syscall.SIGTERM)
				mlg.LogPrint(NOTICE, "killing server")
				server.Shutdown(context.Background())
				return
			}
		}
	}(killc)

	mlg.LogPrintf(INFO, "listening on %s", ln.Addr())
	err = server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		mlg.LogPrintln(ERROR, "error from Serve:", err)
	}
}
