package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"partsrv/lib/mail"
	. "partsrv/lib/utils/logx"
	fl "partsrv/lib/utils/logx/filelogger"
)

func main() {
	boundary := flag.String("boundary", "", "multipart boundary")
	showbody := flag.Bool("body", false, "dump part bodies")
	maxparts := flag.Int("maxparts", 0, "maximum number of parts, 0 - unlimited")
	flag.Parse()

	// logger
	lgr, err := fl.NewFileLogger(os.Stderr, DEBUG, fl.ColorAuto)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fl.NewFileLogger error: %v\n", err)
		os.Exit(1)
	}
	mlg := NewLogToX(lgr, "formparse.demo")

	if *boundary == "" || flag.NArg() != 1 {
		mlg.LogPrint(CRITICAL, "usage: demoformparse -boundary BOUNDARY FILE")
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		mlg.LogPrintf(CRITICAL, "failed to open file: %v", err)
		os.Exit(1)
	}
	defer f.Close()

	prc := mail.DefaultPartReaderConfig
	prc.MaxParts = *maxparts
	prc.Logger = lgr
	pr := prc.NewPartReader(f, *boundary)
	defer pr.Close()

	err = pr.ForEach(func(p *mail.Part) error {
		mlg.LogPrintf(INFO, "Part %q (file %v %q, type %q)",
			p.FormName(), p.HasFileName(), p.FileName(), p.ContentType())
		for _, hf := range p.Fields {
			mlg.LogPrintf(DEBUG, "  %s: %s", hf.Name, hf.Value)
		}
		var n int64
		var e error
		if *showbody {
			w := NewWriteToLog(mlg, INFO)
			n, e = io.Copy(w, p)
			w.Close()
		} else {
			n, e = p.Skip()
		}
		if e != nil {
			return e
		}
		mlg.LogPrintf(INFO, "  %d body bytes", n)
		return nil
	})
	if err != nil {
		mlg.LogPrintf(CRITICAL, "failed parsing: %v (client error: %v)",
			err, mail.IsClientError(err))
		os.Exit(1)
	}
}
