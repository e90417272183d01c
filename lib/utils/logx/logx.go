package logx

import (
	"io"
	"strings"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	NOTICE
	WARN
	ERROR
	CRITICAL
	LevelCount
)

var levelNames = [LevelCount]string{
	DEBUG:    "debug",
	INFO:     "info",
	NOTICE:   "notice",
	WARN:     "warn",
	ERROR:    "error",
	CRITICAL: "critical",
}

func (l Level) String() string {
	if l >= 0 && l < LevelCount {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel parses level name as used in configs.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(s)
	if s == "warning" {
		return WARN, true
	}
	for i := range levelNames {
		if levelNames[i] == s {
			return Level(i), true
		}
	}
	return 0, false
}

type LoggerX interface {
	LogPrintX(section string, lvl Level, v ...interface{})
	LogPrintlnX(section string, lvl Level, v ...interface{})
	LogPrintfX(section string, lvl Level, fmt string, v ...interface{})
	LockWriteX(section string, lvl Level) bool
	UnlockWriteX()
	io.Writer
}

type Logger interface {
	LogPrint(lvl Level, v ...interface{})
	LogPrintln(lvl Level, v ...interface{})
	LogPrintf(lvl Level, fmt string, v ...interface{})
	LockWrite(lvl Level) bool
	UnlockWrite()
	io.Writer
}

type LogToX struct {
	section string
	logx    LoggerX
}

func (l LogToX) LogPrint(lvl Level, v ...interface{})   { l.logx.LogPrintX(l.section, lvl, v...) }
func (l LogToX) LogPrintln(lvl Level, v ...interface{}) { l.logx.LogPrintlnX(l.section, lvl, v...) }
func (l LogToX) LogPrintf(lvl Level, fmt string, v ...interface{}) {
	l.logx.LogPrintfX(l.section, lvl, fmt, v...)
}
func (l LogToX) LockWrite(lvl Level) bool    { return l.logx.LockWriteX(l.section, lvl) }
func (l LogToX) UnlockWrite()                { l.logx.UnlockWriteX() }
func (l LogToX) Write(b []byte) (int, error) { return l.logx.Write(b) }

// NewLogToX makes section logger. nil logx results in logger which discards everything.
func NewLogToX(logx LoggerX, section string) LogToX {
	if logx == nil {
		logx = NopLoggerX{}
	}
	return LogToX{section: section, logx: logx}
}

var _ Logger = LogToX{}

// NopLoggerX drops all messages.
type NopLoggerX struct{}

func (NopLoggerX) LogPrintX(string, Level, ...interface{})          {}
func (NopLoggerX) LogPrintlnX(string, Level, ...interface{})        {}
func (NopLoggerX) LogPrintfX(string, Level, string, ...interface{}) {}
func (NopLoggerX) LockWriteX(string, Level) bool                    { return false }
func (NopLoggerX) UnlockWriteX()                                    {}
func (NopLoggerX) Write(b []byte) (int, error)                      { return len(b), nil }

var _ LoggerX = NopLoggerX{}

// WriteToLog streams raw data as single log message.
// Close must be called to finish message.
type WriteToLog struct {
	log    Logger
	locked bool
}

func NewWriteToLog(log Logger, lvl Level) WriteToLog {
	return WriteToLog{log: log, locked: log.LockWrite(lvl)}
}

func (w WriteToLog) Write(b []byte) (int, error) {
	if !w.locked {
		return len(b), nil
	}
	return w.log.Write(b)
}

func (w WriteToLog) Close() error {
	if w.locked {
		w.log.UnlockWrite()
	}
	return nil
}

var _ io.Writer = WriteToLog{}
var _ io.Closer = WriteToLog{}
