package loggy

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

var ECHO bool = false
var SILENT bool = false
var LogFolder string = "./logs/"

// Logger writes timestamped, level-tagged lines to a per-session log
// file. When ECHO is set lines are mirrored to stderr, which is how the
// decode layer surfaces per-field diagnostics without aborting a scan.
type Logger struct {
	sink io.Writer
	id   int
	app  string
}

var loggers map[int]*Logger
var app string

func Get(id int) *Logger {
	if loggers == nil {
		loggers = make(map[int]*Logger)
	}
	l, ok := loggers[id]
	if !ok {
		l = NewLogger(id, app)
		loggers[id] = l
	}
	return l
}

func SetApp(name string) {
	app = name
}

func NewLogger(id int, app string) *Logger {

	if app == "" {
		app = "a2kit"
	}

	l := &Logger{
		id:   id,
		app:  app,
		sink: io.Discard,
	}

	if !SILENT {
		filename := fmt.Sprintf("%s_%d_%s.log", app, id, fts())
		os.MkdirAll(LogFolder, 0755)
		f, err := os.Create(LogFolder + filename)
		if err == nil {
			l.sink = f
		}
	}

	return l
}

func ts() string {
	t := time.Now()
	return fmt.Sprintf(
		"%.4d/%.2d/%.2d %.2d:%.2d:%.2d",
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
	)
}

func fts() string {
	t := time.Now()
	return fmt.Sprintf(
		"%.4d%.2d%.2d%.2d%.2d%.2d",
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
	)
}

func (l *Logger) llogf(format string, designator string, v ...interface{}) {

	format = ts() + " " + designator + " :: " + format

	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}

	fmt.Fprintf(l.sink, format, v...)

	if ECHO {
		fmt.Fprintf(os.Stderr, format, v...)
	}

}

func (l *Logger) llog(designator string, v ...interface{}) {

	format := ts() + " " + designator + " :: "
	for _, vv := range v {
		format += fmt.Sprintf("%v ", vv)
	}
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}

	io.WriteString(l.sink, format)

	if ECHO {
		os.Stderr.WriteString(format)
	}
}

func (l *Logger) Logf(format string, v ...interface{}) {
	l.llogf(format, "INFO ", v...)
}

func (l *Logger) Log(v ...interface{}) {
	l.llog("INFO ", v...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.llogf(format, "WARN ", v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.llogf(format, "ERROR", v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.llog("ERROR", v...)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.llogf(format, "DEBUG", v...)
}

func (l *Logger) Debug(v ...interface{}) {
	l.llog("DEBUG", v...)
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.llogf(format, "FATAL", v...)
}

func (l *Logger) Fatal(v ...interface{}) {
	l.llog("FATAL", v...)
}
