package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
)

type level int

const (
	TRACE level = iota
	DEBUG
	INFO
	WARNING
	ERROR
)

const (
	format = "2006-01-02 15:04:05"
)

var logger = newLogger()

func newLogger() *log.Logger {
	l := log.New()
	l.SetFormatter(&formatter{})
	l.SetLevel(log.InfoLevel)

	return l
}

// SetLevel sets the lowest level that will be written
func SetLevel(l level) {
	logger.SetLevel(l.logrus())
}

// SetOutput redirects every logger of the process to w
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// ForSite returns an entry tagged with the ring index of the site doing the logging
func ForSite(index int) *log.Entry {
	return logger.WithField("site", index)
}

func Trace(msg string) {
	output(TRACE, msg)
}

func Tracef(msg string, args ...interface{}) {
	Trace(fmt.Sprintf(msg, args...))
}

func Debug(msg string) {
	output(DEBUG, msg)
}

func Debugf(msg string, args ...interface{}) {
	Debug(fmt.Sprintf(msg, args...))
}

func Info(msg string) {
	output(INFO, msg)
}

func Infof(msg string, args ...interface{}) {
	Info(fmt.Sprintf(msg, args...))
}

func Warning(msg string) {
	output(WARNING, msg)
}

func Warningf(msg string, args ...interface{}) {
	Warning(fmt.Sprintf(msg, args...))
}

func Error(msg string) {
	output(ERROR, msg)
}

func Errorf(msg string, args ...interface{}) {
	Error(fmt.Sprintf(msg, args...))
}

func output(l level, msg string) {
	logger.Log(l.logrus(), msg)
}

func (l level) logrus() log.Level {
	switch l {
	case TRACE:
		return log.TraceLevel
	case DEBUG:
		return log.DebugLevel
	case WARNING:
		return log.WarnLevel
	case ERROR:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// formatter writes "<time> <LEVEL> <msg> k=v..." lines colored by level
type formatter struct{}

func (f *formatter) Format(e *log.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	fmt.Fprintf(b, "%v %s %s", e.Time.Format(format), label(e.Level), e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, e.Data[k])
	}

	return []byte(paint(e.Level)(b.String()) + "\n"), nil
}

func label(l log.Level) string {
	switch l {
	case log.TraceLevel:
		return "TRACE"
	case log.DebugLevel:
		return "DEBUG"
	case log.InfoLevel:
		return "INFO"
	case log.WarnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

func paint(l log.Level) func(a ...interface{}) string {
	switch l {
	case log.TraceLevel:
		return color.New(color.FgCyan).SprintFunc()
	case log.DebugLevel:
		return color.New(color.FgGreen).SprintFunc()
	case log.InfoLevel:
		return color.New(color.FgWhite).SprintFunc()
	case log.WarnLevel:
		return color.New(color.FgBlue).SprintFunc()
	default:
		return color.New(color.FgRed).SprintFunc()
	}
}
