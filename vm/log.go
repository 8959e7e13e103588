package vm

import "github.com/sirupsen/logrus"

// Logger wraps *logrus.Logger (C9), following the teacher's habit of giving
// every subsystem a small wrapper type rather than threading the third-party
// type directly through exported signatures. Structured fields (collection
// stats, overflow warnings) replace the teacher's ad hoc fmt.Println/
// vm.debugOut calls.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a text-formatted logger at the given level, matching the
// teacher's preference for human-readable output over JSON in a CLI tool.
func NewLogger(level logrus.Level) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{Logger: l}
}

// NewSilentLogger discards all output; used by tests and by NewVM callers
// that don't want GC/collection diagnostics.
func NewSilentLogger() *Logger {
	l := NewLogger(logrus.PanicLevel)
	return l
}
