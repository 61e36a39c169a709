package kvstore

import (
	"fmt"
	"log/slog"
	"strings"
)

// logger adapts slog to badger.Logger. Badger's info output is chatty, so it
// is logged at debug level.
type logger struct {
	l *slog.Logger
}

func newLogger(l *slog.Logger, dir string) *logger {
	if dir == "" {
		dir = "memory"
	}
	return &logger{l: l.With("component", "badger", "dir", dir)}
}

func (l *logger) Errorf(s string, args ...interface{}) {
	l.l.Error(strings.TrimSpace(fmt.Sprintf(s, args...)))
}

func (l *logger) Warningf(s string, args ...interface{}) {
	l.l.Warn(strings.TrimSpace(fmt.Sprintf(s, args...)))
}

func (l *logger) Infof(s string, args ...interface{}) {
	l.l.Debug(strings.TrimSpace(fmt.Sprintf(s, args...)))
}

func (l *logger) Debugf(s string, args ...interface{}) {
	l.l.Debug(strings.TrimSpace(fmt.Sprintf(s, args...)))
}
