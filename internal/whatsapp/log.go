package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes the client library's printf-style logs into slog.
type slogLogger struct {
	module string
	l      *slog.Logger
}

// NewLogger returns a waLog.Logger backed by the default slog logger.
func NewLogger(module string) waLog.Logger {
	return &slogLogger{module: module, l: slog.Default().With("module", module)}
}

func (s *slogLogger) Debugf(msg string, args ...interface{}) {
	s.l.Debug(fmt.Sprintf(msg, args...))
}

func (s *slogLogger) Infof(msg string, args ...interface{}) {
	s.l.Info(fmt.Sprintf(msg, args...))
}

func (s *slogLogger) Warnf(msg string, args ...interface{}) {
	s.l.Warn(fmt.Sprintf(msg, args...))
}

func (s *slogLogger) Errorf(msg string, args ...interface{}) {
	s.l.Error(fmt.Sprintf(msg, args...))
}

func (s *slogLogger) Sub(module string) waLog.Logger {
	name := s.module + "/" + module
	return &slogLogger{module: name, l: slog.Default().With("module", name)}
}
