package logging

import (
	"context"
	"log"
	"log/slog"
	"strings"
)

// SlogLogger implements Logger on top of a *slog.Logger.
type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelDebug, msg, args...)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelInfo, msg, args...)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelWarn, msg, args...)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelError, msg, args...)
}

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...)}
}

// StdLogger adapts l for APIs that still take a *log.Logger, such as
// http.Server.ErrorLog. Every line is written at level.
func StdLogger(l Logger, level slog.Level) *log.Logger {
	if sl, ok := l.(*SlogLogger); ok {
		return slog.NewLogLogger(sl.l.Handler(), level)
	}
	return log.New(lineWriter{logger: l, level: level}, "", 0)
}

// lineWriter forwards log.Logger output to a Logger that is not slog backed.
type lineWriter struct {
	logger Logger
	level  slog.Level
}

func (w lineWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	ctx := context.Background()
	switch {
	case w.level >= slog.LevelError:
		w.logger.Error(ctx, msg)
	case w.level >= slog.LevelWarn:
		w.logger.Warn(ctx, msg)
	case w.level >= slog.LevelInfo:
		w.logger.Info(ctx, msg)
	default:
		w.logger.Debug(ctx, msg)
	}
	return len(p), nil
}
