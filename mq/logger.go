// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging interface used by queues.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// With returns a logger with the given fields attached.
	With(keysAndValues ...any) Logger
}

// LogConfig selects a logger for a queue.
// If Logger is nil, a slog text logger writing to stderr with the given Level is used.
type LogConfig struct {
	Logger Logger
	// Level is one of "debug", "info", "warn", "error" or "none".
	Level string `yaml:"level"`
}

// NopLogger discards all messages.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(msg string, keysAndValues ...any) {}
func (NopLogger) Info(msg string, keysAndValues ...any)  {}
func (NopLogger) Warn(msg string, keysAndValues ...any)  {}
func (NopLogger) Error(msg string, keysAndValues ...any) {}
func (n NopLogger) With(keysAndValues ...any) Logger     { return n }

// SlogLogger adapts slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

var _ Logger = (*SlogLogger)(nil)

// NewSlogLogger returns an adapter for logger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (s *SlogLogger) Debug(msg string, keysAndValues ...any) {
	s.logger.Debug(msg, keysAndValues...)
}

func (s *SlogLogger) Info(msg string, keysAndValues ...any) {
	s.logger.Info(msg, keysAndValues...)
}

func (s *SlogLogger) Warn(msg string, keysAndValues ...any) {
	s.logger.Warn(msg, keysAndValues...)
}

func (s *SlogLogger) Error(msg string, keysAndValues ...any) {
	s.logger.Error(msg, keysAndValues...)
}

func (s *SlogLogger) With(keysAndValues ...any) Logger {
	return &SlogLogger{logger: s.logger.With(keysAndValues...)}
}

func createLogger(config LogConfig) Logger {
	if config.Logger != nil {
		return config.Logger
	}
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "none", "off":
		return NopLogger{}
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(handler))
}
