package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/config"
)

// Options selects level, format and destinations.
type Options struct {
	Level  string
	Format string
	// File, when set, receives every line in addition to Out.
	File string
	Out  io.Writer
}

// Logger is a logrus logger that also owns an optional log file.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// OptionsFromConfig reads the orchestra.log.* properties.
func OptionsFromConfig(snap config.Snapshot) Options {
	return Options{
		Level:  snap.Get(config.KeyLogLevel, "info"),
		Format: snap.Get(config.KeyLogFormat, "text"),
		File:   snap.Get(config.KeyLogFile, ""),
	}
}

// New builds a logger. The log file is opened in append mode so lines from
// earlier runs survive.
func New(opts Options) (*Logger, error) {
	base := logrus.New()
	level, err := logrus.ParseLevel(strings.TrimSpace(strings.ToLower(opts.Level)))
	if err != nil {
		if strings.TrimSpace(opts.Level) != "" {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	logger := &Logger{Logger: base}
	if path := strings.TrimSpace(opts.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		logger.file = f
		out = io.MultiWriter(out, f)
	}
	base.SetOutput(out)
	return logger, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
