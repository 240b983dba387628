// Package logging builds the process logger and the per-usecase context
// loggers derived from it.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field names shared by every component.
const (
	FieldLayer   = "layer"
	FieldUseCase = "usecase"
	FieldStep    = "step"
)

// Config describes where and how to log.
type Config struct {
	Level  string
	Format string // "console" or "json"

	// File enables a rotated log file next to the console output.
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Setup builds a logger writing to out (and to cfg.File when set). The
// returned closer flushes the file writer; it is never nil.
func Setup(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var console io.Writer
	switch cfg.Format {
	case "", "console":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	case "json":
		console = out
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.File == "" {
		logger := zerolog.New(console).Level(level).With().Timestamp().Logger()
		return logger, nopCloser{}, nil
	}

	// Create logs directory with secure permissions (0700 - owner only)
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to create logs directory: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSize, 10),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAge, 7),
		Compress:   cfg.Compress,
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(console, fileWriter)).
		Level(level).
		With().Timestamp().Logger()

	// Set file permissions to be secure (readable only by owner)
	if err := os.Chmod(cfg.File, 0600); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("file", cfg.File).Msg("Failed to set secure permissions on log file")
	}

	return logger, fileWriter, nil
}

// WithUseCase tags the context logger with the usecase layer and name.
func WithUseCase(ctx context.Context, usecase string) (context.Context, *zerolog.Logger) {
	logger := zerolog.Ctx(ctx).With().
		Str(FieldLayer, "usecase").
		Str(FieldUseCase, usecase).
		Logger()
	return logger.WithContext(ctx), &logger
}

// WithStep tags the context logger with a pipeline step.
func WithStep(ctx context.Context, step string) (context.Context, *zerolog.Logger) {
	logger := zerolog.Ctx(ctx).With().Str(FieldStep, step).Logger()
	return logger.WithContext(ctx), &logger
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
