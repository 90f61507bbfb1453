// Package logx configures the process-wide zerolog logger.
package logx

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const (
	CtxKeyRequestID ctxKey = "request_id"
	CtxKeyJobID     ctxKey = "job_id"
)

type Config struct {
	Service        string
	Level          string // debug|info|warn|error
	Format         string // json|console
	FilePath       string // "" disables the rotating file
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
	FileCompress   bool
}

// Setup installs the global logger and returns it.
func Setup(c Config) zerolog.Logger {
	return setup(c, os.Stdout)
}

func setup(c Config, stdout io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var writers []io.Writer
	if c.Format == "console" {
		writers = append(writers, zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, stdout)
	}
	if c.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.FileMaxSizeMB,
			MaxBackups: c.FileMaxBackups,
			MaxAge:     c.FileMaxAgeDays,
			Compress:   c.FileCompress,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().
		Timestamp().
		Str("svc", c.Service).
		Logger()

	log.Logger = logger
	return logger
}

// WithJob returns ctx tagged with a job id for FromCtx.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, CtxKeyJobID, jobID)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxKeyRequestID, id)
}

// FromCtx returns the global logger with request and job fields attached.
func FromCtx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if v, ok := ctx.Value(CtxKeyRequestID).(string); ok && v != "" {
		l = l.With().Str("request_id", v).Logger()
	}
	if v, ok := ctx.Value(CtxKeyJobID).(string); ok && v != "" {
		l = l.With().Str("job_id", v).Logger()
	}
	return &l
}
