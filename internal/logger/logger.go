// Package logger builds the zap loggers used by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mediacheck/mediacheck/internal/errors"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options controls where and how log lines are written.
type Options struct {
	Format string
	Level  string
	// File enables a rotating log file next to the primary output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is a sugared zap logger plus the rotating file it may own.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
	file  *lumberjack.Logger
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// New builds a logger writing to out (stderr when nil) and, when
// opts.File is set, to a lumberjack-rotated file using the JSON encoder.
func New(opts Options, out io.Writer) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}
	atom := zap.NewAtomicLevelAt(level)

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, errors.Wrapf(errors.ErrInvalidArgument, "unknown log format %q", opts.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(out), atom)}

	l := &Logger{level: atom}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // MB
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays, // days
			Compress:   opts.Compress,
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(l.file), atom))
	}

	l.SugaredLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()
	return l, nil
}

// ParseLevel accepts zap level names; empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil {
		return lvl, errors.Wrapf(errors.ErrInvalidArgument, "unknown log level %q", s)
	}
	return lvl, nil
}

// SetLevel changes the level at runtime, e.g. after a config reload.
func (l *Logger) SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level reports the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
