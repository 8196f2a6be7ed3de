// logger.go - Structured logging for the veil daemon
package main

import (
	"io"
	"os"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger bundles the operational log with the audit trail.
type Logger struct {
	zerolog.Logger
	audit   zerolog.Logger
	closers []io.Closer
}

// NewLogger writes to the console and, when cfg.LogFile is set, to a
// rotating file. Audit events go to their own file.
func NewLogger(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	l := &Logger{audit: zerolog.Nop()}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if cfg.LogFile != "" {
		f := &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  cfg.LogMaxSizeMB,
			MaxAge:   cfg.LogMaxAge,
			Compress: true,
		}
		l.closers = append(l.closers, f)
		writers = append(writers, f)
	}
	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("node", cfg.NodeID).Logger()

	if cfg.EnableAudit {
		if cfg.AuditLogPath == "" {
			return nil, errors.New("audit log path required when audit is enabled")
		}
		f := &lumberjack.Logger{Filename: cfg.AuditLogPath, MaxSize: cfg.LogMaxSizeMB, MaxAge: cfg.LogMaxAge}
		l.closers = append(l.closers, f)
		l.audit = zerolog.New(f).With().Timestamp().Str("node", cfg.NodeID).Logger()
	}

	// gnark logs compile and setup progress through its own zerolog
	// instance.
	gnarklogger.Set(l.Logger.With().Str("component", "gnark").Logger())
	return l, nil
}

// Close flushes and closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Audit records an administrative action or a rejected call.
func (l *Logger) Audit(event string, details map[string]any) {
	l.audit.Info().Str("event", event).Fields(details).Msg("audit")
}
