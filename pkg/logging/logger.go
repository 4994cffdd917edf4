// Package logging provides structured logging configuration using zerolog.
//
// Loggers are built once at startup and passed explicitly to every component;
// nothing in this package touches the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level written to Output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Verbose adds level and caller to console lines.
	Verbose bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// FilePath, when set, additionally writes every debug-level event to a
	// rotating log file.
	FilePath string

	// Rotation settings for FilePath, passed to lumberjack.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Pretty:     false,
		Output:     os.Stderr,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// LevelFromFlags maps the CLI verbosity switches to a level.
// Verbose wins over quiet when both are given.
func LevelFromFlags(verbose, quiet bool) LogLevel {
	switch {
	case verbose:
		return LevelDebug
	case quiet:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// New builds a logger from cfg. The returned closer releases the log file,
// if any, and must be called before exit.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	consoleLevel := parseLevel(cfg.Level)

	var console io.Writer = out
	if cfg.Pretty {
		console = consoleWriter(out, cfg.Verbose)
	}

	writers := []io.Writer{&levelFilter{w: console, min: consoleLevel}}
	loggerLevel := consoleLevel

	var closer io.Closer = nopCloser{}
	if cfg.FilePath != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		// lumberjack opens lazily; an empty write surfaces a bad path now.
		if _, err := file.Write(nil); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file %s: %w", cfg.FilePath, err)
		}
		writers = append(writers, &levelFilter{w: file, min: zerolog.DebugLevel})
		loggerLevel = zerolog.DebugLevel
		closer = file
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(loggerLevel).
		With().
		Timestamp()
	if cfg.Verbose || cfg.FilePath != "" {
		ctx = ctx.Caller()
	}

	return ctx.Logger(), closer, nil
}

// consoleWriter mirrors the two console formats of the crawler: a short
// "[time] message" line by default and a detailed one in verbose mode.
// The short line drops context fields except the error.
func consoleWriter(out io.Writer, verbose bool) zerolog.ConsoleWriter {
	w := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.DateTime,
	}
	if verbose {
		w.TimeFormat = "2006-01-02 15:04:05.000"
		return w
	}
	w.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.MessageFieldName}
	w.FormatPrepare = func(evt map[string]interface{}) error {
		for k := range evt {
			if k != zerolog.TimestampFieldName && k != zerolog.MessageFieldName && k != zerolog.ErrorFieldName {
				delete(evt, k)
			}
		}
		return nil
	}
	w.FormatTimestamp = func(i interface{}) string {
		s, _ := i.(string)
		if t, err := time.Parse(zerolog.TimeFieldFormat, s); err == nil {
			s = t.Local().Format(time.DateTime)
		}
		return "[" + s + "]"
	}
	return w
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a component logger from base.
func NewLogger(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// levelFilter drops events below min before they reach w.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Log Level Guidelines:
//
// Debug: per-request and per-file detail
//   - Requested offsets and written file paths
//   - Scheduler poll decisions
//
// Info: normal operation events
//   - Startup banner, run directory
//   - Crawl cycle start/finish
//
// Warn: conditions that don't stop the crawler
//   - Non-2xx API responses (body is still archived)
//   - Heartbeat reporting failures
//
// Error: conditions that stop a crawl cycle
//   - Transport errors
//   - Filesystem errors
//
// Context Fields:
//   - component: emitting package
//   - cycle_id: correlation ID of a crawl cycle
//   - offset / page: request offset and page index
//   - status_code: HTTP status code
//   - path: written file
//   - duration: request or cycle duration
