// Package logging is wagateway's process-wide logger, a thin layer over
// charmbracelet/log. Call sites dot-import it and use the L_* helpers,
// either printf-style or with trailing key-value pairs:
//
//	L_info("wagateway %s starting", version)
//	L_warn("session: disconnected", "agentId", id, "reason", reason)
package logging

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Levels, ordered by severity. LOG_LEVEL maps onto these via config.
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// Config holds logging configuration.
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
}

var (
	logger *log.Logger
	once   sync.Once

	// Set once at shutdown; components may consult it before starting
	// new work.
	shuttingDown atomic.Bool
)

// Init initializes the global logger. Safe to call multiple times; only
// the first call wins.
func Init(cfg *Config) {
	once.Do(func() {
		if cfg == nil {
			cfg = &Config{Level: LevelInfo}
		}
		timeFormat := cfg.TimeFormat
		if timeFormat == "" {
			timeFormat = "15:04:05"
		}

		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      timeFormat,
			ReportCaller:    cfg.ShowCaller,
			CallerOffset:    1, // skip the L_* wrapper frame
			Level:           charmLevel(cfg.Level),
		})
	})
}

func ensureInit() {
	if logger == nil {
		Init(nil)
	}
}

// charmLevel collapses our six levels onto charmbracelet's four.
func charmLevel(level int) log.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError, LevelFatal:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// split decides how trailing args are interpreted: printf verbs in msg
// consume them as format operands, otherwise they pass through as
// key-value pairs.
func split(msg string, args []interface{}) (string, []interface{}) {
	if len(args) == 0 {
		return msg, nil
	}
	if isFormat(msg) {
		return fmt.Sprintf(msg, args...), nil
	}
	return msg, args
}

// isFormat reports whether msg contains a printf verb ('%' not followed
// by another '%').
func isFormat(msg string) bool {
	for i := 0; i+1 < len(msg); i++ {
		if msg[i] == '%' && msg[i+1] != '%' {
			return true
		}
	}
	return false
}

// L_debug logs at debug level.
func L_debug(msg string, args ...interface{}) {
	ensureInit()
	m, kv := split(msg, args)
	logger.Debug(m, kv...)
}

// L_info logs at info level.
func L_info(msg string, args ...interface{}) {
	ensureInit()
	m, kv := split(msg, args)
	logger.Info(m, kv...)
}

// L_warn logs at warn level.
func L_warn(msg string, args ...interface{}) {
	ensureInit()
	m, kv := split(msg, args)
	logger.Warn(m, kv...)
}

// L_error logs at error level.
func L_error(msg string, args ...interface{}) {
	ensureInit()
	m, kv := split(msg, args)
	logger.Error(m, kv...)
}

// L_fatal logs at fatal level and exits the process.
func L_fatal(msg string, args ...interface{}) {
	ensureInit()
	m, kv := split(msg, args)
	logger.Fatal(m, kv...)
}

// SetShuttingDown marks the process as shutting down.
func SetShuttingDown() {
	shuttingDown.Store(true)
	L_info("shutting down")
}

// IsShuttingDown reports whether SetShuttingDown has been called.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
