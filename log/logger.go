package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/patrickmn/go-cache"
)

// Severity mirrors the levels the server's config layer understands
type Severity int32

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
	SeverityDebug
)

var loggerCache *cache.Cache
var default_logger_cache_expiry = 6 * time.Hour

// Swapped out by tests; always read at write time so cached loggers follow it
var logDestination io.Writer = os.Stderr

var syncDestination = kitlog.NewSyncWriter(destinationWriter{})

var currentSeverity atomic.Int32

func init() {
	loggerCache = cache.New(default_logger_cache_expiry, 10*time.Minute)
	currentSeverity.Store(int32(SeverityInfo))
}

// SetDestination redirects all log output, including cached stream loggers,
// and returns the previous destination
func SetDestination(w io.Writer) io.Writer {
	previous := logDestination
	logDestination = w
	return previous
}

type destinationWriter struct{}

func (destinationWriter) Write(p []byte) (int, error) {
	return logDestination.Write(p)
}

// ParseSeverity accepts error|warning|warn|info|debug, case insensitive
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "info", "":
		return SeverityInfo, nil
	case "debug":
		return SeverityDebug, nil
	}
	return SeverityInfo, fmt.Errorf("unknown log level %q", s)
}

func SetLevel(s string) error {
	sev, err := ParseSeverity(s)
	if err != nil {
		return err
	}
	SetSeverity(sev)
	return nil
}

func SetSeverity(sev Severity) {
	if sev < SeverityError {
		sev = SeverityError
	}
	if sev > SeverityDebug {
		sev = SeverityDebug
	}
	currentSeverity.Store(int32(sev))
}

func CurrentSeverity() Severity {
	return Severity(currentSeverity.Load())
}

func IsDebug() bool {
	return CurrentSeverity() >= SeverityDebug
}

func allowed() level.Option {
	switch CurrentSeverity() {
	case SeverityError:
		return level.AllowError()
	case SeverityWarning:
		return level.AllowWarn()
	case SeverityDebug:
		return level.AllowDebug()
	default:
		return level.AllowInfo()
	}
}

// Permanently add context to the logger. Any future logging for this stream will include this context
func AddContext(streamID string, keyvals ...interface{}) {
	loggerCache.Set(streamID, kitlog.With(getLogger(streamID), keyvals...), default_logger_cache_expiry)
}

// Forget drops the cached logger (and any context added to it) for an evicted stream
func Forget(streamID string) {
	loggerCache.Delete(streamID)
}

func Log(streamID string, message string, keyvals ...interface{}) {
	emit(level.Info, getLogger(streamID), message, keyvals...)
}

func Debug(streamID string, message string, keyvals ...interface{}) {
	emit(level.Debug, getLogger(streamID), message, keyvals...)
}

func Warn(streamID string, message string, keyvals ...interface{}) {
	emit(level.Warn, getLogger(streamID), message, keyvals...)
}

// Log in situations where there's no stream involved, e.g. process lifecycle or sweep summaries.
func LogNoStreamID(message string, keyvals ...interface{}) {
	emit(level.Info, newLogger(), message, keyvals...)
}

func WarnNoStreamID(message string, keyvals ...interface{}) {
	emit(level.Warn, newLogger(), message, keyvals...)
}

func LogError(streamID string, message string, err error, keyvals ...interface{}) {
	errLogger := kitlog.With(getLogger(streamID), "err", errString(err))
	emit(level.Error, errLogger, message, keyvals...)
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func emit(lvl func(kitlog.Logger) kitlog.Logger, logger kitlog.Logger, message string, keyvals ...interface{}) {
	filtered := level.NewFilter(logger, allowed())
	// write errors are dropped, logging must never fail a cache operation
	_ = lvl(kitlog.With(filtered, "msg", message)).Log(keyvals...)
}

func getLogger(streamID string) kitlog.Logger {
	logger, found := loggerCache.Get(streamID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "stream_id", streamID)
	err := loggerCache.Add(streamID, newLogger, default_logger_cache_expiry)
	if err != nil {
		// lost a race with another goroutine, use theirs so context isn't split
		if existing, ok := loggerCache.Get(streamID); ok {
			return existing.(kitlog.Logger)
		}
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	newLogger := kitlog.NewLogfmtLogger(syncDestination)
	return kitlog.With(newLogger, "ts", kitlog.DefaultTimestampUTC)
}
