// Package log provides structured logging for the miner.
// It wraps the standard library's slog package with domain helpers.
package log

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

// JobIDKey carries the job id through a context for WithContext.
const JobIDKey contextKey = "job_id"

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a new logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		service: "discard",
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger with the job id carried by ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if jobID, ok := ctx.Value(JobIDKey).(string); ok && jobID != "" {
		return l.WithFields("job_id", jobID)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID, ticker string, difficulty int) *Logger {
	return l.WithFields("job_id", jobID, "ticker", ticker, "difficulty", difficulty)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// ChallengeTag is the short label used to tell jobs apart in log lines:
// the first four bytes of the search-order challenge in hex.
func ChallengeTag(challenge []byte) string {
	if len(challenge) > 4 {
		challenge = challenge[:4]
	}
	return hex.EncodeToString(challenge)
}

// LogJobChange logs that a new job replaced the current one
func (l *Logger) LogJobChange(ticker, jobID string, difficulty int, challengeLen int) {
	l.Info("new job",
		"ticker", ticker,
		"job_id", jobID,
		"difficulty", difficulty,
		"challenge_bytes", challengeLen,
	)
}

// LogThroughput logs one finished search batch
func (l *Logger) LogThroughput(tag string, difficulty int, attempts int64, durationNs int64, accepted, rejected int64) {
	var mhs float64
	if durationNs > 0 {
		mhs = float64(attempts) / (float64(durationNs) / 1e9) / 1e6
	}
	l.Info("batch complete",
		"challenge", tag,
		"difficulty", difficulty,
		"attempts", attempts,
		"duration_ms", float64(durationNs)/1e6,
		"hashrate_mhs", mhs,
		"accepted", accepted,
		"rejected", rejected,
	)
}

// LogSolutionFound logs a solution handed to the submission pipeline
func (l *Logger) LogSolutionFound(tag, nonce, hash, location string) {
	l.Info("found solution",
		"challenge", tag,
		"nonce", nonce,
		"hash", hash,
		"location", location,
	)
}

// LogShareSubmission logs the outcome of one submission
func (l *Logger) LogShareSubmission(tag, jobID, status string, statusCode int, response string) {
	attrs := []any{
		"challenge", tag,
		"job_id", jobID,
		"status", status,
		"status_code", statusCode,
	}
	if response != "" {
		attrs = append(attrs, "response", response)
	}
	l.Info("share submission", attrs...)
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}
