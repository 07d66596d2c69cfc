// Package logging provides structured logging with trace ID support
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys
type ContextKey string

// TraceIDKey is the context key for trace ID
const TraceIDKey ContextKey = "trace_id"

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance
func New(service, level, format string) *Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set formatter
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:  logger,
		service: service,
	}
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	// Add trace ID if present
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}

	return entry
}

// SetOutput sets the logger output
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Context helper functions

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// Structured logging helpers

// LogRequest logs an HTTP request
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("HTTP request")
}

// LogEnrichmentFailure logs a per-event enrichment failure.
func (l *Logger) LogEnrichmentFailure(ctx context.Context, enrichment string, err error) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"enrichment": enrichment,
	}).WithError(err).Warn("Enrichment failed")
}

// LogAssetSwap logs an asset-manager refresh/swap outcome.
func (l *Logger) LogAssetSwap(ctx context.Context, uri, outcome string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"uri":     uri,
		"outcome": outcome,
	})

	if err != nil {
		entry.WithError(err).Error("Asset refresh failed")
	} else {
		entry.Info("Asset refresh completed")
	}
}

// LogSinkAck logs a sink write acknowledgement.
func (l *Logger) LogSinkAck(ctx context.Context, sink string, count int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"sink":  sink,
		"count": count,
	})

	if err != nil {
		entry.WithError(err).Error("Sink write failed")
	} else {
		entry.Debug("Sink write acknowledged")
	}
}

// LogPauseGate logs a pause-gate open/close transition during an asset swap.
func (l *Logger) LogPauseGate(ctx context.Context, closed bool, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"closed":      closed,
		"duration_ms": duration.Milliseconds(),
	}).Info("Pause gate transition")
}

// Debug logs a debug message (only when the logger level is debug or lower)
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	if l.Logger.Level >= logrus.DebugLevel {
		l.WithContext(ctx).WithFields(fields).Debug(message)
	}
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithFields(fields).Error(message)
}

