package core

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// LogifaceLogger writes through a logiface logger.
type LogifaceLogger struct {
	l *logiface.Logger[logiface.Event]
}

// NewLogifaceLogger adapts any logiface logger, e.g. one built with
// stumpy.L.New(...).Logger().
func NewLogifaceLogger(l *logiface.Logger[logiface.Event]) *LogifaceLogger {
	return &LogifaceLogger{l: l}
}

// NewDefaultLogger logs JSON lines to stderr at informational level.
func NewDefaultLogger() *LogifaceLogger {
	return NewWriterLogger(os.Stderr, logiface.LevelInformational)
}

// NewWriterLogger logs JSON lines to w, dropping events below level.
func NewWriterLogger(w io.Writer, level logiface.Level) *LogifaceLogger {
	return NewLogifaceLogger(stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger())
}

func (l *LogifaceLogger) Debug(msg string, fields ...Field) {
	withFields(l.l.Debug(), fields).Log(msg)
}

func (l *LogifaceLogger) Info(msg string, fields ...Field) {
	withFields(l.l.Info(), fields).Log(msg)
}

func (l *LogifaceLogger) Warn(msg string, fields ...Field) {
	withFields(l.l.Warning(), fields).Log(msg)
}

func (l *LogifaceLogger) Error(msg string, fields ...Field) {
	withFields(l.l.Err(), fields).Log(msg)
}

func withFields(b *logiface.Builder[logiface.Event], fields []Field) *logiface.Builder[logiface.Event] {
	if b == nil {
		return nil
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			b = b.Str(f.Key, v)
		case int:
			b = b.Int(f.Key, v)
		case int64:
			b = b.Int64(f.Key, v)
		case uint64:
			b = b.Uint64(f.Key, v)
		case float64:
			b = b.Float64(f.Key, v)
		case bool:
			b = b.Bool(f.Key, v)
		case time.Duration:
			b = b.Dur(f.Key, v)
		case time.Time:
			b = b.Time(f.Key, v)
		case error:
			b = b.Str(f.Key, v.Error())
		case fmt.Stringer:
			b = b.Stringer(f.Key, v)
		default:
			b = b.Interface(f.Key, v)
		}
	}
	return b
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

// =============================================================================
// Rate limited diagnostics
// =============================================================================

// Diagnostic categories.
const (
	diagOverflow = "overflow"
	diagSlowTask = "slow-task"
)

// defaultDiagnosticRates allows a burst of five per category per second and
// twenty per minute.
func defaultDiagnosticRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 5,
		time.Minute: 20,
	}
}

// diagnostics gates repetitive warnings per category.
type diagnostics struct {
	logger  Logger
	limiter *catrate.Limiter
}

func newDiagnostics(logger Logger) *diagnostics {
	return &diagnostics{
		logger:  logger,
		limiter: catrate.NewLimiter(defaultDiagnosticRates()),
	}
}

// Warn logs msg unless the category is over its rate.
func (d *diagnostics) Warn(category any, msg string, fields ...Field) {
	if _, ok := d.limiter.Allow(category); !ok {
		return
	}
	d.logger.Warn(msg, fields...)
}

// Info logs msg unless the category is over its rate.
func (d *diagnostics) Info(category any, msg string, fields ...Field) {
	if _, ok := d.limiter.Allow(category); !ok {
		return
	}
	d.logger.Info(msg, fields...)
}
