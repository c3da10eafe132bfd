// Package telemetry holds the engine's ambient structured logger and
// Prometheus metrics. The logger is grounded on the teacher's
// pkg/observability/logging.go (level-filtered, field-chaining,
// timestamped single-line output) kept on the standard library, since
// no ecosystem structured-logging package appears anywhere in the
// example pack. Metrics use github.com/prometheus/client_golang, also
// from the teacher.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// Level is a log severity, ordered low to high.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a minimal level-filtered structured logger. WithField/
// WithFields return a new Logger carrying the merged field set, so
// callers can build up context without mutating a shared instance.
type Logger struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	fields map[string]any
}

// New creates a Logger writing to os.Stderr at Info level.
func New() *Logger {
	return &Logger{level: Info, output: os.Stderr, fields: map[string]any{}}
}

func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, output: l.output, fields: merged}
}

func (l *Logger) SetLevel(level Level) { l.level = level }

func (l *Logger) log(level Level, msg string) {
	if level < l.level {
		return
	}
	_, file, line, _ := runtime.Caller(2)

	l.mu.Lock()
	defer l.mu.Unlock()

	out := fmt.Sprintf("[%s] %s: %s (%s:%d)", time.Now().UTC().Format(time.RFC3339), level, msg, file, line)
	for k, v := range l.fields {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Fprintln(l.output, out)
}

func (l *Logger) Debug(msg string)               { l.log(Debug, msg) }
func (l *Logger) Info(msg string)                { l.log(Info, msg) }
func (l *Logger) Warn(msg string)                { l.log(Warn, msg) }
func (l *Logger) Error(msg string)               { l.log(Error, msg) }
func (l *Logger) Debugf(f string, a ...any)       { l.log(Debug, fmt.Sprintf(f, a...)) }
func (l *Logger) Infof(f string, a ...any)        { l.log(Info, fmt.Sprintf(f, a...)) }
func (l *Logger) Warnf(f string, a ...any)        { l.log(Warn, fmt.Sprintf(f, a...)) }
func (l *Logger) Errorf(f string, a ...any)       { l.log(Error, fmt.Sprintf(f, a...)) }

// LogOperation times fn and logs its duration under the given name: at
// Info level on success, or at Error level with the error as a field on
// failure. Grounded on the
// teacher's LogOperation helper in pkg/observability/logging.go.
func (l *Logger) LogOperation(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	dur := time.Since(start)
	log := l.WithField("operation", name).WithField("duration_ms", dur.Milliseconds())
	if err != nil {
		log.WithField("error", err.Error()).Error("operation failed")
	} else {
		log.Info("operation completed")
	}
	return err
}
