// Package logger provides leveled, structured logging for the pipeline's
// interceptors and components, generalized from
// pkg/middleware/logging.go's RequestLogger (JSON log lines, request-id
// correlation) from an http.Handler middleware into a standalone logger
// any component can hold a reference to.
package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is a structured log attribute.
type Field struct {
	Key   string
	Value interface{}
}

// F is shorthand for constructing a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger emits level-tagged structured events.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// JSONLogger writes one JSON object per line to an io.Writer via the
// standard log package, matching pkg/middleware/logging.go's logRequest
// structured-JSON-with-level-prefix style.
type JSONLogger struct {
	out      *log.Logger
	minLevel Level
}

// New returns a JSONLogger writing to w at minLevel and above. A nil w
// defaults to os.Stderr.
func New(w io.Writer, minLevel Level) *JSONLogger {
	if w == nil {
		w = os.Stderr
	}
	return &JSONLogger{out: log.New(w, "", 0), minLevel: minLevel}
}

func (l *JSONLogger) log(level Level, msg string, fields []Field) {
	if level < l.minLevel {
		return
	}
	entry := make(map[string]interface{}, len(fields)+2)
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["message"] = msg
	for _, f := range fields {
		entry[f.Key] = f.Value
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("[%s] %s (log marshal failed: %v)", level, msg, err)
		return
	}
	l.out.Printf("[%s] %s", level, string(data))
}

func (l *JSONLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *JSONLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *JSONLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *JSONLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// Nop is a Logger that discards everything, useful as a default when the
// caller hasn't configured logging.
type Nop struct{}

func (Nop) Debug(string, ...Field) {}
func (Nop) Info(string, ...Field)  {}
func (Nop) Warn(string, ...Field)  {}
func (Nop) Error(string, ...Field) {}
