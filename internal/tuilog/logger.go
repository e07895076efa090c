// Package tuilog provides file-based logging for timegrid.
// The terminal browser owns stdout/stderr while it runs, so every package
// logs through the global file logger instead.
package tuilog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EnvLogFile names the environment variable that enables logging when no
// --log flag was given.
const EnvLogFile = "TIMEGRID_LOG_FILE"

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
	}
	return "LEVEL(" + fmt.Sprint(int(l)) + ")"
}

// ParseLevel parses a level name, defaulting to debug.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelDebug
}

// sink is the shared destination of a logger and its children.
type sink struct {
	mu    sync.Mutex
	w     io.Writer
	file  *os.File
	level Level
}

// Logger writes timestamped key/value lines to a file.
type Logger struct {
	s      *sink
	prefix string
}

var (
	// Log is the global logger instance.
	Log     = &Logger{s: &sink{}}
	logOnce sync.Once
)

// Init initializes the global logger to write to the specified file.
// If path is empty, TIMEGRID_LOG_FILE is consulted; if that is empty too,
// logging stays disabled.
func Init(path string) error {
	if path == "" {
		path = os.Getenv(EnvLogFile)
	}
	if path == "" {
		return nil
	}

	var initErr error
	logOnce.Do(func() {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = err
			return
		}
		Log.s.mu.Lock()
		Log.s.file = f
		Log.s.w = f
		Log.s.mu.Unlock()
		Log.Info("logger initialized", "path", path)
	})
	return initErr
}

// New returns a logger writing to w. Used by tests and by callers that
// want a private log.
func New(w io.Writer, level Level) *Logger {
	return &Logger{s: &sink{w: w, level: level}}
}

// SetLevel drops messages below level.
func (l *Logger) SetLevel(level Level) {
	l.s.mu.Lock()
	l.s.level = level
	l.s.mu.Unlock()
}

// With returns a child logger that prefixes every message with component.
// Children share the parent's destination and level.
func (l *Logger) With(component string) *Logger {
	p := component
	if l.prefix != "" {
		p = l.prefix + "." + component
	}
	return &Logger{s: l.s, prefix: p}
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.file != nil {
		err := l.s.file.Close()
		l.s.file = nil
		l.s.w = nil
		return err
	}
	return nil
}

// Enabled returns whether logging is active.
func (l *Logger) Enabled() bool {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.w != nil
}

// Writer returns the underlying io.Writer for use with other logging libraries.
func (l *Logger) Writer() io.Writer {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.w == nil {
		return io.Discard
	}
	return l.s.w
}

func (l *Logger) log(level Level, msg string, keyvals ...any) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.w == nil || level < l.s.level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteString(": ")
	}
	b.WriteString(msg)

	for i := 0; i < len(keyvals)-1; i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		fmt.Fprintf(&b, " %v=<missing>", keyvals[len(keyvals)-1])
	}

	fmt.Fprintln(l.s.w, b.String())
	if l.s.file != nil {
		l.s.file.Sync()
	}
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.log(LevelDebug, msg, keyvals...)
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keyvals ...any) {
	l.log(LevelInfo, msg, keyvals...)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.log(LevelWarn, msg, keyvals...)
}

// Error logs an error message with optional key-value pairs.
func (l *Logger) Error(msg string, keyvals ...any) {
	l.log(LevelError, msg, keyvals...)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

// Timed logs the duration of an operation. Usage:
//
//	defer tuilog.Log.Timed("skeleton")()
func (l *Logger) Timed(operation string, keyvals ...any) func() {
	if !l.Enabled() {
		return func() {}
	}
	start := time.Now()
	return func() {
		kv := append([]any{"duration", time.Since(start)}, keyvals...)
		l.Debug(operation, kv...)
	}
}
