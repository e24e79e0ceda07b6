package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level names printed in front of every line.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelDebug = "DEBUG"
)

// Logger is a named logger. Lines look like:
//
//	2025/01/02 15:04:05.000000 INFO [api>] listening on 127.0.0.1:8787
type Logger struct {
	name string
	std  *stdlog.Logger
}

// output is shared by every logger so SetOutput reaches existing ones.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

var (
	out         = &output{w: os.Stderr}
	globalDebug atomic.Bool
	debugFor    sync.Map // name -> *atomic.Bool
	loggers     sync.Map // name -> *Logger
)

// ForService returns the memoized logger for name.
func ForService(name string) *Logger {
	if name == "" {
		name = "unknown"
	}
	if l, ok := loggers.Load(name); ok {
		return l.(*Logger)
	}
	l := &Logger{name: name, std: stdlog.New(out, "", stdlog.LstdFlags|stdlog.Lmicroseconds)}
	actual, _ := loggers.LoadOrStore(name, l)
	return actual.(*Logger)
}

// Name returns the service name of l.
func (l *Logger) Name() string { return l.name }

// SetGlobalDebug enables or disables debug output for every logger.
func SetGlobalDebug(enabled bool) {
	globalDebug.Store(enabled)
}

// GlobalDebug reports whether debug output is enabled globally.
func GlobalDebug() bool {
	return globalDebug.Load()
}

func debugFlag(name string) *atomic.Bool {
	v, _ := debugFor.LoadOrStore(name, &atomic.Bool{})
	return v.(*atomic.Bool)
}

// EnableDebugFor enables debug output for one service.
func EnableDebugFor(name string) {
	if name != "" {
		debugFlag(name).Store(true)
	}
}

// DisableDebugFor disables debug output for one service. Global debug
// still applies.
func DisableDebugFor(name string) {
	if v, ok := debugFor.Load(name); ok {
		v.(*atomic.Bool).Store(false)
	}
}

// EnableDebugList enables debug output for a comma separated list of
// services, as accepted by the --debug-for flag.
func EnableDebugList(list string) {
	for _, name := range strings.Split(list, ",") {
		EnableDebugFor(strings.TrimSpace(name))
	}
}

// DebugEnabledFor reports whether debug lines of name are printed.
func DebugEnabledFor(name string) bool {
	if globalDebug.Load() {
		return true
	}
	if v, ok := debugFor.Load(name); ok {
		return v.(*atomic.Bool).Load()
	}
	return false
}

// SetOutput redirects every logger, existing or future, to w.
func SetOutput(w io.Writer) {
	if w == nil {
		return
	}
	out.mu.Lock()
	out.w = w
	out.mu.Unlock()
}

func (l *Logger) emit(level, format string, args ...any) {
	l.std.Println(level + " [" + l.name + ">] " + fmt.Sprintf(format, args...))
}

// Infof logs an informational message.
func (l *Logger) Infof(format string, args ...any) { l.emit(LevelInfo, format, args...) }

// Warnf logs a warning.
func (l *Logger) Warnf(format string, args ...any) { l.emit(LevelWarn, format, args...) }

// Errorf logs an error.
func (l *Logger) Errorf(format string, args ...any) { l.emit(LevelError, format, args...) }

// Debugf logs only when debug is enabled for the logger's service.
func (l *Logger) Debugf(format string, args ...any) {
	if DebugEnabledFor(l.name) {
		l.emit(LevelDebug, format, args...)
	}
}
