// Package logging provides component loggers for fingerprint, backed by
// charmbracelet/log and a size-rotating log file.
//
//	if err := logging.Init(logging.DefaultConfig()); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logger := logging.Get("walker")
//	logger.Info("walk started", "root", root)
//
// A Logger is a handle: it resolves its outputs on every call, so handles
// taken before Init, or before a later Init swaps the outputs, stay valid.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a logging level.
type Level = log.Level

// Log levels from least to most severe.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components maps component names to level overrides.
	Components map[string]string

	// ConsoleLevel enables stderr output at the given level. Empty disables it.
	ConsoleLevel string

	// Quiet suppresses console output while a progress view owns the terminal.
	Quiet bool
}

// levels is a Config with every level parsed.
type levels struct {
	base       Level
	components map[string]Level
	console    Level
	consoleOn  bool
}

func (c Config) levels() (levels, error) {
	var lv levels
	var err error
	if lv.base, err = ParseLevel(c.Level); err != nil {
		return levels{}, fmt.Errorf("parsing log level: %w", err)
	}
	lv.components = make(map[string]Level, len(c.Components))
	for comp, s := range c.Components {
		parsed, err := ParseLevel(s)
		if err != nil {
			return levels{}, fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		lv.components[comp] = parsed
	}
	if c.ConsoleLevel != "" && !c.Quiet {
		if lv.console, err = ParseLevel(c.ConsoleLevel); err != nil {
			return levels{}, fmt.Errorf("parsing console level: %w", err)
		}
		lv.consoleOn = true
	}
	return lv, nil
}

// Logger writes to the log file and, when enabled, to stderr.
type Logger struct {
	reg       *registry
	component string
	fields    []interface{}
}

// Component returns the component name.
func (l *Logger) Component() string { return l.component }

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args) }

func (l *Logger) log(level Level, msg string, args []interface{}) {
	if l.reg == nil {
		return
	}
	kv := args
	if len(l.fields) > 0 {
		kv = append(append(make([]interface{}, 0, len(l.fields)+len(args)), l.fields...), args...)
	}
	for _, out := range l.reg.outputs(l.component) {
		out.Log(level, msg, kv...)
	}
}

// With returns a logger that adds key/value context to every message.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := append(append(make([]interface{}, 0, len(l.fields)+len(args)), l.fields...), args...)
	return &Logger{reg: l.reg, component: l.component, fields: fields}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{component: "nop"}
}

// registry owns the log file and the per-component outputs built from it.
type registry struct {
	mu      sync.RWMutex
	writer  *RotatingWriter
	levels  levels
	outs    map[string][]*log.Logger
	handles map[string]*Logger
}

var std = &registry{
	outs:    make(map[string][]*log.Logger),
	handles: make(map[string]*Logger),
}

// outputs returns the charm loggers for component, building them on first
// use. Before Init there are none.
func (r *registry) outputs(component string) []*log.Logger {
	r.mu.RLock()
	outs, ok := r.outs[component]
	writer := r.writer
	r.mu.RUnlock()
	if ok || writer == nil {
		return outs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if outs, ok := r.outs[component]; ok {
		return outs
	}
	outs = r.build(component)
	r.outs[component] = outs
	return outs
}

// build must be called with r.mu held.
func (r *registry) build(component string) []*log.Logger {
	if r.writer == nil {
		return nil
	}
	level := r.levels.base
	if l, ok := r.levels.components[component]; ok {
		level = l
	}
	outs := []*log.Logger{log.NewWithOptions(r.writer, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          component,
	})}
	if r.levels.consoleOn {
		outs = append(outs, log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.levels.console,
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		}))
	}
	return outs
}

// Init configures the logging system, replacing any earlier configuration.
// Before Init is called every logger discards its output.
func Init(cfg Config) error {
	lv, err := cfg.levels()
	if err != nil {
		return err
	}
	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	std.mu.Lock()
	old := std.writer
	std.writer = writer
	std.levels = lv
	std.outs = make(map[string][]*log.Logger)
	std.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			return fmt.Errorf("closing previous log writer: %w", err)
		}
	}
	return nil
}

// Get returns the logger for component.
func Get(component string) *Logger {
	std.mu.RLock()
	h, ok := std.handles[component]
	std.mu.RUnlock()
	if ok {
		return h
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if h, ok := std.handles[component]; ok {
		return h
	}
	h = &Logger{reg: std, component: component}
	std.handles[component] = h
	return h
}

// Close flushes and closes the log file. Loggers discard output until the
// next Init.
func Close() error {
	std.mu.Lock()
	writer := std.writer
	std.writer = nil
	std.outs = make(map[string][]*log.Logger)
	std.mu.Unlock()

	if writer == nil {
		return nil
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath returns $XDG_STATE_HOME/fingerprint/fingerprint.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "fingerprint", "fingerprint.log")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
