// Package logger builds the process slog.Logger from LoggingConfig.
//
// Text output goes through charmbracelet/log. JSON output writes one Entry per
// line, lifting the component and session attributes to top-level keys so
// log shippers can index them without digging into fields.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"presagebridge/pkg/config"
	"presagebridge/pkg/jsoncodec"
)

const (
	envFormat    = "PRESAGE_LOG_FORMAT"
	envLevel     = "PRESAGE_LOG_LEVEL"
	envAddSource = "PRESAGE_LOG_ADD_SOURCE"

	formatText = "text"
	formatJSON = "json"
)

// Entry is one JSON log line.
type Entry struct {
	Time      string         `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Session   string         `json:"session,omitempty"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// settings is LoggingConfig after environment overrides and validation.
type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

// Install builds a logger from cfg and makes it slog's default, so code that
// logs through slog.Default picks up the configured format and level.
func Install(cfg config.LoggingConfig) (*slog.Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}

// Discard returns a logger that drops everything. Used where a caller did
// not supply one.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.format == formatText {
		pretty := charmLog.NewWithOptions(w, charmLog.Options{
			Level:           charmLevel(s.level),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			ReportCaller:    s.addSource,
			Formatter:       charmLog.TextFormatter,
		})
		return slog.New(pretty), nil
	}

	return slog.New(&jsonHandler{
		level:     s.level,
		addSource: s.addSource,
		out:       &lockedWriter{w: w},
	}), nil
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	format := envOr(envFormat, cfg.Format)
	if format == "" {
		format = formatText
	}
	if format != formatText && format != formatJSON {
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevel(envOr(envLevel, cfg.Level))
	if err != nil {
		return settings{}, err
	}

	addSource := cfg.AddSource
	if value := envOr(envAddSource, ""); value != "" {
		addSource = parseBool(value)
	}

	return settings{format: format, level: level, addSource: addSource}, nil
}

// envOr returns the lower-cased environment value when set, otherwise the
// lower-cased fallback.
func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return strings.ToLower(value)
	}
	return strings.ToLower(strings.TrimSpace(fallback))
}

func parseLevel(text string) (slog.Level, error) {
	switch text {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", text)
	}
}

func parseBool(input string) bool {
	switch input {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) writeLine(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(append(line, '\n'))
	return err
}

type jsonHandler struct {
	level     slog.Level
	addSource bool
	out       *lockedWriter
	attrs     []slog.Attr
	prefix    string
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := Entry{
		Time:    ts.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToLower(r.Level.String()),
		Message: r.Message,
		Fields:  map[string]any{},
	}

	for _, attr := range h.attrs {
		entry.add(attr, "")
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry.add(attr, h.prefix)
		return true
	})
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}
	if h.addSource {
		entry.Caller = caller(r.PC)
	}

	line, err := jsoncodec.Marshal(entry)
	if err != nil {
		return err
	}
	return h.out.writeLine(line)
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		next.attrs = append(next.attrs, attr)
	}
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// add files attr under its prefixed key. Top-level component and session
// string attributes become Entry columns.
func (e *Entry) add(attr slog.Attr, prefix string) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := prefix + attr.Key

	if attr.Value.Kind() == slog.KindString {
		switch key {
		case "component":
			e.Component = attr.Value.String()
			return
		case "session":
			e.Session = attr.Value.String()
			return
		}
	}
	e.Fields[key] = value(attr.Value)
}

func value(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := v.Group()
		out := make(map[string]any, len(group))
		for _, item := range group {
			out[item.Key] = value(item.Value.Resolve())
		}
		return out
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		default:
			return x
		}
	default:
		return v.String()
	}
}

func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
