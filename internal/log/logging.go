// Package log builds the slog.Logger used by the command line tools.
//
// Records go to the console, and optionally to a rotating file and a serial
// port. On a terminal the console handler writes text; otherwise it writes
// JSON so the output can be collected by other tools.
package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.bug.st/serial"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ardnew/dwc2host/pkg"
)

// LevelTrace is the slog level for per-transaction traffic.
const LevelTrace = pkg.LevelTrace

// Format selects the console encoding.
type Format string

// Console formats.
const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures SetupLogger.
type Options struct {
	Level  string
	Format Format

	// File, when set, receives every record through a rotating writer.
	File       string
	MaxSizeMB  int
	MaxBackups int

	// Serial, when set, mirrors records to a UART at Baud.
	Serial string
	Baud   int
}

// ErrUnknownLevel is returned by ParseLevel for an unrecognized name.
var ErrUnknownLevel = errors.New("unknown log level")

// ParseLevel maps a level name to its slog level. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// MultiHandler fans out records to multiple handlers.
type MultiHandler struct{ hs []slog.Handler }

// NewMultiHandler returns a handler writing to every h.
func NewMultiHandler(h ...slog.Handler) MultiHandler {
	return MultiHandler{hs: h}
}

func (m MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.hs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.hs {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithAttrs(attrs)
	}
	return MultiHandler{hs: out}
}

func (m MultiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithGroup(name)
	}
	return MultiHandler{hs: out}
}

// replaceLevel prints LevelTrace as TRACE instead of DEBUG-4.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// NewConsoleHandler returns a handler for w. FormatAuto picks text when w is
// a terminal and JSON otherwise.
func NewConsoleHandler(w io.Writer, format Format, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	if format == FormatAuto || format == "" {
		format = FormatJSON
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = FormatText
		}
	}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// openSerial is replaced in tests.
var openSerial = func(port string, baud int) (io.WriteCloser, error) {
	return serial.Open(port, &serial.Mode{BaudRate: baud})
}

// SetupLogger builds a logger from opts writing to console. The returned
// closers release the file and serial sinks.
func SetupLogger(console io.Writer, opts Options) (*slog.Logger, []io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	handlers := []slog.Handler{NewConsoleHandler(console, opts.Format, level)}
	var closers []io.Closer

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		closers = append(closers, rotator)
		handlers = append(handlers, slog.NewJSONHandler(rotator,
			&slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}))
	}

	if opts.Serial != "" {
		baud := opts.Baud
		if baud == 0 {
			baud = 115200
		}
		port, err := openSerial(opts.Serial, baud)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, port)
		handlers = append(handlers, slog.NewTextHandler(port,
			&slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}))
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closers, nil
	}
	return slog.New(NewMultiHandler(handlers...)), closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
