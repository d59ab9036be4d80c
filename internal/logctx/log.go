// Package logctx provides the structured logging sink used throughout the
// runtime: a single slog.Handler implementation shared by every component
// that needs to report state to the host's serial transport.
package logctx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel is a variable holding the log level. It can be changed at runtime,
// for example by a CLI flag.
var LogLevel = &slog.LevelVar{}

// DefaultLogger returns the default, process-wide logger. Components call
// DefaultLogger during construction and cache the result; the default does
// not change identity at runtime, only its level via LogLevel.
var DefaultLogger = func() *slog.Logger { return NewFormattedLogger(os.Stderr) }

// Module returns a logger bound with a "module" attribute, the realization of
// the external serial_logf(module, level, fmt, ...) sink: CPU, Memory,
// SegmentLoader, Heap, and so on each get their own bound logger so that log
// lines can be filtered or routed by subsystem without changing call sites.
// Handle renders this attribute as a distinguished MODULE header line rather
// than an ordinary attribute, since it's the one attribute every logger in
// this runtime carries.
func Module(name string) *slog.Logger {
	return DefaultLogger().With(moduleKey, name)
}

// NewFormattedLogger returns a logger that writes block-formatted records to
// out.
func NewFormattedLogger(out io.Writer) *slog.Logger {
	return slog.New(NewHandler(out))
}

// Handler implements slog.Handler to produce labeled, block-formatted log
// output: one line per attribute, grouped under a module header. It exists so
// that guest-program diagnostics (failing PC/SP, error kind, offending
// opcode) are easy to read in a terminal without a JSON pretty-printer.
type Handler struct {
	mut *sync.Mutex
	out io.Writer

	opts  *slog.HandlerOptions
	group string
	attrs []slog.Attr
}

// Options for log handlers.
var Options = &slog.HandlerOptions{
	AddSource:   true,
	Level:       LogLevel,
	ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr { return attr },
}

// NewHandler creates and initializes a Handler that writes to out.
func NewHandler(out io.Writer) *Handler {
	return &Handler{
		out:  out,
		mut:  new(sync.Mutex),
		opts: Options,
	}
}

// Enabled reports whether the handler emits records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// moduleKey is the attribute Module binds on every subsystem logger. Handle
// gives it a distinguished header line instead of burying it among the rest
// of the record's attributes, since every line this runtime emits carries
// one (CPU, Heap, SegmentLoader, ...) and a reader scanning a trace wants
// the subsystem first, not interleaved alphabetically with PC/address/error
// fields.
const moduleKey = "module"

// Handle formats and writes a single log record: a fixed TIMESTAMP/LEVEL/
// SOURCE/MODULE/MESSAGE header followed by one line per remaining
// attribute, block-formatted rather than as a single JSON object, so a
// guest program's failing PC/SP/opcode is easy to scan in a terminal.
func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	buf := make([]byte, 0, 1024)
	out := bytes.NewBuffer(buf)

	if !rec.Time.IsZero() {
		fmt.Fprintf(out, "%10s : %s\n", "TIMESTAMP", rec.Time.Format(time.RFC3339Nano))
	}

	fmt.Fprintf(out, "%10s : %s\n", "LEVEL", rec.Level.String())

	if h.opts.AddSource && rec.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{rec.PC})
		f, _ := frames.Next()
		_, file := path.Split(f.File)
		fmt.Fprintf(out, "%10s : %s:%d\n", "SOURCE", file, f.Line)
	}

	if mod, ok := findAttr(h.attrs, moduleKey); ok {
		fmt.Fprintf(out, "%10s : %s\n", "MODULE", mod.Value.Any())
	}

	fmt.Fprintf(out, "%10s : %s\n", "MESSAGE", rec.Message)

	for _, a := range h.attrs {
		if a.Key == moduleKey {
			continue
		}

		if err := h.appendAttr(out, a, false); err != nil {
			return err
		}
	}

	var appendErr error
	rec.Attrs(func(attr slog.Attr) bool {
		if attr.Key == moduleKey {
			return true
		}

		if err := h.appendAttr(out, attr, false); err != nil {
			appendErr = err
			return false
		}
		return true
	})

	if appendErr != nil {
		return appendErr
	}

	fmt.Fprintln(out)

	h.mut.Lock()
	defer h.mut.Unlock()

	_, err := h.out.Write(out.Bytes())

	return err
}

// findAttr returns the first attribute in attrs keyed name, if any.
func findAttr(attrs []slog.Attr, name string) (slog.Attr, bool) {
	for _, a := range attrs {
		if a.Key == name {
			return a, true
		}
	}

	return slog.Attr{}, false
}

// WithGroup returns a handler that passes name to ReplaceAttr as the group.
// Attributes are not nested or prefixed in the output, and a later
// WithAttrs call drops the group.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)

	return &Handler{mut: h.mut, out: h.out, opts: h.opts, attrs: attrs, group: name}
}

// WithAttrs returns a handler that combines its attributes with attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	as := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	as = append(as, h.attrs...)
	as = append(as, attrs...)

	return &Handler{out: h.out, mut: h.mut, opts: h.opts, attrs: as}
}

func (h *Handler) appendAttr(out io.Writer, attr slog.Attr, grouped bool) error {
	attr.Value = attr.Value.Resolve()
	attr = h.opts.ReplaceAttr([]string{h.group}, attr)

	key, value := strings.ToUpper(attr.Key), attr.Value

	switch {
	case attr.Equal(slog.Attr{}):
		return nil
	case value.Kind() != slog.KindGroup:
		if grouped {
			fmt.Fprint(out, "  ")
		}

		_, err := fmt.Fprintf(out, "%10s : %v\n", key, value.Any())

		return err
	case key != "":
		if _, err := fmt.Fprintf(out, "%10s :\n", key); err != nil {
			return err
		}

		for _, a := range value.Group() {
			if err := h.appendAttr(out, a, true); err != nil {
				return err
			}
		}
	default:
		for _, a := range value.Group() {
			if err := h.appendAttr(out, a, grouped); err != nil {
				return err
			}
		}
	}

	return nil
}
