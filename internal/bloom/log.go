package bloom

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// fileSink is an io.Writer that buffers everything written to it until
// Open is called, then appends to the given path, writing a session
// separator line first if the file was non-empty, and fsyncing after
// every write so the file sink never loses a line to a crash.
//
// Grounded on bloom::log::FileLogger from original_source — "buffered
// before first initialize, then append-on-write with a session separator
// line on non-empty rollover. The file sink must flush per log call."
type fileSink struct {
	mu      sync.Mutex
	file    *os.File
	pending [][]byte
}

func (f *fileSink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		cp := append([]byte(nil), p...)
		f.pending = append(f.pending, cp)
		return len(p), nil
	}
	n, err := f.file.Write(p)
	if err == nil {
		_ = f.file.Sync()
	}
	return n, err
}

// Open binds the sink to path, flushing anything buffered so far.
func (f *fileSink) Open(path string) error {
	if err := os.MkdirAll(parentDir(path), 0o755); err != nil {
		return err
	}
	info, statErr := os.Stat(path)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.file = file
	if statErr == nil && info.Size() > 0 {
		sep := strings.Repeat("-", 60) + "\n"
		if _, err := f.file.WriteString(sep); err != nil {
			return err
		}
	}
	for _, p := range f.pending {
		if _, err := f.file.Write(p); err != nil {
			return err
		}
	}
	f.pending = nil
	return f.file.Sync()
}

func parentDir(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "."
	}
	return path[:i]
}

// Logger is the dual-sink logger from spec §4.G: a console sink (colour,
// right-aligned level tag, TTY-gated) and a file sink (always structured,
// ISO-like timestamps, flushed per call).
type Logger struct {
	minLevel LogLevel
	boot     SystemTimer

	console zerolog.Logger
	file    zerolog.Logger
	sink    *fileSink
}

// NewLogger builds a Logger that writes human-readable lines to
// consoleOut (ANSI colour only if consoleOut is a TTY) and buffers file
// output until Initialize is called.
func NewLogger(minLevel LogLevel, consoleOut *os.File) *Logger {
	isTTY := consoleOut != nil && isatty.IsTerminal(consoleOut.Fd())

	cw := zerolog.ConsoleWriter{Out: consoleOut, NoColor: !isTTY, TimeFormat: "15:04:05"}
	cw.FormatLevel = func(i interface{}) string {
		tag := fmt.Sprintf("%5s", strings.ToUpper(fmt.Sprintf("%v", i)))
		if !isTTY {
			return tag
		}
		lvl := levelFromZerolog(fmt.Sprintf("%v", i))
		return colorLevel(lvl, tag)
	}
	cw.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}

	sink := &fileSink{}
	zerolog.TimeFieldFormat = time.RFC3339
	fileLogger := zerolog.New(sink).With().Timestamp().Logger()

	return &Logger{
		minLevel: minLevel,
		boot:     NewSystemTimer(),
		console:  zerolog.New(cw).With().Timestamp().Logger(),
		file:     fileLogger,
		sink:     sink,
	}
}

func levelFromZerolog(s string) LogLevel {
	switch strings.ToLower(s) {
	case "warn":
		return Warn
	case "error", "fatal":
		return Fail
	default:
		return Info
	}
}

// Initialize binds the file sink to path. Any lines logged before this
// call are flushed in order.
func (l *Logger) Initialize(path string) error {
	return l.sink.Open(path)
}

func (l *Logger) enabled(level LogLevel) bool { return level >= l.minLevel }

func zlevel(level LogLevel) zerolog.Level {
	switch level {
	case Warn:
		return zerolog.WarnLevel
	case Fail:
		return zerolog.ErrorLevel
	case Ok:
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Message writes a one-line, right-aligned, colourised status line to the
// console sink only. Matches bloom::log console format: a dim elapsed-time
// stamp followed by the coloured level tag and the message.
func (l *Logger) Message(level LogLevel, msg string) {
	if !l.enabled(level) {
		return
	}
	elapsed := colorTime(l.boot.FormatElapsed())
	l.console.WithLevel(zlevel(level)).Msg(elapsed + " " + msg)
}

// Log writes a structured line to the file sink only.
func (l *Logger) Log(level LogLevel, msg string) {
	if !l.enabled(level) {
		return
	}
	l.file.WithLevel(zlevel(level)).Str("status", level.String()).Msg(msg)
}

// Logf is Log with fmt.Sprintf-style formatting, used pervasively by
// callers that build one-off diagnostic strings.
func (l *Logger) Logf(level LogLevel, format string, args ...interface{}) {
	l.Log(level, fmt.Sprintf(format, args...))
}

// Both writes to both sinks, matching the common pattern in the original
// where every user-facing event is echoed to console and file alike.
func (l *Logger) Both(level LogLevel, msg string) {
	l.Message(level, msg)
	l.Log(level, msg)
}

// Bothf is Both with formatting.
func (l *Logger) Bothf(level LogLevel, format string, args ...interface{}) {
	l.Both(level, fmt.Sprintf(format, args...))
}

// WithField returns a structured sub-logger for the file sink, used when
// a caller wants to attach e.g. a request ID or service name to every
// subsequent line without re-typing it.
func (l *Logger) WithField(key string, value interface{}) *FieldLogger {
	return &FieldLogger{parent: l, key: key, value: value}
}

// FieldLogger decorates every Log call with one extra structured field.
type FieldLogger struct {
	parent *Logger
	key    string
	value  interface{}
}

func (f *FieldLogger) Log(level LogLevel, msg string) {
	if !f.parent.enabled(level) {
		return
	}
	f.parent.file.WithLevel(zlevel(level)).
		Str("status", level.String()).
		Interface(f.key, f.value).
		Msg(msg)
}

func (f *FieldLogger) Logf(level LogLevel, format string, args ...interface{}) {
	f.Log(level, fmt.Sprintf(format, args...))
}

var _ io.Writer = (*fileSink)(nil)
