package gologger

import (
	"context"
	"io"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// ZerologLogger writes glog calls as single-line JSON through zerolog.
// Arguments are read as alternating key/value pairs.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger builds a JSON logger at the given level. Unknown levels
// fall back to info.
func NewZerologLogger(out io.Writer, service string, level string) *ZerologLogger {
	if out == nil {
		out = os.Stdout
	}
	base := zerolog.New(out).With().Timestamp()
	if service = strings.TrimSpace(service); service != "" {
		base = base.Str("service", service)
	}
	logger := base.Logger()

	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return &ZerologLogger{logger: logger.Level(parsed)}
}

func FromZerolog(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) Trace(msg string, args ...any) { l.emit(l.logger.Trace(), msg, args) }
func (l *ZerologLogger) Debug(msg string, args ...any) { l.emit(l.logger.Debug(), msg, args) }
func (l *ZerologLogger) Info(msg string, args ...any)  { l.emit(l.logger.Info(), msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { l.emit(l.logger.Warn(), msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { l.emit(l.logger.Error(), msg, args) }

// Fatal logs at fatal severity without exiting the process.
func (l *ZerologLogger) Fatal(msg string, args ...any) {
	l.emit(l.logger.WithLevel(zerolog.FatalLevel), msg, args)
}

func (l *ZerologLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

// Named returns a child logger tagged with a component field.
func (l *ZerologLogger) Named(component string) *ZerologLogger {
	return &ZerologLogger{logger: l.logger.With().Str("component", component).Logger()}
}

func (l *ZerologLogger) emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	if len(args) > 0 {
		event = event.Fields(normalizePairs(args))
	}
	event.Msg(msg)
}

// normalizePairs pads a dangling key and stringifies non-string keys.
func normalizePairs(args []any) []any {
	out := make([]any, 0, len(args)+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		var value any
		if i+1 < len(args) {
			value = args[i+1]
		}
		out = append(out, key, value)
	}
	return out
}

// ZerologProvider hands out component loggers sharing one sink.
type ZerologProvider struct {
	root *ZerologLogger
}

func NewZerologProvider(root *ZerologLogger) *ZerologProvider {
	return &ZerologProvider{root: root}
}

func (p *ZerologProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return glog.Nop()
	}
	if name = strings.TrimSpace(name); name == "" {
		return p.root
	}
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*ZerologLogger)(nil)
	_ glog.LoggerProvider = (*ZerologProvider)(nil)
)
