// Package log is the structured logger used across the coordinator.
package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type log struct {
	*zap.SugaredLogger
}

// Logger logs at different levels, with key/value pairs.
type Logger interface {
	Info(keyvals ...interface{})
	Debug(keyvals ...interface{})
	Warn(keyvals ...interface{})
	Error(keyvals ...interface{})
	Fatal(keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Debugw(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	Fatalw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(s string) Logger
}

func (l *log) With(args ...interface{}) Logger {
	return &log{l.SugaredLogger.With(args...)}
}

func (l *log) Named(s string) Logger {
	return &log{l.SugaredLogger.Named(s)}
}

const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
	FatalLevel = int(zapcore.FatalLevel)
)

// DefaultLevel is the level of the default logger. CEREMONY_LOGS=DEBUG
// lowers it to DebugLevel.
var DefaultLevel = InfoLevel

func init() {
	if v, ok := os.LookupEnv("CEREMONY_LOGS"); ok && v == "DEBUG" {
		DefaultLevel = DebugLevel
	}
}

var defaultOnce sync.Once

// DefaultLogger returns the process wide logger, writing console lines to
// stderr at DefaultLevel.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		zap.ReplaceGlobals(newZapLogger(os.Stderr, consoleEncoder(), DefaultLevel))
	})
	return &log{zap.S()}
}

// New returns a logger writing to output at the given level. A nil output
// means stderr.
func New(output zapcore.WriteSyncer, level int, isJSON bool) Logger {
	encoder := consoleEncoder()
	if isJSON {
		encoder = jsonEncoder()
	}
	return &log{newZapLogger(output, encoder, level).Sugar()}
}

// ParseLevel maps a level name (debug, info, warn, error) to its value.
func ParseLevel(name string) (int, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, err
	}
	return int(lvl), nil
}

func newZapLogger(output zapcore.WriteSyncer, encoder zapcore.Encoder, level int) *zap.Logger {
	if output == nil {
		output = os.Stderr
	}
	core := zapcore.NewCore(encoder, output, zapcore.Level(level))
	return zap.New(core, zap.WithCaller(true))
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

type ctxLoggerKey struct{}

// ToContext stores l in the returned context.
func ToContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

// FromContextOrDefault returns the logger stored by ToContext, or the
// default logger.
func FromContextOrDefault(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxLoggerKey{}).(Logger); ok {
		return l
	}
	return DefaultLogger()
}
