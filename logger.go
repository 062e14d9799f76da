package tether

import (
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"
)

type LoggerLevel int

const (
	LogDebug LoggerLevel = iota
	LogInfo
	LogWarning
	LogError
)

// Logger receives diagnostic output from the socket. kind identifies the
// component that produced the message, such as "socket" or "heartbeat".
type Logger interface {
	Print(level LoggerLevel, kind string, v ...any)
	Println(level LoggerLevel, kind string, v ...any)
	Printf(level LoggerLevel, kind string, format string, v ...any)
}

// NoopLogger is a logger that does nothing. It is the default unless debug
// mode is on or a logger is injected.
type NoopLogger int

func NewNoopLogger() *NoopLogger {
	return new(NoopLogger)
}

func (l *NoopLogger) Print(_ LoggerLevel, _ string, _ ...any)            {}
func (l *NoopLogger) Println(_ LoggerLevel, _ string, _ ...any)          {}
func (l *NoopLogger) Printf(_ LoggerLevel, _ string, _ string, _ ...any) {}

// CustomLogger logs to the given log.Logger if the message is >= logLevel.
type CustomLogger struct {
	logLevel LoggerLevel
	logger   *log.Logger
}

func NewCustomLogger(level LoggerLevel, logger *log.Logger) *CustomLogger {
	return &CustomLogger{
		logLevel: level,
		logger:   logger,
	}
}

func (l *CustomLogger) formatLevel(level LoggerLevel) string {
	switch level {
	case LogDebug:
		return "[DEBUG]"
	case LogInfo:
		return "[INFO]"
	case LogWarning:
		return "[WARNING]"
	case LogError:
		return "[ERROR]"
	}
	return "[UNK]"
}

func (l *CustomLogger) formatKind(kind string) string {
	return fmt.Sprintf("<%s>", kind)
}

func (l *CustomLogger) Print(level LoggerLevel, kind string, v ...any) {
	if level >= l.logLevel {
		l.logger.Print(append([]any{l.formatLevel(level), l.formatKind(kind)}, v...)...)
	}
}

func (l *CustomLogger) Println(level LoggerLevel, kind string, v ...any) {
	if level >= l.logLevel {
		l.logger.Println(append([]any{l.formatLevel(level), l.formatKind(kind)}, v...)...)
	}
}

func (l *CustomLogger) Printf(level LoggerLevel, kind string, format string, v ...any) {
	if level >= l.logLevel {
		l.logger.Printf(fmt.Sprintf("%s %s %s", l.formatLevel(level), l.formatKind(kind), format), v...)
	}
}

// NewSimpleLogger returns a CustomLogger that uses the 'log' package's
// DefaultLogger to log messages above the given logLevel.
func NewSimpleLogger(logLevel LoggerLevel) *CustomLogger {
	return &CustomLogger{
		logLevel: logLevel,
		logger:   log.Default(),
	}
}

// ZapLogger adapts a zap.Logger to the Logger interface. Level filtering is
// left to the zap core; the component kind is attached as a field.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger.Sugar()}
}

func (l *ZapLogger) Print(level LoggerLevel, kind string, v ...any) {
	l.write(level, kind, fmt.Sprint(v...))
}

func (l *ZapLogger) Println(level LoggerLevel, kind string, v ...any) {
	l.write(level, kind, strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l *ZapLogger) Printf(level LoggerLevel, kind string, format string, v ...any) {
	l.write(level, kind, fmt.Sprintf(format, v...))
}

func (l *ZapLogger) write(level LoggerLevel, kind string, msg string) {
	logger := l.logger.With("kind", kind)
	switch level {
	case LogDebug:
		logger.Debug(msg)
	case LogInfo:
		logger.Info(msg)
	case LogWarning:
		logger.Warn(msg)
	default:
		logger.Error(msg)
	}
}
