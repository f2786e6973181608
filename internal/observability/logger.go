package observability

import (
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log encodings
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// ParseLevel converts a level name such as "debug" or "WARN" to a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(format) {
	case "", FormatJSON:
		return zapcore.NewJSONEncoder(encoderConfig), nil
	case FormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// consoleCore writes to stderr; stdout carries the MCP protocol
func consoleCore(level, format string) (zapcore.Core, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	encoder, err := newEncoder(format)
	if err != nil {
		return nil, err
	}
	return zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl), nil
}

func newLogger(core zapcore.Core) *zap.Logger {
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", ServiceName)),
	)
}

// NewLogger builds the stderr logger
func NewLogger(level, format string) (*zap.Logger, error) {
	core, err := consoleCore(level, format)
	if err != nil {
		return nil, err
	}
	return newLogger(core), nil
}

// NewExportingLogger builds a logger that tees the stderr output into the
// global OpenTelemetry logger provider. It is a plain stderr logger until
// SetupTelemetry has installed a provider.
func NewExportingLogger(level, format string) (*zap.Logger, error) {
	core, err := consoleCore(level, format)
	if err != nil {
		return nil, err
	}
	otelCore := otelzap.NewCore(InstrumentationScope,
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)
	return newLogger(zapcore.NewTee(otelCore, core)), nil
}
