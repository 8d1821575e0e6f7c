package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logLevelDebugStringConstant          = "debug"
	logLevelInfoStringConstant           = "info"
	logLevelWarnStringConstant           = "warn"
	logLevelErrorStringConstant          = "error"
	logFormatStructuredStringConstant    = "structured"
	logFormatConsoleStringConstant       = "console"
	unsupportedLogLevelTemplateConstant  = "unsupported log level: %s"
	unsupportedLogFormatTemplateConstant = "unsupported log format: %s"
	timestampKeyConstant                 = "ts"
)

// LogLevel enumerates supported logging granularities.
type LogLevel string

// Exported log level constants for reuse across packages.
const (
	LogLevelDebug LogLevel = LogLevel(logLevelDebugStringConstant)
	LogLevelInfo  LogLevel = LogLevel(logLevelInfoStringConstant)
	LogLevelWarn  LogLevel = LogLevel(logLevelWarnStringConstant)
	LogLevelError LogLevel = LogLevel(logLevelErrorStringConstant)
)

// LogFormat enumerates supported logger output encodings.
type LogFormat string

// Exported log format constants for reuse across packages.
const (
	LogFormatStructured LogFormat = LogFormat(logFormatStructuredStringConstant)
	LogFormatConsole    LogFormat = LogFormat(logFormatConsoleStringConstant)
)

// LoggerFactory builds zap.Logger instances that write to a single output.
type LoggerFactory struct {
	output zapcore.WriteSyncer
}

var logLevelMapping = map[LogLevel]zapcore.Level{
	LogLevelDebug: zapcore.DebugLevel,
	LogLevelInfo:  zapcore.InfoLevel,
	LogLevelWarn:  zapcore.WarnLevel,
	LogLevelError: zapcore.ErrorLevel,
}

// NewLoggerFactory constructs a factory writing to stderr. Stdout is reserved for
// the run summary.
func NewLoggerFactory() *LoggerFactory {
	return NewLoggerFactoryWithOutput(os.Stderr)
}

// NewLoggerFactoryWithOutput constructs a factory writing to output.
func NewLoggerFactoryWithOutput(output io.Writer) *LoggerFactory {
	return &LoggerFactory{output: zapcore.Lock(zapcore.AddSync(output))}
}

// ParseLogSettings normalizes case-insensitive level and format names.
func ParseLogSettings(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (zapcore.Level, LogFormat, error) {
	normalizedLevel := LogLevel(strings.ToLower(strings.TrimSpace(string(requestedLogLevel))))
	zapLogLevel, levelExists := logLevelMapping[normalizedLevel]
	if !levelExists {
		return zapcore.InfoLevel, "", fmt.Errorf(unsupportedLogLevelTemplateConstant, requestedLogLevel)
	}

	normalizedFormat := LogFormat(strings.ToLower(strings.TrimSpace(string(requestedLogFormat))))
	switch normalizedFormat {
	case LogFormatStructured, LogFormatConsole:
		return zapLogLevel, normalizedFormat, nil
	default:
		return zapLogLevel, "", fmt.Errorf(unsupportedLogFormatTemplateConstant, requestedLogFormat)
	}
}

// CreateLogger produces an unsampled logger. The structured format emits JSON lines
// with caller information; the console format emits aligned text without callers.
func (factory *LoggerFactory) CreateLogger(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (*zap.Logger, error) {
	zapLogLevel, logFormat, parseError := ParseLogSettings(requestedLogLevel, requestedLogFormat)
	if parseError != nil {
		return nil, parseError
	}

	encoderConfiguration := zap.NewProductionEncoderConfig()
	encoderConfiguration.TimeKey = timestampKeyConstant
	encoderConfiguration.EncodeTime = zapcore.ISO8601TimeEncoder

	options := []zap.Option{zap.ErrorOutput(factory.output)}
	var encoder zapcore.Encoder
	if logFormat == LogFormatConsole {
		encoderConfiguration.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfiguration)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfiguration)
		options = append(options, zap.AddCaller())
	}

	core := zapcore.NewCore(encoder, factory.output, zap.NewAtomicLevelAt(zapLogLevel))
	return zap.New(core, options...), nil
}
