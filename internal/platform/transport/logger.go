package transport

import (
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	unnamedFieldTemplateConstant = "field_%d"
)

type zapLeveledLogger struct {
	logger *zap.Logger
}

// NewLeveledLogger adapts a zap logger to the retryablehttp logging contract.
func NewLeveledLogger(logger *zap.Logger) retryablehttp.LeveledLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapLeveledLogger{logger: logger}
}

func (adapter *zapLeveledLogger) Error(message string, keysAndValues ...interface{}) {
	adapter.logger.Error(message, convertKeysAndValues(keysAndValues)...)
}

func (adapter *zapLeveledLogger) Info(message string, keysAndValues ...interface{}) {
	adapter.logger.Debug(message, convertKeysAndValues(keysAndValues)...)
}

func (adapter *zapLeveledLogger) Debug(message string, keysAndValues ...interface{}) {
	adapter.logger.Debug(message, convertKeysAndValues(keysAndValues)...)
}

func (adapter *zapLeveledLogger) Warn(message string, keysAndValues ...interface{}) {
	adapter.logger.Warn(message, convertKeysAndValues(keysAndValues)...)
}

func convertKeysAndValues(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, (len(keysAndValues)+1)/2)
	for index := 0; index < len(keysAndValues); index += 2 {
		key, isString := keysAndValues[index].(string)
		if !isString {
			key = fmt.Sprintf(unnamedFieldTemplateConstant, index)
		}
		if index+1 >= len(keysAndValues) {
			fields = append(fields, zap.Any(key, nil))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[index+1]))
	}
	return fields
}
