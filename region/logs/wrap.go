package logs

import (
	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/logs"
	"go.uber.org/zap"
)

var regionLogger *zap.Logger

func init() {
	regionLogger = logs.Named(consts.ComponentRegion)
}

func Debug(msg string, fields ...zap.Field) {
	regionLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	regionLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	regionLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	regionLogger.Error(msg, fields...)
}
