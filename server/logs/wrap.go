package logs

import (
	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/logs"
	"go.uber.org/zap"
)

var serverLogger *zap.Logger

func init() {
	serverLogger = logs.Named(consts.ComponentServer)
}

func Debug(msg string, fields ...zap.Field) {
	serverLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	serverLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	serverLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	serverLogger.Error(msg, fields...)
}
