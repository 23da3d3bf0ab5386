package logs

import (
	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/utils"
	"go.uber.org/zap"
)

var Logger *zap.Logger

func init() {
	var err error
	option := zap.AddCaller()
	if utils.IsTest() {
		Logger, err = zap.NewDevelopment(option)
	} else {
		Logger, err = zap.NewProduction(option)
	}

	if err != nil {
		panic(err)
	}
}

// Named 带组件字段的子 logger
func Named(component string) *zap.Logger {
	return Logger.With(zap.String(consts.LogFieldComponent, component))
}
