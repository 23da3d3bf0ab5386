package main

import (
	"os"

	"github.com/Trinoooo/vdshm/cli"
	"github.com/Trinoooo/vdshm/logs"
	"go.uber.org/zap"
)

func main() {
	wrapper := cli.NewWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		logs.Logger.Fatal("vdshm exit", zap.Error(err))
	}
}
