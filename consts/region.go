package consts

import (
	"fmt"

	"github.com/mitchellh/go-homedir"
)

const (
	DefaultRegionName = "vdshm"
	DevShmDir         = "/dev/shm"
)

func init() {
	home, _ := homedir.Dir()
	BaseDir = fmt.Sprintf("%s/vdshm", home)
	DefaultConfigPath = fmt.Sprintf("%s/config", BaseDir)
}

var (
	BaseDir           string
	DefaultConfigPath string
)
