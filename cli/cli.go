package cli

import (
	"github.com/Trinoooo/vdshm/config"
	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/logs"
	"github.com/Trinoooo/vdshm/region"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	flagConfig = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "config file path, default ~/vdshm/config/config.yaml.",
		EnvVars: []string{consts.ConfigPath},
	}
	flagName = &cli.StringFlag{
		Name:    "name",
		Aliases: []string{"n"},
		Value:   consts.DefaultRegionName,
		Usage:   "shared memory region name.",
		EnvVars: []string{consts.RegionName},
	}
	flagDir = &cli.StringFlag{
		Name:    "dir",
		Aliases: []string{"d"},
		Usage:   "directory of the region file, default /dev/shm.",
		EnvVars: []string{consts.RegionDir},
	}
	flagHost = &cli.StringFlag{
		Name:    "host",
		Value:   "127.0.0.1",
		Usage:   "control surface host name.",
		EnvVars: []string{consts.PanelHost},
	}
	flagPort = &cli.Int64Flag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   8014,
		Usage:   "control surface port number, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int64) error {
			if port <= 0 || port > 65535 {
				e := errs.NewInvalidParamErr()
				logs.Logger.Error(e.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int64(consts.LogFieldValue, port))
				return e
			}
			return nil
		},
		EnvVars: []string{consts.PanelPort},
	}
	flagDriver = &cli.StringFlag{
		Name:  "driver",
		Usage: "driver command line launched by the panel.",
	}
	flagRegulator = &cli.StringFlag{
		Name:  "regulator",
		Usage: "regulator command line launched by the panel after the driver.",
	}
	flagLaunchDelay = &cli.DurationFlag{
		Name:  "launch-delay",
		Usage: "delay between launching the driver and the regulator.",
	}
	flagFps = &cli.IntFlag{
		Name:    "fps",
		Aliases: []string{"f"},
		Value:   24,
		Usage:   "frames per second, 0 < fps <= 1000 are available.",
		EnvVars: []string{consts.RegulatorFps},
	}
)

type Wrapper struct {
	app *cli.App
}

func NewWrapper() *Wrapper {
	wrapper := &Wrapper{
		app: &cli.App{
			Name:    "vdshm",
			Usage:   "shared memory between the voxel display control panel, driver and regulator",
			Version: "0.2.0",
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withCommands()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *Wrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *Wrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
	cli.AppHelpTemplate = consts.HelpTemplate
}

func (wrapper *Wrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagConfig,
		flagName,
		flagDir,
	}
}

func (wrapper *Wrapper) withCommands() {
	wrapper.app.Commands = []*cli.Command{
		{
			Name:   "panel",
			Usage:  "create the region, serve the control surface and supervise driver and regulator",
			Flags:  []cli.Flag{flagHost, flagPort, flagDriver, flagRegulator, flagLaunchDelay},
			Action: panelAction,
		},
		{
			Name:   "inspect",
			Usage:  "print a snapshot of an existing region",
			Action: inspectAction,
		},
		{
			Name:   "destroy",
			Usage:  "remove a region whose creator has exited",
			Action: destroyAction,
		},
		{
			Name:   "regulate",
			Usage:  "publish frame timing at a fixed rate",
			Flags:  []cli.Flag{flagFps},
			Action: regulateAction,
		},
		{
			Name:   "console",
			Usage:  "interactive console attached to a region",
			Action: consoleAction,
		},
	}
}

func (wrapper *Wrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}

// loadConfig 配置文件与环境变量打底，命令行显式指定的参数优先
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig.Name))
	if err != nil {
		return nil, err
	}

	if c.IsSet(flagName.Name) {
		cfg.Region.Name = c.String(flagName.Name)
	}
	if c.IsSet(flagDir.Name) {
		cfg.Region.Dir = c.String(flagDir.Name)
	}
	if c.IsSet(flagHost.Name) {
		cfg.Panel.Host = c.String(flagHost.Name)
	}
	if c.IsSet(flagPort.Name) {
		cfg.Panel.Port = c.Int64(flagPort.Name)
	}
	if c.IsSet(flagDriver.Name) {
		cfg.Supervisor.Driver = c.String(flagDriver.Name)
	}
	if c.IsSet(flagRegulator.Name) {
		cfg.Supervisor.Regulator = c.String(flagRegulator.Name)
	}
	if c.IsSet(flagLaunchDelay.Name) {
		cfg.Supervisor.LaunchDelay = c.Duration(flagLaunchDelay.Name)
	}
	if c.IsSet(flagFps.Name) {
		cfg.Regulator.Fps = c.Int(flagFps.Name)
	}

	if err = cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func regionOptions(cfg *config.Config) *region.Options {
	return region.NewOptions().
		SetDir(cfg.Region.Dir).
		SetReadRetries(cfg.Region.ReadRetries).
		SetRetryBackoff(cfg.Region.RetryBackoff)
}
