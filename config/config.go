package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/logs"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// 配置项 key
const (
	KeyRegionName           = "region.name"
	KeyRegionDir            = "region.dir"
	KeyRegionReadRetries    = "region.read_retries"
	KeyRegionRetryBackoff   = "region.retry_backoff"
	KeyPanelHost            = "panel.host"
	KeyPanelPort            = "panel.port"
	KeySupervisorDriver     = "supervisor.driver"
	KeySupervisorRegulator  = "supervisor.regulator"
	KeySupervisorDelay      = "supervisor.launch_delay"
	KeySupervisorStopPeriod = "supervisor.stop_period"
	KeyRegulatorFps         = "regulator.fps"
)

type Config struct {
	Region     RegionConfig     `mapstructure:"region"`
	Panel      PanelConfig      `mapstructure:"panel"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Regulator  RegulatorConfig  `mapstructure:"regulator"`
}

type RegionConfig struct {
	Name         string        `mapstructure:"name"`
	Dir          string        `mapstructure:"dir"`
	ReadRetries  int           `mapstructure:"read_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type PanelConfig struct {
	Host string `mapstructure:"host"`
	Port int64  `mapstructure:"port"`
}

// SupervisorConfig 子进程命令行，空串表示不启动
type SupervisorConfig struct {
	Driver      string        `mapstructure:"driver"`
	Regulator   string        `mapstructure:"regulator"`
	LaunchDelay time.Duration `mapstructure:"launch_delay"`
	StopPeriod  time.Duration `mapstructure:"stop_period"`
}

type RegulatorConfig struct {
	Fps int `mapstructure:"fps"`
}

var configLogger = logs.Named("config")

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyRegionName, consts.DefaultRegionName)
	v.SetDefault(KeyRegionDir, "")
	v.SetDefault(KeyRegionReadRetries, 64)
	v.SetDefault(KeyRegionRetryBackoff, 20*time.Microsecond)
	v.SetDefault(KeyPanelHost, "127.0.0.1")
	v.SetDefault(KeyPanelPort, 8014)
	v.SetDefault(KeySupervisorDriver, "")
	v.SetDefault(KeySupervisorRegulator, "")
	v.SetDefault(KeySupervisorDelay, 500*time.Millisecond)
	v.SetDefault(KeySupervisorStopPeriod, 3*time.Second)
	v.SetDefault(KeyRegulatorFps, 24)
}

// Load 读取 yaml 配置，path 为空时在默认目录找 config.yaml。
// 配置文件不存在不算错误，此时使用默认值与 VDSHM_ 前缀的环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(consts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(consts.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			e := errs.NewReadConfigErr().WithErr(err)
			configLogger.Error(e.Error(), zap.String(consts.LogFieldPath, path))
			return nil, e
		}
		configLogger.Info("config file not found, use defaults", zap.String(consts.LogFieldPath, path))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		e := errs.NewReadConfigErr().WithErr(err)
		configLogger.Error(e.Error())
		return nil, e
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check 校验配置取值范围
func (cfg *Config) Check() error {
	if cfg.Region.Name == "" || strings.Contains(cfg.Region.Name, "/") {
		return invalid(KeyRegionName, cfg.Region.Name)
	}
	if cfg.Region.ReadRetries <= 0 {
		return invalid(KeyRegionReadRetries, cfg.Region.ReadRetries)
	}
	if cfg.Region.RetryBackoff < 0 {
		return invalid(KeyRegionRetryBackoff, cfg.Region.RetryBackoff)
	}
	if cfg.Panel.Port <= 0 || cfg.Panel.Port > 65535 {
		return invalid(KeyPanelPort, cfg.Panel.Port)
	}
	if cfg.Supervisor.LaunchDelay < 0 {
		return invalid(KeySupervisorDelay, cfg.Supervisor.LaunchDelay)
	}
	if cfg.Supervisor.StopPeriod < 0 {
		return invalid(KeySupervisorStopPeriod, cfg.Supervisor.StopPeriod)
	}
	if cfg.Regulator.Fps <= 0 || cfg.Regulator.Fps > 1000 {
		return invalid(KeyRegulatorFps, cfg.Regulator.Fps)
	}
	return nil
}

func invalid(key string, value any) error {
	e := errs.NewInvalidParamErr()
	configLogger.Error(e.Error(), zap.String(consts.LogFieldParams, key), zap.Any(consts.LogFieldValue, value))
	return e
}
