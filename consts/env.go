package consts

const (
	Env          = "VDSHM_ENV"           // 运行环境，test 表示单测
	EnvPrefix    = "VDSHM"               // viper 环境变量前缀
	RegionName   = "VDSHM_REGION_NAME"   // 共享内存区名称
	RegionDir    = "VDSHM_REGION_DIR"    // 共享内存区所在目录
	PanelHost    = "VDSHM_PANEL_HOST"    // 控制面板监听地址
	PanelPort    = "VDSHM_PANEL_PORT"    // 控制面板监听端口
	RegulatorFps = "VDSHM_REGULATOR_FPS" // 节拍器帧率
	ConfigPath   = "VDSHM_CONFIG"        // 配置文件路径
)
