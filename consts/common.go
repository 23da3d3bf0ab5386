package consts

const (
	B = 1 << (iota * 10)
	KB
	MB
	GB
)

const HelpTemplate = `NAME:
   {{.Name}} - {{.Usage}}
USAGE:
   {{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}
   {{if len .Authors}}
AUTHOR:
   {{range .Authors}}{{ . }}{{end}}
   {{end}}{{if .Commands}}
COMMANDS:
{{range .Commands}}{{if not .HideHelp}}   {{join .Names ", "}}{{ "\t"}}{{.Usage}}{{ "\n" }}{{end}}{{end}}{{end}}{{if .VisibleFlags}}
GLOBAL OPTIONS:
   {{range .VisibleFlags}}{{.}}
   {{end}}{{end}}{{if .Copyright }}
COPYRIGHT:
   {{.Copyright}}
   {{end}}{{if .Version}}
VERSION:
   {{.Version}}
   {{end}}
`

// 日志字段
const (
	LogFieldParams    = "params"
	LogFieldValue     = "value"
	LogFieldName      = "name"
	LogFieldPath      = "path"
	LogFieldSeq       = "seq"
	LogFieldPid       = "pid"
	LogFieldComponent = "component"
)

// 组件名，作为日志公共字段
const (
	ComponentRegion     = "region"
	ComponentServer     = "server"
	ComponentSupervisor = "supervisor"
	ComponentRegulator  = "regulator"
	ComponentConsole    = "console"
)
