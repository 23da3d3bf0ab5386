// Package console 挂载到共享内存区的交互式调试终端
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/logs"
	"github.com/Trinoooo/vdshm/region"
	"github.com/Trinoooo/vdshm/utils"
	"github.com/chzyer/readline"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
)

var logger = logs.Named(consts.ComponentConsole)

const usage = `keys <k...>                     publish pressed keys
show                            print keyboard slot and frame timing
timing <start> <duration>       publish frame timing only
frame <n> <start> <duration>    publish a generated frame with n slices
inspect                         print region snapshot
exit                            leave the console`

type handleFunc func(args []string) (string, error)

type Console struct {
	region   *region.Region
	out      io.Writer
	handlers map[string]handleFunc
}

func New(r *region.Region, out io.Writer) *Console {
	c := &Console{
		region:   r,
		out:      out,
		handlers: map[string]handleFunc{},
	}
	c.handlers["keys"] = c.handleKeys
	c.handlers["show"] = c.handleShow
	c.handlers["timing"] = c.handleTiming
	c.handlers["frame"] = c.handleFrame
	c.handlers["inspect"] = c.handleInspect
	c.handlers["help"] = func([]string) (string, error) {
		return usage, nil
	}
	return c
}

// Handle 执行一行命令，返回 true 表示退出
func (c *Console) Handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd := strings.ToLower(fields[0])
	if cmd == "exit" || cmd == "quit" {
		return true
	}

	handler, ok := c.handlers[cmd]
	if !ok {
		c.println(utils.WrapWarn("unknown command %q, try help", fields[0]))
		return false
	}

	out, err := handler(fields[1:])
	if err != nil {
		if errs.IsRecoverable(err) {
			c.println(utils.WrapWarn("%v", err))
		} else {
			c.println(utils.WrapError("%v", err))
		}
		return false
	}
	c.println(utils.WrapInfo("%s", out))
	return false
}

// Run 读取输入直到 exit、EOF、Ctrl-C 或 ctx 取消
func (c *Console) Run(ctx context.Context) error {
	historyDir := filepath.Join(consts.BaseDir, "console")
	if err := utils.CheckAndCreateDir(historyDir, 0770); err != nil {
		logger.Warn("history disabled", zap.Error(err))
	}

	input, err := readline.NewEx(&readline.Config{
		Prompt: "vdshm> ",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("keys"),
			readline.PcItem("show"),
			readline.PcItem("timing"),
			readline.PcItem("frame"),
			readline.PcItem("inspect"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
		HistoryFile: filepath.Join(historyDir, fmt.Sprintf("history_%s", time.Now().Format("20060102"))),
		Stdout:      c.out,
	})
	if err != nil {
		logger.Error("init readline failed", zap.Error(err))
		return err
	}
	defer input.Close()

	go func() {
		<-ctx.Done()
		_ = input.Close()
	}()

	for {
		line, err := input.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("readline failed", zap.Error(err))
			continue
		}
		if c.Handle(line) {
			return nil
		}
	}
}

func (c *Console) handleKeys(args []string) (string, error) {
	now := time.Now().UnixMilli()
	keys := make([]region.KeyStroke, 0, len(args))
	for _, arg := range args {
		keys = append(keys, region.KeyStroke{Code: arg, Timestamp: now})
	}

	state, seq, err := c.region.PublishKeys(keys)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("keyboard %v seq=%d", state, seq), nil
}

func (c *Console) handleShow(_ []string) (string, error) {
	state, keyboardSeq, err := c.region.ReadKeys()
	if err != nil {
		return "", err
	}
	timing, frameSeq, err := c.region.ReadTiming()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("keyboard %v %q seq=%d\ntiming start=%d duration=%d seq=%d",
		state, state.Keys(), keyboardSeq, timing.Start, timing.Duration, frameSeq), nil
}

func (c *Console) handleTiming(args []string) (string, error) {
	nums, err := parseInts(args, 2)
	if err != nil {
		return "", err
	}

	seq, err := c.region.PublishTiming(region.Timing{Start: nums[0], Duration: nums[1]})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("timing published seq=%d", seq), nil
}

// handleFrame 生成 n 个切片，第 i 个位于 (i/256, i%256)，数据全为 byte(i)
func (c *Console) handleFrame(args []string) (string, error) {
	nums, err := parseInts(args, 3)
	if err != nil {
		return "", err
	}
	if nums[0] < 0 {
		return "", invalid("n", args[0])
	}
	// 超出容量的交给发布时校验，多生成一个就够
	if nums[0] > region.FrameCapacity {
		nums[0] = region.FrameCapacity + 1
	}

	slices := make([]region.VoxelSlice, nums[0])
	for i := range slices {
		slices[i].Index1 = uint8(i / 256)
		slices[i].Index2 = uint8(i % 256)
		for j := range slices[i].Data {
			slices[i].Data[j] = byte(i)
		}
	}

	seq, err := c.region.PublishFrame(slices, region.Timing{Start: nums[1], Duration: nums[2]})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("frame published slices=%d seq=%d", len(slices), seq), nil
}

func (c *Console) handleInspect(_ []string) (string, error) {
	stats, err := c.region.Inspect()
	if err != nil {
		return "", err
	}
	return render.Render(stats), nil
}

func (c *Console) println(s string) {
	_, _ = fmt.Fprintln(c.out, s)
}

func parseInts(args []string, n int) ([]int64, error) {
	if len(args) != n {
		return nil, invalid("args", strings.Join(args, " "))
	}
	nums := make([]int64, 0, n)
	for _, arg := range args {
		num, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, invalid("args", arg)
		}
		nums = append(nums, num)
	}
	return nums, nil
}

func invalid(param, value string) error {
	e := errs.NewInvalidParamErr()
	logger.Error(e.Error(), zap.String(consts.LogFieldParams, param), zap.String(consts.LogFieldValue, value))
	return e
}
