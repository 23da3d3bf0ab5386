package regulator

import (
	"context"
	"time"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/logs"
	"github.com/Trinoooo/vdshm/region"
	"go.uber.org/zap"
)

var logger = logs.Named(consts.ComponentRegulator)

// Clock 单调时钟，纳秒
type Clock interface {
	Now() int64
}

// Publisher 帧时间的写入方，通常是 *region.Region
type Publisher interface {
	PublishTiming(timing region.Timing) (uint64, error)
}

type Options struct {
	fps   int
	clock Clock
}

func NewOptions() *Options {
	return &Options{
		fps:   24,
		clock: MonotonicClock{},
	}
}

func (opts *Options) SetFps(fps int) *Options {
	opts.fps = fps
	return opts
}

func (opts *Options) SetClock(clock Clock) *Options {
	opts.clock = clock
	return opts
}

func (opts *Options) check() error {
	if opts.fps <= 0 || opts.fps > 1000 {
		e := errs.NewInvalidParamErr()
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "fps"), zap.Int(consts.LogFieldValue, opts.fps))
		return e
	}
	if opts.clock == nil {
		e := errs.NewInvalidParamErr()
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "clock"), zap.String(consts.LogFieldValue, "nil"))
		return e
	}
	return nil
}

// Regulator 按固定帧率打点，把 (本次起点, 距上次起点的时长) 写入帧时间。
// 第一次打点只记录起点。
type Regulator struct {
	pub       Publisher
	opts      *Options
	lastStart int64
	ticks     uint64
}

func New(pub Publisher, opts *Options) (*Regulator, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.check(); err != nil {
		return nil, err
	}
	return &Regulator{pub: pub, opts: opts}, nil
}

func (rg *Regulator) Interval() time.Duration {
	return time.Second / time.Duration(rg.opts.fps)
}

// Tick 处理一次帧边沿，返回写入的时间，第一次返回 false
func (rg *Regulator) Tick() (region.Timing, bool, error) {
	now := rg.opts.clock.Now()
	defer func() {
		rg.lastStart = now
		rg.ticks++
	}()

	if rg.ticks == 0 {
		return region.Timing{}, false, nil
	}

	timing := region.Timing{Start: now, Duration: now - rg.lastStart}
	seq, err := rg.pub.PublishTiming(timing)
	if err != nil {
		return region.Timing{}, false, err
	}
	logger.Debug("timing published", zap.Uint64(consts.LogFieldSeq, seq), zap.Int64(consts.LogFieldValue, timing.Duration))
	return timing, true, nil
}

// Run 以 fps 打点直到 ctx 取消
func (rg *Regulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(rg.Interval())
	defer ticker.Stop()

	logger.Info("regulator running", zap.Int("fps", rg.opts.fps))
	if _, _, err := rg.Tick(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("regulator stopped", zap.Uint64("ticks", rg.ticks))
			return nil
		case <-ticker.C:
			if _, _, err := rg.Tick(); err != nil {
				if errs.IsRecoverable(err) {
					logger.Warn(err.Error())
					continue
				}
				return err
			}
		}
	}
}
