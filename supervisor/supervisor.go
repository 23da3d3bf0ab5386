package supervisor

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/logs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var logger = logs.Named(consts.ComponentSupervisor)

type EventKind int

const (
	EventUp EventKind = iota
	EventExited
)

func (k EventKind) String() string {
	switch k {
	case EventUp:
		return "up"
	case EventExited:
		return "exited"
	}
	return "unknown"
}

// Event 子进程状态变化
type Event struct {
	Name string
	Pid  int
	Kind EventKind
	Err  error
	At   time.Time
}

// Child 子进程名与命令行，命令行按空白切分，不支持引号
type Child struct {
	Name    string
	Cmdline string
}

type Options struct {
	launchDelay time.Duration
	stopPeriod  time.Duration
	env         []string
}

func NewOptions() *Options {
	return &Options{
		launchDelay: 500 * time.Millisecond,
		stopPeriod:  3 * time.Second,
	}
}

// SetLaunchDelay 相邻两个子进程的启动间隔
func (opts *Options) SetLaunchDelay(delay time.Duration) *Options {
	opts.launchDelay = delay
	return opts
}

// SetStopPeriod SIGTERM 之后等待子进程退出的时长，超时后强制杀掉
func (opts *Options) SetStopPeriod(period time.Duration) *Options {
	opts.stopPeriod = period
	return opts
}

// SetEnv 追加给子进程的环境变量，形如 KEY=VALUE
func (opts *Options) SetEnv(env ...string) *Options {
	opts.env = append(opts.env, env...)
	return opts
}

func (opts *Options) check() error {
	if opts.launchDelay < 0 {
		e := errs.NewInvalidParamErr()
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "launchDelay"), zap.Duration(consts.LogFieldValue, opts.launchDelay))
		return e
	}
	if opts.stopPeriod < 0 {
		e := errs.NewInvalidParamErr()
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "stopPeriod"), zap.Duration(consts.LogFieldValue, opts.stopPeriod))
		return e
	}
	return nil
}

// Supervisor 按顺序拉起子进程并等待它们退出。
// 任一子进程在 Stop 之前退出，其余子进程随之被终止。
type Supervisor struct {
	children []Child
	opts     *Options
	events   chan Event
	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	err      error
}

func New(children []Child, opts *Options) (*Supervisor, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		opts:   opts,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, child := range children {
		if strings.TrimSpace(child.Cmdline) == "" {
			logger.Info("child not configured, skip", zap.String(consts.LogFieldName, child.Name))
			continue
		}
		s.children = append(s.children, child)
	}
	// 每个子进程最多产生 up 与 exited 两个事件，发送永不阻塞
	s.events = make(chan Event, 2*len(s.children))
	return s, nil
}

// Events 事件流，所有子进程退出后关闭
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

func (s *Supervisor) Len() int {
	return len(s.children)
}

// Start 依次启动子进程，相邻两个之间间隔 launchDelay。
// 启动失败时终止已启动的子进程并返回 StartProcess。
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		e := errs.NewInvalidParamErr()
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "started"), zap.Bool(consts.LogFieldValue, true))
		return e
	}

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-s.done:
			cancel()
		}
	}()

	var startErr error
	for i, child := range s.children {
		if i > 0 && s.opts.launchDelay > 0 {
			timer := time.NewTimer(s.opts.launchDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
		if ctx.Err() != nil {
			break
		}

		cmd, err := s.launch(ctx, child)
		if err != nil {
			startErr = err
			s.stopping.Store(true)
			cancel()
			break
		}

		child := child
		eg.Go(func() error {
			return s.watch(ctx, child, cmd)
		})
	}

	go func() {
		s.err = eg.Wait()
		close(s.events)
		close(s.done)
	}()

	if startErr != nil {
		<-s.done
		return startErr
	}
	return nil
}

func (s *Supervisor) launch(ctx context.Context, child Child) (*exec.Cmd, error) {
	args := strings.Fields(child.Cmdline)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), s.opts.env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.opts.stopPeriod

	if err := cmd.Start(); err != nil {
		e := errs.NewStartProcessErr().WithErr(err)
		logger.Error(e.Error(), zap.String(consts.LogFieldName, child.Name), zap.String(consts.LogFieldValue, child.Cmdline))
		return nil, e
	}

	logger.Info("child up", zap.String(consts.LogFieldName, child.Name), zap.Int(consts.LogFieldPid, cmd.Process.Pid))
	s.events <- Event{Name: child.Name, Pid: cmd.Process.Pid, Kind: EventUp, At: time.Now()}
	return cmd, nil
}

func (s *Supervisor) watch(ctx context.Context, child Child, cmd *exec.Cmd) error {
	err := cmd.Wait()
	pid := cmd.Process.Pid
	s.events <- Event{Name: child.Name, Pid: pid, Kind: EventExited, Err: err, At: time.Now()}

	// Stop、外部取消或其他子进程先退出导致的终止都不算意外
	if s.stopping.Load() || ctx.Err() != nil {
		logger.Info("child exited", zap.String(consts.LogFieldName, child.Name), zap.Int(consts.LogFieldPid, pid))
		return nil
	}

	e := errs.NewChildExitedErr()
	if err != nil {
		e = e.WithErr(err)
	}
	logger.Error(e.Error(), zap.String(consts.LogFieldName, child.Name), zap.Int(consts.LogFieldPid, pid))
	return e
}

// Stop 向所有子进程发送 SIGTERM 并等待退出
func (s *Supervisor) Stop() error {
	if !s.started.Load() {
		return nil
	}
	s.stopping.Store(true)
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return s.Wait()
}

// Wait 等待所有子进程退出，返回第一个意外退出的原因
func (s *Supervisor) Wait() error {
	if !s.started.Load() {
		return nil
	}
	<-s.done
	return s.err
}
