package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Trinoooo/vdshm/config"
	"github.com/Trinoooo/vdshm/console"
	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/logs"
	"github.com/Trinoooo/vdshm/region"
	"github.com/Trinoooo/vdshm/regulator"
	"github.com/Trinoooo/vdshm/server"
	"github.com/Trinoooo/vdshm/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sugawarayuuta/sonnet"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// signalContext 收到 SIGINT/SIGTERM 后取消
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
}

// panelAction 创建共享内存区，依次拉起驱动与节拍器，提供控制面。
// 所有子进程退出后才删除共享内存区。
func panelAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	r, err := region.Create(cfg.Region.Name, region.Size, regionOptions(cfg).SetRegisterer(registry))
	if err != nil {
		return err
	}

	srv, err := server.NewServer(r, server.NewOptions().
		SetHost(cfg.Panel.Host).
		SetPort(cfg.Panel.Port).
		SetRegistry(registry))
	if err != nil {
		_ = r.Destroy()
		return err
	}

	sup, err := supervisor.New(children(cfg), supervisor.NewOptions().
		SetLaunchDelay(cfg.Supervisor.LaunchDelay).
		SetStopPeriod(cfg.Supervisor.StopPeriod).
		SetEnv(
			fmt.Sprintf("%s=%s", consts.RegionName, cfg.Region.Name),
			fmt.Sprintf("%s=%s", consts.RegionDir, cfg.Region.Dir),
		))
	if err != nil {
		_ = r.Destroy()
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return srv.Run(ctx)
	})
	eg.Go(func() error {
		if err := sup.Start(ctx); err != nil {
			return err
		}
		for e := range sup.Events() {
			logs.Logger.Info("child "+e.Kind.String(),
				zap.String(consts.LogFieldName, e.Name), zap.Int(consts.LogFieldPid, e.Pid), zap.Error(e.Err))
		}
		return sup.Wait()
	})

	err = eg.Wait()
	if stopErr := sup.Stop(); err == nil {
		err = stopErr
	}
	if destroyErr := r.Destroy(); err == nil {
		err = destroyErr
	}
	return err
}

func children(cfg *config.Config) []supervisor.Child {
	return []supervisor.Child{
		{Name: "driver", Cmdline: cfg.Supervisor.Driver},
		{Name: "regulator", Cmdline: cfg.Supervisor.Regulator},
	}
}

func inspectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	r, err := region.Open(cfg.Region.Name, region.Size, regionOptions(cfg))
	if err != nil {
		return err
	}
	defer r.Close()

	stats, err := r.Inspect()
	if err != nil {
		return err
	}
	bytes, err := sonnet.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(bytes))
	return err
}

func destroyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return region.Remove(cfg.Region.Name, regionOptions(cfg))
}

func regulateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	r, err := region.Open(cfg.Region.Name, region.Size, regionOptions(cfg))
	if err != nil {
		return err
	}
	defer r.Close()

	rg, err := regulator.New(r, regulator.NewOptions().SetFps(cfg.Regulator.Fps))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()
	return rg.Run(ctx)
}

func consoleAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	r, err := region.Open(cfg.Region.Name, region.Size, regionOptions(cfg))
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signalContext(c)
	defer stop()
	return console.New(r, os.Stdout).Run(ctx)
}
