package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"price-dashboard/config"
	"price-dashboard/internal/container"
)

func main() {
	cfgPath := flag.String("config", "", "配置文件路径，留空使用默认配置")
	listen := flag.String("listen", "", "覆盖 server.listenAddr")
	metricsAddr := flag.String("metricsAddr", "", "覆盖 metrics.addr")
	noMetrics := flag.Bool("noMetrics", false, "关闭 Prometheus 指标服务")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	overrides := container.Overrides{
		ListenAddr:  *listen,
		MetricsAddr: *metricsAddr,
		NoMetrics:   *noMetrics,
	}
	overrides.Apply(&cfg)
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	c := container.NewWithConfig(cfg, *cfgPath)
	c.SetOverrides(overrides)
	if err := c.Build(); err != nil {
		log.Fatalf("构建失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx, c)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		c.Logger().Info("shutdown signal received: " + sig.String())
	case err := <-c.Fatal():
		// 资源耗尽，无法继续重连
		c.Logger().LogError(err, map[string]interface{}{"action": "fatal_exit"})
		exitCode = 1
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		exitCode = 1
	}
	os.Exit(exitCode)
}

// watchdogLoop 在 systemd 开启 WatchdogSec 时定期上报存活，组件不健康时停止上报。
func watchdogLoop(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.Logger().LogWarn("health_check_failed", err, nil)
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
