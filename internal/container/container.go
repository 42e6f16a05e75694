package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-dashboard/config"
	"price-dashboard/infrastructure/alert"
	"price-dashboard/infrastructure/logger"
	"price-dashboard/internal/dashboard"
	"price-dashboard/internal/feed"
	"price-dashboard/internal/server"
	"price-dashboard/market"
	"price-dashboard/metrics"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfgPath string

	mu        sync.Mutex
	cfg       config.AppConfig
	overrides Overrides

	// 基础设施
	logger  *logger.Logger
	alerts  *alert.Manager
	monitor *alert.FeedMonitor

	// 核心服务
	model  *dashboard.Model
	feed   *feedComponent
	server *server.Server

	// HTTP服务器
	web     *httpServerComponent
	metrics *httpServerComponent

	lifecycle *LifecycleManager
	fatal     chan error

	// watchCooldown 配置文件去抖间隔，0 使用 Watcher 默认值
	watchCooldown time.Duration
}

// Overrides 命令行参数覆盖，热更新重新加载文件后同样生效。
type Overrides struct {
	ListenAddr  string
	MetricsAddr string
	NoMetrics   bool
}

// Apply 把覆盖写入配置。
func (o Overrides) Apply(cfg *config.AppConfig) {
	if o.ListenAddr != "" {
		cfg.Server.ListenAddr = o.ListenAddr
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	if o.NoMetrics {
		cfg.Metrics.Addr = ""
	}
}

// New 从配置文件创建容器；configPath 为空时使用默认配置。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置创建容器。
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfgPath:   configPath,
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
		fatal:     make(chan error, 1),
	}
}

// SetOverrides 设置命令行覆盖并立即作用于当前配置，需在 Build 之前调用。
func (c *Container) SetOverrides(o Overrides) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = o
	o.Apply(&c.cfg)
}

// SetLogger 注入日志器（测试用），需在 Build 之前调用。
func (c *Container) SetLogger(l *logger.Logger) {
	c.logger = l
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		var err error
		c.logger, err = logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
	}
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger)}, c.cfg.Alert.Throttle())
	c.monitor = alert.NewFeedMonitor(c.alerts, c.cfg.Alert.DisconnectAfter())
	return nil
}

func (c *Container) buildCoreServices() error {
	filter, err := market.ParseFilter(c.cfg.Server.DefaultFilter)
	if err != nil {
		return err
	}
	c.model = dashboard.NewModel()
	c.feed = newFeedComponent(feedConfig(c.cfg.Feed), c.model, c.monitor, c.logger, c.reportFatal)
	c.server = server.New(c.model, filter, c.logger)
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Addr != "" {
		c.metrics = &httpServerComponent{
			name:    "metrics_server",
			handler: metrics.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.metrics)
	}

	c.web = &httpServerComponent{
		name:    "dashboard_server",
		handler: c.server.Handler(),
		addr:    c.cfg.Server.ListenAddr,
		logger:  c.logger,
	}
	c.lifecycle.Register(c.web)

	if c.cfgPath != "" {
		c.lifecycle.Register(&watcherComponent{
			watcher: config.Watcher{
				Path:     c.cfgPath,
				Cooldown: c.watchCooldown,
				OnError: func(err error) {
					c.logger.LogWarn("config_reload_failed", err, nil)
				},
			},
			onUpdate: c.applyConfig,
			logger:   c.logger,
		})
	}

	if c.cfg.Alert.DisconnectAfterMs > 0 {
		c.lifecycle.Register(&alertComponent{
			monitor:  c.monitor,
			interval: c.cfg.Alert.CheckInterval(),
		})
	}

	c.lifecycle.Register(c.feed)
}

func feedConfig(f config.FeedConfig) feed.Config {
	return feed.Config{
		APIURL:           f.APIURL,
		WSURL:            f.WSURL,
		InitialDelay:     f.InitialDelay(),
		ReconnectDelay:   f.ReconnectDelay(),
		FetchTimeout:     f.FetchTimeout(),
		HandshakeTimeout: f.HandshakeTimeout(),
		ReadTimeout:      f.ReadTimeout(),
		PingInterval:     f.PingInterval(),
	}
}

// applyConfig 热更新：日志级别立即生效，同步参数变化时重建会话。
// 监听地址变化需要重启进程。
func (c *Container) applyConfig(next config.AppConfig) {
	c.mu.Lock()
	c.overrides.Apply(&next)
	prev := c.cfg
	c.cfg = next
	c.mu.Unlock()

	if next.Log.Level != prev.Log.Level {
		if err := c.logger.SetLevel(next.Log.Level); err != nil {
			c.logger.LogWarn("log_level_rejected", err, map[string]interface{}{"level": next.Log.Level})
		} else {
			c.logger.Info("log level updated")
		}
	}
	if next.Server.ListenAddr != prev.Server.ListenAddr || next.Metrics.Addr != prev.Metrics.Addr {
		c.logger.LogWarn("listen_addr_changed", nil, map[string]interface{}{
			"listen_addr":  next.Server.ListenAddr,
			"metrics_addr": next.Metrics.Addr,
			"note":         "restart required",
		})
	}
	if err := c.feed.Reconfigure(feedConfig(next.Feed)); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "feed_reconfigure"})
	}
}

func (c *Container) reportFatal(err error) {
	c.monitor.OnFatal(err)
	select {
	case c.fatal <- err:
	default:
	}
}

// Fatal 同步客户端遇到资源耗尽时发出的致命错误。
func (c *Container) Fatal() <-chan error {
	return c.fatal
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Model 展示模型。
func (c *Container) Model() *dashboard.Model {
	return c.model
}

// Logger 容器日志器。
func (c *Container) Logger() *logger.Logger {
	return c.logger
}

// WebAddr 展示服务实际监听地址。
func (c *Container) WebAddr() string {
	if c.web == nil {
		return ""
	}
	return c.web.Addr()
}

// Config 当前生效的配置。
func (c *Container) Config() config.AppConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}
