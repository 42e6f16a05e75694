package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"price-dashboard/config"
	"price-dashboard/infrastructure/alert"
	"price-dashboard/infrastructure/logger"
	"price-dashboard/internal/dashboard"
	"price-dashboard/internal/feed"
	"price-dashboard/market"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 按注册顺序启动，逆序停止。
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件，失败时回滚已启动的组件。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start %s: %w", component.Name(), err)
		}
	}
	return nil
}

// StopAll 逆序停止，汇总全部错误。
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckHealth 返回第一个不健康组件的错误。
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件。先 Listen 再后台 Serve，端口占用时 Start 直接报错。
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.server = srv
	h.listener = ln

	go func() {
		h.logger.Logger.Info(fmt.Sprintf("%s listening on %s", h.name, ln.Addr()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "serve",
			})
		}
	}()
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.server.Shutdown(ctx)
	h.server = nil
	h.listener = nil
	if err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}
	h.logger.Logger.Info(fmt.Sprintf("%s stopped", h.name))
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// Addr 实际监听地址（addr 为 :0 时用于测试）。
func (h *httpServerComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// feedComponent 持有同步客户端，并把回调接到展示模型上。
// 端点变化时整体替换客户端：新会话从 Loading 开始。
type feedComponent struct {
	logger  *logger.Logger
	model   *dashboard.Model
	monitor *alert.FeedMonitor // 可为 nil
	onFatal func(error)

	mu     sync.Mutex
	cfg    feed.Config
	client *feed.Client
	ctx    context.Context
}

func newFeedComponent(cfg feed.Config, model *dashboard.Model, monitor *alert.FeedMonitor, log *logger.Logger, onFatal func(error)) *feedComponent {
	return &feedComponent{
		logger:  log,
		model:   model,
		monitor: monitor,
		onFatal: onFatal,
		cfg:     cfg,
	}
}

func (f *feedComponent) Name() string { return "feed" }

func (f *feedComponent) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx = ctx
	return f.startLocked()
}

func (f *feedComponent) startLocked() error {
	if f.client != nil && f.client.Running() {
		return nil
	}
	client := feed.NewDefault(f.cfg, f.logger)
	client.SetFatalErrorHandler(f.onFatal)
	f.client = client
	f.model.Reset()
	if f.monitor != nil {
		f.monitor.Reset()
	}

	err := client.Start(f.ctx, f.model.OnSnapshot, f.onConnectionChange)
	var ferr *feed.FetchError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ferr):
		// 初始拉取失败不阻止流式连接，页面显示错误状态
		f.model.OnFetchError(ferr)
		if f.monitor != nil {
			f.monitor.OnFetchError(ferr)
		}
		return nil
	default:
		return err
	}
}

func (f *feedComponent) onConnectionChange(s market.ConnectionState) {
	f.model.OnConnectionChange(s)
	if f.monitor != nil {
		f.monitor.OnConnectionChange(s)
	}
}

func (f *feedComponent) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		f.client.Stop()
	}
	return nil
}

func (f *feedComponent) Health() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil || !f.client.Running() {
		return errors.New("feed session not running")
	}
	return nil
}

// Reconfigure 端点或重连参数变化时重建会话；未变化时不做任何事。
func (f *feedComponent) Reconfigure(cfg feed.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg == f.cfg {
		return nil
	}
	f.cfg = cfg
	if f.client == nil || f.ctx == nil {
		return nil
	}
	f.client.Stop()
	f.logger.LogFeed("feed_reconfigured", map[string]interface{}{
		"api_url": cfg.APIURL,
		"ws_url":  cfg.WSURL,
	})
	return f.startLocked()
}

// Client 当前客户端。
func (f *feedComponent) Client() *feed.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client
}

// watcherComponent 配置热更新，监听循环在后台运行。
type watcherComponent struct {
	watcher  config.Watcher
	onUpdate func(config.AppConfig)
	logger   *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *watcherComponent) Name() string { return "config_watcher" }

func (w *watcherComponent) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go func() {
		defer close(done)
		err := w.watcher.Start(wctx, w.onUpdate)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.LogError(err, map[string]interface{}{"component": "config_watcher"})
		}
	}()
	return nil
}

func (w *watcherComponent) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (w *watcherComponent) Health() error { return nil }

// alertComponent 定期检查断线时长。
type alertComponent struct {
	monitor  *alert.FeedMonitor
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *alertComponent) Name() string { return "feed_alerts" }

func (a *alertComponent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	actx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel, a.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-actx.Done():
				return
			case <-ticker.C:
				a.monitor.Check()
			}
		}
	}()
	return nil
}

func (a *alertComponent) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (a *alertComponent) Health() error { return nil }
