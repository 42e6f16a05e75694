package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"price-dashboard/gateway"
	"price-dashboard/infrastructure/logger"
	"price-dashboard/market"
	"price-dashboard/metrics"
)

// Config 同步客户端配置。
type Config struct {
	APIURL string
	WSURL  string
	// InitialDelay 首次拨号前的等待，避免与会话拆除竞争
	InitialDelay time.Duration
	// ReconnectDelay 每次断线后的固定退避
	ReconnectDelay   time.Duration
	FetchTimeout     time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout 为 0 时不设置读超时
	ReadTimeout time.Duration
	// PingInterval 为 0 时不发送 ping
	PingInterval time.Duration
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		APIURL:           "http://127.0.0.1:8080/api/v1",
		WSURL:            "ws://127.0.0.1:8080/ws",
		InitialDelay:     100 * time.Millisecond,
		ReconnectDelay:   3 * time.Second,
		FetchTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

// SnapshotFetcher 一次性全量拉取。
type SnapshotFetcher interface {
	FetchAll(ctx context.Context) ([]market.PriceRecord, error)
}

// Dialer 建立流式连接，*websocket.Dialer 满足该接口。
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Client 维护与服务端镜像的本地快照和连接状态，断线后无限重连。
//
// 所有状态变更都带会话令牌：Stop 使令牌失效，过期的回调直接忽略。
// 回调在持有 notifyMu 时串行执行，回调内不得调用 Stop。
type Client struct {
	cfg     Config
	fetcher SnapshotFetcher
	dialer  Dialer
	log     *logger.Logger
	pub     *market.Publisher

	notifyMu sync.Mutex

	mu         sync.Mutex
	session    uint64
	sessionID  string
	running    bool
	closed     bool
	cancel     context.CancelFunc
	done       chan struct{}
	conn       *websocket.Conn
	state      market.ConnectionState
	snapshot   market.Snapshot
	seq        uint64
	onSnapshot func(market.Snapshot)
	onState    func(market.ConnectionState)
	onFatal    func(error)
}

// New 使用注入的拉取器和拨号器创建客户端。
func New(cfg Config, fetcher SnapshotFetcher, dialer Dialer, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		dialer:  dialer,
		log:     log,
		pub:     market.NewPublisher(),
		state:   market.Disconnected,
	}
}

// NewDefault 使用 REST 客户端和 gorilla 拨号器创建客户端。
func NewDefault(cfg Config, log *logger.Logger) *Client {
	rest := &gateway.PricesRESTClient{
		BaseURL:    cfg.APIURL,
		HTTPClient: gateway.NewDefaultHTTPClient(cfg.FetchTimeout),
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return New(cfg, rest, dialer, log)
}

// SetFatalErrorHandler 设置致命错误回调（资源耗尽，无法再建立连接）。
func (c *Client) SetFatalErrorHandler(fn func(error)) {
	c.mu.Lock()
	c.onFatal = fn
	c.mu.Unlock()
}

// Start 启动会话：先启动流式循环，再阻塞拉取一次全量快照。
// 拉取失败返回 *FetchError，但流式连接照常进行。
func (c *Client) Start(ctx context.Context, onSnapshot func(market.Snapshot), onConnectionChange func(market.ConnectionState)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.session++
	token := c.session
	c.sessionID = uuid.NewString()
	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.done = done
	c.conn = nil
	c.state = market.Disconnected
	c.snapshot = market.Snapshot{}
	c.seq = 0
	c.onSnapshot = onSnapshot
	c.onState = onConnectionChange
	sessionID := c.sessionID
	c.mu.Unlock()

	metrics.SetConnected(false)
	c.log.LogFeed("session_started", map[string]interface{}{
		"session": sessionID,
		"api_url": c.cfg.APIURL,
		"ws_url":  c.cfg.WSURL,
	})

	go c.run(sctx, token, done)

	return c.fetchInitial(sctx, token)
}

// Stop 幂等拆除：取消退避定时器与进行中的拨号，关闭连接，等待循环退出。
// 返回后不会再有任何回调或状态变更。
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.session++
	cancel, done, conn := c.cancel, c.done, c.conn
	c.conn = nil
	c.state = market.Disconnected
	sessionID := c.sessionID
	c.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	// 等待进行中的通知结束
	c.notifyMu.Lock()
	c.notifyMu.Unlock()
	<-done

	metrics.SetConnected(false)
	c.log.LogFeed("session_stopped", map[string]interface{}{"session": sessionID})
}

// Close 停止会话并关闭所有订阅通道；之后 Start 返回 ErrClosed。
func (c *Client) Close() {
	c.Stop()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.pub.Close()
}

// State 当前连接状态。
func (c *Client) State() market.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot 当前快照（副本）。
func (c *Client) Snapshot() market.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// Running 会话是否在运行。
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SessionID 当前会话标识，用于日志关联。
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscribe 订阅快照替换（只保留最新一份）。
func (c *Client) Subscribe() <-chan market.Snapshot {
	return c.pub.Subscribe()
}

func (c *Client) fetchURL() string {
	return strings.TrimRight(c.cfg.APIURL, "/") + "/prices/all"
}

func (c *Client) fetchInitial(ctx context.Context, token uint64) error {
	if c.fetcher == nil {
		return &FetchError{URL: c.fetchURL(), Err: errors.New("no snapshot fetcher configured")}
	}
	fctx := ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	records, err := c.fetcher.FetchAll(fctx)
	if err != nil {
		metrics.SnapshotFetches.WithLabelValues("error").Inc()
		ferr := &FetchError{URL: c.fetchURL(), Err: err}
		var se *gateway.StatusError
		if errors.As(err, &se) {
			ferr.StatusCode = se.StatusCode
		}
		c.log.LogWarn("snapshot_fetch_failed", ferr, map[string]interface{}{"url": ferr.URL})
		return ferr
	}
	metrics.SnapshotFetches.WithLabelValues("ok").Inc()
	c.install(token, market.NewSnapshot(records, market.SourceFetch, time.Now()))
	return nil
}

// run 流式连接状态机：Disconnected → Connecting → Connected → Disconnected …
func (c *Client) run(ctx context.Context, token uint64, done chan struct{}) {
	var fatal error
	defer close(done)
	// 先于 close(done) 执行：Stop 返回前致命回调要么已完成，要么被令牌拦截
	defer func() {
		if fatal != nil {
			c.reportFatal(token, fatal)
		}
	}()

	delay := c.cfg.InitialDelay
	for {
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = c.cfg.ReconnectDelay

		if !c.setState(token, market.Connecting, nil) {
			return
		}
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			terr := &StreamTransportError{Op: "dial", URL: c.cfg.WSURL, Err: err}
			metrics.FeedTransportErrors.Inc()
			if isResourceExhausted(err) {
				if c.setState(token, market.Disconnected, nil) {
					fatal = terr
				}
				return
			}
			c.log.LogWarn("stream_dial_failed", terr, map[string]interface{}{"retry_in": delay.String()})
			if !c.setState(token, market.Disconnected, nil) {
				return
			}
			metrics.FeedReconnects.Inc()
			continue
		}

		attached := c.setState(token, market.Connected, func() { c.conn = conn })
		if !attached {
			_ = conn.Close()
			return
		}
		c.log.LogFeed("stream_connected", map[string]interface{}{"url": c.cfg.WSURL})

		err = c.readLoop(ctx, token, conn)
		if ctx.Err() != nil {
			return
		}
		metrics.FeedTransportErrors.Inc()
		c.log.LogWarn("stream_closed", err, map[string]interface{}{"retry_in": delay.String()})
		if !c.setState(token, market.Disconnected, func() { c.conn = nil }) {
			return
		}
		metrics.FeedReconnects.Inc()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.dialer == nil {
		return nil, errors.New("no dialer configured")
	}
	dctx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	conn, resp, err := c.dialer.DialContext(dctx, c.cfg.WSURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// readLoop 读取帧直到出错；任何错误都终结本次连接并显式关闭。
func (c *Client) readLoop(ctx context.Context, token uint64, conn *websocket.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}
	if c.cfg.PingInterval > 0 {
		pingDone := make(chan struct{})
		defer close(pingDone)
		go c.pingLoop(conn, pingDone)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return &StreamTransportError{Op: "read", URL: c.cfg.WSURL, Err: err}
		}
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		c.handleMessage(token, msg)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// handleMessage 每帧都是完整替换快照；解析失败则丢弃，保留上一份。
func (c *Client) handleMessage(token uint64, msg []byte) {
	records, err := gateway.ParsePriceResponse(msg)
	if err != nil {
		derr := &MessageDecodeError{Size: len(msg), Err: err}
		metrics.FeedDecodeErrors.Inc()
		c.log.LogWarn("frame_discarded", derr, nil)
		return
	}
	c.install(token, market.NewSnapshot(records, market.SourceStream, time.Now()))
}

// install 原子替换快照。拉取结果不会覆盖已经从流上收到的快照。
func (c *Client) install(token uint64, snap market.Snapshot) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if token != c.session {
		c.mu.Unlock()
		return false
	}
	if snap.Source == market.SourceFetch && c.snapshot.Source == market.SourceStream {
		streamSeq := c.snapshot.Seq
		c.mu.Unlock()
		c.log.LogFeed("fetch_superseded", map[string]interface{}{"stream_seq": streamSeq})
		return false
	}
	c.seq++
	snap.Seq = c.seq
	c.snapshot = snap
	cb := c.onSnapshot
	c.mu.Unlock()

	metrics.ObserveSnapshot(string(snap.Source), snap.Len())
	c.pub.Publish(snap.Clone())
	if cb != nil {
		cb(snap.Clone())
	}
	return true
}

// setState 在令牌有效时执行状态迁移；mutate 在同一临界区内执行。
func (c *Client) setState(token uint64, to market.ConnectionState, mutate func()) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if token != c.session {
		c.mu.Unlock()
		return false
	}
	from := c.state
	if err := validateTransition(from, to); err != nil {
		c.mu.Unlock()
		c.log.LogError(err, map[string]interface{}{"component": "feed"})
		return false
	}
	c.state = to
	if mutate != nil {
		mutate()
	}
	cb := c.onState
	c.mu.Unlock()

	metrics.FeedStateTransitions.WithLabelValues(to.String()).Inc()
	metrics.SetConnected(to == market.Connected)
	if cb != nil {
		cb(to)
	}
	return true
}

// reportFatal 与其他回调一样受令牌和 notifyMu 约束，Stop 之后不再触发。
func (c *Client) reportFatal(token uint64, err error) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if token != c.session {
		c.mu.Unlock()
		return false
	}
	fn := c.onFatal
	c.mu.Unlock()

	c.log.LogError(err, map[string]interface{}{"component": "feed", "fatal": true})
	if fn != nil {
		fn(err)
	}
	return true
}

// sleepCtx 可取消的等待；返回 false 表示已取消。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
