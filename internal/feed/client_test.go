package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-dashboard/gateway"
	"price-dashboard/market"
	"price-dashboard/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	frameTwo = `{"data":[{"symbol":"BTC","price":65000,"type":"cryptocurrency","unit":"USD","change_percent":1.2,"time":"12:00"},{"symbol":"IR_GOLD_18K","price":5200000,"type":"gold","unit":"IRR","change_percent":-0.5,"time":"12:00"}]}`
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testConfig(ws string) Config {
	return Config{
		APIURL:           "http://127.0.0.1:1/api/v1",
		WSURL:            ws,
		InitialDelay:     5 * time.Millisecond,
		ReconnectDelay:   50 * time.Millisecond,
		HandshakeTimeout: 2 * time.Second,
	}
}

// recorder 记录回调，用作 spy
type recorder struct {
	mu     sync.Mutex
	states []market.ConnectionState
	stamps []time.Time
	snaps  []market.Snapshot
}

func (r *recorder) onState(s market.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	r.stamps = append(r.stamps, time.Now())
}

func (r *recorder) onSnapshot(s market.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) stateEvents() ([]market.ConnectionState, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]market.ConnectionState(nil), r.states...), append([]time.Time(nil), r.stamps...)
}

func (r *recorder) count(s market.ConnectionState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st == s {
			n++
		}
	}
	return n
}

func (r *recorder) events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states) + len(r.snaps)
}

func (r *recorder) snapshots() []market.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]market.Snapshot(nil), r.snaps...)
}

type staticFetcher struct {
	records []market.PriceRecord
	err     error
}

func (f staticFetcher) FetchAll(ctx context.Context) ([]market.PriceRecord, error) {
	return f.records, f.err
}

type gatedFetcher struct {
	release chan struct{}
	records []market.PriceRecord
}

func (f gatedFetcher) FetchAll(ctx context.Context) ([]market.PriceRecord, error) {
	select {
	case <-f.release:
		return f.records, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type dialFunc func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error)

func (f dialFunc) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	return f(ctx, url, h)
}

// holdServer 发送给定帧后保持连接直到对端关闭
func holdServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// closingServer 握手成功后立即关闭
func closingServer(t *testing.T, accepts *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepts.Add(1)
		_ = conn.Close()
	}))
}

func TestClientFetchThenStream(t *testing.T) {
	srv := holdServer(t, frameTwo)
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.InitialDelay = 50 * time.Millisecond
	fetcher := staticFetcher{records: []market.PriceRecord{{Symbol: "BTC", Price: market.Float(64000), Type: market.CategoryCryptocurrency}}}
	cli := New(cfg, fetcher, websocket.DefaultDialer, nil)
	rec := &recorder{}

	require.NoError(t, cli.Start(context.Background(), rec.onSnapshot, rec.onState))
	defer cli.Stop()

	snap := cli.Snapshot()
	assert.Equal(t, market.SourceFetch, snap.Source)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.NotEmpty(t, cli.SessionID())

	require.Eventually(t, func() bool {
		s := cli.Snapshot()
		return s.Source == market.SourceStream && s.Len() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, market.Connected, cli.State())

	snaps := rec.snapshots()
	require.GreaterOrEqual(t, len(snaps), 2)
	assert.Equal(t, market.SourceFetch, snaps[0].Source)
	assert.Equal(t, market.SourceStream, snaps[1].Source)
	assert.Equal(t, uint64(2), snaps[1].Seq)
}

func TestClientFetchErrorDoesNotBlockStream(t *testing.T) {
	srv := holdServer(t, frameTwo)
	defer srv.Close()

	fetcher := staticFetcher{err: &gateway.StatusError{URL: "x", StatusCode: http.StatusInternalServerError}}
	cli := New(testConfig(wsURL(srv)), fetcher, websocket.DefaultDialer, nil)
	rec := &recorder{}

	err := cli.Start(context.Background(), rec.onSnapshot, rec.onState)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, http.StatusInternalServerError, ferr.StatusCode)
	assert.Contains(t, ferr.URL, "/prices/all")
	defer cli.Stop()

	require.Eventually(t, func() bool {
		return cli.Snapshot().Source == market.SourceStream
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClientMalformedFrameKeepsSnapshot(t *testing.T) {
	srv := holdServer(t, frameTwo, "not json")
	defer srv.Close()

	before := testutil.ToFloat64(metrics.FeedDecodeErrors)
	cli := New(testConfig(wsURL(srv)), staticFetcher{err: errors.New("offline")}, websocket.DefaultDialer, nil)
	rec := &recorder{}
	_ = cli.Start(context.Background(), rec.onSnapshot, rec.onState)
	defer cli.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.FeedDecodeErrors) >= before+1
	}, 2*time.Second, 5*time.Millisecond)

	snap := cli.Snapshot()
	assert.Equal(t, market.SourceStream, snap.Source)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Len(t, rec.snapshots(), 1)
	assert.Equal(t, market.Connected, cli.State())
}

func TestClientReconnectsOncePerClosure(t *testing.T) {
	var accepts atomic.Int32
	srv := closingServer(t, &accepts)
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cli := New(cfg, staticFetcher{}, websocket.DefaultDialer, nil)
	rec := &recorder{}
	require.NoError(t, cli.Start(context.Background(), rec.onSnapshot, rec.onState))

	require.Eventually(t, func() bool { return accepts.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)
	cli.Stop()

	states, stamps := rec.stateEvents()
	require.NotEmpty(t, states)

	prev := market.Disconnected
	for i, s := range states {
		require.NoError(t, validateTransition(prev, s), "event %d", i)
		if prev == market.Disconnected && s == market.Connecting && i > 0 {
			gap := stamps[i].Sub(stamps[i-1])
			assert.GreaterOrEqual(t, gap, cfg.ReconnectDelay-10*time.Millisecond, "reconnect %d came too early", i)
		}
		prev = s
	}

	connecting := rec.count(market.Connecting)
	disconnected := rec.count(market.Disconnected)
	assert.GreaterOrEqual(t, connecting, 3)
	assert.LessOrEqual(t, connecting-disconnected, 1)
	assert.GreaterOrEqual(t, connecting-disconnected, 0)
}

func TestClientStopDuringPendingReconnect(t *testing.T) {
	var accepts atomic.Int32
	srv := closingServer(t, &accepts)
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.ReconnectDelay = 300 * time.Millisecond
	cli := New(cfg, staticFetcher{}, websocket.DefaultDialer, nil)
	rec := &recorder{}
	require.NoError(t, cli.Start(context.Background(), rec.onSnapshot, rec.onState))

	require.Eventually(t, func() bool { return rec.count(market.Disconnected) >= 1 }, 2*time.Second, 2*time.Millisecond)
	cli.Stop()
	after := rec.events()

	time.Sleep(2 * cfg.ReconnectDelay)
	assert.Equal(t, after, rec.events(), "state changed after teardown")
	assert.Equal(t, int32(1), accepts.Load())
	assert.Equal(t, market.Disconnected, cli.State())
	assert.False(t, cli.Running())
}

func TestClientStopDuringDial(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	dialer := dialFunc(func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return nil, nil, ctx.Err()
	})
	cli := New(testConfig("ws://unused"), staticFetcher{}, dialer, nil)
	rec := &recorder{}
	require.NoError(t, cli.Start(context.Background(), rec.onSnapshot, rec.onState))

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("dial never started")
	}

	stopped := make(chan struct{})
	go func() {
		cli.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop blocked on in-flight dial")
	}

	states, _ := rec.stateEvents()
	assert.Equal(t, []market.ConnectionState{market.Connecting}, states)
	time.Sleep(50 * time.Millisecond)
	states, _ = rec.stateEvents()
	assert.Len(t, states, 1)
}

func TestClientDialFailureRetries(t *testing.T) {
	var dials atomic.Int32
	dialer := dialFunc(func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
		dials.Add(1)
		return nil, nil, errors.New("connection refused")
	})
	cli := New(testConfig("ws://unused"), staticFetcher{}, dialer, nil)
	rec := &recorder{}
	require.NoError(t, cli.Start(context.Background(), rec.onSnapshot, rec.onState))
	require.Eventually(t, func() bool { return dials.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cli.Stop()

	states, _ := rec.stateEvents()
	for i, s := range states {
		if i%2 == 0 {
			assert.Equal(t, market.Connecting, s)
		} else {
			assert.Equal(t, market.Disconnected, s)
		}
	}
}

func TestClientFatalOnResourceExhaustion(t *testing.T) {
	dialer := dialFunc(func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
		return nil, nil, os.NewSyscallError("socket", syscall.EMFILE)
	})
	cli := New(testConfig("ws://unused"), staticFetcher{}, dialer, nil)
	fatal := make(chan error, 1)
	cli.SetFatalErrorHandler(func(err error) { fatal <- err })
	rec := &recorder{}
	require.NoError(t, cli.Start(context.Background(), rec.onSnapshot, rec.onState))

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, syscall.EMFILE)
		var terr *StreamTransportError
		assert.ErrorAs(t, err, &terr)
		assert.Equal(t, "dial", terr.Op)
	case <-time.After(time.Second):
		t.Fatal("expected fatal error")
	}
	assert.Equal(t, market.Disconnected, cli.State())
	cli.Stop()
	assert.Equal(t, 1, rec.count(market.Connecting))
}

func TestClientFetchDoesNotOverwriteStream(t *testing.T) {
	srv := holdServer(t, frameTwo)
	defer srv.Close()

	fetcher := gatedFetcher{
		release: make(chan struct{}),
		records: []market.PriceRecord{{Symbol: "OLD", Type: market.CategoryCurrency}},
	}
	cli := New(testConfig(wsURL(srv)), fetcher, websocket.DefaultDialer, nil)
	rec := &recorder{}

	startErr := make(chan error, 1)
	go func() { startErr <- cli.Start(context.Background(), rec.onSnapshot, rec.onState) }()

	require.Eventually(t, func() bool {
		return cli.Snapshot().Source == market.SourceStream
	}, 2*time.Second, 5*time.Millisecond)
	close(fetcher.release)
	require.NoError(t, <-startErr)
	defer cli.Stop()

	snap := cli.Snapshot()
	assert.Equal(t, market.SourceStream, snap.Source)
	_, stale := snap.Lookup("OLD")
	assert.False(t, stale)
	assert.Len(t, rec.snapshots(), 1)
}

func TestClientStartStopLifecycle(t *testing.T) {
	srv := holdServer(t)
	defer srv.Close()

	cli := New(testConfig(wsURL(srv)), staticFetcher{records: []market.PriceRecord{{Symbol: "A"}}}, websocket.DefaultDialer, nil)
	cli.Stop() // stop before start is a no-op

	require.NoError(t, cli.Start(context.Background(), nil, nil))
	assert.ErrorIs(t, cli.Start(context.Background(), nil, nil), ErrAlreadyStarted)
	first := cli.SessionID()
	require.Eventually(t, func() bool { return cli.State() == market.Connected }, 2*time.Second, 5*time.Millisecond)

	cli.Stop()
	cli.Stop()
	assert.False(t, cli.Running())

	require.NoError(t, cli.Start(context.Background(), nil, nil))
	defer cli.Stop()
	assert.NotEqual(t, first, cli.SessionID())
	assert.Equal(t, uint64(1), cli.Snapshot().Seq)
}

func TestClientSubscribe(t *testing.T) {
	srv := holdServer(t, frameTwo)
	defer srv.Close()

	cli := New(testConfig(wsURL(srv)), staticFetcher{err: errors.New("offline")}, websocket.DefaultDialer, nil)
	ch := cli.Subscribe()
	_ = cli.Start(context.Background(), nil, nil)
	defer cli.Stop()

	select {
	case snap := <-ch:
		assert.Equal(t, market.SourceStream, snap.Source)
		assert.Equal(t, 2, snap.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("expected published snapshot")
	}
}

func TestClientFatalHandlerSilentAfterStop(t *testing.T) {
	release := make(chan struct{})
	dialer := dialFunc(func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
		<-release
		return nil, nil, os.NewSyscallError("socket", syscall.EMFILE)
	})
	cli := New(testConfig("ws://unused"), staticFetcher{}, dialer, nil)
	var fired atomic.Int32
	cli.SetFatalErrorHandler(func(error) { fired.Add(1) })
	require.NoError(t, cli.Start(context.Background(), nil, nil))

	cli.mu.Lock()
	token := cli.session
	cli.mu.Unlock()

	close(release)
	cli.Stop()
	// 循环在 Stop 之后才到达致命分支时，旧令牌必须被拦截
	assert.False(t, cli.reportFatal(token, errors.New("late")))
	assert.LessOrEqual(t, fired.Load(), int32(1))
	after := fired.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, fired.Load(), "fatal handler fired after Stop returned")
}

func TestClientFatalHandlerRunsBeforeStopReturns(t *testing.T) {
	dialer := dialFunc(func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
		return nil, nil, os.NewSyscallError("socket", syscall.ENFILE)
	})
	cli := New(testConfig("ws://unused"), staticFetcher{}, dialer, nil)
	var fired atomic.Int32
	cli.SetFatalErrorHandler(func(error) {
		time.Sleep(20 * time.Millisecond)
		fired.Add(1)
	})
	require.NoError(t, cli.Start(context.Background(), nil, nil))
	// 与首次拨号（InitialDelay 5ms）竞争
	time.Sleep(5 * time.Millisecond)

	cli.Stop()
	n := fired.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, fired.Load(), "fatal handler still running after Stop returned")
}

func TestClientCloseEndsSubscription(t *testing.T) {
	srv := holdServer(t, frameTwo)
	defer srv.Close()

	cli := New(testConfig(wsURL(srv)), staticFetcher{}, websocket.DefaultDialer, nil)
	ch := cli.Subscribe()
	require.NoError(t, cli.Start(context.Background(), nil, nil))

	cli.Close()
	cli.Close()
	assert.False(t, cli.Running())
	assert.ErrorIs(t, cli.Start(context.Background(), nil, nil), ErrClosed)

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription not closed")
		}
	}
}
