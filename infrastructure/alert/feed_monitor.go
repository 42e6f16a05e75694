package alert

import (
	"sync"
	"time"

	"price-dashboard/market"
)

const (
	KeyFeedDown      = "feed_down"
	KeyFetchFailed   = "fetch_failed"
	KeyFeedFatal     = "feed_fatal"
	KeyFeedRecovered = "feed_recovered"
)

// FeedMonitor 跟踪连接状态，断线超过阈值时告警，恢复时发送一次恢复通知。
type FeedMonitor struct {
	mgr             *Manager
	disconnectAfter time.Duration
	now             func() time.Time

	mu        sync.Mutex
	downSince time.Time // 零值表示当前已连接或尚未开始
	alerted   bool
}

func NewFeedMonitor(mgr *Manager, disconnectAfter time.Duration) *FeedMonitor {
	return &FeedMonitor{
		mgr:             mgr,
		disconnectAfter: disconnectAfter,
		now:             time.Now,
	}
}

// OnConnectionChange 接在同步客户端的连接状态回调上。
func (f *FeedMonitor) OnConnectionChange(s market.ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s == market.Connected {
		wasAlerted, since := f.alerted, f.downSince
		f.downSince = time.Time{}
		f.alerted = false
		if wasAlerted {
			f.mgr.ResetKey(KeyFeedDown)
			_ = f.mgr.Send(Alert{
				Level:   LevelInfo,
				Key:     KeyFeedRecovered,
				Message: "feed reconnected",
				Fields:  map[string]interface{}{"down_for": f.now().Sub(since).String()},
			})
		}
		return
	}
	if f.downSince.IsZero() {
		f.downSince = f.now()
	}
}

// Check 周期调用；断线时长超过阈值时发送告警（受限流约束）。
func (f *FeedMonitor) Check() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downSince.IsZero() || f.disconnectAfter <= 0 {
		return
	}
	down := f.now().Sub(f.downSince)
	if down < f.disconnectAfter {
		return
	}
	f.alerted = true
	_ = f.mgr.Send(Alert{
		Level:   LevelWarning,
		Key:     KeyFeedDown,
		Message: "feed disconnected",
		Fields:  map[string]interface{}{"down_for": down.String()},
	})
}

// OnFetchError 初始拉取失败。
func (f *FeedMonitor) OnFetchError(err error) {
	_ = f.mgr.Send(Alert{
		Level:   LevelError,
		Key:     KeyFetchFailed,
		Message: "initial snapshot fetch failed",
		Fields:  map[string]interface{}{"error": err.Error()},
	})
}

// OnFatal 资源耗尽，进程即将退出。
func (f *FeedMonitor) OnFatal(err error) {
	_ = f.mgr.Send(Alert{
		Level:   LevelCritical,
		Key:     KeyFeedFatal,
		Message: "feed stopped: resource exhaustion",
		Fields:  map[string]interface{}{"error": err.Error()},
	})
}

// Reset 新会话开始，清空断线计时。
func (f *FeedMonitor) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downSince = time.Time{}
	f.alerted = false
}
