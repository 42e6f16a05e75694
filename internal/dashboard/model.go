package dashboard

import (
	"sync"
	"time"

	"price-dashboard/market"
	"price-dashboard/view"
)

// Status 页面加载状态；初始拉取失败与"仍在加载"是两种不同状态。
type Status string

const (
	StatusLoading Status = "loading"
	StatusError   Status = "error"
	StatusReady   Status = "ready"
)

// Model 展示层读取的状态单元，只由同步客户端的回调写入。
type Model struct {
	mu       sync.RWMutex
	snapshot market.Snapshot
	conn     market.ConnectionState
	status   Status
	fetchErr error
}

func NewModel() *Model {
	return &Model{
		conn:   market.Disconnected,
		status: StatusLoading,
	}
}

// OnSnapshot 快照替换回调。任何快照到达都进入 Ready。
func (m *Model) OnSnapshot(s market.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
	m.status = StatusReady
	m.fetchErr = nil
}

// OnConnectionChange 连接状态回调。
func (m *Model) OnConnectionChange(s market.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = s
}

// OnFetchError 初始拉取失败；已有数据时不覆盖 Ready。
func (m *Model) OnFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusReady {
		return
	}
	m.status = StatusError
	m.fetchErr = err
}

// Reset 新会话开始时回到 Loading。
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = market.Snapshot{}
	m.conn = market.Disconnected
	m.status = StatusLoading
	m.fetchErr = nil
}

// Connection 当前连接状态。
func (m *Model) Connection() market.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// Page 一次渲染所需的全部数据。
type Page struct {
	Status     Status                 `json:"status"`
	Connection market.ConnectionState `json:"connection"`
	Filter     market.Filter          `json:"filter"`
	Error      string                 `json:"error,omitempty"`
	Seq        uint64                 `json:"seq"`
	Source     market.Source          `json:"source,omitempty"`
	UpdatedAt  *time.Time             `json:"updated_at,omitempty"`
	Cards      []view.Card            `json:"cards"`
}

// Page 按筛选项构造页面。
func (m *Model) Page(filter market.Filter) Page {
	m.mu.RLock()
	snap := m.snapshot
	p := Page{
		Status:     m.status,
		Connection: m.conn,
		Filter:     filter,
		Seq:        snap.Seq,
		Source:     snap.Source,
	}
	if m.fetchErr != nil {
		p.Error = m.fetchErr.Error()
	}
	m.mu.RUnlock()

	if !snap.Empty() {
		ts := snap.ReceivedAt
		p.UpdatedAt = &ts
	}
	p.Cards = view.Cards(snap.Records, filter)
	return p
}
