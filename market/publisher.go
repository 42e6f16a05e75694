package market

import "sync"

// Publisher 一个轻量快照分发器。
// 每个订阅者只保留最新一份快照：通道满时丢弃旧值再写入新值。
type Publisher struct {
	mu   sync.Mutex
	subs []chan Snapshot
}

func NewPublisher() *Publisher {
	return &Publisher{
		subs: make([]chan Snapshot, 0),
	}
}

func (p *Publisher) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Publish 非阻塞广播。
func (p *Publisher) Publish(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// latest wins
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Close 关闭全部订阅通道。
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}
