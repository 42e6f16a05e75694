package market

import (
	"fmt"
	"strings"
)

// ConnectionState 流式连接状态。
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText 让状态在 JSON 中以字符串输出。
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析 String() 的输出。
func (s *ConnectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = Disconnected
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	default:
		return fmt.Errorf("unknown connection state %q", b)
	}
	return nil
}

// Filter 前端筛选项，本地状态，不持久化。
type Filter string

const (
	FilterAll     Filter = "all"
	FilterFitness Filter = "fitness"
)

// ParseFilter 解析筛选项，空串视为 all。
func ParseFilter(s string) (Filter, error) {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterFitness:
		return FilterFitness, nil
	default:
		return FilterAll, fmt.Errorf("unknown filter %q", s)
	}
}
