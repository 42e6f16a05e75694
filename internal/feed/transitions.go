package feed

import (
	"fmt"

	"price-dashboard/market"
)

// transition 连接状态转换
type transition struct {
	From market.ConnectionState
	To   market.ConnectionState
}

// legalTransitions 所有合法的连接状态转换；断线必须经过 Disconnected
var legalTransitions = map[transition]bool{
	{market.Disconnected, market.Connecting}: true,
	{market.Connecting, market.Connected}:    true,
	{market.Connecting, market.Disconnected}: true, // 拨号失败
	{market.Connected, market.Disconnected}:  true,
}

// validateTransition 验证状态转换是否合法
func validateTransition(from, to market.ConnectionState) error {
	if legalTransitions[transition{From: from, To: to}] {
		return nil
	}
	return fmt.Errorf("illegal connection transition: %s -> %s", from, to)
}
