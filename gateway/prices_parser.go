package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"price-dashboard/market"
)

var (
	ErrMissingData   = errors.New("price response has no data array")
	ErrMissingSymbol = errors.New("price record without symbol")
)

// PriceResponse 对应 /prices/all 响应体与流式帧的共同结构。
type PriceResponse struct {
	Data []market.PriceRecord `json:"data"`
}

// ParsePriceResponse 解析 {"data":[...]}，REST 响应与 WS 帧共用。
func ParsePriceResponse(raw []byte) ([]market.PriceRecord, error) {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}
	if len(probe.Data) == 0 || bytes.Equal(probe.Data, []byte("null")) {
		return nil, ErrMissingData
	}
	var records []market.PriceRecord
	if err := json.Unmarshal(probe.Data, &records); err != nil {
		return nil, fmt.Errorf("decode price records: %w", err)
	}
	for i, r := range records {
		if r.Symbol == "" {
			return nil, fmt.Errorf("record %d: %w", i, ErrMissingSymbol)
		}
	}
	return records, nil
}
