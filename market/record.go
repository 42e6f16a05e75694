package market

import "math"

// Category 报价记录的分类（对应 wire 字段 type）。
type Category string

const (
	CategoryGold           Category = "gold"
	CategoryCurrency       Category = "currency"
	CategoryCryptocurrency Category = "cryptocurrency"
	CategoryFitness        Category = "fitness"
)

// unknownWeight 未知分类排在最后。
const unknownWeight = 99

// Weight 返回分类的排序权重，数值越小越靠前。
func (c Category) Weight() int {
	switch c {
	case CategoryGold:
		return 1
	case CategoryCurrency:
		return 2
	case CategoryCryptocurrency:
		return 3
	case CategoryFitness:
		return 4
	default:
		return unknownWeight
	}
}

// PriceRecord 单条报价，symbol 在一个快照内唯一。
// Price/ChangePercent/Calories/Weight 可能缺失，用指针表示。
type PriceRecord struct {
	Symbol        string   `json:"symbol"`
	Price         *float64 `json:"price,omitempty"`
	Unit          string   `json:"unit"`
	Type          Category `json:"type"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
	Time          string   `json:"time"`
	Calories      *float64 `json:"calories,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
	Date          string   `json:"date"`
}

// Change 返回涨跌幅；缺失或 NaN 时 ok=false。
func (r PriceRecord) Change() (v float64, ok bool) {
	if r.ChangePercent == nil || math.IsNaN(*r.ChangePercent) {
		return 0, false
	}
	return *r.ChangePercent, true
}

// PriceValue 返回价格；缺失、NaN 或 Inf 时 ok=false。
func (r PriceRecord) PriceValue() (v float64, ok bool) {
	if r.Price == nil || math.IsNaN(*r.Price) || math.IsInf(*r.Price, 0) {
		return 0, false
	}
	return *r.Price, true
}

// Float 便于构造可选数值字段。
func Float(v float64) *float64 {
	return &v
}
