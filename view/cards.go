package view

import (
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"price-dashboard/market"
)

// PricePlaceholder 价格缺失时的占位。
const PricePlaceholder = "—"

// Card 单条记录的展示数据。
type Card struct {
	Symbol   string          `json:"symbol"`
	Price    string          `json:"price"`
	Unit     string          `json:"unit"`
	Type     market.Category `json:"type"`
	Change   string          `json:"change"`
	Up       bool            `json:"up"`
	Time     string          `json:"time"`
	Date     string          `json:"date,omitempty"`
	Calories string          `json:"calories,omitempty"`
	Weight   string          `json:"weight,omitempty"`
}

var printer = message.NewPrinter(language.English)

// FormatChange 涨跌幅展示：缺失或 NaN 显示 "0.00" 且视为上涨。
func FormatChange(r market.PriceRecord) (magnitude string, up bool) {
	v, ok := r.Change()
	if !ok {
		return "0.00", true
	}
	return decimal.NewFromFloat(v).Abs().StringFixed(2), v >= 0
}

// FormatPrice 千分位格式，最多 3 位小数；缺失时返回占位。
func FormatPrice(r market.PriceRecord) string {
	v, ok := r.PriceValue()
	if !ok {
		return PricePlaceholder
	}
	return formatNumber(v)
}

func formatNumber(v float64) string {
	return printer.Sprintf("%v", number.Decimal(v, number.MaxFractionDigits(3)))
}

// NewCard 构造单张卡片。
func NewCard(r market.PriceRecord) Card {
	change, up := FormatChange(r)
	c := Card{
		Symbol: r.Symbol,
		Price:  FormatPrice(r),
		Unit:   r.Unit,
		Type:   r.Type,
		Change: change,
		Up:     up,
		Time:   r.Time,
		Date:   r.Date,
	}
	if r.Calories != nil && !math.IsNaN(*r.Calories) {
		c.Calories = formatNumber(*r.Calories) + " kcal"
	}
	if r.Weight != nil && !math.IsNaN(*r.Weight) {
		c.Weight = formatNumber(*r.Weight) + " kg"
	}
	return c
}

// Cards 过滤、排序并转换为卡片。
func Cards(records []market.PriceRecord, filter market.Filter) []Card {
	ordered := BuildView(records, filter)
	cards := make([]Card, 0, len(ordered))
	for _, r := range ordered {
		cards = append(cards, NewCard(r))
	}
	return cards
}
