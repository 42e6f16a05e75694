// Package view 把原始快照转换成有序、可直接展示的列表。
package view

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"price-dashboard/market"
)

// BuildView 纯函数：按筛选项过滤，按分类权重升序，同权重按 symbol 排序。
// 不修改输入；相同输入总是得到相同顺序。
func BuildView(records []market.PriceRecord, filter market.Filter) []market.PriceRecord {
	out := make([]market.PriceRecord, 0, len(records))
	for _, r := range records {
		if filter == market.FilterFitness && !inFitnessSubset(r.Type) {
			continue
		}
		out = append(out, r)
	}
	col := collate.New(language.English)
	sort.SliceStable(out, func(i, j int) bool {
		return less(col, out[i], out[j])
	})
	return out
}

func inFitnessSubset(c market.Category) bool {
	return c == market.CategoryFitness || c == market.CategoryGold
}

func less(col *collate.Collator, a, b market.PriceRecord) bool {
	wa, wb := a.Type.Weight(), b.Type.Weight()
	if wa != wb {
		return wa < wb
	}
	if c := col.CompareString(a.Symbol, b.Symbol); c != 0 {
		return c < 0
	}
	// 排序规则认为相等时退回字节序，保证全序
	return a.Symbol < b.Symbol
}
