package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-dashboard/gateway"
	"price-dashboard/market"
)

func rec(symbol string, c market.Category) market.PriceRecord {
	return market.PriceRecord{Symbol: symbol, Type: c, Price: market.Float(1)}
}

func symbols(rs []market.PriceRecord) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Symbol)
	}
	return out
}

func mixed() []market.PriceRecord {
	return []market.PriceRecord{
		rec("STEPS", market.CategoryFitness),
		rec("ETH", market.CategoryCryptocurrency),
		rec("USD", market.CategoryCurrency),
		rec("XAU", market.CategoryGold),
		rec("AAPL", market.Category("stock")),
		rec("EUR", market.CategoryCurrency),
		rec("BTC", market.CategoryCryptocurrency),
		rec("COIN_EMAMI", market.CategoryGold),
		rec("CALORIES", market.CategoryFitness),
		rec("ZZZ", market.Category("")),
	}
}

func TestBuildViewOrdersByWeightThenSymbol(t *testing.T) {
	got := BuildView(mixed(), market.FilterAll)
	assert.Equal(t, []string{
		"COIN_EMAMI", "XAU",
		"EUR", "USD",
		"BTC", "ETH",
		"CALORIES", "STEPS",
		"AAPL", "ZZZ",
	}, symbols(got))

	for i := 1; i < len(got); i++ {
		wa, wb := got[i-1].Type.Weight(), got[i].Type.Weight()
		require.LessOrEqual(t, wa, wb)
		if wa == wb {
			require.Less(t, got[i-1].Symbol, got[i].Symbol)
		}
	}
}

func TestBuildViewDeterministicAndPure(t *testing.T) {
	in := mixed()
	orig := append([]market.PriceRecord(nil), in...)

	first := BuildView(in, market.FilterAll)
	second := BuildView(in, market.FilterAll)
	assert.Equal(t, first, second)
	assert.Equal(t, orig, in, "input must not be mutated")

	// 输入顺序不同，输出一致
	reversed := make([]market.PriceRecord, len(in))
	for i := range in {
		reversed[len(in)-1-i] = in[i]
	}
	assert.Equal(t, symbols(first), symbols(BuildView(reversed, market.FilterAll)))

	// 幂等
	assert.Equal(t, first, BuildView(first, market.FilterAll))
}

func TestBuildViewFitnessSubset(t *testing.T) {
	in := mixed()
	got := BuildView(in, market.FilterFitness)
	require.NotEmpty(t, got)
	for _, r := range got {
		assert.Contains(t, []market.Category{market.CategoryFitness, market.CategoryGold}, r.Type)
	}
	assert.Less(t, len(got), len(in))
	assert.Equal(t, []string{"COIN_EMAMI", "XAU", "CALORIES", "STEPS"}, symbols(got))
}

func TestBuildViewEmpty(t *testing.T) {
	assert.Empty(t, BuildView(nil, market.FilterAll))
	assert.Empty(t, BuildView(nil, market.FilterFitness))
}

func TestBuildViewScenario(t *testing.T) {
	raw := []byte(`{"data":[{"symbol":"BTC","price":65000,"type":"cryptocurrency","unit":"USD","change_percent":1.2,"time":"12:00"},{"symbol":"IR_GOLD_18K","price":5200000,"type":"gold","unit":"IRR","change_percent":-0.5,"time":"12:00"}]}`)
	recs, err := gateway.ParsePriceResponse(raw)
	require.NoError(t, err)

	got := BuildView(recs, market.FilterAll)
	assert.Equal(t, []string{"IR_GOLD_18K", "BTC"}, symbols(got))
}
