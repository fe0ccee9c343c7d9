package rebalance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/indexd/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEqualWeights(t *testing.T) {
	assets := []domain.Asset{
		{CoinID: "bitcoin", Symbol: "BTC"},
		{CoinID: "ethereum", Symbol: "ETH"},
		{CoinID: "solana", Symbol: "SOL"},
		{CoinID: "cardano", Symbol: "ADA"},
	}

	weights, err := EqualWeights(assets)
	require.NoError(t, err)
	require.Len(t, weights, 4)

	for _, w := range weights {
		assert.True(t, w.Weight.Equal(dec("25")), "got %s for %s", w.Weight, w.Asset.CoinID)
	}
}

func TestEqualWeights_EmptyUniverse(t *testing.T) {
	_, err := EqualWeights(nil)
	assert.Error(t, err)
}

func TestMarketCapWeights_Proportional(t *testing.T) {
	assets := []domain.Asset{
		{CoinID: "bitcoin", Symbol: "BTC"},
		{CoinID: "ethereum", Symbol: "ETH"},
	}
	caps := map[string]decimal.Decimal{
		"bitcoin":  dec("1500000000"),
		"ethereum": dec("500000000"),
	}

	weights, err := MarketCapWeights(assets, caps, nil)
	require.NoError(t, err)
	require.Len(t, weights, 2)

	assert.True(t, weights[0].Weight.Equal(dec("75")), "got %s", weights[0].Weight)
	assert.True(t, weights[1].Weight.Equal(dec("25")), "got %s", weights[1].Weight)
}

func TestMarketCapWeights_ExcludesMissingAndZeroCaps(t *testing.T) {
	assets := []domain.Asset{
		{CoinID: "bitcoin", Symbol: "BTC"},
		{CoinID: "ethereum", Symbol: "ETH"},
		{CoinID: "defunct", Symbol: "DFT"},
	}
	caps := map[string]decimal.Decimal{
		"bitcoin":  dec("1000000000"),
		"ethereum": decimal.Zero,
	}

	weights, err := MarketCapWeights(assets, caps, nil)
	require.NoError(t, err)
	require.Len(t, weights, 1)
	assert.Equal(t, "bitcoin", weights[0].Asset.CoinID)
	assert.True(t, weights[0].Weight.Equal(dec("100")))
}

func TestMarketCapWeights_ThresholdCapsDominantAsset(t *testing.T) {
	assets := []domain.Asset{
		{CoinID: "bitcoin", Symbol: "BTC"},
		{CoinID: "ethereum", Symbol: "ETH"},
	}
	caps := map[string]decimal.Decimal{
		"bitcoin":  dec("9000000000"),
		"ethereum": dec("1000000000"),
	}
	threshold := dec("60")

	weights, err := MarketCapWeights(assets, caps, &threshold)
	require.NoError(t, err)
	require.Len(t, weights, 2)

	// 90% uncapped, clamped to the threshold; the remainder keeps its share
	assert.True(t, weights[0].Weight.Equal(dec("60")), "got %s", weights[0].Weight)
	assert.True(t, weights[1].Weight.Equal(dec("10")), "got %s", weights[1].Weight)
}

func TestMarketCapWeights_NoCapDataAtAll(t *testing.T) {
	assets := []domain.Asset{{CoinID: "bitcoin", Symbol: "BTC"}}

	_, err := MarketCapWeights(assets, map[string]decimal.Decimal{}, nil)
	assert.Error(t, err)
}
