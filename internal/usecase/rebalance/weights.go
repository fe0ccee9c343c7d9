package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
)

// totalTargetWeight is the scale target weights are expressed at. Weights
// are normalized by their sum everywhere downstream, so the scale is
// cosmetic, but 100 keeps single weights readable as percentages.
var totalTargetWeight = decimal.NewFromInt(100)

// WeightedAsset pairs an asset with its target weight
type WeightedAsset struct {
	Asset  domain.Asset
	Weight decimal.Decimal
}

// EqualWeights assigns every asset the same weight
func EqualWeights(assets []domain.Asset) ([]WeightedAsset, error) {
	if len(assets) == 0 {
		return nil, errors.New("no constituents provided")
	}

	weight := totalTargetWeight.Div(decimal.NewFromInt(int64(len(assets))))
	out := make([]WeightedAsset, 0, len(assets))
	for _, a := range assets {
		out = append(out, WeightedAsset{Asset: a, Weight: weight})
	}
	return out, nil
}

// MarketCapWeights assigns weights proportional to market capitalization.
// Assets with a missing or non-positive cap are excluded from the build;
// threshold, when set, caps any single weight at that value (uncapped
// weight beyond it is forfeited, not redistributed).
func MarketCapWeights(assets []domain.Asset, caps map[string]decimal.Decimal, threshold *decimal.Decimal) ([]WeightedAsset, error) {
	if len(assets) == 0 {
		return nil, errors.New("no constituents provided")
	}

	valid := make([]domain.Asset, 0, len(assets))
	totalCap := decimal.Zero
	for _, a := range assets {
		cap, ok := caps[a.CoinID]
		if !ok || !cap.IsPositive() {
			continue
		}
		valid = append(valid, a)
		totalCap = totalCap.Add(cap)
	}

	if len(valid) == 0 {
		return nil, errors.New("no market cap data available for any constituent")
	}

	out := make([]WeightedAsset, 0, len(valid))
	for _, a := range valid {
		weight := caps[a.CoinID].Div(totalCap).Mul(totalTargetWeight)
		if threshold != nil && weight.GreaterThan(*threshold) {
			weight = *threshold
		}
		out = append(out, WeightedAsset{Asset: a, Weight: weight})
	}
	return out, nil
}

// weightsFor resolves the target weights of an index for a rebalance date
func (s *Service) weightsFor(ctx context.Context, ix *domain.Index, date time.Time) ([]WeightedAsset, error) {
	switch ix.WeightStrategy {
	case domain.WeightEqual:
		return EqualWeights(ix.Assets)
	case domain.WeightMarketCap:
		if s.caps == nil {
			return nil, fmt.Errorf("index %d uses market cap weighting but no market cap source is configured", ix.ID)
		}
		coinIDs := make([]string, 0, len(ix.Assets))
		for _, a := range ix.Assets {
			coinIDs = append(coinIDs, a.CoinID)
		}
		caps, err := s.caps.CapsAt(ctx, coinIDs, date)
		if err != nil {
			return nil, fmt.Errorf("index %d: market caps for %s: %w", ix.ID, date.Format("2006-01-02"), err)
		}
		return MarketCapWeights(ix.Assets, caps, ix.WeightThreshold)
	default:
		return nil, fmt.Errorf("index %d: unknown weight strategy %q", ix.ID, ix.WeightStrategy)
	}
}
