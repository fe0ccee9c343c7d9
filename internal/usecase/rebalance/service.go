package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
	"github.com/quantfolio/indexd/internal/usecase/valuation"
)

// indexStore is the slice of the in-memory index store the service needs
type indexStore interface {
	domain.IndexSource
	AppendSet(id int, set *domain.ConstituentSet) error
}

// MarketCapSource answers market capitalization lookups for a set of
// assets on a date. Optional: only indexes using market cap weighting
// need one.
type MarketCapSource interface {
	CapsAt(ctx context.Context, coinIDs []string, date time.Time) (map[string]decimal.Decimal, error)
}

// Holding is an actual vault position: an asset and the quantity held
type Holding struct {
	Asset    domain.Asset
	Quantity decimal.Decimal
}

// Service applies rebalances: it prices the portfolio at the boundary
// with the outgoing set, builds the new set value-neutrally, persists it
// and only then makes it observable through the store.
type Service struct {
	indexes indexStore
	engine  *valuation.Engine
	prices  domain.PriceSource
	repo    domain.IndexRepository
	caps    MarketCapSource
}

// NewService creates a new rebalance service
func NewService(indexes indexStore, engine *valuation.Engine, prices domain.PriceSource, repo domain.IndexRepository, caps MarketCapSource) *Service {
	return &Service{
		indexes: indexes,
		engine:  engine,
		prices:  prices,
		repo:    repo,
		caps:    caps,
	}
}

// BuildFromTargetWeights builds a constituent set whose quantities realize
// the given target weights at the given portfolio value:
//
//	quantity = weight/totalWeight × portfolioValue / priceAt(asset, effectiveDate)
//
// The anchor portfolio value is recomputed from the derived quantities so
// the chain-link ratio is exactly 1 on the effective date. A missing price
// for any asset fails the whole build; a set is never written partially.
func BuildFromTargetWeights(prices domain.PriceSource, effectiveDate time.Time, weights []WeightedAsset, portfolioValue, anchorIndexPrice decimal.Decimal, reason domain.RebalanceReason) (*domain.ConstituentSet, error) {
	day := domain.Day(effectiveDate)

	set := &domain.ConstituentSet{
		ID:               uuid.New(),
		EffectiveDate:    day,
		Reason:           reason,
		AnchorIndexPrice: anchorIndexPrice,
	}
	if len(weights) == 0 {
		return set, nil
	}

	totalWeight := decimal.Zero
	for _, w := range weights {
		totalWeight = totalWeight.Add(w.Weight)
	}
	if !totalWeight.IsPositive() {
		return nil, errors.New("target weights must sum to a positive total")
	}

	anchorValue := decimal.Zero
	for _, w := range weights {
		price, err := prices.PriceAt(w.Asset.CoinID, day)
		if err != nil {
			return nil, fmt.Errorf("pricing %s for rebalance on %s: %w", w.Asset.CoinID, day.Format("2006-01-02"), err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("pricing %s for rebalance: %w", w.Asset.CoinID,
				&domain.NonPositivePriceError{CoinID: w.Asset.CoinID, Date: day})
		}

		quantity := w.Weight.Div(totalWeight).Mul(portfolioValue).Div(price)
		set.Constituents = append(set.Constituents, domain.Constituent{
			Asset:    w.Asset,
			Weight:   w.Weight,
			Quantity: quantity,
		})
		anchorValue = anchorValue.Add(quantity.Mul(price))
	}

	set.TotalWeight = totalWeight
	set.AnchorPortfolioValue = anchorValue
	return set, nil
}

// BuildFromHeldQuantities builds a constituent set from actual vault
// holdings. Weights are derived from the positions themselves
// (weight = quantity × price), so the anchor portfolio value equals the
// total weight by construction.
func BuildFromHeldQuantities(prices domain.PriceSource, effectiveDate time.Time, holdings []Holding, anchorIndexPrice decimal.Decimal) (*domain.ConstituentSet, error) {
	day := domain.Day(effectiveDate)

	set := &domain.ConstituentSet{
		ID:               uuid.New(),
		EffectiveDate:    day,
		Reason:           domain.RebalanceHoldings,
		AnchorIndexPrice: anchorIndexPrice,
	}

	totalWeight := decimal.Zero
	for _, h := range holdings {
		if h.Quantity.IsNegative() {
			return nil, fmt.Errorf("holding %s: quantity cannot be negative", h.Asset.CoinID)
		}
		price, err := prices.PriceAt(h.Asset.CoinID, day)
		if err != nil {
			return nil, fmt.Errorf("pricing %s for holdings snapshot on %s: %w", h.Asset.CoinID, day.Format("2006-01-02"), err)
		}

		weight := h.Quantity.Mul(price)
		set.Constituents = append(set.Constituents, domain.Constituent{
			Asset:    h.Asset,
			Weight:   weight,
			Quantity: h.Quantity,
		})
		totalWeight = totalWeight.Add(weight)
	}

	set.TotalWeight = totalWeight
	set.AnchorPortfolioValue = totalWeight
	return set, nil
}

// Rebalance applies one scheduled rebalance for the index on the given
// date. The boundary is priced with the outgoing set, target weights are
// resolved per the index strategy, and the new set inherits the boundary
// index price as its anchor, so the rebalance itself never moves the
// price.
func (s *Service) Rebalance(ctx context.Context, indexID int, date time.Time) (*domain.ConstituentSet, error) {
	ix, err := s.indexes.Get(indexID)
	if err != nil {
		return nil, err
	}
	day := domain.Day(date)

	latest := ix.LatestSet()
	if latest == nil {
		return nil, &domain.NoActiveSetError{IndexID: indexID, Date: day}
	}
	if !day.After(latest.EffectiveDate) {
		return nil, &domain.OutOfOrderRebalanceError{IndexID: indexID, EffectiveDate: day, LatestDate: latest.EffectiveDate}
	}

	boundary, err := s.engine.ValuateWithSet(indexID, latest, day)
	if err != nil {
		return nil, fmt.Errorf("pricing rebalance boundary for index %d: %w", indexID, err)
	}
	if boundary.Partial {
		return nil, fmt.Errorf("index %d: cannot rebalance on %s: no price data for %v",
			indexID, day.Format("2006-01-02"), boundary.MissingCoinIDs)
	}

	// An empty universe still rolls the schedule forward: the new set is
	// empty and carries the boundary price flat.
	var weights []WeightedAsset
	if len(ix.Assets) > 0 {
		if weights, err = s.weightsFor(ctx, ix, day); err != nil {
			return nil, err
		}
	}

	set, err := BuildFromTargetWeights(s.prices, day, weights, boundary.PortfolioValue, boundary.IndexPrice, domain.RebalancePeriodic)
	if err != nil {
		return nil, err
	}

	return set, s.commit(ctx, indexID, set)
}

// ApplyHoldings replaces the active set with one derived from actual
// vault holdings, effective on the given date. The anchor index price is
// taken from the chain at the boundary; for an index with no sets yet the
// initial price anchors the chain.
func (s *Service) ApplyHoldings(ctx context.Context, indexID int, date time.Time, holdings []Holding) (*domain.ConstituentSet, error) {
	ix, err := s.indexes.Get(indexID)
	if err != nil {
		return nil, err
	}
	day := domain.Day(date)

	anchorPrice := ix.InitialPrice
	if ix.LatestSet() != nil {
		boundary, err := s.engine.Valuate(indexID, day)
		if err != nil {
			return nil, fmt.Errorf("pricing holdings boundary for index %d: %w", indexID, err)
		}
		anchorPrice = boundary.IndexPrice
	}

	set, err := BuildFromHeldQuantities(s.prices, day, holdings, anchorPrice)
	if err != nil {
		return nil, err
	}

	return set, s.commit(ctx, indexID, set)
}

// RunDue applies every scheduled rebalance the index has missed up to the
// given date, oldest first, and reports how many were applied. Dates that
// cannot be priced yet are skipped and picked up by a later run; any
// other failure stops the catch-up.
func (s *Service) RunDue(ctx context.Context, indexID int, until time.Time) (int, error) {
	ix, err := s.indexes.Get(indexID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, d := range ix.Schedule().DatesUntil(until) {
		latest := ix.LatestSet()
		if latest != nil && !d.After(latest.EffectiveDate) {
			continue
		}

		if _, err := s.Rebalance(ctx, indexID, d); err != nil {
			if isUnpricedDate(err) {
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// isUnpricedDate reports whether a rebalance failed only because the date
// cannot be priced yet (no sample, or a stored non-positive one). Such
// dates are skipped by catch-up and retried on a later run.
func isUnpricedDate(err error) bool {
	var noData *domain.NoPriceDataError
	var nonPositive *domain.NonPositivePriceError
	return errors.As(err, &noData) || errors.As(err, &nonPositive)
}

// commit persists the set, then makes it observable through the store.
// The store append re-checks ordering under the index lock; persistence
// first means a crash between the two steps is repaired by the next
// hydration, not by losing an applied rebalance.
func (s *Service) commit(ctx context.Context, indexID int, set *domain.ConstituentSet) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("index %d: invalid constituent set: %w", indexID, err)
	}
	if err := s.repo.AppendSet(ctx, indexID, set); err != nil {
		return fmt.Errorf("persisting rebalance for index %d: %w", indexID, err)
	}
	if err := s.indexes.AppendSet(indexID, set); err != nil {
		return err
	}
	return nil
}
