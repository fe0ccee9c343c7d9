// Package valuation computes point-in-time index valuations by combining
// the active constituent set with carried-forward asset prices.
package valuation

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
)

// Engine values an index at any date on or after its inception.
// Stateless per call: concurrent valuations for any mix of indexes and
// dates are safe.
type Engine struct {
	Indexes domain.IndexSource
	Prices  domain.PriceSource
}

// NewEngine creates a new valuation engine over the injected stores
func NewEngine(indexes domain.IndexSource, prices domain.PriceSource) *Engine {
	return &Engine{Indexes: indexes, Prices: prices}
}

// Valuate computes the index valuation for a date.
//
// The index price is chain-linked through the active set's anchors:
//
//	indexPrice = anchorIndexPrice × portfolioValue / anchorPortfolioValue
//
// Each set's anchors are captured at its effective date, and every set
// built at a rebalance inherits the price the previous set produced at the
// boundary, so weight changes are value-neutral and only market movement
// moves the price. At inception the anchor price is the configured initial
// price exactly.
//
// Constituents with no price data at the date are excluded from the
// portfolio value and reported via Partial/MissingCoinIDs. A valuation
// where no constituent could be priced fails with the underlying
// NoPriceDataError.
func (e *Engine) Valuate(indexID int, date time.Time) (*domain.Valuation, error) {
	ix, err := e.Indexes.Get(indexID)
	if err != nil {
		return nil, err
	}

	day := domain.Day(date)
	if day.Before(domain.Day(ix.InitialDate)) {
		return nil, &domain.BeforeInceptionError{IndexID: ix.ID, Date: day, InitialDate: domain.Day(ix.InitialDate)}
	}

	set, err := ix.ActiveSetAt(day)
	if err != nil {
		return nil, err
	}

	return e.valuateWithSet(ix, set, day)
}

// ValuateWithSet values an index at a date against an explicit set rather
// than the one resolved from the schedule. The rebalance service uses it
// to price the boundary date with the outgoing set while deriving the
// incoming one.
func (e *Engine) ValuateWithSet(indexID int, set *domain.ConstituentSet, date time.Time) (*domain.Valuation, error) {
	ix, err := e.Indexes.Get(indexID)
	if err != nil {
		return nil, err
	}
	return e.valuateWithSet(ix, set, domain.Day(date))
}

func (e *Engine) valuateWithSet(ix *domain.Index, set *domain.ConstituentSet, day time.Time) (*domain.Valuation, error) {
	val := &domain.Valuation{
		IndexID:        ix.ID,
		Date:           day,
		PortfolioValue: decimal.Zero,
	}

	// An index with no constituents does not crash to zero: it holds the
	// last chained price flat until tokens are added.
	if set.IsEmpty() {
		val.IndexPrice = set.AnchorIndexPrice
		return val, nil
	}

	var firstMissing error
	for _, c := range set.Constituents {
		price, err := e.Prices.PriceAt(c.Asset.CoinID, day)
		if err != nil {
			var noData *domain.NoPriceDataError
			if errors.As(err, &noData) {
				val.Partial = true
				val.MissingCoinIDs = append(val.MissingCoinIDs, c.Asset.CoinID)
				if firstMissing == nil {
					firstMissing = err
				}
				continue
			}
			return nil, fmt.Errorf("index %d at %s: %w", ix.ID, day.Format("2006-01-02"), err)
		}

		value := c.Quantity.Mul(price)
		val.PortfolioValue = val.PortfolioValue.Add(value)
		val.Constituents = append(val.Constituents, domain.ConstituentValuation{
			CoinID:           c.Asset.CoinID,
			Symbol:           c.Asset.Symbol,
			Weight:           c.Weight,
			WeightPercentage: set.WeightPercentage(c),
			Quantity:         c.Quantity,
			Price:            price,
			Value:            value,
		})
	}

	if len(val.Constituents) == 0 {
		return nil, fmt.Errorf("index %d at %s: no constituent could be priced: %w",
			ix.ID, day.Format("2006-01-02"), firstMissing)
	}

	val.IndexPrice = chainPrice(set, val.PortfolioValue)
	return val, nil
}

// chainPrice applies the anchor ratio. A zero anchor portfolio value means
// the set was created in a zero-value state; the price stays at the anchor.
func chainPrice(set *domain.ConstituentSet, portfolioValue decimal.Decimal) decimal.Decimal {
	if !set.AnchorPortfolioValue.IsPositive() {
		return set.AnchorIndexPrice
	}
	return set.AnchorIndexPrice.Mul(portfolioValue).Div(set.AnchorPortfolioValue)
}
