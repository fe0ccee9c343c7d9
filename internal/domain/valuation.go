package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConstituentValuation is the per-constituent breakdown of one valuation
type ConstituentValuation struct {
	CoinID           string
	Symbol           string
	Weight           decimal.Decimal
	WeightPercentage decimal.Decimal
	Quantity         decimal.Decimal
	Price            decimal.Decimal
	Value            decimal.Decimal
}

// Valuation is a derived, non-persistent point-in-time result. Recomputed
// on demand, never stored.
//
// Partial is set when one or more constituents had no price data at the
// date and were excluded from PortfolioValue; MissingCoinIDs names them.
// Missing data is flagged, never silently swallowed.
type Valuation struct {
	IndexID        int
	Date           time.Time
	PortfolioValue decimal.Decimal
	IndexPrice     decimal.Decimal
	Partial        bool
	MissingCoinIDs []string
	Constituents   []ConstituentValuation
}

// HistoricalPoint is one day of a reconstructed chart series.
// NormalizedValue starts at 10000 on the first emitted date and scales
// with cumulative index-price return thereafter.
type HistoricalPoint struct {
	Date            time.Time
	Price           decimal.Decimal
	NormalizedValue decimal.Decimal
}
