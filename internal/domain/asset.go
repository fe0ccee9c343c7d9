package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Asset identifies a token tracked by the price registry.
// CoinID is the stable external identifier (CoinGecko id); Symbol is the
// display ticker. An asset is immutable once a constituent references it.
type Asset struct {
	CoinID string
	Symbol string
}

// Validate ensures the asset carries both identifiers
func (a Asset) Validate() error {
	if a.CoinID == "" {
		return errors.New("asset coinId cannot be empty")
	}
	if a.Symbol == "" {
		return errors.New("asset symbol cannot be empty")
	}
	return nil
}

// PricePoint is one daily observation for an asset.
// Price is a non-negative decimal; Date is a UTC calendar day.
type PricePoint struct {
	Date  time.Time
	Price decimal.Decimal
}

// Validate ensures the price point adheres to domain rules
func (p PricePoint) Validate() error {
	if p.Price.IsNegative() {
		return errors.New("price cannot be negative")
	}
	if p.Date.IsZero() {
		return errors.New("price point date cannot be zero")
	}
	return nil
}

// Day truncates t to a UTC calendar day. All date comparisons in the
// engine operate on Day-normalized times.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
