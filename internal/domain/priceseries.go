package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSeries is the ordered daily price history of one asset.
// Points are kept strictly increasing by date with no duplicates; lookups
// are logarithmic. The series itself is not goroutine-safe — the store
// layer serializes appends per asset.
type PriceSeries struct {
	Asset  Asset
	points []PricePoint
}

// NewPriceSeries creates an empty series for the given asset
func NewPriceSeries(asset Asset) (*PriceSeries, error) {
	if err := asset.Validate(); err != nil {
		return nil, fmt.Errorf("invalid asset: %w", err)
	}
	return &PriceSeries{Asset: asset}, nil
}

// Append inserts a new sample at its sorted position. Price feeds backfill,
// so out-of-order dates are accepted; a date already present fails with
// DuplicatePriceError.
func (s *PriceSeries) Append(p PricePoint) error {
	return s.insert(p, false)
}

// Upsert inserts a new sample or replaces the existing sample for the
// same date. Explicit opt-in for feeds that re-deliver corrected closes.
func (s *PriceSeries) Upsert(p PricePoint) error {
	return s.insert(p, true)
}

func (s *PriceSeries) insert(p PricePoint, upsert bool) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid price point for %s: %w", s.Asset.CoinID, err)
	}

	day := Day(p.Date)
	i := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Before(day)
	})

	if i < len(s.points) && s.points[i].Date.Equal(day) {
		if !upsert {
			return &DuplicatePriceError{CoinID: s.Asset.CoinID, Date: day}
		}
		s.points[i].Price = p.Price
		return nil
	}

	s.points = append(s.points, PricePoint{})
	copy(s.points[i+1:], s.points[i:])
	s.points[i] = PricePoint{Date: day, Price: p.Price}
	return nil
}

// PriceAt returns the price effective on the given date: the exact sample
// if one exists, otherwise the most recent sample before it
// (last observation carried forward). Fails with NoPriceDataError when the
// series has nothing at or before the date.
func (s *PriceSeries) PriceAt(date time.Time) (decimal.Decimal, error) {
	day := Day(date)

	// First index with Date > day; the sample before it is the carry-forward.
	i := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Date.After(day)
	})
	if i == 0 {
		return decimal.Decimal{}, &NoPriceDataError{CoinID: s.Asset.CoinID, Date: day}
	}
	return s.points[i-1].Price, nil
}

// Len returns the number of samples in the series
func (s *PriceSeries) Len() int {
	return len(s.points)
}

// Points returns a copy of the ordered samples
func (s *PriceSeries) Points() []PricePoint {
	out := make([]PricePoint, len(s.points))
	copy(out, s.points)
	return out
}

// LastDate returns the latest sample date, or a zero time for an empty
// series.
func (s *PriceSeries) LastDate() time.Time {
	if len(s.points) == 0 {
		return time.Time{}
	}
	return s.points[len(s.points)-1].Date
}
