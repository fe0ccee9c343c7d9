// Package history reconstructs normalized daily chart series for an index
// by valuing it day-by-day over a date range.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
)

// baseValue is the normalized starting value of every reconstructed series
var baseValue = decimal.NewFromInt(10000)

// Valuator is the single engine operation reconstruction needs
type Valuator interface {
	Valuate(indexID int, date time.Time) (*domain.Valuation, error)
}

// Reconstructor walks a date range and emits one HistoricalPoint per
// calendar day, normalized to a 10000 base.
type Reconstructor struct {
	engine Valuator
}

// NewReconstructor creates a reconstructor over the given engine
func NewReconstructor(engine Valuator) *Reconstructor {
	return &Reconstructor{engine: engine}
}

// Reconstruct returns a cursor over the inclusive date range. The walk is
// lazy: days are valued as the caller advances, so a consumer streaming a
// partial CSV can stop early without paying for the rest of the range.
// Re-calling Reconstruct restarts the walk from scratch.
func (r *Reconstructor) Reconstruct(indexID int, from, to time.Time) (*Cursor, error) {
	fromDay, toDay := domain.Day(from), domain.Day(to)
	if toDay.Before(fromDay) {
		return nil, fmt.Errorf("invalid range: %s is after %s",
			fromDay.Format("2006-01-02"), toDay.Format("2006-01-02"))
	}

	return &Cursor{
		engine:  r.engine,
		indexID: indexID,
		next:    fromDay,
		to:      toDay,
	}, nil
}

// Series collects the whole range eagerly and returns the points together
// with the dates that were skipped for lack of price data.
func (r *Reconstructor) Series(indexID int, from, to time.Time) ([]domain.HistoricalPoint, []time.Time, error) {
	cur, err := r.Reconstruct(indexID, from, to)
	if err != nil {
		return nil, nil, err
	}

	var points []domain.HistoricalPoint
	for cur.Next() {
		points = append(points, cur.Point())
	}
	if err := cur.Err(); err != nil {
		return nil, nil, err
	}
	return points, cur.Skipped(), nil
}

// Cursor iterates a reconstruction day by day, sql.Rows style:
//
//	for cur.Next() {
//	    p := cur.Point()
//	    ...
//	}
//	if err := cur.Err(); err != nil { ... }
//
// Days whose valuation fails for lack of price data are skipped without
// breaking the normalization chain: the next successful day links against
// the last successfully computed value, and the skipped dates are
// reported by Skipped. Any other valuation failure stops the cursor with
// that error.
type Cursor struct {
	engine  Valuator
	indexID int
	next    time.Time
	to      time.Time

	point   domain.HistoricalPoint
	prev    *domain.HistoricalPoint
	skipped []time.Time
	err     error
	done    bool
}

// Next advances to the following emittable day. Returns false when the
// range is exhausted or an error occurred.
func (c *Cursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}

	for !c.next.After(c.to) {
		day := c.next
		c.next = c.next.AddDate(0, 0, 1)

		val, err := c.engine.Valuate(c.indexID, day)
		if err != nil {
			var noData *domain.NoPriceDataError
			if errors.As(err, &noData) {
				c.skipped = append(c.skipped, day)
				continue
			}
			c.err = err
			return false
		}

		c.point = c.normalize(day, val)
		return true
	}

	c.done = true
	return false
}

func (c *Cursor) normalize(day time.Time, val *domain.Valuation) domain.HistoricalPoint {
	point := domain.HistoricalPoint{Date: day, Price: val.IndexPrice}

	if c.prev == nil {
		point.NormalizedValue = baseValue
	} else if c.prev.Price.IsPositive() {
		point.NormalizedValue = c.prev.NormalizedValue.Mul(val.IndexPrice).Div(c.prev.Price)
	} else {
		// Chain cannot scale off a non-positive price; carry the value
		point.NormalizedValue = c.prev.NormalizedValue
	}

	c.prev = &point
	return point
}

// Point returns the point produced by the last successful Next
func (c *Cursor) Point() domain.HistoricalPoint {
	return c.point
}

// Skipped returns the dates skipped so far for lack of price data
func (c *Cursor) Skipped() []time.Time {
	return c.skipped
}

// Err returns the error that stopped the cursor, if any
func (c *Cursor) Err() error {
	return c.err
}
