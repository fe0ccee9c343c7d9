package domain

import (
	"fmt"
	"time"
)

// NoPriceDataError reports that an asset has no sample at or before the
// requested date. Recoverable per-constituent: the valuation engine excludes
// the asset and flags the result partial instead of failing the whole read.
type NoPriceDataError struct {
	CoinID string
	Date   time.Time
}

func (e *NoPriceDataError) Error() string {
	return fmt.Sprintf("no price data for %s at or before %s", e.CoinID, e.Date.Format("2006-01-02"))
}

// DuplicatePriceError reports an insert for a date the series already holds.
// Always fatal to the write; callers that backfill must request upsert mode.
type DuplicatePriceError struct {
	CoinID string
	Date   time.Time
}

func (e *DuplicatePriceError) Error() string {
	return fmt.Sprintf("price for %s on %s already exists", e.CoinID, e.Date.Format("2006-01-02"))
}

// NonPositivePriceError reports a stored sample that cannot anchor a
// quantity derivation (quantities divide by the price). Like missing data,
// it is recoverable per-date: a scheduled rebalance hitting one is skipped
// and retried once a usable sample lands.
type NonPositivePriceError struct {
	CoinID string
	Date   time.Time
}

func (e *NonPositivePriceError) Error() string {
	return fmt.Sprintf("non-positive price for %s on %s", e.CoinID, e.Date.Format("2006-01-02"))
}

// BeforeInceptionError reports a valuation query for a date preceding the
// index initial date.
type BeforeInceptionError struct {
	IndexID     int
	Date        time.Time
	InitialDate time.Time
}

func (e *BeforeInceptionError) Error() string {
	return fmt.Sprintf("index %d: date %s precedes inception %s",
		e.IndexID, e.Date.Format("2006-01-02"), e.InitialDate.Format("2006-01-02"))
}

// NoActiveSetError reports that no constituent set is effective at the
// query date.
type NoActiveSetError struct {
	IndexID int
	Date    time.Time
}

func (e *NoActiveSetError) Error() string {
	return fmt.Sprintf("index %d: no constituent set active at %s", e.IndexID, e.Date.Format("2006-01-02"))
}

// OutOfOrderRebalanceError reports an append whose effective date is not
// strictly after the latest applied rebalance. Rebalance history is
// append-only and monotonic.
type OutOfOrderRebalanceError struct {
	IndexID       int
	EffectiveDate time.Time
	LatestDate    time.Time
}

func (e *OutOfOrderRebalanceError) Error() string {
	return fmt.Sprintf("index %d: rebalance for %s is not after latest rebalance %s",
		e.IndexID, e.EffectiveDate.Format("2006-01-02"), e.LatestDate.Format("2006-01-02"))
}

// NotFoundError reports a missing entity (index or asset) by identifier.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}
