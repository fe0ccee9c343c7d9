package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// WeightStrategy selects how target weights are assigned at rebalance time
type WeightStrategy string

const (
	// WeightEqual assigns every constituent the same weight
	WeightEqual WeightStrategy = "equal"
	// WeightMarketCap assigns weights proportional to market capitalization,
	// optionally capped per constituent
	WeightMarketCap WeightStrategy = "marketCap"
)

// ParseWeightStrategy maps the wire value to a strategy
func ParseWeightStrategy(s string) (WeightStrategy, error) {
	switch WeightStrategy(s) {
	case WeightEqual, WeightMarketCap:
		return WeightStrategy(s), nil
	case "":
		return WeightEqual, nil
	default:
		return "", fmt.Errorf("unknown weight strategy %q", s)
	}
}

// RebalanceSchedule derives the ordered rebalance dates of an index:
// InitialDate, InitialDate+PeriodDays, InitialDate+2×PeriodDays, …
type RebalanceSchedule struct {
	InitialDate time.Time
	PeriodDays  int
}

// DatesUntil returns every scheduled rebalance date up to and including
// the given date. Empty when until precedes the initial date.
func (s RebalanceSchedule) DatesUntil(until time.Time) []time.Time {
	until = Day(until)
	var dates []time.Time
	for d := Day(s.InitialDate); !d.After(until); d = d.AddDate(0, 0, s.PeriodDays) {
		dates = append(dates, d)
	}
	return dates
}

// Index is a synthetic token index: identity, configuration and the
// append-only history of constituent sets. Sets are mutated only through
// AppendSet, which enforces monotonic effective dates.
type Index struct {
	ID         int
	Symbol     string
	Name       string
	Address    string
	Category   string
	AssetClass string

	// Assets is the configured token universe rebalances draw from
	Assets []Asset

	InitialDate  time.Time
	InitialPrice decimal.Decimal

	RebalancePeriodDays int
	WeightStrategy      WeightStrategy
	WeightThreshold     *decimal.Decimal

	ExchangesAllowed    []string
	ExchangeTradingFees decimal.Decimal
	ExchangeAvgSpread   decimal.Decimal

	Sets []*ConstituentSet
}

// Validate ensures the index configuration adheres to domain rules
func (ix *Index) Validate() error {
	if ix.ID <= 0 {
		return errors.New("index id must be positive")
	}
	if ix.Symbol == "" {
		return errors.New("index symbol cannot be empty")
	}
	if ix.Name == "" {
		return errors.New("index name cannot be empty")
	}
	if ix.InitialDate.IsZero() {
		return errors.New("index initial date cannot be zero")
	}
	if !ix.InitialPrice.IsPositive() {
		return errors.New("index initial price must be positive")
	}
	if ix.RebalancePeriodDays < 1 {
		return errors.New("rebalance period must be at least one day")
	}
	if ix.WeightStrategy != WeightEqual && ix.WeightStrategy != WeightMarketCap {
		return fmt.Errorf("unknown weight strategy %q", ix.WeightStrategy)
	}
	for _, a := range ix.Assets {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a shallow copy with its own Sets slice. Configuration
// fields and past sets are shared between the copies; both are immutable
// once published.
func (ix *Index) Clone() *Index {
	cp := *ix
	cp.Sets = make([]*ConstituentSet, len(ix.Sets))
	copy(cp.Sets, ix.Sets)
	return &cp
}

// Schedule returns the rebalance schedule of the index
func (ix *Index) Schedule() RebalanceSchedule {
	return RebalanceSchedule{InitialDate: Day(ix.InitialDate), PeriodDays: ix.RebalancePeriodDays}
}

// AppendSet appends a rebalance outcome. The effective date must be
// strictly after the latest applied set, except for the very first set
// which must fall on the initial date.
func (ix *Index) AppendSet(set *ConstituentSet) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("index %d: invalid constituent set: %w", ix.ID, err)
	}

	day := Day(set.EffectiveDate)
	if len(ix.Sets) == 0 {
		if !day.Equal(Day(ix.InitialDate)) {
			return fmt.Errorf("index %d: first constituent set must be effective on the initial date", ix.ID)
		}
		ix.Sets = append(ix.Sets, set)
		return nil
	}

	latest := ix.Sets[len(ix.Sets)-1].EffectiveDate
	if !day.After(latest) {
		return &OutOfOrderRebalanceError{IndexID: ix.ID, EffectiveDate: day, LatestDate: latest}
	}
	ix.Sets = append(ix.Sets, set)
	return nil
}

// ActiveSetAt resolves the constituent set authoritative for a date: the
// set with the latest effective date not after it. Binary search over the
// monotonic history.
func (ix *Index) ActiveSetAt(date time.Time) (*ConstituentSet, error) {
	day := Day(date)

	// First set with EffectiveDate > day; its predecessor is active.
	i := sort.Search(len(ix.Sets), func(i int) bool {
		return ix.Sets[i].EffectiveDate.After(day)
	})
	if i == 0 {
		return nil, &NoActiveSetError{IndexID: ix.ID, Date: day}
	}
	return ix.Sets[i-1], nil
}

// LatestSet returns the most recently applied set, or nil when no set has
// been applied yet.
func (ix *Index) LatestSet() *ConstituentSet {
	if len(ix.Sets) == 0 {
		return nil
	}
	return ix.Sets[len(ix.Sets)-1]
}

// ErrIndexNotFound builds a NotFoundError for an index id
func ErrIndexNotFound(id int) *NotFoundError {
	return &NotFoundError{Kind: "index", ID: strconv.Itoa(id)}
}

// ErrAssetNotFound builds a NotFoundError for an asset coin id
func ErrAssetNotFound(coinID string) *NotFoundError {
	return &NotFoundError{Kind: "asset", ID: coinID}
}
