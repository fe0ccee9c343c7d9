// Package store provides the process-wide in-memory stores the valuation
// engine reads from. Stores are injected at construction and hydrated from
// the repositories at boot; they are the single source of truth for the
// read path, with writes persisted by the owning services before they land
// here.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
)

// PriceStore holds one PriceSeries per asset. Appends for one asset are
// serialized by a per-asset lock, independent of every other asset and of
// the index store, so a shared asset never contends on another index's
// rebalance writes.
type PriceStore struct {
	mu     sync.RWMutex // guards the series map
	series map[string]*seriesEntry
}

type seriesEntry struct {
	mu     sync.RWMutex // serializes appends, shared by readers
	series *domain.PriceSeries
}

// NewPriceStore creates an empty price store
func NewPriceStore() *PriceStore {
	return &PriceStore{series: make(map[string]*seriesEntry)}
}

// Register adds an asset with an empty series. Registering an already
// known asset is a no-op.
func (s *PriceStore) Register(asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return fmt.Errorf("invalid asset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.series[asset.CoinID]; ok {
		return nil
	}
	series, err := domain.NewPriceSeries(asset)
	if err != nil {
		return err
	}
	s.series[asset.CoinID] = &seriesEntry{series: series}
	return nil
}

// Hydrate replaces the series for an asset wholesale. Used at boot when
// loading persisted history.
func (s *PriceStore) Hydrate(series *domain.PriceSeries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[series.Asset.CoinID] = &seriesEntry{series: series}
}

// Append adds one sample to an asset's series. Fails with
// DuplicatePriceError when the date is already present.
func (s *PriceStore) Append(coinID string, p domain.PricePoint) error {
	entry, err := s.entry(coinID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.series.Append(p)
}

// Upsert adds one sample, replacing any existing sample for the date
func (s *PriceStore) Upsert(coinID string, p domain.PricePoint) error {
	entry, err := s.entry(coinID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.series.Upsert(p)
}

// PriceAt implements domain.PriceSource
func (s *PriceStore) PriceAt(coinID string, date time.Time) (decimal.Decimal, error) {
	entry, err := s.entry(coinID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.series.PriceAt(date)
}

// Series returns a copy of an asset's ordered samples
func (s *PriceStore) Series(coinID string) (domain.Asset, []domain.PricePoint, error) {
	entry, err := s.entry(coinID)
	if err != nil {
		return domain.Asset{}, nil, err
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.series.Asset, entry.series.Points(), nil
}

// LastDate returns the latest sample date for an asset (zero when empty)
func (s *PriceStore) LastDate(coinID string) (time.Time, error) {
	entry, err := s.entry(coinID)
	if err != nil {
		return time.Time{}, err
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.series.LastDate(), nil
}

// Assets returns all registered assets ordered by coin id
func (s *PriceStore) Assets() []domain.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]domain.Asset, 0, len(s.series))
	for _, e := range s.series {
		assets = append(assets, e.series.Asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].CoinID < assets[j].CoinID })
	return assets
}

func (s *PriceStore) entry(coinID string) (*seriesEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.series[coinID]
	if !ok {
		return nil, domain.ErrAssetNotFound(coinID)
	}
	return entry, nil
}
