package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/indexd/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPriceStore_RegisterAndLookup(t *testing.T) {
	s := NewPriceStore()
	require.NoError(t, s.Register(domain.Asset{CoinID: "bitcoin", Symbol: "BTC"}))

	// Registering twice is a no-op, not an error
	require.NoError(t, s.Register(domain.Asset{CoinID: "bitcoin", Symbol: "BTC"}))

	require.NoError(t, s.Append("bitcoin", domain.PricePoint{Date: day(2025, 1, 1), Price: decimal.NewFromInt(50000)}))

	price, err := s.PriceAt("bitcoin", day(2025, 1, 15))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(50000)))
}

func TestPriceStore_UnknownAsset(t *testing.T) {
	s := NewPriceStore()
	_, err := s.PriceAt("dogecoin", day(2025, 1, 1))

	var notFound *domain.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "asset", notFound.Kind)
}

func TestPriceStore_DuplicateSurfaces(t *testing.T) {
	s := NewPriceStore()
	require.NoError(t, s.Register(domain.Asset{CoinID: "bitcoin", Symbol: "BTC"}))
	require.NoError(t, s.Append("bitcoin", domain.PricePoint{Date: day(2025, 1, 1), Price: decimal.NewFromInt(50000)}))

	err := s.Append("bitcoin", domain.PricePoint{Date: day(2025, 1, 1), Price: decimal.NewFromInt(51000)})
	var dup *domain.DuplicatePriceError
	assert.True(t, errors.As(err, &dup))

	// Upsert mode replaces instead
	require.NoError(t, s.Upsert("bitcoin", domain.PricePoint{Date: day(2025, 1, 1), Price: decimal.NewFromInt(51000)}))
	price, err := s.PriceAt("bitcoin", day(2025, 1, 1))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(51000)))
}

func TestPriceStore_ConcurrentAppendsAcrossAssets(t *testing.T) {
	s := NewPriceStore()
	coins := []string{"bitcoin", "ethereum", "solana", "cardano"}
	for _, c := range coins {
		require.NoError(t, s.Register(domain.Asset{CoinID: c, Symbol: c}))
	}

	var wg sync.WaitGroup
	for _, c := range coins {
		wg.Add(1)
		go func(coinID string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = s.Append(coinID, domain.PricePoint{
					Date:  day(2025, 1, 1).AddDate(0, 0, i),
					Price: decimal.NewFromInt(int64(1000 + i)),
				})
			}
		}(c)
	}
	wg.Wait()

	for _, c := range coins {
		_, points, err := s.Series(c)
		require.NoError(t, err)
		assert.Len(t, points, 100)
	}
}

func TestIndexStore_AddGetList(t *testing.T) {
	s := NewIndexStore()
	ix := &domain.Index{
		ID:                  7,
		Symbol:              "L1X",
		Name:                "Layer One Index",
		InitialDate:         day(2025, 1, 1),
		InitialPrice:        decimal.NewFromInt(1000),
		RebalancePeriodDays: 30,
		WeightStrategy:      domain.WeightEqual,
	}
	require.NoError(t, s.Add(ix))

	// Duplicate id is rejected
	assert.Error(t, s.Add(ix))

	got, err := s.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "L1X", got.Symbol)

	_, err = s.Get(99)
	var notFound *domain.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	assert.Len(t, s.List(), 1)
}

func TestIndexStore_AppendSetEnforcesOrder(t *testing.T) {
	s := NewIndexStore()
	ix := &domain.Index{
		ID:                  7,
		Symbol:              "L1X",
		Name:                "Layer One Index",
		InitialDate:         day(2025, 1, 1),
		InitialPrice:        decimal.NewFromInt(1000),
		RebalancePeriodDays: 30,
		WeightStrategy:      domain.WeightEqual,
	}
	require.NoError(t, s.Add(ix))

	first := &domain.ConstituentSet{
		ID:               uuid.New(),
		EffectiveDate:    day(2025, 1, 1),
		Reason:           domain.RebalanceInitial,
		AnchorIndexPrice: decimal.NewFromInt(1000),
	}
	require.NoError(t, s.AppendSet(7, first))

	// Re-applying the same date leaves the history untouched
	err := s.AppendSet(7, first)
	var outOfOrder *domain.OutOfOrderRebalanceError
	require.True(t, errors.As(err, &outOfOrder))

	got, err := s.Get(7)
	require.NoError(t, err)
	assert.Len(t, got.Sets, 1)
}

func TestIndexStore_ReadsDuringAppendsSeeConsistentSnapshots(t *testing.T) {
	// Valuation-style reads (Get + ActiveSetAt, List) race scheduled
	// appends; every reader must see a fully applied history, never a
	// half-committed one. Run with -race.
	s := NewIndexStore()
	ix := &domain.Index{
		ID:                  7,
		Symbol:              "L1X",
		Name:                "Layer One Index",
		InitialDate:         day(2025, 1, 1),
		InitialPrice:        decimal.NewFromInt(1000),
		RebalancePeriodDays: 30,
		WeightStrategy:      domain.WeightEqual,
	}
	require.NoError(t, s.Add(ix))
	require.NoError(t, s.AppendSet(7, &domain.ConstituentSet{
		ID:               uuid.New(),
		EffectiveDate:    day(2025, 1, 1),
		Reason:           domain.RebalanceInitial,
		AnchorIndexPrice: decimal.NewFromInt(1000),
	}))

	const appends = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= appends; i++ {
			_ = s.AppendSet(7, &domain.ConstituentSet{
				ID:               uuid.New(),
				EffectiveDate:    day(2025, 1, 1).AddDate(0, 0, i),
				Reason:           domain.RebalancePeriodic,
				AnchorIndexPrice: decimal.NewFromInt(1000),
			})
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := s.Get(7)
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := got.ActiveSetAt(day(2025, 6, 1)); err != nil {
					t.Error(err)
					return
				}
				_ = s.List()

				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(7)
	require.NoError(t, err)
	assert.Len(t, got.Sets, appends+1)
}
