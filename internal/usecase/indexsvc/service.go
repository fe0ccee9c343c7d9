package indexsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
	"github.com/quantfolio/indexd/internal/usecase/rebalance"
)

// indexStore is the slice of the in-memory index store the service needs
type indexStore interface {
	domain.IndexSource
	Add(ix *domain.Index) error
}

// CreateParams carries everything needed to define a new index
type CreateParams struct {
	ID         int
	Symbol     string
	Name       string
	Address    string
	Category   string
	AssetClass string

	Tokens []domain.Asset

	InitialDate  time.Time
	InitialPrice decimal.Decimal

	RebalancePeriodDays int
	WeightStrategy      string
	WeightThreshold     *decimal.Decimal

	ExchangesAllowed    []string
	ExchangeTradingFees decimal.Decimal
	ExchangeAvgSpread   decimal.Decimal
}

// Service creates indexes and answers configuration reads
type Service struct {
	indexes indexStore
	prices  domain.PriceSource
	repo    domain.IndexRepository
	caps    rebalance.MarketCapSource
}

// NewService creates a new index service
func NewService(indexes indexStore, prices domain.PriceSource, repo domain.IndexRepository, caps rebalance.MarketCapSource) *Service {
	return &Service{indexes: indexes, prices: prices, repo: repo, caps: caps}
}

// Create defines a new index and builds its inception set, anchored at the
// initial price. An index created without tokens starts with an empty set;
// it prices flat at the initial price until holdings or a rebalance give
// it constituents.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Index, error) {
	strategy, err := domain.ParseWeightStrategy(p.WeightStrategy)
	if err != nil {
		return nil, err
	}

	ix := &domain.Index{
		ID:                  p.ID,
		Symbol:              p.Symbol,
		Name:                p.Name,
		Address:             p.Address,
		Category:            p.Category,
		AssetClass:          p.AssetClass,
		Assets:              p.Tokens,
		InitialDate:         domain.Day(p.InitialDate),
		InitialPrice:        p.InitialPrice,
		RebalancePeriodDays: p.RebalancePeriodDays,
		WeightStrategy:      strategy,
		WeightThreshold:     p.WeightThreshold,
		ExchangesAllowed:    p.ExchangesAllowed,
		ExchangeTradingFees: p.ExchangeTradingFees,
		ExchangeAvgSpread:   p.ExchangeAvgSpread,
	}
	if err := ix.Validate(); err != nil {
		return nil, err
	}

	set, err := s.inceptionSet(ctx, ix)
	if err != nil {
		return nil, err
	}
	if err := ix.AppendSet(set); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, ix); err != nil {
		return nil, fmt.Errorf("persisting index %d: %w", ix.ID, err)
	}
	if err := s.indexes.Add(ix); err != nil {
		return nil, err
	}
	return ix, nil
}

// inceptionSet builds the first constituent set. The anchor portfolio
// value is set to the initial price, so one index unit initially holds one
// price unit of tokens and the chain starts at exactly the initial price.
func (s *Service) inceptionSet(ctx context.Context, ix *domain.Index) (*domain.ConstituentSet, error) {
	if len(ix.Assets) == 0 {
		return rebalance.BuildFromTargetWeights(s.prices, ix.InitialDate, nil, decimal.Zero, ix.InitialPrice, domain.RebalanceInitial)
	}

	var (
		weights []rebalance.WeightedAsset
		err     error
	)
	switch ix.WeightStrategy {
	case domain.WeightMarketCap:
		if s.caps == nil {
			return nil, fmt.Errorf("index %d uses market cap weighting but no market cap source is configured", ix.ID)
		}
		coinIDs := make([]string, 0, len(ix.Assets))
		for _, a := range ix.Assets {
			coinIDs = append(coinIDs, a.CoinID)
		}
		caps, capErr := s.caps.CapsAt(ctx, coinIDs, ix.InitialDate)
		if capErr != nil {
			return nil, fmt.Errorf("index %d: market caps at inception: %w", ix.ID, capErr)
		}
		weights, err = rebalance.MarketCapWeights(ix.Assets, caps, ix.WeightThreshold)
	default:
		weights, err = rebalance.EqualWeights(ix.Assets)
	}
	if err != nil {
		return nil, err
	}

	return rebalance.BuildFromTargetWeights(s.prices, ix.InitialDate, weights, ix.InitialPrice, ix.InitialPrice, domain.RebalanceInitial)
}

// Get retrieves an index configuration by id
func (s *Service) Get(id int) (*domain.Index, error) {
	return s.indexes.Get(id)
}

// List returns all indexes ordered by id
func (s *Service) List() []*domain.Index {
	return s.indexes.List()
}
