package ingest

import (
	"context"
	"fmt"

	"github.com/quantfolio/indexd/internal/domain"
	"github.com/quantfolio/indexd/internal/store"
)

// TokenPrices bundles an asset with a batch of daily samples, the shape
// price backfills arrive in
type TokenPrices struct {
	Asset  domain.Asset
	Points []domain.PricePoint
}

// Service ingests assets and daily price samples. The store append runs
// first: it validates the sample and detects duplicates atomically under
// the per-asset lock, so a rejected sample never reaches the repository.
// A sample the repository then fails to persist stays readable until
// restart and is resubmitted by the caller.
type Service struct {
	prices *store.PriceStore
	repo   domain.PriceRepository
}

// NewService creates a new ingest service
func NewService(prices *store.PriceStore, repo domain.PriceRepository) *Service {
	return &Service{prices: prices, repo: repo}
}

// RegisterAsset makes an asset known to the store and the repository.
// Idempotent.
func (s *Service) RegisterAsset(ctx context.Context, asset domain.Asset) error {
	if err := s.prices.Register(asset); err != nil {
		return err
	}
	if err := s.repo.SaveAsset(ctx, asset); err != nil {
		return fmt.Errorf("persisting asset %s: %w", asset.CoinID, err)
	}
	return nil
}

// AddPrice ingests one daily sample. With upsert false a sample for an
// already covered date fails with DuplicatePriceError; with upsert true
// it replaces the existing sample, which is how revised closes land.
func (s *Service) AddPrice(ctx context.Context, coinID string, p domain.PricePoint, upsert bool) error {
	var err error
	if upsert {
		err = s.prices.Upsert(coinID, p)
	} else {
		err = s.prices.Append(coinID, p)
	}
	if err != nil {
		return err
	}

	if err := s.repo.SavePrice(ctx, coinID, p); err != nil {
		return fmt.Errorf("persisting price for %s on %s: %w", coinID, domain.Day(p.Date).Format("2006-01-02"), err)
	}
	return nil
}

// Series returns the stored daily history of one asset. Fails with
// NotFoundError for an unregistered coin id.
func (s *Service) Series(coinID string) (TokenPrices, error) {
	asset, points, err := s.prices.Series(coinID)
	if err != nil {
		return TokenPrices{}, err
	}
	return TokenPrices{Asset: asset, Points: points}, nil
}

// AddTokens registers a batch of tokens and ingests their price history.
// Tokens are processed in order; the first failure stops the batch and is
// returned, leaving earlier tokens fully ingested.
func (s *Service) AddTokens(ctx context.Context, batch []TokenPrices, upsert bool) error {
	for _, tp := range batch {
		if err := s.RegisterAsset(ctx, tp.Asset); err != nil {
			return err
		}
		for _, p := range tp.Points {
			if err := s.AddPrice(ctx, tp.Asset.CoinID, p, upsert); err != nil {
				return err
			}
		}
	}
	return nil
}
