package coingecko

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quantfolio/indexd/internal/domain"
	"github.com/quantfolio/indexd/internal/usecase/ingest"
)

// maxConcurrentAssets bounds the fan-out; the shared limiter still
// serializes actual requests within the rate allowance
const maxConcurrentAssets = 4

// Backfiller loads historical daily closes for a set of assets into the
// ingest pipeline
type Backfiller struct {
	client *Client
	ingest *ingest.Service
	logger *logrus.Logger
}

// NewBackfiller creates a new backfiller
func NewBackfiller(client *Client, ingest *ingest.Service, logger *logrus.Logger) *Backfiller {
	return &Backfiller{client: client, ingest: ingest, logger: logger}
}

// Backfill fetches and ingests the daily closes of every asset over the
// range. Samples land in upsert mode: a re-run refreshes revised closes
// instead of failing on duplicates.
func (b *Backfiller) Backfill(ctx context.Context, assets []domain.Asset, from, to time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAssets)

	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			if err := b.ingest.RegisterAsset(ctx, asset); err != nil {
				return err
			}

			points, err := b.client.DailyPrices(ctx, asset.CoinID, from, to)
			if err != nil {
				return err
			}

			for _, p := range points {
				if err := b.ingest.AddPrice(ctx, asset.CoinID, p, true); err != nil {
					return err
				}
			}

			b.logger.WithFields(logrus.Fields{
				"coin_id": asset.CoinID,
				"samples": len(points),
			}).Info("backfilled price history")
			return nil
		})
	}

	return g.Wait()
}

// RefreshLatest tops up every asset's series from its last known sample
// through today
func (b *Backfiller) RefreshLatest(ctx context.Context, assets []domain.Asset, lastDate func(coinID string) (time.Time, error)) error {
	now := domain.Day(time.Now().UTC())

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAssets)

	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			from, err := lastDate(asset.CoinID)
			if err != nil {
				return err
			}
			if from.IsZero() {
				from = now.AddDate(0, 0, -30)
			}
			if from.After(now) {
				return nil
			}

			points, err := b.client.DailyPrices(ctx, asset.CoinID, from, now)
			if err != nil {
				return err
			}
			for _, p := range points {
				if err := b.ingest.AddPrice(ctx, asset.CoinID, p, true); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}
