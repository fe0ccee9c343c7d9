package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
)

// PriceRepository implements domain.PriceRepository using PostgreSQL
type PriceRepository struct {
	db *DB
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// SaveAsset persists an asset registration. Idempotent.
func (r *PriceRepository) SaveAsset(ctx context.Context, asset domain.Asset) error {
	query := `
		INSERT INTO assets (coin_id, symbol)
		VALUES ($1, $2)
		ON CONFLICT (coin_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, asset.CoinID, asset.Symbol); err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

// SavePrice persists one daily sample, replacing any existing sample for
// the same date. Duplicate detection happens upstream under the store
// lock; by the time a sample lands here it is authoritative for its date.
func (r *PriceRepository) SavePrice(ctx context.Context, coinID string, p domain.PricePoint) error {
	query := `
		INSERT INTO daily_prices (coin_id, date, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (coin_id, date) DO UPDATE SET price = EXCLUDED.price`

	if _, err := r.db.ExecContext(ctx, query, coinID, domain.Day(p.Date), p.Price.String()); err != nil {
		return fmt.Errorf("failed to save price: %w", err)
	}
	return nil
}

// LoadAll retrieves every asset with its ordered price history
func (r *PriceRepository) LoadAll(ctx context.Context) ([]*domain.PriceSeries, error) {
	assets, err := r.loadAssets(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT coin_id, date, price
		FROM daily_prices
		ORDER BY coin_id, date`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	byCoin := make(map[string]*domain.PriceSeries, len(assets))
	order := make([]*domain.PriceSeries, 0, len(assets))
	for _, a := range assets {
		series, err := domain.NewPriceSeries(a)
		if err != nil {
			return nil, err
		}
		byCoin[a.CoinID] = series
		order = append(order, series)
	}

	for rows.Next() {
		var (
			coinID   string
			p        domain.PricePoint
			priceStr string
		)
		if err := rows.Scan(&coinID, &p.Date, &priceStr); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		if p.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("failed to parse price for %s: %w", coinID, err)
		}

		series, ok := byCoin[coinID]
		if !ok {
			return nil, fmt.Errorf("price row references unknown asset %s", coinID)
		}
		if err := series.Append(p); err != nil {
			return nil, fmt.Errorf("failed to rebuild series for %s: %w", coinID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prices: %w", err)
	}

	return order, nil
}

func (r *PriceRepository) loadAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT coin_id, symbol FROM assets ORDER BY coin_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.CoinID, &a.Symbol); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}
	return assets, nil
}
