package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
)

// IndexRepository implements domain.IndexRepository using PostgreSQL.
// Constituent sets are stored one row per rebalance with the constituents
// as a JSONB document; set history is append-only, matching the domain.
type IndexRepository struct {
	db *DB
}

// NewIndexRepository creates a new index repository
func NewIndexRepository(db *DB) *IndexRepository {
	return &IndexRepository{db: db}
}

type assetDoc struct {
	CoinID string `json:"coin_id"`
	Symbol string `json:"symbol"`
}

type constituentDoc struct {
	CoinID   string          `json:"coin_id"`
	Symbol   string          `json:"symbol"`
	Weight   decimal.Decimal `json:"weight"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Create persists a new index together with its inception set
func (r *IndexRepository) Create(ctx context.Context, ix *domain.Index) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	assets := make([]assetDoc, 0, len(ix.Assets))
	for _, a := range ix.Assets {
		assets = append(assets, assetDoc{CoinID: a.CoinID, Symbol: a.Symbol})
	}
	assetsJSON, err := json.Marshal(assets)
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}

	var threshold *string
	if ix.WeightThreshold != nil {
		s := ix.WeightThreshold.String()
		threshold = &s
	}

	query := `
		INSERT INTO indexes (
			id, symbol, name, address, category, asset_class, assets,
			initial_date, initial_price, rebalance_period_days,
			weight_strategy, weight_threshold, exchanges_allowed,
			exchange_trading_fees, exchange_avg_spread
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = tx.ExecContext(ctx, query,
		ix.ID, ix.Symbol, ix.Name, ix.Address, ix.Category, ix.AssetClass, assetsJSON,
		domain.Day(ix.InitialDate), ix.InitialPrice.String(), ix.RebalancePeriodDays,
		string(ix.WeightStrategy), threshold, pq.Array(ix.ExchangesAllowed),
		ix.ExchangeTradingFees.String(), ix.ExchangeAvgSpread.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert index: %w", err)
	}

	for _, set := range ix.Sets {
		if err := r.insertSet(ctx, tx, ix.ID, set); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index creation: %w", err)
	}
	return nil
}

// AppendSet persists one rebalance outcome for an index
func (r *IndexRepository) AppendSet(ctx context.Context, indexID int, set *domain.ConstituentSet) error {
	return r.insertSet(ctx, r.db.DB, indexID, set)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *IndexRepository) insertSet(ctx context.Context, db execer, indexID int, set *domain.ConstituentSet) error {
	docs := make([]constituentDoc, 0, len(set.Constituents))
	for _, c := range set.Constituents {
		docs = append(docs, constituentDoc{
			CoinID:   c.Asset.CoinID,
			Symbol:   c.Asset.Symbol,
			Weight:   c.Weight,
			Quantity: c.Quantity,
		})
	}
	constituentsJSON, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to encode constituents: %w", err)
	}

	query := `
		INSERT INTO rebalances (
			id, index_id, effective_date, reason, constituents,
			total_weight, anchor_portfolio_value, anchor_index_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = db.ExecContext(ctx, query,
		set.ID, indexID, set.EffectiveDate, string(set.Reason), constituentsJSON,
		set.TotalWeight.String(), set.AnchorPortfolioValue.String(), set.AnchorIndexPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rebalance: %w", err)
	}
	return nil
}

// LoadAll retrieves every index with its full set history, ordered by id
// and effective date
func (r *IndexRepository) LoadAll(ctx context.Context) ([]*domain.Index, error) {
	indexes, byID, err := r.loadIndexes(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, index_id, effective_date, reason, constituents,
		       total_weight, anchor_portfolio_value, anchor_index_price
		FROM rebalances
		ORDER BY index_id, effective_date`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			set              domain.ConstituentSet
			indexID          int
			reason           string
			constituentsJSON []byte
			totalWeight      string
			anchorValue      string
			anchorPrice      string
		)
		if err := rows.Scan(&set.ID, &indexID, &set.EffectiveDate, &reason,
			&constituentsJSON, &totalWeight, &anchorValue, &anchorPrice); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance: %w", err)
		}
		set.Reason = domain.RebalanceReason(reason)
		set.EffectiveDate = domain.Day(set.EffectiveDate)

		if set.TotalWeight, err = decimal.NewFromString(totalWeight); err != nil {
			return nil, fmt.Errorf("failed to parse total weight: %w", err)
		}
		if set.AnchorPortfolioValue, err = decimal.NewFromString(anchorValue); err != nil {
			return nil, fmt.Errorf("failed to parse anchor portfolio value: %w", err)
		}
		if set.AnchorIndexPrice, err = decimal.NewFromString(anchorPrice); err != nil {
			return nil, fmt.Errorf("failed to parse anchor index price: %w", err)
		}

		var docs []constituentDoc
		if err := json.Unmarshal(constituentsJSON, &docs); err != nil {
			return nil, fmt.Errorf("failed to decode constituents: %w", err)
		}
		for _, d := range docs {
			set.Constituents = append(set.Constituents, domain.Constituent{
				Asset:    domain.Asset{CoinID: d.CoinID, Symbol: d.Symbol},
				Weight:   d.Weight,
				Quantity: d.Quantity,
			})
		}

		ix, ok := byID[indexID]
		if !ok {
			return nil, fmt.Errorf("rebalance row references unknown index %d", indexID)
		}
		if err := ix.AppendSet(&set); err != nil {
			return nil, fmt.Errorf("failed to rebuild set history for index %d: %w", indexID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rebalances: %w", err)
	}

	return indexes, nil
}

func (r *IndexRepository) loadIndexes(ctx context.Context) ([]*domain.Index, map[int]*domain.Index, error) {
	query := `
		SELECT id, symbol, name, address, category, asset_class, assets,
		       initial_date, initial_price, rebalance_period_days,
		       weight_strategy, weight_threshold, exchanges_allowed,
		       exchange_trading_fees, exchange_avg_spread
		FROM indexes
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	var indexes []*domain.Index
	byID := make(map[int]*domain.Index)
	for rows.Next() {
		var (
			ix           domain.Index
			assetsJSON   []byte
			initialPrice string
			strategy     string
			threshold    sql.NullString
			fees         string
			spread       string
		)
		if err := rows.Scan(&ix.ID, &ix.Symbol, &ix.Name, &ix.Address, &ix.Category,
			&ix.AssetClass, &assetsJSON, &ix.InitialDate, &initialPrice,
			&ix.RebalancePeriodDays, &strategy, &threshold,
			pq.Array(&ix.ExchangesAllowed), &fees, &spread); err != nil {
			return nil, nil, fmt.Errorf("failed to scan index: %w", err)
		}
		ix.InitialDate = domain.Day(ix.InitialDate)
		ix.WeightStrategy = domain.WeightStrategy(strategy)

		if ix.InitialPrice, err = decimal.NewFromString(initialPrice); err != nil {
			return nil, nil, fmt.Errorf("failed to parse initial price: %w", err)
		}
		if ix.ExchangeTradingFees, err = decimal.NewFromString(fees); err != nil {
			return nil, nil, fmt.Errorf("failed to parse trading fees: %w", err)
		}
		if ix.ExchangeAvgSpread, err = decimal.NewFromString(spread); err != nil {
			return nil, nil, fmt.Errorf("failed to parse average spread: %w", err)
		}
		if threshold.Valid {
			t, err := decimal.NewFromString(threshold.String)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse weight threshold: %w", err)
			}
			ix.WeightThreshold = &t
		}

		var assets []assetDoc
		if err := json.Unmarshal(assetsJSON, &assets); err != nil {
			return nil, nil, fmt.Errorf("failed to decode assets: %w", err)
		}
		for _, a := range assets {
			ix.Assets = append(ix.Assets, domain.Asset{CoinID: a.CoinID, Symbol: a.Symbol})
		}

		indexes = append(indexes, &ix)
		byID[ix.ID] = &ix
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate indexes: %w", err)
	}

	return indexes, byID, nil
}
