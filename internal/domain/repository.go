package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource answers carried-forward price lookups. Implemented by the
// price store; the small surface keeps the valuation engine and the set
// builders testable against fixtures.
type PriceSource interface {
	// PriceAt returns the price effective for the asset on the date
	// (exact sample or last observation carried forward)
	PriceAt(coinID string, date time.Time) (decimal.Decimal, error)
}

// IndexSource answers index reads. Implemented by the index store.
type IndexSource interface {
	// Get retrieves an index by id
	Get(id int) (*Index, error)

	// List returns all indexes ordered by id
	List() []*Index
}

// IndexRepository defines the interface for index persistence operations.
// Writes are persisted before they become observable through the stores.
type IndexRepository interface {
	// Create persists a new index together with its inception set
	Create(ctx context.Context, ix *Index) error

	// AppendSet persists one rebalance outcome for an index
	AppendSet(ctx context.Context, indexID int, set *ConstituentSet) error

	// LoadAll retrieves every index with its full set history, ordered by
	// id and effective date
	LoadAll(ctx context.Context) ([]*Index, error)
}

// PriceRepository defines the interface for asset and price persistence
// operations.
type PriceRepository interface {
	// SaveAsset persists an asset registration (idempotent)
	SaveAsset(ctx context.Context, asset Asset) error

	// SavePrice persists one daily sample for an asset, replacing any
	// existing sample for the same date
	SavePrice(ctx context.Context, coinID string, p PricePoint) error

	// LoadAll retrieves every asset with its ordered price history
	LoadAll(ctx context.Context) ([]*PriceSeries, error)
}

// AdminCapability covers administrative actions the valuation core does
// not perform itself (index removal). Implemented by an external
// collaborator; the HTTP layer mounts it only when provided.
type AdminCapability interface {
	RemoveIndex(ctx context.Context, indexID int) error
}

// EventSink receives raw blockchain events for out-of-core ingestion
type EventSink interface {
	SaveBlockchainEvent(ctx context.Context, payload []byte) error
}

// Subscriber registers update subscriptions (email plus optional handle).
// Re-subscribing with a known email updates the existing registration.
type Subscriber interface {
	Subscribe(ctx context.Context, email, twitter string) error
}
