package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RebalanceReason records why a constituent set was created
type RebalanceReason string

const (
	// RebalanceInitial is the inception set created with the index
	RebalanceInitial RebalanceReason = "initial"
	// RebalancePeriodic is a scheduled rebalance
	RebalancePeriodic RebalanceReason = "periodic"
	// RebalanceHoldings is a set derived from actual vault holdings
	RebalanceHoldings RebalanceReason = "holdings"
)

// Constituent is one asset's stake within a constituent set.
// Weight and Quantity are two representations of the same stake: quantity
// is derived from weight at rebalance time when the set is built from
// target weights, and weight is derived from quantity when the set is
// built from held vault quantities.
type Constituent struct {
	Asset    Asset
	Weight   decimal.Decimal
	Quantity decimal.Decimal
}

// Validate ensures the constituent adheres to domain rules
func (c Constituent) Validate() error {
	if err := c.Asset.Validate(); err != nil {
		return err
	}
	if c.Weight.IsNegative() {
		return fmt.Errorf("constituent %s: weight cannot be negative", c.Asset.CoinID)
	}
	if c.Quantity.IsNegative() {
		return fmt.Errorf("constituent %s: quantity cannot be negative", c.Asset.CoinID)
	}
	return nil
}

// ConstituentSet is the weight table of an index effective from a rebalance
// date. Immutable after creation: a rebalance produces a new set, never
// mutates a past one, which is what keeps historical reconstruction
// deterministic.
//
// AnchorPortfolioValue and AnchorIndexPrice are captured at EffectiveDate
// and chain-link the index price across rebalance boundaries: for any later
// date d covered by this set,
//
//	indexPrice(d) = AnchorIndexPrice × portfolioValue(d) / AnchorPortfolioValue
//
// so a weight change alone never moves the price — only market movement
// after the boundary does.
type ConstituentSet struct {
	ID            uuid.UUID
	EffectiveDate time.Time
	Reason        RebalanceReason
	Constituents  []Constituent
	TotalWeight   decimal.Decimal

	AnchorPortfolioValue decimal.Decimal
	AnchorIndexPrice     decimal.Decimal
}

// Validate ensures the set adheres to domain rules.
// An empty set is valid: a newly created index with no tokens is a
// legitimate zero-value state.
func (cs *ConstituentSet) Validate() error {
	if cs.EffectiveDate.IsZero() {
		return errors.New("constituent set effective date cannot be zero")
	}
	if cs.AnchorIndexPrice.IsNegative() {
		return errors.New("anchor index price cannot be negative")
	}

	sum := decimal.Zero
	for _, c := range cs.Constituents {
		if err := c.Validate(); err != nil {
			return err
		}
		sum = sum.Add(c.Weight)
	}

	if len(cs.Constituents) > 0 {
		if !cs.TotalWeight.IsPositive() {
			return errors.New("total weight must be positive for a non-empty set")
		}
		if !sum.Equal(cs.TotalWeight) {
			return errors.New("total weight does not equal sum of constituent weights")
		}
	}
	return nil
}

// IsEmpty reports whether the set holds no constituents
func (cs *ConstituentSet) IsEmpty() bool {
	return len(cs.Constituents) == 0
}

// WeightPercentage returns weight/totalWeight×100 for one constituent.
// Weights are stored at arbitrary scale; percentages are always derived.
func (cs *ConstituentSet) WeightPercentage(c Constituent) decimal.Decimal {
	if !cs.TotalWeight.IsPositive() {
		return decimal.Zero
	}
	return c.Weight.Div(cs.TotalWeight).Mul(decimal.NewFromInt(100))
}
