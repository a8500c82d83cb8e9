// Package pricing computes per-request model cost and the savings realised
// against the large-tier baseline.
package pricing

import (
	"fmt"

	"signalhub/internal/domain"
)

const tokensPerMillion = 1_000_000

// Table holds per-tier pricing. It is built once from config and read-only
// afterwards.
type Table map[domain.ModelTier]domain.ModelInfo

// Calculator computes costs from a pricing table.
type Calculator struct {
	table Table
}

// NewCalculator returns a calculator over the given table. The table must
// contain all three tiers.
func NewCalculator(table Table) (*Calculator, error) {
	for _, tier := range domain.AllTiers() {
		if _, ok := table[tier]; !ok {
			return nil, fmt.Errorf("pricing table missing tier %q", tier)
		}
	}
	return &Calculator{table: table}, nil
}

// Model returns the pricing entry for a tier.
func (c *Calculator) Model(tier domain.ModelTier) (domain.ModelInfo, error) {
	m, ok := c.table[tier]
	if !ok {
		return domain.ModelInfo{}, fmt.Errorf("%w: %q", domain.ErrUnknownModel, tier)
	}
	return m, nil
}

// Cost returns the USD cost of a request on the given tier.
func (c *Calculator) Cost(tier domain.ModelTier, inputTokens, outputTokens int) (float64, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return 0, fmt.Errorf("%w: negative token count", domain.ErrInvalidInput)
	}
	m, ok := c.table[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownModel, tier)
	}
	in := float64(inputTokens) / tokensPerMillion * m.InputCostPer1M
	out := float64(outputTokens) / tokensPerMillion * m.OutputCostPer1M
	return in + out, nil
}

// Baseline returns the cost of the same request on the large tier. Savings
// are always measured against it.
func (c *Calculator) Baseline(inputTokens, outputTokens int) (float64, error) {
	return c.Cost(domain.TierLarge, inputTokens, outputTokens)
}

// Savings returns baseline minus actual cost. It is zero for the large tier
// and never negative for the others as long as the table is ordered.
func (c *Calculator) Savings(tier domain.ModelTier, inputTokens, outputTokens int) (float64, error) {
	actual, err := c.Cost(tier, inputTokens, outputTokens)
	if err != nil {
		return 0, err
	}
	baseline, err := c.Baseline(inputTokens, outputTokens)
	if err != nil {
		return 0, err
	}
	return baseline - actual, nil
}

// CostFactor returns the input-price ratio of a tier relative to the small
// tier (small = 1). The pricing table is the single source of truth for
// relative cost.
func (c *Calculator) CostFactor(tier domain.ModelTier) (float64, error) {
	m, ok := c.table[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownModel, tier)
	}
	small := c.table[domain.TierSmall]
	if small.InputCostPer1M == 0 {
		return 1, nil
	}
	return m.InputCostPer1M / small.InputCostPer1M, nil
}
