// Package pricing computes token cost per provider model.
package pricing

import (
	"strings"
)

// ModelPrice holds the price per 1,000 tokens, split by direction.
type ModelPrice struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Table resolves model identifiers to prices. Unknown models fall back to
// the default price so cost is never silently recorded as zero.
type Table struct {
	prices       map[string]ModelPrice
	defaultPrice ModelPrice
}

var defaultPrices = map[string]ModelPrice{
	"gpt-4o":      {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
	"gpt-4o-mini": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
	"gpt-4.1":     {PromptPer1K: 0.002, CompletionPer1K: 0.008},
}

// NewTable builds a pricing table. Overrides replace or extend the built-in
// model prices; keys are matched case-insensitively.
func NewTable(overrides map[string]ModelPrice) *Table {
	prices := make(map[string]ModelPrice, len(defaultPrices)+len(overrides))
	for model, price := range defaultPrices {
		prices[model] = price
	}
	for model, price := range overrides {
		prices[normalize(model)] = price
	}
	return &Table{
		prices:       prices,
		defaultPrice: ModelPrice{PromptPer1K: 0.0025, CompletionPer1K: 0.01},
	}
}

// Cost returns the monetary cost of a call.
func (t *Table) Cost(model string, promptTokens, completionTokens int64) float64 {
	price, ok := t.prices[normalize(model)]
	if !ok {
		price = t.defaultPrice
	}
	return float64(promptTokens)/1000*price.PromptPer1K +
		float64(completionTokens)/1000*price.CompletionPer1K
}

// Known reports whether the model has an explicit price entry.
func (t *Table) Known(model string) bool {
	_, ok := t.prices[normalize(model)]
	return ok
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
