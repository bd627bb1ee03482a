package alert

import (
	"fund-arbitrage-bot/internal/types"

	"github.com/shopspring/decimal"
)

// Thresholds are the inclusive alert bounds. Negative is expected below zero.
type Thresholds struct {
	Positive decimal.Decimal
	Negative decimal.Decimal
}

// NewThresholds builds thresholds from configuration floats
func NewThresholds(positive, negative float64) Thresholds {
	return Thresholds{
		Positive: decimal.NewFromFloat(positive),
		Negative: decimal.NewFromFloat(negative),
	}
}

// Sweep is the absolute rate a stored record has to reach to be picked up by
// the periodic sweep: the larger of the two bounds.
func (t Thresholds) Sweep() decimal.Decimal {
	return decimal.Max(t.Positive.Abs(), t.Negative.Abs())
}

// Evaluate returns one event per record whose discount rate reaches a bound.
// Both bounds are inclusive; a record matching both is reported as positive.
func Evaluate(records []types.FundRecord, positive, negative decimal.Decimal) []types.AlertEvent {
	var events []types.AlertEvent
	for _, r := range records {
		switch {
		case r.DiscountRate.GreaterThanOrEqual(positive):
			events = append(events, types.AlertEvent{Record: r, Type: types.AlertPositive, Threshold: positive})
		case r.DiscountRate.LessThanOrEqual(negative):
			events = append(events, types.AlertEvent{Record: r, Type: types.AlertNegative, Threshold: negative})
		}
	}
	return events
}

// Evaluate applies the thresholds to records
func (t Thresholds) Evaluate(records []types.FundRecord) []types.AlertEvent {
	return Evaluate(records, t.Positive, t.Negative)
}
