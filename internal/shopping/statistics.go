package shopping

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
)

// Shopping time heuristic: minutes per aisle, per item, and a fixed overhead.
const (
	minutesPerCategory = 2.0
	minutesPerItem     = 0.5
	minutesOverhead    = 5.0
)

// ListStatistics is the statistics view of a persisted list.
type ListStatistics struct {
	Overview          Overview                 `json:"overview"`
	ByCategory        map[string]CategoryStats `json:"by_category"`
	EfficiencyMetrics EfficiencyMetrics        `json:"efficiency_metrics"`
}

type Overview struct {
	TotalItems                   int      `json:"total_items"`
	CompletedItems               int      `json:"completed_items"`
	CompletionPercentage         float64  `json:"completion_percentage"`
	EstimatedBudget              *float64 `json:"estimated_budget"`
	BudgetExtrapolated           bool     `json:"budget_extrapolated"`
	IsCompleted                  bool     `json:"is_completed"`
	EstimatedShoppingTimeMinutes float64  `json:"estimated_shopping_time_minutes"`
}

type CategoryStats struct {
	TotalItems           int      `json:"total_items"`
	CompletedItems       int      `json:"completed_items"`
	CompletionPercentage float64  `json:"completion_percentage"`
	EstimatedCost        *float64 `json:"estimated_cost,omitempty"`
}

type EfficiencyMetrics struct {
	RawUsages          int     `json:"raw_usages"`
	AggregatedItems    int     `json:"aggregated_items"`
	AggregationSavings int     `json:"aggregation_savings"`
	SavingsPercentage  float64 `json:"savings_percentage"`
	SoftFailures       int     `json:"soft_failures"`
	Version            int64   `json:"version"`
}

// Statistics computes the statistics view of a list.
func (s *Service) Statistics(ctx context.Context, listID int64) (*ListStatistics, error) {
	list, err := s.Get(ctx, listID)
	if err != nil {
		return nil, err
	}
	return ComputeStatistics(list), nil
}

// ComputeStatistics derives completion, per-category and efficiency figures.
// Per-category cost is only reported for categories whose items are all
// priced, in the list's display units.
func ComputeStatistics(list *ShoppingList) *ListStatistics {
	byCategory := make(map[string]CategoryStats)
	costs := make(map[string]decimal.Decimal)
	unpriced := make(map[string]bool)

	for _, it := range list.Items {
		cs := byCategory[it.Category]
		cs.TotalItems++
		if list.CheckedItems[it.ID] {
			cs.CompletedItems++
		}
		byCategory[it.Category] = cs

		if it.UnitPrice == nil {
			unpriced[it.Category] = true
			continue
		}
		costs[it.Category] = costs[it.Category].Add(
			decimal.NewFromFloat(*it.UnitPrice).Mul(decimal.NewFromFloat(baseQuantity(it))))
	}
	for name, cs := range byCategory {
		cs.CompletionPercentage = percentage(cs.CompletedItems, cs.TotalItems)
		if !unpriced[name] {
			f := costs[name].Round(2).InexactFloat64()
			cs.EstimatedCost = &f
		}
		byCategory[name] = cs
	}

	total := len(list.Items)
	completed := list.CheckedCount()
	minutes := float64(len(byCategory))*minutesPerCategory + float64(total)*minutesPerItem + minutesOverhead

	return &ListStatistics{
		Overview: Overview{
			TotalItems:                   total,
			CompletedItems:               completed,
			CompletionPercentage:         percentage(completed, total),
			EstimatedBudget:              list.EstimatedBudget,
			BudgetExtrapolated:           list.BudgetExtrapolated,
			IsCompleted:                  list.IsCompleted,
			EstimatedShoppingTimeMinutes: minutes,
		},
		ByCategory: byCategory,
		EfficiencyMetrics: EfficiencyMetrics{
			RawUsages:          list.Statistics.RawUsages,
			AggregatedItems:    total,
			AggregationSavings: list.Statistics.AggregationSavings,
			SavingsPercentage:  percentage(list.Statistics.AggregationSavings, list.Statistics.RawUsages),
			SoftFailures:       list.Statistics.SoftFailures,
			Version:            list.Version,
		},
	}
}

// baseQuantity undoes display conversion so prices, which are per native
// unit, apply to the right amount.
func baseQuantity(it Item) float64 {
	if it.Note == "" {
		return it.Quantity
	}
	switch it.Unit {
	case "kg", "L":
		return it.Quantity * 1000
	case "dozen", "douzaine":
		return it.Quantity * 12
	}
	return it.Quantity
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}
