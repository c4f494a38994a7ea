package shopping

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"diet-planner/internal/recipe"
)

// IngredientSource resolves catalog ingredients by id. Unknown ids are
// absent from the result.
type IngredientSource interface {
	GetIngredientsByIDs(ctx context.Context, ids []int64) (map[int64]recipe.Ingredient, error)
}

// AggregateResult holds the merged items and the usages that could not be
// merged cleanly.
type AggregateResult struct {
	Items        []AggregatedItem
	SoftFailures []SoftFailure
}

// Aggregator merges raw usages into one line per ingredient.
type Aggregator struct {
	ingredients IngredientSource
	logger      *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(ingredients IngredientSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{ingredients: ingredients, logger: logger}
}

type usageGroup struct {
	ingredientID int64
	usages       []RawIngredientUsage
}

// Aggregate groups usages by ingredient in first-appearance order and sums
// each group in the ingredient's native unit. Usages of the same ingredient
// in another unit are never coerced: they become a separate line and a
// unit_conflict soft failure.
func (a *Aggregator) Aggregate(ctx context.Context, usages []RawIngredientUsage, prefs Preferences) (*AggregateResult, error) {
	var groups []*usageGroup
	index := make(map[int64]*usageGroup)
	for _, u := range usages {
		g, ok := index[u.IngredientID]
		if !ok {
			g = &usageGroup{ingredientID: u.IngredientID}
			index[u.IngredientID] = g
			groups = append(groups, g)
		}
		g.usages = append(g.usages, u)
	}

	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ingredientID)
	}
	catalog, err := a.ingredients.GetIngredientsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingredients: %w", err)
	}

	res := &AggregateResult{Items: []AggregatedItem{}}
	for _, g := range groups {
		ing, ok := catalog[g.ingredientID]
		if !ok {
			first := g.usages[0]
			res.SoftFailures = append(res.SoftFailures, SoftFailure{
				Kind:         FailureMissingIngredient,
				RecipeID:     first.RecipeID,
				IngredientID: g.ingredientID,
				Day:          first.Day,
				Slot:         first.Slot,
				Reason:       fmt.Sprintf("ingredient %d not found (%d usages skipped)", g.ingredientID, len(g.usages)),
			})
			a.logger.Warn("skipping unknown ingredient", "ingredient_id", g.ingredientID, "usages", len(g.usages))
			continue
		}

		items, failures := a.mergeGroup(ing, g.usages, prefs)
		res.Items = append(res.Items, items...)
		res.SoftFailures = append(res.SoftFailures, failures...)
	}
	return res, nil
}

func (a *Aggregator) mergeGroup(ing recipe.Ingredient, usages []RawIngredientUsage, prefs Preferences) ([]AggregatedItem, []SoftFailure) {
	native := primaryUnit(ing, usages)

	var order []string
	lines := make(map[string]*AggregatedItem)
	for _, u := range usages {
		key := unitKey(u.Unit)
		line, ok := lines[key]
		if !ok {
			line = &AggregatedItem{
				ID:           itemID(ing.ID, key, key == unitKey(native)),
				IngredientID: ing.ID,
				Name:         ing.Name,
				BaseUnit:     u.Unit,
				Category:     ing.Category,
			}
			if key == unitKey(native) {
				line.BaseUnit = native
				line.UnitPrice = ing.UnitPrice
			}
			lines[key] = line
			order = append(order, key)
		}
		line.BaseQuantity += u.Quantity
		line.Sources = append(line.Sources, Provenance{
			RecipeID:   u.RecipeID,
			RecipeName: u.RecipeName,
			Day:        u.Day,
			Slot:       u.Slot,
			Quantity:   u.Quantity,
		})
	}

	items := make([]AggregatedItem, 0, len(order))
	var failures []SoftFailure

	nativeKey := unitKey(native)
	if line, ok := lines[nativeKey]; ok {
		items = append(items, finishLine(*line, prefs))
	}
	for _, key := range order {
		if key == nativeKey {
			continue
		}
		line := lines[key]
		items = append(items, finishLine(*line, prefs))
		failures = append(failures, SoftFailure{
			Kind:         FailureUnitConflict,
			RecipeID:     line.Sources[0].RecipeID,
			IngredientID: ing.ID,
			Day:          line.Sources[0].Day,
			Slot:         line.Sources[0].Slot,
			Reason:       fmt.Sprintf("ingredient %q used in %q and %q", ing.Name, native, line.BaseUnit),
		})
		a.logger.Warn("ingredient used with mixed units", "ingredient_id", ing.ID, "native_unit", native, "unit", line.BaseUnit)
	}
	return items, failures
}

// primaryUnit is the catalog unit when any usage uses it, otherwise the unit
// of the first usage.
func primaryUnit(ing recipe.Ingredient, usages []RawIngredientUsage) string {
	if ing.Unit != "" {
		for _, u := range usages {
			if unitKey(u.Unit) == unitKey(ing.Unit) {
				return ing.Unit
			}
		}
	}
	return usages[0].Unit
}

func finishLine(line AggregatedItem, prefs Preferences) AggregatedItem {
	conv := ConvertUnit(line.BaseQuantity, line.BaseUnit, prefs)
	line.Quantity = roundQuantity(conv.Quantity)
	line.Unit = conv.Unit
	line.Note = conv.Note
	return line
}

func itemID(ingredientID int64, unit string, primary bool) string {
	id := "item-" + strconv.FormatInt(ingredientID, 10)
	if primary {
		return id
	}
	if unit == "" {
		unit = "none"
	}
	return id + "-" + strings.ReplaceAll(unit, " ", "_")
}

func unitKey(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}

func roundQuantity(q float64) float64 {
	return math.Round(q*1000) / 1000
}
