package shopping

import (
	"context"
	"fmt"
	"log/slog"

	"diet-planner/internal/planner"
	"diet-planner/internal/recipe"
)

// RecipeSource resolves recipes by id. Unknown ids are absent from the result.
type RecipeSource interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]recipe.Recipe, error)
}

// CollectResult holds the raw usages of a plan and what had to be skipped.
type CollectResult struct {
	Usages       []RawIngredientUsage `json:"usages"`
	SoftFailures []SoftFailure        `json:"soft_failures,omitempty"`
}

// Collector walks a meal plan and emits one usage per recipe ingredient.
type Collector struct {
	recipes RecipeSource
	logger  *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(recipes RecipeSource, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{recipes: recipes, logger: logger}
}

// Collect resolves every scheduled recipe in one lookup. Missing recipes and
// negative quantities are recorded as soft failures; only lookup errors
// abort.
func (c *Collector) Collect(ctx context.Context, plan *planner.MealPlan) (*CollectResult, error) {
	meals := plan.Meals()

	ids := make([]int64, 0, len(meals))
	seen := make(map[int64]bool, len(meals))
	for _, m := range meals {
		if !seen[m.RecipeID] {
			seen[m.RecipeID] = true
			ids = append(ids, m.RecipeID)
		}
	}

	recipes, err := c.recipes.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipes for meal plan %d: %w", plan.ID, err)
	}

	res := &CollectResult{Usages: []RawIngredientUsage{}}
	for _, m := range meals {
		rec, ok := recipes[m.RecipeID]
		if !ok {
			c.logger.Warn("skipping unknown recipe", "meal_plan_id", plan.ID, "recipe_id", m.RecipeID, "day", m.Day, "slot", m.Slot)
			res.SoftFailures = append(res.SoftFailures, SoftFailure{
				Kind:     FailureMissingRecipe,
				RecipeID: m.RecipeID,
				Day:      m.Day,
				Slot:     m.Slot,
				Reason:   fmt.Sprintf("recipe %d not found", m.RecipeID),
			})
			continue
		}

		for _, ing := range rec.Ingredients {
			if ing.Quantity < 0 {
				res.SoftFailures = append(res.SoftFailures, SoftFailure{
					Kind:         FailureNegativeQuantity,
					RecipeID:     rec.ID,
					IngredientID: ing.IngredientID,
					Day:          m.Day,
					Slot:         m.Slot,
					Reason:       fmt.Sprintf("negative quantity %g", ing.Quantity),
				})
				continue
			}
			res.Usages = append(res.Usages, RawIngredientUsage{
				RecipeID:     rec.ID,
				RecipeName:   rec.Name,
				Day:          m.Day,
				Slot:         m.Slot,
				IngredientID: ing.IngredientID,
				Quantity:     ing.Quantity,
				Unit:         ing.Unit,
			})
		}
	}
	return res, nil
}
