package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"diet-planner/internal/planner"
	"diet-planner/internal/recipe"

	"gopkg.in/yaml.v3"
)

// Fixtures describe catalog data to load into an empty or existing
// database. Recipes refer to ingredients, and meal plans to recipes, by key.
type Fixtures struct {
	Ingredients []IngredientFixture `yaml:"ingredients"`
	Recipes     []RecipeFixture     `yaml:"recipes"`
	MealPlans   []MealPlanFixture   `yaml:"meal_plans"`
}

type IngredientFixture struct {
	Key        string            `yaml:"key"`
	Ingredient recipe.Ingredient `yaml:",inline"`
}

type RecipeFixture struct {
	Key         string              `yaml:"key"`
	Name        string              `yaml:"name"`
	Servings    int                 `yaml:"servings"`
	Ingredients []RecipeLineFixture `yaml:"ingredients"`
}

type RecipeLineFixture struct {
	Ingredient string  `yaml:"ingredient"`
	Quantity   float64 `yaml:"quantity"`
	Unit       string  `yaml:"unit"`
}

type MealPlanFixture struct {
	UserID    string `yaml:"user_id"`
	WeekStart string `yaml:"week_start"`
	// Days maps day -> slot -> recipe key. An empty key leaves the slot empty.
	Days map[string]map[string]string `yaml:"days"`
}

// IngestReport counts what a fixture ingestion stored.
type IngestReport struct {
	Ingredients int
	Recipes     int
	MealPlans   []int64
	Failed      int
}

// LoadFixtures reads a YAML fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return &fx, nil
}

// IngestFixtures stores the fixtures in order. A record that cannot be
// resolved or saved is logged and skipped, together with everything that
// refers to it.
func (a *App) IngestFixtures(ctx context.Context, fx *Fixtures) (IngestReport, error) {
	var report IngestReport

	ingredientIDs := make(map[string]int64, len(fx.Ingredients))
	for _, f := range fx.Ingredients {
		id, err := a.recipeRepo.SaveIngredient(ctx, f.Ingredient)
		if err != nil {
			a.logger.Warn("failed to save ingredient", "key", f.Key, "error", err)
			report.Failed++
			continue
		}
		ingredientIDs[f.Key] = id
		report.Ingredients++
	}

	recipeIDs := make(map[string]int64, len(fx.Recipes))
	for _, f := range fx.Recipes {
		rec, err := resolveRecipe(f, ingredientIDs)
		if err != nil {
			a.logger.Warn("skipping recipe", "key", f.Key, "error", err)
			report.Failed++
			continue
		}
		id, err := a.recipeRepo.Save(ctx, rec)
		if err != nil {
			a.logger.Warn("failed to save recipe", "key", f.Key, "error", err)
			report.Failed++
			continue
		}
		recipeIDs[f.Key] = id
		report.Recipes++
	}

	for i, f := range fx.MealPlans {
		plan, err := resolveMealPlan(f, recipeIDs)
		if err != nil {
			a.logger.Warn("skipping meal plan", "index", i, "user_id", f.UserID, "error", err)
			report.Failed++
			continue
		}
		id, err := a.planRepo.Save(ctx, plan)
		if err != nil {
			return report, fmt.Errorf("failed to save meal plan %d: %w", i, err)
		}
		report.MealPlans = append(report.MealPlans, id)
	}

	a.logger.Info("fixtures ingested",
		"ingredients", report.Ingredients, "recipes", report.Recipes,
		"meal_plans", len(report.MealPlans), "failed", report.Failed)
	return report, nil
}

func resolveRecipe(f RecipeFixture, ingredientIDs map[string]int64) (recipe.Recipe, error) {
	rec := recipe.Recipe{Name: f.Name, Servings: f.Servings}
	for _, line := range f.Ingredients {
		id, ok := ingredientIDs[line.Ingredient]
		if !ok {
			return rec, fmt.Errorf("unknown ingredient %q", line.Ingredient)
		}
		rec.Ingredients = append(rec.Ingredients, recipe.RecipeIngredient{IngredientID: id, Quantity: line.Quantity, Unit: line.Unit})
	}
	return rec, nil
}

func resolveMealPlan(f MealPlanFixture, recipeIDs map[string]int64) (*planner.MealPlan, error) {
	weekStart, err := time.Parse("2006-01-02", f.WeekStart)
	if err != nil {
		return nil, fmt.Errorf("invalid week_start %q: %w", f.WeekStart, err)
	}

	days := make(map[string]map[string]*int64, len(f.Days))
	for day, slots := range f.Days {
		days[day] = make(map[string]*int64, len(slots))
		for slot, key := range slots {
			if key == "" {
				days[day][slot] = nil
				continue
			}
			id, ok := recipeIDs[key]
			if !ok {
				return nil, fmt.Errorf("unknown recipe %q on %s/%s", key, day, slot)
			}
			days[day][slot] = &id
		}
	}
	return &planner.MealPlan{UserID: f.UserID, WeekStart: weekStart, Days: days}, nil
}
