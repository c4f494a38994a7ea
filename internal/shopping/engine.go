package shopping

import (
	"context"
	"fmt"
	"log/slog"

	"diet-planner/internal/planner"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("diet-planner/shopping")

// CategorySource lists the store categories visible to a user.
type CategorySource interface {
	Categories(ctx context.Context, userID string) ([]StoreCategory, error)
}

// Generator produces a shopping list from a meal plan.
type Generator interface {
	Generate(ctx context.Context, plan *planner.MealPlan, prefs Preferences) (*GeneratedList, error)
}

// Engine composes collection, aggregation, categorization and budgeting.
type Engine struct {
	collector  *Collector
	aggregator *Aggregator
	categories CategorySource
	logger     *slog.Logger
}

// NewEngine creates an Engine. A nil CategorySource falls back to the
// built-in default categories.
func NewEngine(recipes RecipeSource, ingredients IngredientSource, categories CategorySource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		collector:  NewCollector(recipes, logger),
		aggregator: NewAggregator(ingredients, logger),
		categories: categories,
		logger:     logger,
	}
}

// Generate runs the whole pipeline. Identical plan content and preferences
// yield identical output, order included.
func (e *Engine) Generate(ctx context.Context, plan *planner.MealPlan, prefs Preferences) (*GeneratedList, error) {
	ctx, span := tracer.Start(ctx, "shopping.Engine.Generate",
		trace.WithAttributes(attribute.Int64("meal_plan.id", plan.ID)))
	defer span.End()

	collected, err := e.Collect(ctx, plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return e.Build(ctx, plan, collected, prefs)
}

// Collect is the first pipeline stage, exposed so its result can be cached
// independently of the preferences.
func (e *Engine) Collect(ctx context.Context, plan *planner.MealPlan) (*CollectResult, error) {
	return e.collector.Collect(ctx, plan)
}

// Build runs the remaining stages on collected usages.
func (e *Engine) Build(ctx context.Context, plan *planner.MealPlan, collected *CollectResult, prefs Preferences) (*GeneratedList, error) {
	ctx, span := tracer.Start(ctx, "shopping.Engine.Build",
		trace.WithAttributes(
			attribute.Int64("meal_plan.id", plan.ID),
			attribute.Int("shopping.raw_usages", len(collected.Usages)),
		))
	defer span.End()

	agg, err := e.aggregator.Aggregate(ctx, collected.Usages, prefs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	categorizer, err := e.categorizer(ctx, plan.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	grouping := categorizer.Categorize(agg.Items)

	budget := BudgetEstimate{TotalItems: len(agg.Items)}
	if prefs.EstimateBudget {
		budget = EstimateBudget(agg.Items)
	}

	failures := make([]SoftFailure, 0, len(collected.SoftFailures)+len(agg.SoftFailures))
	failures = append(failures, collected.SoftFailures...)
	failures = append(failures, agg.SoftFailures...)

	stats := GenerationStats{
		TotalItems:         len(agg.Items),
		TotalCategories:    len(grouping),
		RawUsages:          len(collected.Usages),
		AggregationSavings: len(collected.Usages) - len(agg.Items),
		SoftFailures:       len(failures),
	}
	if len(failures) > 0 {
		stats.SoftFailureDetails = failures
	}

	span.SetAttributes(
		attribute.Int("shopping.items", stats.TotalItems),
		attribute.Int("shopping.soft_failures", stats.SoftFailures),
	)
	e.logger.Debug("shopping list generated",
		"meal_plan_id", plan.ID, "items", stats.TotalItems, "raw_usages", stats.RawUsages, "soft_failures", stats.SoftFailures)

	return &GeneratedList{
		MealPlanID:       plan.ID,
		Items:            agg.Items,
		CategoryGrouping: grouping,
		Budget:           budget,
		Rules:            prefs,
		Statistics:       stats,
	}, nil
}

func (e *Engine) categorizer(ctx context.Context, userID string) (*Categorizer, error) {
	if e.categories == nil {
		defaults, err := DefaultCategories()
		if err != nil {
			return nil, err
		}
		return NewCategorizerFrom(defaults), nil
	}
	categories, err := e.categories.Categories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load store categories: %w", err)
	}
	return NewCategorizerFrom(categories), nil
}
