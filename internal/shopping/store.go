package shopping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"diet-planner/internal/metrics"
	"diet-planner/internal/planner"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MealPlanSource resolves meal plans. It returns nil, nil for unknown ids.
type MealPlanSource interface {
	Get(ctx context.Context, id int64) (*planner.MealPlan, error)
}

// Invalidator drops cached generations of a meal plan.
type Invalidator interface {
	InvalidateMealPlan(ctx context.Context, mealPlanID int64, reason string) (int, error)
}

// ToggleRequest checks or unchecks one item.
type ToggleRequest struct {
	ListID          int64
	ItemID          string
	Checked         bool
	ActorID         string
	ExpectedVersion *int64
}

// ItemToggle is one element of a bulk toggle.
type ItemToggle struct {
	ItemID  string `json:"item_id" binding:"required"`
	Checked bool   `json:"checked"`
}

// BulkToggleRequest applies several toggles as one mutation.
type BulkToggleRequest struct {
	ListID          int64
	Items           []ItemToggle
	ActorID         string
	ExpectedVersion *int64
}

// BulkResult reports how many requested toggles named known items.
type BulkResult struct {
	Updated   int `json:"updated_items"`
	Requested int `json:"total_items"`
}

// RegenerateRequest re-runs aggregation for a list. A nil Preferences
// reuses the rules the list was generated with.
type RegenerateRequest struct {
	ListID          int64
	PreserveChecked bool
	ActorID         string
	Preferences     *Preferences
}

// RegenerateResult is the outcome of a regeneration.
type RegenerateResult struct {
	List       *ShoppingList
	Generation *GeneratedList
	// Preserved is the number of checked items carried forward.
	Preserved int
}

// ListStore owns every mutation of a persisted list's check state. Each
// mutation is a compare-and-swap on the version read.
type ListStore struct {
	repo        *Repository
	plans       MealPlanSource
	engine      Generator
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewListStore creates a ListStore. invalidator may be nil when generation
// is not cached.
func NewListStore(repo *Repository, plans MealPlanSource, engine Generator, invalidator Invalidator, m *metrics.Metrics, logger *slog.Logger) *ListStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListStore{
		repo:        repo,
		plans:       plans,
		engine:      engine,
		invalidator: invalidator,
		metrics:     m,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *ListStore) load(ctx context.Context, id int64, expected *int64) (*ShoppingList, error) {
	list, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, fmt.Errorf("shopping list %d: %w", id, ErrNotFound)
	}
	if expected != nil && *expected != list.Version {
		s.metrics.VersionConflict()
		return nil, &ConflictError{ListID: id, CurrentVersion: list.Version}
	}
	return list, nil
}

func (s *ListStore) save(ctx context.Context, list *ShoppingList, readVersion int64, entries []HistoryEntry) error {
	if err := s.repo.SaveState(ctx, list, readVersion, entries); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			s.metrics.VersionConflict()
		}
		return err
	}
	for _, e := range entries {
		s.metrics.ListMutation(string(e.Action))
	}
	return nil
}

// ToggleItem sets the check state of one item and bumps the version.
func (s *ListStore) ToggleItem(ctx context.Context, req ToggleRequest) (*ShoppingList, error) {
	ctx, span := tracer.Start(ctx, "shopping.ListStore.ToggleItem",
		trace.WithAttributes(attribute.Int64("shopping_list.id", req.ListID), attribute.String("item.id", req.ItemID)))
	defer span.End()

	list, err := s.load(ctx, req.ListID, req.ExpectedVersion)
	if err != nil {
		return nil, spanError(span, err)
	}
	if !list.HasItem(req.ItemID) {
		return nil, spanError(span, fmt.Errorf("%q in shopping list %d: %w", req.ItemID, req.ListID, ErrItemNotFound))
	}

	old := list.CheckedItems[req.ItemID]
	readVersion := list.Version
	list.CheckedItems[req.ItemID] = req.Checked
	list.Version++
	list.LastUpdated = s.now()
	list.refresh()

	action := ActionItemUnchecked
	if req.Checked {
		action = ActionItemChecked
	}
	entry := HistoryEntry{
		ShoppingListID: list.ID,
		Action:         action,
		ItemID:         req.ItemID,
		OldValue:       jsonValue(old),
		NewValue:       jsonValue(req.Checked),
		UserID:         req.ActorID,
		Timestamp:      list.LastUpdated,
		Metadata:       map[string]string{"version": strconv.FormatInt(list.Version, 10)},
	}
	if err := s.save(ctx, list, readVersion, []HistoryEntry{entry}); err != nil {
		return nil, spanError(span, err)
	}

	s.logger.Info("shopping list item toggled", "shopping_list_id", list.ID, "item_id", req.ItemID, "checked", req.Checked, "version", list.Version)
	return list, nil
}

// BulkToggle applies the toggles in order as a single mutation. Unknown item
// ids are skipped. When no toggle names a known item nothing is written.
func (s *ListStore) BulkToggle(ctx context.Context, req BulkToggleRequest) (BulkResult, *ShoppingList, error) {
	ctx, span := tracer.Start(ctx, "shopping.ListStore.BulkToggle",
		trace.WithAttributes(attribute.Int64("shopping_list.id", req.ListID), attribute.Int("items.requested", len(req.Items))))
	defer span.End()

	res := BulkResult{Requested: len(req.Items)}
	if len(req.Items) == 0 {
		return res, nil, spanError(span, validationErrorf("items must not be empty"))
	}

	list, err := s.load(ctx, req.ListID, req.ExpectedVersion)
	if err != nil {
		return res, nil, spanError(span, err)
	}

	readVersion := list.Version
	now := s.now()
	var entries []HistoryEntry
	for _, t := range req.Items {
		if !list.HasItem(t.ItemID) {
			s.logger.Debug("bulk toggle skipping unknown item", "shopping_list_id", list.ID, "item_id", t.ItemID)
			continue
		}
		old := list.CheckedItems[t.ItemID]
		list.CheckedItems[t.ItemID] = t.Checked
		entries = append(entries, HistoryEntry{
			ShoppingListID: list.ID,
			Action:         ActionBulkToggle,
			ItemID:         t.ItemID,
			OldValue:       jsonValue(old),
			NewValue:       jsonValue(t.Checked),
			UserID:         req.ActorID,
			Timestamp:      now,
			Metadata:       map[string]string{"version": strconv.FormatInt(readVersion+1, 10)},
		})
	}
	res.Updated = len(entries)
	if res.Updated == 0 {
		return res, list, nil
	}

	list.Version++
	list.LastUpdated = now
	list.refresh()
	if err := s.save(ctx, list, readVersion, entries); err != nil {
		return BulkResult{Requested: res.Requested}, nil, spanError(span, err)
	}

	span.SetAttributes(attribute.Int("items.updated", res.Updated))
	s.logger.Info("shopping list bulk toggled", "shopping_list_id", list.ID, "updated", res.Updated, "requested", res.Requested, "version", list.Version)
	return res, list, nil
}

// Regenerate re-runs aggregation for the list's meal plan. With
// PreserveChecked, checked items are carried forward onto new items with the
// same name, unit and category.
func (s *ListStore) Regenerate(ctx context.Context, req RegenerateRequest) (*RegenerateResult, error) {
	ctx, span := tracer.Start(ctx, "shopping.ListStore.Regenerate",
		trace.WithAttributes(attribute.Int64("shopping_list.id", req.ListID), attribute.Bool("preserve_checked", req.PreserveChecked)))
	defer span.End()

	list, err := s.load(ctx, req.ListID, nil)
	if err != nil {
		return nil, spanError(span, err)
	}
	plan, err := s.plans.Get(ctx, list.MealPlanID)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to load meal plan %d: %w", list.MealPlanID, err))
	}
	if plan == nil {
		return nil, spanError(span, fmt.Errorf("meal plan %d: %w", list.MealPlanID, ErrNotFound))
	}

	prefs := list.AggregationRules
	if req.Preferences != nil {
		prefs = *req.Preferences
	}

	s.invalidate(ctx, list.MealPlanID, "regenerate")
	gen, err := s.engine.Generate(ctx, plan, prefs)
	if err != nil {
		return nil, spanError(span, err)
	}

	previous := make(map[string]bool)
	oldChecked := 0
	for _, it := range list.Items {
		if list.CheckedItems[it.ID] {
			oldChecked++
			if req.PreserveChecked {
				previous[matchKey(it)] = true
			}
		}
	}
	oldCount := len(list.Items)

	readVersion := list.Version
	list.applyGeneration(gen)
	list.CheckedItems = make(map[string]bool, len(list.Items))
	preserved := 0
	for _, it := range list.Items {
		if previous[matchKey(it)] {
			list.CheckedItems[it.ID] = true
			preserved++
		}
	}
	list.Version++
	list.LastUpdated = s.now()
	list.refresh()

	entry := HistoryEntry{
		ShoppingListID: list.ID,
		Action:         ActionRegenerated,
		OldValue:       jsonValue(map[string]int{"item_count": oldCount, "checked_count": oldChecked}),
		NewValue:       jsonValue(map[string]int{"item_count": len(list.Items), "checked_count": preserved}),
		UserID:         req.ActorID,
		Timestamp:      list.LastUpdated,
		Metadata: map[string]string{
			"preserve_checked": strconv.FormatBool(req.PreserveChecked),
			"version":          strconv.FormatInt(list.Version, 10),
		},
	}
	if err := s.save(ctx, list, readVersion, []HistoryEntry{entry}); err != nil {
		return nil, spanError(span, err)
	}
	s.invalidate(ctx, list.MealPlanID, "regenerate")

	s.logger.Info("shopping list regenerated", "shopping_list_id", list.ID, "items", len(list.Items), "preserved", preserved, "version", list.Version)
	return &RegenerateResult{List: list, Generation: gen, Preserved: preserved}, nil
}

func (s *ListStore) invalidate(ctx context.Context, mealPlanID int64, reason string) {
	if s.invalidator == nil {
		return
	}
	if _, err := s.invalidator.InvalidateMealPlan(ctx, mealPlanID, reason); err != nil {
		s.logger.Warn("failed to invalidate shopping cache", "meal_plan_id", mealPlanID, "error", err)
	}
}

// applyGeneration replaces the list composition with a generated one. Check
// state is left to the caller.
func (l *ShoppingList) applyGeneration(gen *GeneratedList) {
	items := make([]Item, 0, len(gen.Items))
	for _, it := range gen.Items {
		items = append(items, Item{
			ID:           it.ID,
			IngredientID: it.IngredientID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			Unit:         it.Unit,
			BaseUnit:     it.BaseUnit,
			Category:     it.Category,
			UnitPrice:    it.UnitPrice,
			Note:         it.Note,
		})
	}
	l.Items = items
	l.CategoryGrouping = gen.CategoryGrouping
	l.EstimatedBudget = gen.Budget.Total
	l.BudgetExtrapolated = gen.Budget.Extrapolated
	l.AggregationRules = gen.Rules
	l.Statistics = gen.Statistics
}

// matchKey identifies an item across regenerations by name, native
// (pre-conversion) unit and category.
func matchKey(it Item) string {
	unit := it.BaseUnit
	if unit == "" {
		unit = it.Unit
	}
	return strings.ToLower(strings.TrimSpace(it.Name)) + "\x00" +
		strings.ToLower(strings.TrimSpace(unit)) + "\x00" +
		strings.ToLower(strings.TrimSpace(it.Category))
}

func jsonValue(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
