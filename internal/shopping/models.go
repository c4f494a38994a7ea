package shopping

import (
	"encoding/json"
	"time"
)

// Preferences control unit conversion and budget estimation for one
// generation. Absent fields default to true.
type Preferences struct {
	PreferKgOverG  bool `json:"prefer_kg_over_g" yaml:"prefer_kg_over_g"`
	PreferLOverMl  bool `json:"prefer_l_over_ml" yaml:"prefer_l_over_ml"`
	GroupDozens    bool `json:"group_dozens" yaml:"group_dozens"`
	EstimateBudget bool `json:"estimate_budget" yaml:"estimate_budget"`
}

// DefaultPreferences returns preferences with every option enabled.
func DefaultPreferences() Preferences {
	return Preferences{PreferKgOverG: true, PreferLOverMl: true, GroupDozens: true, EstimateBudget: true}
}

// ParsePreferences decodes a partial preferences object over the defaults.
func ParsePreferences(raw json.RawMessage) (Preferences, error) {
	prefs := DefaultPreferences()
	if len(raw) == 0 || string(raw) == "null" {
		return prefs, nil
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return prefs, err
	}
	return prefs, nil
}

// RawIngredientUsage is one ingredient line of one scheduled recipe.
type RawIngredientUsage struct {
	RecipeID     int64   `json:"recipe_id"`
	RecipeName   string  `json:"recipe_name"`
	Day          string  `json:"day"`
	Slot         string  `json:"slot"`
	IngredientID int64   `json:"ingredient_id"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
}

// Provenance records one contribution to an aggregated item, in the
// ingredient's native unit.
type Provenance struct {
	RecipeID   int64   `json:"recipe_id"`
	RecipeName string  `json:"recipe_name"`
	Day        string  `json:"day"`
	Slot       string  `json:"slot"`
	Quantity   float64 `json:"quantity"`
}

// AggregatedItem is one consolidated line of a generated list.
type AggregatedItem struct {
	ID           string       `json:"id"`
	IngredientID int64        `json:"ingredient_id"`
	Name         string       `json:"name"`
	Quantity     float64      `json:"quantity"`
	Unit         string       `json:"unit"`
	BaseQuantity float64      `json:"base_quantity"`
	BaseUnit     string       `json:"base_unit"`
	Category     string       `json:"category"`
	UnitPrice    *float64     `json:"unit_price,omitempty"`
	Note         string       `json:"note,omitempty"`
	Sources      []Provenance `json:"sources"`
}

// Soft failure kinds.
const (
	FailureMissingRecipe     = "missing_recipe"
	FailureMissingIngredient = "missing_ingredient"
	FailureNegativeQuantity  = "negative_quantity"
	FailureUnitConflict      = "unit_conflict"
)

// SoftFailure is a record skipped (or split) during generation.
type SoftFailure struct {
	Kind         string `json:"kind"`
	RecipeID     int64  `json:"recipe_id,omitempty"`
	IngredientID int64  `json:"ingredient_id,omitempty"`
	Day          string `json:"day,omitempty"`
	Slot         string `json:"slot,omitempty"`
	Reason       string `json:"reason"`
}

// BudgetEstimate is the optional price estimate of a list. Total is nil
// when no item carries a price.
type BudgetEstimate struct {
	Total        *float64 `json:"total"`
	Extrapolated bool     `json:"extrapolated"`
	PricedItems  int      `json:"priced_items"`
	TotalItems   int      `json:"total_items"`
}

// GenerationStats summarizes one aggregation run.
type GenerationStats struct {
	TotalItems         int           `json:"total_items"`
	TotalCategories    int           `json:"total_categories"`
	RawUsages          int           `json:"raw_usages"`
	AggregationSavings int           `json:"aggregation_savings"`
	SoftFailures       int           `json:"soft_failures"`
	SoftFailureDetails []SoftFailure `json:"soft_failure_details,omitempty"`
}

// GeneratedList is the transient output of one aggregation run.
type GeneratedList struct {
	MealPlanID       int64               `json:"meal_plan_id"`
	Items            []AggregatedItem    `json:"items"`
	CategoryGrouping map[string][]string `json:"category_grouping"`
	Budget           BudgetEstimate      `json:"budget"`
	Rules            Preferences         `json:"aggregation_rules"`
	Statistics       GenerationStats     `json:"statistics"`
}

// Item is a persisted shopping list line. Extra carries forward-compatible
// metadata that core logic never reads.
type Item struct {
	ID           string            `json:"id"`
	IngredientID int64             `json:"ingredient_id"`
	Name         string            `json:"name"`
	Quantity     float64           `json:"quantity"`
	Unit         string            `json:"unit"`
	BaseUnit     string            `json:"base_unit,omitempty"`
	Category     string            `json:"category"`
	Checked      bool              `json:"checked"`
	UnitPrice    *float64          `json:"unit_price,omitempty"`
	Note         string            `json:"note,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// ShoppingList is the persisted, mutable list of one meal plan.
type ShoppingList struct {
	ID                 int64               `json:"id"`
	MealPlanID         int64               `json:"meal_plan_id"`
	UserID             string              `json:"user_id"`
	WeekStart          time.Time           `json:"week_start"`
	Items              []Item              `json:"items"`
	CheckedItems       map[string]bool     `json:"checked_items"`
	EstimatedBudget    *float64            `json:"estimated_budget"`
	BudgetExtrapolated bool                `json:"budget_extrapolated"`
	IsCompleted        bool                `json:"is_completed"`
	Version            int64               `json:"version"`
	AggregationRules   Preferences         `json:"aggregation_rules"`
	CategoryGrouping   map[string][]string `json:"category_grouping"`
	Statistics         GenerationStats     `json:"statistics"`
	CreatedAt          time.Time           `json:"created_at"`
	LastUpdated        time.Time           `json:"last_updated"`
}

// HasItem reports whether id names an item of the list.
func (l *ShoppingList) HasItem(id string) bool {
	for _, it := range l.Items {
		if it.ID == id {
			return true
		}
	}
	return false
}

// refresh recomputes the derived fields: the embedded checked flags and
// completion. An empty list is never completed.
func (l *ShoppingList) refresh() {
	if l.CheckedItems == nil {
		l.CheckedItems = make(map[string]bool)
	}
	completed := len(l.Items) > 0
	for i := range l.Items {
		checked := l.CheckedItems[l.Items[i].ID]
		l.Items[i].Checked = checked
		if !checked {
			completed = false
		}
	}
	l.IsCompleted = completed
}

// CheckedCount returns the number of checked items.
func (l *ShoppingList) CheckedCount() int {
	n := 0
	for _, it := range l.Items {
		if l.CheckedItems[it.ID] {
			n++
		}
	}
	return n
}

// Action is the kind of a history entry.
type Action string

const (
	ActionItemChecked   Action = "item_checked"
	ActionItemUnchecked Action = "item_unchecked"
	ActionBulkToggle    Action = "bulk_toggle"
	ActionRegenerated   Action = "regenerated"
	ActionExported      Action = "exported"
)

// HistoryEntry is one append-only audit record of a list.
type HistoryEntry struct {
	ID             int64             `json:"id"`
	ShoppingListID int64             `json:"shopping_list_id"`
	Action         Action            `json:"action"`
	ItemID         string            `json:"item_id,omitempty"`
	OldValue       json.RawMessage   `json:"old_value,omitempty"`
	NewValue       json.RawMessage   `json:"new_value,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// StoreCategory is a display aisle. A nil UserID marks a global category.
type StoreCategory struct {
	ID          int64   `json:"id" yaml:"-"`
	Name        string  `json:"name" yaml:"name"`
	DisplayName string  `json:"display_name" yaml:"display_name"`
	Icon        string  `json:"icon" yaml:"icon"`
	SortOrder   int     `json:"sort_order" yaml:"sort_order"`
	IsActive    bool    `json:"is_active" yaml:"is_active"`
	UserID      *string `json:"user_id,omitempty" yaml:"-"`
}
