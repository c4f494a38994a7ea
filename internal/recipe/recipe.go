package recipe

import "time"

// Ingredient is a canonical catalog entry. UnitPrice is an optional hint
// expressed per native Unit (e.g. price per gram when Unit is "g").
type Ingredient struct {
	ID        int64    `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Category  string   `json:"category" yaml:"category"`
	Unit      string   `json:"unit" yaml:"unit"`
	UnitPrice *float64 `json:"unit_price,omitempty" yaml:"unit_price,omitempty"`
}

// RecipeIngredient is one line of a recipe.
type RecipeIngredient struct {
	IngredientID int64   `json:"ingredient_id" yaml:"ingredient_id"`
	Quantity     float64 `json:"quantity" yaml:"quantity"`
	Unit         string  `json:"unit" yaml:"unit"`
}

// Recipe represents a recipe and its ingredient lines, in authoring order.
type Recipe struct {
	ID          int64              `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Servings    int                `json:"servings" yaml:"servings"`
	Ingredients []RecipeIngredient `json:"ingredients" yaml:"ingredients"`
	CreatedAt   time.Time          `json:"created_at" yaml:"-"`
}
