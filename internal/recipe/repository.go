package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository is a database-backed repository for recipes and the ingredient catalog.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// SaveIngredient inserts or replaces a catalog ingredient. A zero ID lets
// the database assign one; the assigned ID is returned.
func (r *Repository) SaveIngredient(ctx context.Context, ing Ingredient) (int64, error) {
	var price sql.NullFloat64
	if ing.UnitPrice != nil {
		price = sql.NullFloat64{Float64: *ing.UnitPrice, Valid: true}
	}

	if ing.ID == 0 {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO ingredients (name, category, unit, unit_price) VALUES (?, ?, ?, ?)`,
			ing.Name, ing.Category, ing.Unit, price)
		if err != nil {
			return 0, fmt.Errorf("failed to insert ingredient: %w", err)
		}
		return res.LastInsertId()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ingredients (id, name, category, unit, unit_price) VALUES (?, ?, ?, ?, ?)`,
		ing.ID, ing.Name, ing.Category, ing.Unit, price)
	if err != nil {
		return 0, fmt.Errorf("failed to save ingredient %d: %w", ing.ID, err)
	}
	return ing.ID, nil
}

// Save inserts or replaces a recipe together with its ingredient lines.
func (r *Repository) Save(ctx context.Context, rec Recipe) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	servings := rec.Servings
	if servings <= 0 {
		servings = 1
	}

	id := rec.ID
	if id == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO recipes (name, servings, created_at) VALUES (?, ?, ?)`,
			rec.Name, servings, createdAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert recipe: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to read recipe id: %w", err)
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recipes (id, name, servings, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, servings = excluded.servings`,
			id, rec.Name, servings, createdAt)
		if err != nil {
			return 0, fmt.Errorf("failed to save recipe %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_ingredients WHERE recipe_id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to clear ingredients of recipe %d: %w", id, err)
		}
	}

	for i, line := range rec.Ingredients {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recipe_ingredients (recipe_id, ingredient_id, position, quantity, unit) VALUES (?, ?, ?, ?, ?)`,
			id, line.IngredientID, i, line.Quantity, line.Unit)
		if err != nil {
			return 0, fmt.Errorf("failed to insert ingredient line %d of recipe %d: %w", i, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit recipe %d: %w", id, err)
	}
	return id, nil
}

// Get retrieves a recipe by its ID. It returns nil, nil when the recipe does not exist.
func (r *Repository) Get(ctx context.Context, id int64) (*Recipe, error) {
	recipes, err := r.GetByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	rec, ok := recipes[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// GetByIDs retrieves multiple recipes by their IDs. Unknown IDs are simply
// absent from the returned map.
func (r *Repository) GetByIDs(ctx context.Context, ids []int64) (map[int64]Recipe, error) {
	result := make(map[int64]Recipe, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := inClause(ids)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, servings, created_at FROM recipes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipes by IDs: %w", err)
	}
	for rows.Next() {
		var rec Recipe
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Servings, &rec.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		result[rec.ID] = rec
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close recipe rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipes: %w", err)
	}

	lines, err := r.db.QueryContext(ctx,
		`SELECT recipe_id, ingredient_id, quantity, unit FROM recipe_ingredients
		 WHERE recipe_id IN (`+placeholders+`) ORDER BY recipe_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe ingredients: %w", err)
	}
	defer lines.Close()

	for lines.Next() {
		var recipeID int64
		var line RecipeIngredient
		if err := lines.Scan(&recipeID, &line.IngredientID, &line.Quantity, &line.Unit); err != nil {
			return nil, fmt.Errorf("failed to scan recipe ingredient: %w", err)
		}
		rec := result[recipeID]
		rec.Ingredients = append(rec.Ingredients, line)
		result[recipeID] = rec
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipe ingredients: %w", err)
	}

	return result, nil
}

// GetIngredientsByIDs resolves catalog entries. Unknown IDs are absent from the map.
func (r *Repository) GetIngredientsByIDs(ctx context.Context, ids []int64) (map[int64]Ingredient, error) {
	result := make(map[int64]Ingredient, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := inClause(ids)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, category, unit, unit_price FROM ingredients WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingredients by IDs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ing Ingredient
		var price sql.NullFloat64
		if err := rows.Scan(&ing.ID, &ing.Name, &ing.Category, &ing.Unit, &price); err != nil {
			return nil, fmt.Errorf("failed to scan ingredient: %w", err)
		}
		if price.Valid {
			p := price.Float64
			ing.UnitPrice = &p
		}
		result[ing.ID] = ing
	}
	return result, rows.Err()
}

// Count returns the number of recipes in the database.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return count, nil
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
