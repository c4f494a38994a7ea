package shopping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Repository handles persistence of shopping lists, their history and
// store categories.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new shopping list repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

const listColumns = `id, meal_plan_id, user_id, week_start, items, checked_items, estimated_budget,
	budget_extrapolated, is_completed, version, aggregation_rules, category_grouping, statistics,
	created_at, last_updated`

type listRow struct {
	items, checked, rules, grouping, stats string
}

func encodeList(list *ShoppingList) (listRow, error) {
	var row listRow
	fields := []struct {
		dst *string
		v   any
	}{
		{&row.items, list.Items},
		{&row.checked, list.CheckedItems},
		{&row.rules, list.AggregationRules},
		{&row.grouping, list.CategoryGrouping},
		{&row.stats, list.Statistics},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return row, fmt.Errorf("failed to marshal shopping list %d: %w", list.ID, err)
		}
		*f.dst = string(b)
	}
	return row, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// Create inserts a new list with version 1 and returns its id. It fails
// with ErrAlreadyExists when the meal plan already owns a list.
func (r *Repository) Create(ctx context.Context, list *ShoppingList) (int64, error) {
	now := time.Now().UTC()
	list.Version = 1
	list.CreatedAt, list.LastUpdated = now, now
	list.refresh()

	row, err := encodeList(list)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO shopping_lists (meal_plan_id, user_id, week_start, items, checked_items, estimated_budget,
			budget_extrapolated, is_completed, version, aggregation_rules, category_grouping, statistics,
			created_at, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		list.MealPlanID, list.UserID, list.WeekStart, row.items, row.checked, nullFloat(list.EstimatedBudget),
		list.BudgetExtrapolated, list.IsCompleted, list.Version, row.rules, row.grouping, row.stats,
		list.CreatedAt, list.LastUpdated)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("shopping list for meal plan %d: %w", list.MealPlanID, ErrAlreadyExists)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert shopping list: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read shopping list id: %w", err)
	}
	list.ID = id
	return id, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

// Get retrieves a list by id. It returns nil, nil when no list exists.
func (r *Repository) Get(ctx context.Context, id int64) (*ShoppingList, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM shopping_lists WHERE id = ?`, id)
	list, err := scanList(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get shopping list %d: %w", id, err)
	}
	return list, nil
}

// GetByMealPlanID retrieves the list of a meal plan. It returns nil, nil
// when the plan has no list.
func (r *Repository) GetByMealPlanID(ctx context.Context, mealPlanID int64) (*ShoppingList, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM shopping_lists WHERE meal_plan_id = ?`, mealPlanID)
	list, err := scanList(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get shopping list by meal plan ID: %w", err)
	}
	return list, nil
}

// SaveState persists a mutated list if its stored version still equals
// expectedVersion, appending the history entries in the same transaction.
// The list must already carry its new version.
func (r *Repository) SaveState(ctx context.Context, list *ShoppingList, expectedVersion int64, entries []HistoryEntry) error {
	row, err := encodeList(list)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE shopping_lists SET items = ?, checked_items = ?, estimated_budget = ?, budget_extrapolated = ?,
			is_completed = ?, version = ?, aggregation_rules = ?, category_grouping = ?, statistics = ?,
			last_updated = ?
		 WHERE id = ? AND version = ?`,
		row.items, row.checked, nullFloat(list.EstimatedBudget), list.BudgetExtrapolated,
		list.IsCompleted, list.Version, row.rules, row.grouping, row.stats,
		list.LastUpdated, list.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update shopping list %d: %w", list.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update shopping list %d: %w", list.ID, err)
	}
	if n == 0 {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM shopping_lists WHERE id = ?`, list.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("shopping list %d: %w", list.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read shopping list %d version: %w", list.ID, err)
		}
		return &ConflictError{ListID: list.ID, CurrentVersion: current}
	}

	for _, e := range entries {
		if err := insertHistory(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shopping list %d: %w", list.ID, err)
	}
	return nil
}

// AppendHistory records an entry that does not change list state.
func (r *Repository) AppendHistory(ctx context.Context, e HistoryEntry) error {
	return insertHistory(ctx, r.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertHistory(ctx context.Context, ex execer, e HistoryEntry) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal history metadata: %w", err)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO shopping_list_history (shopping_list_id, action, item_id, old_value, new_value, user_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ShoppingListID, string(e.Action), nullString(e.ItemID), nullRaw(e.OldValue), nullRaw(e.NewValue),
		nullString(e.UserID), string(metaJSON), ts)
	if err != nil {
		return fmt.Errorf("failed to insert history entry for shopping list %d: %w", e.ShoppingListID, err)
	}
	return nil
}

// History returns a page of entries, newest first, and the total count.
func (r *Repository) History(ctx context.Context, listID int64, limit, offset int) ([]HistoryEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shopping_list_history WHERE shopping_list_id = ?`, listID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history of shopping list %d: %w", listID, err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, shopping_list_id, action, item_id, old_value, new_value, user_id, metadata, created_at
		 FROM shopping_list_history WHERE shopping_list_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`, listID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history of shopping list %d: %w", listID, err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var action, metaJSON string
		var itemID, oldValue, newValue, userID sql.NullString
		if err := rows.Scan(&e.ID, &e.ShoppingListID, &action, &itemID, &oldValue, &newValue, &userID, &metaJSON, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Action = Action(action)
		e.ItemID, e.UserID = itemID.String, userID.String
		if oldValue.Valid {
			e.OldValue = json.RawMessage(oldValue.String)
		}
		if newValue.Valid {
			e.NewValue = json.RawMessage(newValue.String)
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal history metadata: %w", err)
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Categories returns the active global categories overlaid with the user's
// own, sorted by sort order then name.
func (r *Repository) Categories(ctx context.Context, userID string) ([]StoreCategory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, display_name, icon, sort_order, is_active, user_id FROM store_categories
		 WHERE user_id IS NULL OR user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list store categories: %w", err)
	}
	defer rows.Close()

	var global, user []StoreCategory
	for rows.Next() {
		var c StoreCategory
		var owner sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Icon, &c.SortOrder, &c.IsActive, &owner); err != nil {
			return nil, fmt.Errorf("failed to scan store category: %w", err)
		}
		if owner.Valid {
			c.UserID = &owner.String
			user = append(user, c)
		} else {
			global = append(global, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	merged := mergeCategories(global, user)
	active := make([]StoreCategory, 0, len(merged))
	for _, c := range merged {
		if c.IsActive {
			active = append(active, c)
		}
	}
	return active, nil
}

// SaveCategory inserts or updates a category, keyed by name within its
// scope (global when UserID is nil).
func (r *Repository) SaveCategory(ctx context.Context, c StoreCategory) error {
	var err error
	if c.UserID == nil {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO store_categories (name, display_name, icon, sort_order, is_active, user_id)
			 VALUES (?, ?, ?, ?, ?, NULL)
			 ON CONFLICT(name) WHERE user_id IS NULL DO UPDATE SET
				display_name = excluded.display_name, icon = excluded.icon,
				sort_order = excluded.sort_order, is_active = excluded.is_active`,
			c.Name, c.DisplayName, c.Icon, c.SortOrder, c.IsActive)
	} else {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO store_categories (name, display_name, icon, sort_order, is_active, user_id)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, name) WHERE user_id IS NOT NULL DO UPDATE SET
				display_name = excluded.display_name, icon = excluded.icon,
				sort_order = excluded.sort_order, is_active = excluded.is_active`,
			c.Name, c.DisplayName, c.Icon, c.SortOrder, c.IsActive, *c.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to save store category %q: %w", c.Name, err)
	}
	return nil
}

// SeedCategories inserts the given global categories when missing and
// returns how many were added. Existing rows are left untouched.
func (r *Repository) SeedCategories(ctx context.Context, categories []StoreCategory) (int, error) {
	added := 0
	for _, c := range categories {
		res, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO store_categories (name, display_name, icon, sort_order, is_active, user_id)
			 VALUES (?, ?, ?, ?, ?, NULL)`,
			c.Name, c.DisplayName, c.Icon, c.SortOrder, c.IsActive)
		if err != nil {
			return added, fmt.Errorf("failed to seed store category %q: %w", c.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (*ShoppingList, error) {
	var list ShoppingList
	var r listRow
	var budget sql.NullFloat64
	if err := row.Scan(&list.ID, &list.MealPlanID, &list.UserID, &list.WeekStart, &r.items, &r.checked, &budget,
		&list.BudgetExtrapolated, &list.IsCompleted, &list.Version, &r.rules, &r.grouping, &r.stats,
		&list.CreatedAt, &list.LastUpdated); err != nil {
		return nil, err
	}
	if budget.Valid {
		list.EstimatedBudget = &budget.Float64
	}

	fields := []struct {
		src string
		dst any
	}{
		{r.items, &list.Items},
		{r.checked, &list.CheckedItems},
		{r.rules, &list.AggregationRules},
		{r.grouping, &list.CategoryGrouping},
		{r.stats, &list.Statistics},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shopping list %d: %w", list.ID, err)
		}
	}
	list.refresh()
	return &list, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}
