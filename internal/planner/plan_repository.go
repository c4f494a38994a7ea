package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ChangeListener is notified after a meal plan has been created, updated or deleted.
type ChangeListener func(ctx context.Context, mealPlanID int64)

// PlanRepository is a database-backed repository for meal plans.
type PlanRepository struct {
	db *sql.DB

	mu        sync.RWMutex
	listeners []ChangeListener
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(d *sql.DB) *PlanRepository {
	return &PlanRepository{db: d}
}

// OnChange registers a listener invoked after every successful write.
func (r *PlanRepository) OnChange(l ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *PlanRepository) notify(ctx context.Context, id int64) {
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, id)
	}
}

// Save inserts a new plan (ID == 0) or updates an existing one, bumping its
// revision. It returns the plan ID.
func (r *PlanRepository) Save(ctx context.Context, plan *MealPlan) (int64, error) {
	planData, err := json.Marshal(plan.Days)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal meal plan days: %w", err)
	}

	now := time.Now().UTC()
	weekStart := WeekStart(plan.WeekStart)

	if plan.ID == 0 {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO meal_plans (user_id, week_start, plan_data, revision, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?)`,
			plan.UserID, weekStart, string(planData), now, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert meal plan: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read meal plan id: %w", err)
		}
		plan.ID, plan.Revision, plan.WeekStart, plan.CreatedAt, plan.UpdatedAt = id, 1, weekStart, now, now
		r.notify(ctx, id)
		return id, nil
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE meal_plans SET user_id = ?, week_start = ?, plan_data = ?, revision = revision + 1, updated_at = ?
		 WHERE id = ?`,
		plan.UserID, weekStart, string(planData), now, plan.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update meal plan %d: %w", plan.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("failed to update meal plan %d: %w", plan.ID, sql.ErrNoRows)
	}
	plan.Revision++
	plan.WeekStart, plan.UpdatedAt = weekStart, now

	slog.Info("meal plan updated", "meal_plan_id", plan.ID, "revision", plan.Revision)
	r.notify(ctx, plan.ID)
	return plan.ID, nil
}

// Get retrieves a meal plan by ID. It returns nil, nil when no plan exists.
func (r *PlanRepository) Get(ctx context.Context, id int64) (*MealPlan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, week_start, plan_data, revision, created_at, updated_at FROM meal_plans WHERE id = ?`, id)

	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get meal plan %d: %w", id, err)
	}
	return plan, nil
}

// ListRecentByUserID retrieves the N most recent meal plans for a given user.
func (r *PlanRepository) ListRecentByUserID(ctx context.Context, userID string, limit int) ([]MealPlan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, week_start, plan_data, revision, created_at, updated_at FROM meal_plans
		 WHERE user_id = ? ORDER BY week_start DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent meal plans for user %s: %w", userID, err)
	}
	defer rows.Close()

	var plans []MealPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// Delete removes a meal plan. Its shopping list and history cascade with it.
func (r *PlanRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM meal_plans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete meal plan %d: %w", id, err)
	}
	r.notify(ctx, id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*MealPlan, error) {
	var plan MealPlan
	var planData string
	if err := row.Scan(&plan.ID, &plan.UserID, &plan.WeekStart, &planData, &plan.Revision, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(planData), &plan.Days); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meal plan %d: %w", plan.ID, err)
	}
	return &plan, nil
}
