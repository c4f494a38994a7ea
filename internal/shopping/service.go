package shopping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"diet-planner/internal/metrics"

	"github.com/google/uuid"
)

// Sharer delivers a rendered list to a chat.
type Sharer interface {
	ShareList(ctx context.Context, list *ShoppingList, categories []StoreCategory, chatID int64) error
}

// GenerationInfo describes the generation a list was created from.
type GenerationInfo struct {
	GenerationID string          `json:"generation_id"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Statistics   GenerationStats `json:"statistics"`
	Budget       BudgetEstimate  `json:"budget"`
}

// Service is the entry point of the shopping list engine.
type Service struct {
	repo        *Repository
	plans       MealPlanSource
	engine      Generator
	invalidator Invalidator
	store       *ListStore
	sharer      Sharer
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithInvalidator sets the cache invalidator used on regeneration and
// meal plan changes.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) { s.invalidator = inv }
}

// WithSharer enables list sharing.
func WithSharer(sh Sharer) ServiceOption {
	return func(s *Service) { s.sharer = sh }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(repo *Repository, plans MealPlanSource, engine Generator, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, plans: plans, engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.store = NewListStore(repo, plans, engine, s.invalidator, s.metrics, s.logger)
	return s
}

// Store returns the list store handling check-state mutations.
func (s *Service) Store() *ListStore {
	return s.store
}

// SharingEnabled reports whether a Sharer is configured.
func (s *Service) SharingEnabled() bool {
	return s.sharer != nil
}

// CreateFromMealPlan generates and persists the list of a meal plan.
func (s *Service) CreateFromMealPlan(ctx context.Context, mealPlanID int64, prefs Preferences) (*ShoppingList, *GenerationInfo, error) {
	plan, err := s.plans.Get(ctx, mealPlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load meal plan %d: %w", mealPlanID, err)
	}
	if plan == nil {
		return nil, nil, fmt.Errorf("meal plan %d: %w", mealPlanID, ErrNotFound)
	}

	existing, err := s.repo.GetByMealPlanID(ctx, mealPlanID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("shopping list %d for meal plan %d: %w", existing.ID, mealPlanID, ErrAlreadyExists)
	}

	gen, err := s.engine.Generate(ctx, plan, prefs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate shopping list: %w", err)
	}

	list := &ShoppingList{
		MealPlanID:   plan.ID,
		UserID:       plan.UserID,
		WeekStart:    plan.WeekStart,
		CheckedItems: map[string]bool{},
	}
	list.applyGeneration(gen)
	if _, err := s.repo.Create(ctx, list); err != nil {
		return nil, nil, err
	}

	info := &GenerationInfo{
		GenerationID: uuid.NewString(),
		GeneratedAt:  list.CreatedAt,
		Statistics:   gen.Statistics,
		Budget:       gen.Budget,
	}
	s.logger.Info("shopping list created",
		"shopping_list_id", list.ID, "meal_plan_id", mealPlanID, "items", len(list.Items),
		"soft_failures", gen.Statistics.SoftFailures, "generation_id", info.GenerationID)
	return list, info, nil
}

// Get returns a list or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*ShoppingList, error) {
	list, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, fmt.Errorf("shopping list %d: %w", id, ErrNotFound)
	}
	return list, nil
}

// ToggleItem delegates to the list store.
func (s *Service) ToggleItem(ctx context.Context, req ToggleRequest) (*ShoppingList, error) {
	return s.store.ToggleItem(ctx, req)
}

// BulkToggle delegates to the list store.
func (s *Service) BulkToggle(ctx context.Context, req BulkToggleRequest) (BulkResult, *ShoppingList, error) {
	return s.store.BulkToggle(ctx, req)
}

// Regenerate delegates to the list store.
func (s *Service) Regenerate(ctx context.Context, req RegenerateRequest) (*RegenerateResult, error) {
	return s.store.Regenerate(ctx, req)
}

// HistoryPage is one page of a list's audit trail.
type HistoryPage struct {
	History    []HistoryEntry `json:"history"`
	Pagination Pagination     `json:"pagination"`
}

// Pagination describes a page of results.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// History returns the audit trail of a list, newest first. page defaults to
// 1 and perPage to 20, capped at 100.
func (s *Service) History(ctx context.Context, listID int64, page, perPage int) (*HistoryPage, error) {
	if _, err := s.Get(ctx, listID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	entries, total, err := s.repo.History(ctx, listID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{
		History: entries,
		Pagination: Pagination{
			Page:    page,
			PerPage: perPage,
			Total:   total,
			Pages:   (total + perPage - 1) / perPage,
		},
	}, nil
}

// Categories returns the store categories visible to userID.
func (s *Service) Categories(ctx context.Context, userID string) ([]StoreCategory, error) {
	return s.repo.Categories(ctx, userID)
}

// HandleMealPlanChanged invalidates cached generations of a meal plan. It
// is registered as a change listener of the meal plan store.
func (s *Service) HandleMealPlanChanged(ctx context.Context, mealPlanID int64) {
	if s.invalidator == nil {
		return
	}
	n, err := s.invalidator.InvalidateMealPlan(ctx, mealPlanID, "meal_plan_changed")
	if err != nil {
		s.logger.Warn("failed to invalidate shopping cache after meal plan change", "meal_plan_id", mealPlanID, "error", err)
		return
	}
	s.logger.Debug("meal plan changed", "meal_plan_id", mealPlanID, "invalidated_keys", n)
}

// PurgeCache drops every cached generation of a meal plan and returns the
// number of removed entries.
func (s *Service) PurgeCache(ctx context.Context, mealPlanID int64) (int, error) {
	plan, err := s.plans.Get(ctx, mealPlanID)
	if err != nil {
		return 0, fmt.Errorf("failed to load meal plan %d: %w", mealPlanID, err)
	}
	if plan == nil {
		return 0, fmt.Errorf("meal plan %d: %w", mealPlanID, ErrNotFound)
	}
	if s.invalidator == nil {
		return 0, nil
	}
	n, err := s.invalidator.InvalidateMealPlan(ctx, mealPlanID, "manual_purge")
	if err != nil {
		return n, fmt.Errorf("failed to purge shopping cache of meal plan %d: %w", mealPlanID, err)
	}
	s.logger.Info("shopping cache purged", "meal_plan_id", mealPlanID, "removed", n)
	return n, nil
}

// Share sends the list to a chat and records it as an export.
func (s *Service) Share(ctx context.Context, listID, chatID int64, actorID string) error {
	if s.sharer == nil {
		return validationErrorf("sharing is not configured")
	}
	if chatID == 0 {
		return validationErrorf("chat_id is required")
	}
	list, err := s.Get(ctx, listID)
	if err != nil {
		return err
	}
	categories, err := s.repo.Categories(ctx, list.UserID)
	if err != nil {
		return err
	}
	if err := s.sharer.ShareList(ctx, list, categories, chatID); err != nil {
		return fmt.Errorf("failed to share shopping list %d: %w", listID, err)
	}

	entry := HistoryEntry{
		ShoppingListID: list.ID,
		Action:         ActionExported,
		UserID:         actorID,
		NewValue:       jsonValue(map[string]any{"channel": "telegram", "chat_id": chatID}),
		Metadata:       map[string]string{"channel": "telegram"},
	}
	if err := s.repo.AppendHistory(ctx, entry); err != nil {
		return err
	}
	s.metrics.ListMutation(string(ActionExported))
	return nil
}
