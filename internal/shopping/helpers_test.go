package shopping

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"diet-planner/internal/database"
	"diet-planner/internal/planner"
	"diet-planner/internal/recipe"

	"github.com/stretchr/testify/require"
)

const (
	chickenID int64 = 1
	oilID     int64 = 2
	eggsID    int64 = 3

	recipeA int64 = 10
	recipeB int64 = 11
)

func price(p float64) *float64 { return &p }

func rid(id int64) *int64 { return &id }

type fakeRecipes struct {
	recipes map[int64]recipe.Recipe
	calls   atomic.Int32
	err     error
}

func (f *fakeRecipes) GetByIDs(_ context.Context, ids []int64) (map[int64]recipe.Recipe, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]recipe.Recipe)
	for _, id := range ids {
		if r, ok := f.recipes[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

type fakeIngredients struct {
	ingredients map[int64]recipe.Ingredient
}

func (f *fakeIngredients) GetIngredientsByIDs(_ context.Context, ids []int64) (map[int64]recipe.Ingredient, error) {
	out := make(map[int64]recipe.Ingredient)
	for _, id := range ids {
		if ing, ok := f.ingredients[id]; ok {
			out[id] = ing
		}
	}
	return out, nil
}

// scenario is the two-recipe Monday plan: recipe A uses 200 g chicken and
// 50 ml oil, recipe B uses 150 g chicken.
func scenarioSources() (*fakeRecipes, *fakeIngredients) {
	recipes := &fakeRecipes{recipes: map[int64]recipe.Recipe{
		recipeA: {ID: recipeA, Name: "Poulet rôti", Ingredients: []recipe.RecipeIngredient{
			{IngredientID: chickenID, Quantity: 200, Unit: "g"},
			{IngredientID: oilID, Quantity: 50, Unit: "ml"},
		}},
		recipeB: {ID: recipeB, Name: "Salade de poulet", Ingredients: []recipe.RecipeIngredient{
			{IngredientID: chickenID, Quantity: 150, Unit: "g"},
		}},
	}}
	ingredients := &fakeIngredients{ingredients: map[int64]recipe.Ingredient{
		chickenID: {ID: chickenID, Name: "Blanc de poulet", Category: "protein", Unit: "g", UnitPrice: price(0.012)},
		oilID:     {ID: oilID, Name: "Huile d'olive", Category: "pantry", Unit: "ml"},
		eggsID:    {ID: eggsID, Name: "Oeufs", Category: "dairy", Unit: "unités", UnitPrice: price(0.25)},
	}}
	return recipes, ingredients
}

func scenarioPlan() *planner.MealPlan {
	return &planner.MealPlan{
		ID:        100,
		UserID:    "user-1",
		WeekStart: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		Revision:  1,
		Days: map[string]map[string]*int64{
			"Monday": {"repas1": rid(recipeA), "repas2": rid(recipeB)},
		},
	}
}

func newScenarioEngine() (*Engine, *fakeRecipes) {
	recipes, ingredients := scenarioSources()
	return NewEngine(recipes, ingredients, nil, nil), recipes
}

// failingCache fails every operation.
type failingCache struct{}

var errBackendDown = errors.New("backend down")

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errBackendDown
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error { return errBackendDown }
func (failingCache) Invalidate(context.Context, string) (int, error)         { return 0, errBackendDown }
func (failingCache) Close() error                                            { return nil }

// testEnv is a service wired to a temporary SQLite database.
type testEnv struct {
	db      *database.DB
	recipes *recipe.Repository
	plans   *planner.PlanRepository
	repo    *Repository
	service *Service
	planID  int64
	ids     map[string]int64
}

type fakeSharer struct {
	mu     sync.Mutex
	shared []int64
}

func (f *fakeSharer) ShareList(_ context.Context, list *ShoppingList, _ []StoreCategory, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shared = append(f.shared, list.ID)
	return nil
}

func newTestEnv(t *testing.T, opts ...ServiceOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "shopping.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:      db,
		recipes: recipe.NewRepository(db.SQL),
		plans:   planner.NewPlanRepository(db.SQL),
		repo:    NewRepository(db.SQL),
		ids:     map[string]int64{},
	}

	defaults, err := DefaultCategories()
	require.NoError(t, err)
	_, err = env.repo.SeedCategories(ctx, defaults)
	require.NoError(t, err)

	chicken, err := env.recipes.SaveIngredient(ctx, recipe.Ingredient{Name: "Blanc de poulet", Category: "protein", Unit: "g", UnitPrice: price(0.012)})
	require.NoError(t, err)
	oil, err := env.recipes.SaveIngredient(ctx, recipe.Ingredient{Name: "Huile d'olive", Category: "pantry", Unit: "ml"})
	require.NoError(t, err)
	env.ids["chicken"], env.ids["oil"] = chicken, oil

	a, err := env.recipes.Save(ctx, recipe.Recipe{Name: "Poulet rôti", Ingredients: []recipe.RecipeIngredient{
		{IngredientID: chicken, Quantity: 200, Unit: "g"},
		{IngredientID: oil, Quantity: 50, Unit: "ml"},
	}})
	require.NoError(t, err)
	b, err := env.recipes.Save(ctx, recipe.Recipe{Name: "Salade de poulet", Ingredients: []recipe.RecipeIngredient{
		{IngredientID: chicken, Quantity: 150, Unit: "g"},
	}})
	require.NoError(t, err)
	env.ids["recipeA"], env.ids["recipeB"] = a, b

	env.planID, err = env.plans.Save(ctx, &planner.MealPlan{
		UserID:    "user-1",
		WeekStart: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		Days:      map[string]map[string]*int64{"Monday": {"repas1": rid(a), "repas2": rid(b)}},
	})
	require.NoError(t, err)

	engine := NewEngine(env.recipes, env.recipes, env.repo, nil)
	env.service = NewService(env.repo, env.plans, engine, opts...)
	return env
}

func (e *testEnv) createList(t *testing.T) *ShoppingList {
	t.Helper()
	list, _, err := e.service.CreateFromMealPlan(context.Background(), e.planID, DefaultPreferences())
	require.NoError(t, err)
	return list
}

func (e *testEnv) itemID(name string) string {
	return "item-" + strconv.FormatInt(e.ids[name], 10)
}
