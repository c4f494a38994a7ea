package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"diet-planner/internal/database"
	"diet-planner/internal/metrics"
	"diet-planner/internal/planner"
	"diet-planner/internal/recipe"
	"diet-planner/internal/shopping"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

type fakeSharer struct {
	mu    sync.Mutex
	chats []int64
}

func (f *fakeSharer) ShareList(_ context.Context, _ *shopping.ShoppingList, _ []shopping.StoreCategory, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	return nil
}

type testServer struct {
	router    *gin.Engine
	repo      *shopping.Repository
	planID    int64
	chickenID string
}

func newTestServer(t *testing.T, cfg RouterConfig, opts ...shopping.ServiceOption) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	recipes := recipe.NewRepository(db.SQL)
	plans := planner.NewPlanRepository(db.SQL)
	repo := shopping.NewRepository(db.SQL)

	defaults, err := shopping.DefaultCategories()
	require.NoError(t, err)
	_, err = repo.SeedCategories(ctx, defaults)
	require.NoError(t, err)

	price := 0.012
	chicken, err := recipes.SaveIngredient(ctx, recipe.Ingredient{Name: "Blanc de poulet", Category: "protein", Unit: "g", UnitPrice: &price})
	require.NoError(t, err)
	oil, err := recipes.SaveIngredient(ctx, recipe.Ingredient{Name: "Huile d'olive", Category: "pantry", Unit: "ml"})
	require.NoError(t, err)

	a, err := recipes.Save(ctx, recipe.Recipe{Name: "Poulet rôti", Ingredients: []recipe.RecipeIngredient{
		{IngredientID: chicken, Quantity: 200, Unit: "g"},
		{IngredientID: oil, Quantity: 50, Unit: "ml"},
	}})
	require.NoError(t, err)
	b, err := recipes.Save(ctx, recipe.Recipe{Name: "Salade de poulet", Ingredients: []recipe.RecipeIngredient{
		{IngredientID: chicken, Quantity: 150, Unit: "g"},
	}})
	require.NoError(t, err)

	planID, err := plans.Save(ctx, &planner.MealPlan{
		UserID:    "user-1",
		WeekStart: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		Days:      map[string]map[string]*int64{"Monday": {"repas1": &a, "repas2": &b}},
	})
	require.NoError(t, err)

	engine := shopping.NewEngine(recipes, recipes, repo, nil)
	svc := shopping.NewService(repo, plans, engine, opts...)

	return &testServer{
		router:    NewRouter(svc, cfg),
		repo:      repo,
		planID:    planID,
		chickenID: "item-" + strconv.FormatInt(chicken, 10),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type listResponse struct {
	ShoppingList shopping.ShoppingList `json:"shopping_list"`
}

func (s *testServer) createList(t *testing.T) shopping.ShoppingList {
	t.Helper()
	w := s.do(t, http.MethodPost, fmt.Sprintf("/v1/meal-plans/%d/shopping-list", s.planID), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ShoppingList
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestCreateShoppingList(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	path := fmt.Sprintf("/v1/meal-plans/%d/shopping-list", s.planID)

	w := s.do(t, http.MethodPost, path, gin.H{"aggregation_preferences": gin.H{"estimate_budget": false}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ShoppingList   shopping.ShoppingList   `json:"shopping_list"`
		GenerationInfo shopping.GenerationInfo `json:"generation_info"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.ShoppingList.Version)
	assert.Len(t, resp.ShoppingList.Items, 2)
	assert.Nil(t, resp.ShoppingList.EstimatedBudget)
	assert.False(t, resp.ShoppingList.AggregationRules.EstimateBudget)
	assert.Equal(t, 1, resp.GenerationInfo.Statistics.AggregationSavings)
	assert.NotEmpty(t, resp.GenerationInfo.GenerationID)

	t.Run("AlreadyExists", func(t *testing.T) {
		w := s.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("UnknownMealPlan", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/meal-plans/4242/shopping-list", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("InvalidID", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/meal-plans/abc/shopping-list", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("InvalidPreferences", func(t *testing.T) {
		w := s.do(t, http.MethodPost, path, gin.H{"aggregation_preferences": gin.H{"group_dozens": "yes"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetShoppingList(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	list := s.createList(t)

	w := s.do(t, http.MethodGet, fmt.Sprintf("/v1/shopping-lists/%d", list.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, list.ID, resp.ShoppingList.ID)

	w = s.do(t, http.MethodGet, "/v1/shopping-lists/4242", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestToggleItem(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	list := s.createList(t)
	path := fmt.Sprintf("/v1/shopping-lists/%d/items/%s/toggle", list.ID, s.chickenID)

	w := s.do(t, http.MethodPatch, path, gin.H{"checked": true, "user_id": "user-2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.ShoppingList.Version)
	assert.True(t, resp.ShoppingList.CheckedItems[s.chickenID])
	assert.False(t, resp.ShoppingList.IsCompleted)

	t.Run("UnknownItem", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, fmt.Sprintf("/v1/shopping-lists/%d/items/item-999/toggle", list.ID), gin.H{"checked": true})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("UnknownList", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, "/v1/shopping-lists/4242/items/item-1/toggle", gin.H{"checked": true})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("MissingChecked", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, path, gin.H{"user_id": "user-2"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, path, gin.H{"checked": false, "expected_version": 1})
		require.Equal(t, http.StatusConflict, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(2), body["current_version"])
	})

	t.Run("HistoryRecordsActor", func(t *testing.T) {
		entries, _, err := s.repo.History(context.Background(), list.ID, 1, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "user-2", entries[0].UserID)
		assert.Equal(t, shopping.ActionItemChecked, entries[0].Action)
	})
}

func TestBulkToggle(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	list := s.createList(t)
	path := fmt.Sprintf("/v1/shopping-lists/%d/bulk-toggle", list.ID)

	t.Run("EmptyItems", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, path, gin.H{"items": []any{}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("MissingItemID", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, path, gin.H{"items": []gin.H{{"checked": true}}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("SkipsUnknownItems", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, path, gin.H{"items": []gin.H{
			{"item_id": s.chickenID, "checked": true},
			{"item_id": "item-999", "checked": true},
		}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, float64(1), body["updated_items"])
		assert.Equal(t, float64(2), body["total_items"])
	})
}

func TestRegenerate(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	list := s.createList(t)

	w := s.do(t, http.MethodPatch, fmt.Sprintf("/v1/shopping-lists/%d/items/%s/toggle", list.ID, s.chickenID), gin.H{"checked": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/v1/shopping-lists/%d/regenerate", list.ID), gin.H{"preserve_checked_items": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success      bool                     `json:"success"`
		Statistics   shopping.GenerationStats `json:"statistics"`
		Preserved    int                      `json:"preserved_items"`
		ShoppingList shopping.ShoppingList    `json:"shopping_list"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Statistics.TotalItems)
	assert.Equal(t, 1, resp.Preserved)
	assert.Equal(t, int64(3), resp.ShoppingList.Version)
	assert.True(t, resp.ShoppingList.CheckedItems[s.chickenID])

	t.Run("WithoutBody", func(t *testing.T) {
		w := s.do(t, http.MethodPost, fmt.Sprintf("/v1/shopping-lists/%d/regenerate", list.ID), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		// Reset the decode target: json.Unmarshal merges into an existing map.
		resp.ShoppingList = shopping.ShoppingList{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Zero(t, resp.Preserved)
		assert.Empty(t, resp.ShoppingList.CheckedItems)
	})
}

func TestStatisticsAndExport(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	list := s.createList(t)

	w := s.do(t, http.MethodGet, fmt.Sprintf("/v1/shopping-lists/%d/statistics", list.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats shopping.ListStatistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Overview.TotalItems)
	assert.Equal(t, 10.0, stats.Overview.EstimatedShoppingTimeMinutes)

	exportPath := fmt.Sprintf("/v1/shopping-lists/%d/export-data", list.ID)

	t.Run("Text", func(t *testing.T) {
		w := s.do(t, http.MethodPost, exportPath, gin.H{"format": "text", "include_checked_items": true})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Contains(t, body["export_data"], "Blanc de poulet")
		info := body["download_info"].(map[string]any)
		assert.Equal(t, "text/plain", info["mime_type"])
	})

	t.Run("JSONByDefault", func(t *testing.T) {
		w := s.do(t, http.MethodPost, exportPath, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		info := body["download_info"].(map[string]any)
		assert.Equal(t, "application/json", info["mime_type"])
		assert.IsType(t, map[string]any{}, body["export_data"])
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		w := s.do(t, http.MethodPost, exportPath, gin.H{"format": "pdf"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHistory(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	list := s.createList(t)
	for _, checked := range []bool{true, false, true} {
		w := s.do(t, http.MethodPatch, fmt.Sprintf("/v1/shopping-lists/%d/items/%s/toggle", list.ID, s.chickenID), gin.H{"checked": checked})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(t, http.MethodGet, fmt.Sprintf("/v1/shopping-lists/%d/history?page=2&per_page=2", list.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page shopping.HistoryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, shopping.Pagination{Page: 2, PerPage: 2, Total: 3, Pages: 2}, page.Pagination)
	require.Len(t, page.History, 1)
	assert.Equal(t, shopping.ActionItemChecked, page.History[0].Action)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/v1/shopping-lists/%d/history?page=abc", list.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCategories(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	user := "user-1"
	require.NoError(t, s.repo.SaveCategory(context.Background(), shopping.StoreCategory{
		Name: "bio", DisplayName: "Bio", SortOrder: 15, IsActive: true, UserID: &user,
	}))

	names := func(w *httptest.ResponseRecorder) []string {
		var resp struct {
			Categories []shopping.StoreCategory `json:"categories"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		out := make([]string, 0, len(resp.Categories))
		for _, c := range resp.Categories {
			out = append(out, c.Name)
		}
		return out
	}

	w := s.do(t, http.MethodGet, "/v1/shopping-lists/categories?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, names(w), "bio")

	w = s.do(t, http.MethodGet, "/v1/shopping-lists/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := names(w)
	assert.NotContains(t, got, "bio")
	assert.Equal(t, "produce", got[0])
}

func TestShareTelegram(t *testing.T) {
	t.Run("RouteAbsentWithoutSharer", func(t *testing.T) {
		s := newTestServer(t, RouterConfig{})
		list := s.createList(t)
		w := s.do(t, http.MethodPost, fmt.Sprintf("/v1/shopping-lists/%d/share/telegram", list.ID), gin.H{"chat_id": 42})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Shares", func(t *testing.T) {
		sharer := &fakeSharer{}
		s := newTestServer(t, RouterConfig{}, shopping.WithSharer(sharer))
		list := s.createList(t)

		w := s.do(t, http.MethodPost, fmt.Sprintf("/v1/shopping-lists/%d/share/telegram", list.ID), gin.H{"chat_id": 42})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, []int64{42}, sharer.chats)

		w = s.do(t, http.MethodPost, fmt.Sprintf("/v1/shopping-lists/%d/share/telegram", list.ID), gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, RouterConfig{JWTSecret: testSecret})
	list := s.createList(t)
	path := fmt.Sprintf("/v1/shopping-lists/%d/items/%s/toggle", list.ID, s.chickenID)

	sign := func(t *testing.T, secret, subject string) string {
		t.Helper()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return signed
	}

	t.Run("InvalidToken", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, path, gin.H{"checked": true}, "Authorization", "Bearer "+sign(t, "other-secret", "user-9"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("SubjectBecomesActor", func(t *testing.T) {
		w := s.do(t, http.MethodPatch, path, gin.H{"checked": true}, "Authorization", "Bearer "+sign(t, testSecret, "user-9"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		entries, _, err := s.repo.History(context.Background(), list.ID, 1, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "user-9", entries[0].UserID)
	})

	t.Run("AnonymousAllowed", func(t *testing.T) {
		w := s.do(t, http.MethodGet, fmt.Sprintf("/v1/shopping-lists/%d", list.ID), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"Valid", "Bearer abc123", "abc123"},
		{"Lowercase", "bearer abc123", "abc123"},
		{"Missing", "", ""},
		{"Basic", "Basic abc123", ""},
		{"NoToken", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestServer(t, RouterConfig{Gatherer: reg}, shopping.WithMetrics(metrics.NewMetrics(reg)))
	list := s.createList(t)

	w := s.do(t, http.MethodPatch, fmt.Sprintf("/v1/shopping-lists/%d/items/%s/toggle", list.ID, s.chickenID), gin.H{"checked": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/health", nil, requestIDHeader, "req-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(requestIDHeader))
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `shopping_list_mutations_total{action="item_checked"} 1`)
}

type countingInvalidator struct {
	mu      sync.Mutex
	reasons []string
}

func (c *countingInvalidator) InvalidateMealPlan(_ context.Context, _ int64, reason string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons = append(c.reasons, reason)
	return 2, nil
}

func TestPurgeMealPlanCache(t *testing.T) {
	inv := &countingInvalidator{}
	s := newTestServer(t, RouterConfig{}, shopping.WithInvalidator(inv))

	w := s.do(t, http.MethodPost, fmt.Sprintf("/v1/meal-plans/%d/cache/purge", s.planID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 2.0, body["removed"])
	assert.Equal(t, []string{"manual_purge"}, inv.reasons)

	t.Run("UnknownMealPlan", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/meal-plans/4242/cache/purge", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("InvalidID", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/meal-plans/abc/cache/purge", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
