package acceptance_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"diet-planner/internal/app"
	"diet-planner/internal/config"
	"diet-planner/internal/shopping"

	"github.com/gin-gonic/gin"
)

const weekFixtures = `
ingredients:
  - key: chicken
    name: Blanc de poulet
    category: protein
    unit: g
    unit_price: 0.012
  - key: eggs
    name: Oeufs
    category: dairy
    unit: unit
recipes:
  - key: roast
    name: Poulet rôti
    ingredients:
      - {ingredient: chicken, quantity: 600, unit: g}
      - {ingredient: eggs, quantity: 6, unit: unit}
  - key: omelette
    name: Omelette
    ingredients:
      - {ingredient: chicken, quantity: 400, unit: g}
      - {ingredient: eggs, quantity: 6, unit: unit}
meal_plans:
  - user_id: user-1
    week_start: "2026-10-12"
    days:
      Monday: {repas1: roast}
      Thursday: {repas2: omelette}
`

func init() {
	gin.SetMode(gin.TestMode)
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// 1. Boot the application on a fresh database
	cfg := &config.Config{
		DatabasePath: filepath.Join(dir, "diet.db"),
		Port:         "0",
		CacheBackend: config.CacheBackendBadger,
		CachePath:    filepath.Join(dir, "cache"),
		CacheTTL:     time.Hour,
	}
	application, err := app.New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to start app: %v", err)
	}
	defer application.Close()

	fixturesPath := filepath.Join(dir, "week.yaml")
	if err := os.WriteFile(fixturesPath, []byte(weekFixtures), 0o644); err != nil {
		t.Fatalf("Failed to write fixtures: %v", err)
	}
	fx, err := app.LoadFixtures(fixturesPath)
	if err != nil {
		t.Fatalf("Failed to load fixtures: %v", err)
	}
	report, err := application.IngestFixtures(ctx, fx)
	if err != nil {
		t.Fatalf("Ingestion failed: %v", err)
	}
	if len(report.MealPlans) != 1 || report.Failed != 0 {
		t.Fatalf("Unexpected ingestion report: %+v", report)
	}
	planID := report.MealPlans[0]
	router := application.Router()

	// 2. Create the list
	t.Log("--- Step 1: Creating the shopping list ---")
	w := call(t, router, http.MethodPost, fmt.Sprintf("/v1/meal-plans/%d/shopping-list", planID), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create returned %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ShoppingList shopping.ShoppingList `json:"shopping_list"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	list := created.ShoppingList
	if len(list.Items) != 2 {
		t.Fatalf("Expected 2 aggregated items, got %d", len(list.Items))
	}
	byName := make(map[string]shopping.Item)
	for _, it := range list.Items {
		byName[it.Name] = it
	}
	if it := byName["Blanc de poulet"]; it.Quantity != 1 || it.Unit != "kg" {
		t.Errorf("Expected 1 kg of chicken, got %v %s", it.Quantity, it.Unit)
	}
	if it := byName["Oeufs"]; it.Quantity != 1 || it.Unit != "dozen" {
		t.Errorf("Expected 1 dozen eggs, got %v %s", it.Quantity, it.Unit)
	}
	chickenID := byName["Blanc de poulet"].ID

	// 3. Concurrent toggles against the same version
	t.Log("--- Step 2: Racing toggles ---")
	togglePath := fmt.Sprintf("/v1/shopping-lists/%d/items/%s/toggle", list.ID, chickenID)
	const workers = 6
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = call(t, router, http.MethodPatch, togglePath, gin.H{"checked": true, "expected_version": 1, "user_id": "user-1"}).Code
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			accepted++
		case http.StatusConflict:
		default:
			t.Errorf("Unexpected toggle status %d", code)
		}
	}
	if accepted != 1 {
		t.Errorf("Expected exactly one accepted toggle, got %d", accepted)
	}

	// 4. Regenerate, keeping the checked chicken
	t.Log("--- Step 3: Regenerating ---")
	w = call(t, router, http.MethodPost, fmt.Sprintf("/v1/shopping-lists/%d/regenerate", list.ID), gin.H{"preserve_checked_items": true, "user_id": "user-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Regenerate returned %d: %s", w.Code, w.Body.String())
	}
	var regenerated struct {
		PreservedItems int                   `json:"preserved_items"`
		ShoppingList   shopping.ShoppingList `json:"shopping_list"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &regenerated); err != nil {
		t.Fatalf("Failed to decode regenerate response: %v", err)
	}
	if regenerated.PreservedItems != 1 {
		t.Errorf("Expected 1 preserved item, got %d", regenerated.PreservedItems)
	}
	if regenerated.ShoppingList.Version != 3 {
		t.Errorf("Expected version 3, got %d", regenerated.ShoppingList.Version)
	}
	if !regenerated.ShoppingList.CheckedItems[chickenID] {
		t.Error("Chicken should still be checked")
	}

	// 5. Export and history
	t.Log("--- Step 4: Exporting ---")
	w = call(t, router, http.MethodPost, fmt.Sprintf("/v1/shopping-lists/%d/export-data", list.ID), gin.H{"format": "text", "include_checked_items": true})
	if w.Code != http.StatusOK {
		t.Fatalf("Export returned %d: %s", w.Code, w.Body.String())
	}
	var exported struct {
		ExportData string `json:"export_data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &exported); err != nil {
		t.Fatalf("Failed to decode export: %v", err)
	}
	if !strings.Contains(exported.ExportData, "[x] Blanc de poulet - 1 kg") {
		t.Errorf("Export is missing the checked chicken:\n%s", exported.ExportData)
	}

	w = call(t, router, http.MethodGet, fmt.Sprintf("/v1/shopping-lists/%d/history", list.ID), nil)
	var history shopping.HistoryPage
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(history.History) != 3 {
		t.Fatalf("Expected toggle, regenerate and export entries, got %d", len(history.History))
	}
	if history.History[0].Action != shopping.ActionExported {
		t.Errorf("Newest entry should be the export, got %s", history.History[0].Action)
	}

	// 6. Regeneration replaced the cached generation
	w = call(t, router, http.MethodGet, "/metrics", nil)
	if !strings.Contains(w.Body.String(), `shopping_cache_invalidated_keys_total{reason="regenerate"}`) {
		t.Error("Expected regenerate invalidations in metrics")
	}
}
