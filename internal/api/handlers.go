package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"diet-planner/internal/shopping"

	"github.com/gin-gonic/gin"
)

type createListRequest struct {
	AggregationPreferences json.RawMessage `json:"aggregation_preferences"`
}

type toggleRequest struct {
	Checked         *bool  `json:"checked" binding:"required"`
	UserID          string `json:"user_id"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type bulkToggleRequest struct {
	Items           []shopping.ItemToggle `json:"items" binding:"required,min=1,dive"`
	UserID          string                `json:"user_id"`
	ExpectedVersion *int64                `json:"expected_version"`
}

type regenerateRequest struct {
	PreserveCheckedItems   bool            `json:"preserve_checked_items"`
	AggregationPreferences json.RawMessage `json:"aggregation_preferences"`
	UserID                 string          `json:"user_id"`
}

type exportRequest struct {
	shopping.ExportRequest
	UserID string `json:"user_id"`
}

type historyQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1"`
	PerPage int `form:"per_page" binding:"omitempty,min=1"`
}

type shareRequest struct {
	ChatID int64  `json:"chat_id" binding:"required"`
	UserID string `json:"user_id"`
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// bindOptionalJSON binds a body that may be absent altogether.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func parsePreferences(c *gin.Context, raw json.RawMessage) (shopping.Preferences, bool) {
	prefs, err := shopping.ParsePreferences(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid aggregation_preferences: " + err.Error()})
		return prefs, false
	}
	return prefs, true
}

// CreateShoppingList handles POST /v1/meal-plans/:id/shopping-list.
func CreateShoppingList(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		mealPlanID, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req createListRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			writeBindError(c, err)
			return
		}
		prefs, ok := parsePreferences(c, req.AggregationPreferences)
		if !ok {
			return
		}

		list, info, err := svc.CreateFromMealPlan(c.Request.Context(), mealPlanID, prefs)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"shopping_list": list, "generation_info": info})
	}
}

// PurgeMealPlanCache handles POST /v1/meal-plans/:id/cache/purge.
func PurgeMealPlanCache(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		mealPlanID, ok := pathID(c, "id")
		if !ok {
			return
		}
		n, err := svc.PurgeCache(c.Request.Context(), mealPlanID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"meal_plan_id": mealPlanID, "removed": n})
	}
}

// GetShoppingList handles GET /v1/shopping-lists/:id.
func GetShoppingList(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		list, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"shopping_list": list})
	}
}

// ToggleItem handles PATCH /v1/shopping-lists/:id/items/:itemId/toggle.
func ToggleItem(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}

		list, err := svc.ToggleItem(c.Request.Context(), shopping.ToggleRequest{
			ListID:          id,
			ItemID:          c.Param("itemId"),
			Checked:         *req.Checked,
			ActorID:         actorID(c, req.UserID),
			ExpectedVersion: req.ExpectedVersion,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"shopping_list": list})
	}
}

// BulkToggle handles PATCH /v1/shopping-lists/:id/bulk-toggle.
func BulkToggle(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req bulkToggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}

		res, list, err := svc.BulkToggle(c.Request.Context(), shopping.BulkToggleRequest{
			ListID:          id,
			Items:           req.Items,
			ActorID:         actorID(c, req.UserID),
			ExpectedVersion: req.ExpectedVersion,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"updated_items": res.Updated,
			"total_items":   res.Requested,
			"shopping_list": list,
		})
	}
}

// Regenerate handles POST /v1/shopping-lists/:id/regenerate.
func Regenerate(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req regenerateRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			writeBindError(c, err)
			return
		}

		var prefs *shopping.Preferences
		if len(req.AggregationPreferences) > 0 {
			p, ok := parsePreferences(c, req.AggregationPreferences)
			if !ok {
				return
			}
			prefs = &p
		}

		res, err := svc.Regenerate(c.Request.Context(), shopping.RegenerateRequest{
			ListID:          id,
			PreserveChecked: req.PreserveCheckedItems,
			ActorID:         actorID(c, req.UserID),
			Preferences:     prefs,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"statistics":      res.Generation.Statistics,
			"preserved_items": res.Preserved,
			"shopping_list":   res.List,
		})
	}
}

// Statistics handles GET /v1/shopping-lists/:id/statistics.
func Statistics(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		stats, err := svc.Statistics(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// ExportData handles POST /v1/shopping-lists/:id/export-data.
func ExportData(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req exportRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			writeBindError(c, err)
			return
		}

		res, err := svc.Export(c.Request.Context(), id, req.ExportRequest, actorID(c, req.UserID))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// History handles GET /v1/shopping-lists/:id/history.
func History(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var q historyQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeBindError(c, err)
			return
		}

		page, err := svc.History(c.Request.Context(), id, q.Page, q.PerPage)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// Categories handles GET /v1/shopping-lists/categories.
func Categories(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			userID = c.GetString(actorKey)
		}
		categories, err := svc.Categories(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"categories": categories})
	}
}

// ShareTelegram handles POST /v1/shopping-lists/:id/share/telegram.
func ShareTelegram(svc *shopping.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req shareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		if err := svc.Share(c.Request.Context(), id, req.ChatID, actorID(c, req.UserID)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
