package shopping

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ExportRequest selects the export format and content.
type ExportRequest struct {
	Format              string `json:"format"`
	IncludeMetadata     bool   `json:"include_metadata"`
	IncludeCheckedItems bool   `json:"include_checked_items"`
}

// ExportResult is the exported document and how to download it.
type ExportResult struct {
	Success      bool         `json:"success"`
	ExportData   any          `json:"export_data"`
	DownloadInfo DownloadInfo `json:"download_info"`
}

type DownloadInfo struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	SizeEstimate int    `json:"size_estimate"`
}

// Section is the items of one store category.
type Section struct {
	Category    string `json:"category"`
	DisplayName string `json:"display_name"`
	Items       []Item `json:"items"`
}

type exportMetadata struct {
	Version            int64           `json:"version"`
	EstimatedBudget    *float64        `json:"estimated_budget"`
	BudgetExtrapolated bool            `json:"budget_extrapolated"`
	IsCompleted        bool            `json:"is_completed"`
	Statistics         GenerationStats `json:"statistics"`
	LastUpdated        time.Time       `json:"last_updated"`
	ExportedAt         time.Time       `json:"exported_at"`
}

type exportDocument struct {
	ShoppingListID int64           `json:"shopping_list_id"`
	MealPlanID     int64           `json:"meal_plan_id"`
	WeekStart      string          `json:"week_start"`
	Sections       []Section       `json:"sections"`
	Metadata       *exportMetadata `json:"metadata,omitempty"`
}

// Export renders a list as JSON or as a text checklist grouped by aisle, and
// records an exported history entry. The list version is not changed.
func (s *Service) Export(ctx context.Context, listID int64, req ExportRequest, actorID string) (*ExportResult, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatText {
		return nil, validationErrorf("unsupported export format %q", req.Format)
	}

	list, err := s.Get(ctx, listID)
	if err != nil {
		return nil, err
	}
	categories, err := s.repo.Categories(ctx, list.UserID)
	if err != nil {
		return nil, err
	}

	doc := buildExport(list, categories, req, time.Now().UTC())
	filename := fmt.Sprintf("shopping-list-%d-%s", list.ID, doc.WeekStart)

	var result *ExportResult
	switch format {
	case FormatJSON:
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode export: %w", err)
		}
		result = &ExportResult{
			Success:      true,
			ExportData:   json.RawMessage(data),
			DownloadInfo: DownloadInfo{Filename: filename + ".json", MimeType: "application/json", SizeEstimate: len(data)},
		}
	case FormatText:
		text := renderText(doc)
		result = &ExportResult{
			Success:      true,
			ExportData:   text,
			DownloadInfo: DownloadInfo{Filename: filename + ".txt", MimeType: "text/plain", SizeEstimate: len(text)},
		}
	}

	entry := HistoryEntry{
		ShoppingListID: list.ID,
		Action:         ActionExported,
		UserID:         actorID,
		NewValue:       jsonValue(map[string]any{"format": format, "filename": result.DownloadInfo.Filename}),
		Metadata: map[string]string{
			"format":                format,
			"include_metadata":      strconv.FormatBool(req.IncludeMetadata),
			"include_checked_items": strconv.FormatBool(req.IncludeCheckedItems),
		},
	}
	if err := s.repo.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}
	s.metrics.ListMutation(string(ActionExported))
	return result, nil
}

func buildExport(list *ShoppingList, categories []StoreCategory, req ExportRequest, now time.Time) exportDocument {
	sections := GroupByCategory(list, categories, req.IncludeCheckedItems)

	doc := exportDocument{
		ShoppingListID: list.ID,
		MealPlanID:     list.MealPlanID,
		WeekStart:      list.WeekStart.Format("2006-01-02"),
		Sections:       sections,
	}
	if req.IncludeMetadata {
		doc.Metadata = &exportMetadata{
			Version:            list.Version,
			EstimatedBudget:    list.EstimatedBudget,
			BudgetExtrapolated: list.BudgetExtrapolated,
			IsCompleted:        list.IsCompleted,
			Statistics:         list.Statistics,
			LastUpdated:        list.LastUpdated,
			ExportedAt:         now,
		}
	}
	return doc
}

// GroupByCategory splits a list into sections ordered by category sort
// order, unknown categories last by name, keeping item order within a
// section. Checked items are skipped unless includeChecked is set.
func GroupByCategory(list *ShoppingList, categories []StoreCategory, includeChecked bool) []Section {
	known := make(map[string]StoreCategory, len(categories))
	for _, c := range categories {
		known[c.Name] = c
	}

	index := make(map[string]int)
	var sections []Section
	for _, it := range list.Items {
		if !includeChecked && list.CheckedItems[it.ID] {
			continue
		}
		i, ok := index[it.Category]
		if !ok {
			display := it.Category
			if c, ok := known[it.Category]; ok {
				display = c.DisplayName
			}
			sections = append(sections, Section{Category: it.Category, DisplayName: display})
			i = len(sections) - 1
			index[it.Category] = i
		}
		sections[i].Items = append(sections[i].Items, it)
	}

	sort.SliceStable(sections, func(i, j int) bool {
		ci, okI := known[sections[i].Category]
		cj, okJ := known[sections[j].Category]
		switch {
		case okI && okJ:
			if ci.SortOrder != cj.SortOrder {
				return ci.SortOrder < cj.SortOrder
			}
		case okI:
			return true
		case okJ:
			return false
		}
		return sections[i].Category < sections[j].Category
	})
	return sections
}

// FormatQuantity renders a quantity without trailing zeros.
func FormatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func renderText(doc exportDocument) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Shopping list - week of %s\n", doc.WeekStart)

	for _, sec := range doc.Sections {
		fmt.Fprintf(&sb, "\n%s\n", sec.DisplayName)
		for _, it := range sec.Items {
			box := "[ ]"
			if it.Checked {
				box = "[x]"
			}
			fmt.Fprintf(&sb, "%s %s - %s %s\n", box, it.Name, FormatQuantity(it.Quantity), it.Unit)
		}
	}

	if m := doc.Metadata; m != nil {
		sb.WriteString("\n---\n")
		fmt.Fprintf(&sb, "Version: %d\n", m.Version)
		fmt.Fprintf(&sb, "Items: %d (savings %d)\n", m.Statistics.TotalItems, m.Statistics.AggregationSavings)
		if m.EstimatedBudget != nil {
			suffix := ""
			if m.BudgetExtrapolated {
				suffix = " (extrapolated)"
			}
			fmt.Fprintf(&sb, "Estimated budget: %.2f%s\n", *m.EstimatedBudget, suffix)
		}
		fmt.Fprintf(&sb, "Exported at: %s\n", m.ExportedAt.Format(time.RFC3339))
	}
	return sb.String()
}
