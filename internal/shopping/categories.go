package shopping

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultCategoriesYAML []byte

// DefaultCategories returns the built-in global store categories.
func DefaultCategories() ([]StoreCategory, error) {
	return ParseCategories(defaultCategoriesYAML)
}

// ParseCategories decodes a YAML list of store categories.
func ParseCategories(data []byte) ([]StoreCategory, error) {
	var categories []StoreCategory
	if err := yaml.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("failed to parse store categories: %w", err)
	}
	for i, c := range categories {
		if c.Name == "" {
			return nil, fmt.Errorf("failed to parse store categories: entry %d has no name", i)
		}
		if c.DisplayName == "" {
			categories[i].DisplayName = c.Name
		}
	}
	return categories, nil
}

// mergeCategories overlays user categories on global ones by name and sorts
// the result by sort order, then name.
func mergeCategories(global, user []StoreCategory) []StoreCategory {
	byName := make(map[string]StoreCategory, len(global)+len(user))
	for _, c := range global {
		byName[c.Name] = c
	}
	for _, c := range user {
		byName[c.Name] = c
	}

	merged := make([]StoreCategory, 0, len(byName))
	for _, c := range byName {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].SortOrder != merged[j].SortOrder {
			return merged[i].SortOrder < merged[j].SortOrder
		}
		return merged[i].Name < merged[j].Name
	})
	return merged
}
