package shopping

import "strings"

// OtherCategory is the bucket of items whose category is unknown.
const OtherCategory = "other"

// Categorizer groups items into store aisles.
type Categorizer struct {
	known map[string]bool
}

// NewCategorizer creates a Categorizer knowing the given category names.
// OtherCategory is always known.
func NewCategorizer(names []string) *Categorizer {
	known := map[string]bool{OtherCategory: true}
	for _, n := range names {
		known[normalizeCategory(n)] = true
	}
	return &Categorizer{known: known}
}

// NewCategorizerFrom creates a Categorizer from the active categories.
func NewCategorizerFrom(categories []StoreCategory) *Categorizer {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		if c.IsActive {
			names = append(names, c.Name)
		}
	}
	return NewCategorizer(names)
}

// Categorize maps category to item ids, preserving item order within each
// bucket. Items with an unknown category are moved to OtherCategory and
// their Category field is rewritten accordingly.
func (c *Categorizer) Categorize(items []AggregatedItem) map[string][]string {
	groups := make(map[string][]string)
	for i := range items {
		category := normalizeCategory(items[i].Category)
		if !c.known[category] {
			category = OtherCategory
		}
		items[i].Category = category
		groups[category] = append(groups[category], items[i].ID)
	}
	return groups
}

func normalizeCategory(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
