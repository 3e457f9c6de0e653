package pipeline

import (
	"strings"
)

// Category is one of the fixed spending categories.
type Category string

const (
	CategoryFood           Category = "Food"
	CategoryTravel         Category = "Travel"
	CategoryShopping       Category = "Shopping"
	CategoryHealthcare     Category = "Healthcare"
	CategoryEducation      Category = "Education"
	CategoryEntertainment  Category = "Entertainment"
	CategoryUtilities      Category = "Utilities"
	CategoryHousing        Category = "Housing"
	CategoryTransportation Category = "Transportation"
	CategoryOthers         Category = "Others"
)

// Categories lists every category in display order. Others is the catch-all.
var Categories = []Category{
	CategoryFood,
	CategoryTravel,
	CategoryShopping,
	CategoryHealthcare,
	CategoryEducation,
	CategoryEntertainment,
	CategoryUtilities,
	CategoryHousing,
	CategoryTransportation,
	CategoryOthers,
}

var categoryIndex = buildCategoryIndex()

func buildCategoryIndex() map[string]Category {
	idx := make(map[string]Category, len(Categories))
	for _, c := range Categories {
		idx[normalizeCategory(string(c))] = c
	}
	return idx
}

// CanonicalCategory matches name case-insensitively against the category
// set and returns its canonical spelling, or Others when nothing matches.
func CanonicalCategory(name string) Category {
	if c, ok := categoryIndex[normalizeCategory(name)]; ok {
		return c
	}
	return CategoryOthers
}

// IsKnownCategory reports whether name matches a category exactly after
// case folding.
func IsKnownCategory(name string) bool {
	_, ok := categoryIndex[normalizeCategory(name)]
	return ok
}

// normalizeCategory normalizes a category name for comparison.
// Converts to uppercase and trims whitespace for case-insensitive comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// IsPlaceholder reports whether every display field of t carries its
// default value, meaning nothing useful was read from the document.
func IsPlaceholder(t ValidatedTransaction) bool {
	titleDefault := t.Title == PlaceholderReceiptTitle || t.Title == PlaceholderTransactionTitle
	return titleDefault &&
		t.Amount == 0 &&
		t.Category == CategoryOthers &&
		t.Vendor == "" &&
		len(t.Items) == 0 &&
		strings.TrimSpace(t.Description) == ""
}
