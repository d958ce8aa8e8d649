package parsing

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Purpose is why an expense was incurred
type Purpose string

const (
	PurposeBusiness Purpose = "business"
	PurposeEmployee Purpose = "employee"
	PurposePersonal Purpose = "personal"
)

// Policy decides how receipt lines are categorized and what share of each is deductible
type Policy interface {
	// Categorize picks a category for an item title; fallback is returned when nothing matches
	Categorize(title string, fallback Category) Category
	// Fraction is the deductible share for a category, between 0 and 1
	Fraction(c Category) decimal.Decimal
}

// DefaultRates is the deductibility table per purpose and category
var DefaultRates = map[Purpose]map[Category]decimal.Decimal{
	PurposeBusiness: {
		CategoryFood:           decimal.RequireFromString("0.5"),
		CategoryTransportation: decimal.NewFromInt(1),
		CategoryEntertainment:  decimal.RequireFromString("0.5"),
		CategoryOther:          decimal.NewFromInt(1),
	},
	PurposeEmployee: {
		CategoryFood:           decimal.NewFromInt(1),
		CategoryTransportation: decimal.NewFromInt(1),
		CategoryEntertainment:  decimal.RequireFromString("0.5"),
		CategoryOther:          decimal.NewFromInt(1),
	},
	PurposePersonal: {
		CategoryFood:           decimal.Zero,
		CategoryTransportation: decimal.Zero,
		CategoryEntertainment:  decimal.Zero,
		CategoryOther:          decimal.Zero,
	},
}

// DefaultKeywords map lower-case words found in item or store names to categories
var DefaultKeywords = map[Category][]string{
	CategoryFood: {
		"meal", "meals", "lunch", "dinner", "breakfast", "food", "rice", "chicken", "pork", "beef",
		"fish", "noodle", "noodles", "pad", "thai", "soup", "coffee", "tea", "juice", "water",
		"drink", "drinks", "soda", "coke", "burger", "pizza", "pasta", "bread", "cake", "snack",
		"fries", "beer", "restaurant", "cafe", "grill", "kitchen", "bakery", "eatery", "adobo",
		"sinigang", "lechon", "silog", "kaling",
	},
	CategoryTransportation: {
		"taxi", "grab", "fare", "fuel", "gas", "gasoline", "diesel", "toll", "parking", "bus",
		"jeep", "train", "mrt", "lrt", "flight", "airfare", "airline", "uber", "ride", "transport",
		"transportation", "shuttle", "ferry",
	},
	CategoryEntertainment: {
		"movie", "movies", "cinema", "ticket", "tickets", "karaoke", "ktv", "concert", "bar",
		"club", "bowling", "show", "theater", "theatre", "golf",
	},
}

// TablePolicy applies a fixed rate table for one purpose
type TablePolicy struct {
	Purpose  Purpose
	Rates    map[Purpose]map[Category]decimal.Decimal
	Keywords map[Category][]string
}

// NewTablePolicy returns a policy using the default tables for purpose
func NewTablePolicy(purpose Purpose) *TablePolicy {
	if _, ok := DefaultRates[purpose]; !ok {
		purpose = PurposeBusiness
	}
	return &TablePolicy{
		Purpose:  purpose,
		Rates:    DefaultRates,
		Keywords: DefaultKeywords,
	}
}

// Categorize matches whole words of title against the keyword table
func (p *TablePolicy) Categorize(title string, fallback Category) Category {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	// fixed order so overlapping keywords resolve the same way every time
	for _, c := range []Category{CategoryTransportation, CategoryEntertainment, CategoryFood} {
		for _, kw := range p.Keywords[c] {
			for _, w := range words {
				if w == kw {
					return c
				}
			}
		}
	}
	return fallback
}

// Fraction looks up the deductible share for c
func (p *TablePolicy) Fraction(c Category) decimal.Decimal {
	rates, ok := p.Rates[p.Purpose]
	if !ok {
		return decimal.Zero
	}
	if f, ok := rates[c]; ok {
		return f
	}
	return rates[CategoryOther]
}
