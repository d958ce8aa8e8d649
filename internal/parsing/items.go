package parsing

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

type section int

const (
	sectionPreamble section = iota
	sectionItems
	sectionSubtotal
	sectionTax
	sectionTotal
)

var (
	itemsHeaderRe    = regexp.MustCompile(`(?i)^\s*(?:ITEMS?|PURCHASED\s+ITEMS|SALES?|ORDERS?|QTY\s+DESCRIPTION.*|DESCRIPTION.*)\s*:?\s*$`)
	subtotalHeaderRe = regexp.MustCompile(`(?i)^\s*SUB\s*-?\s*TOTAL\b`)
	taxHeaderRe      = regexp.MustCompile(`(?i)^\s*(?:VAT\b|V\.A\.T|VATABLE|TAX\b)`)
	totalHeaderRe    = regexp.MustCompile(`(?i)^\s*(?:GRAND\s+TOTAL|TOTAL|AMOUNT\s+DUE)\b`)

	itemLineRe     = regexp.MustCompile(`^((?:\d+\s*[@xX]\s*)?[A-Za-z0-9\s\-&.,'/()#]+?)\s+(?:PHP|P|₱)?\s*([\d,]+\.\d{2})(?:\s+[A-Z])?$`)
	leadingQtyRe   = regexp.MustCompile(`^(\d+)\s*[@xX]\s+(.+)$`)
	trailingQtyRe  = regexp.MustCompile(`^(.+?)\s+[xX@]\s*(\d+)$`)
	trailingQty2Re = regexp.MustCompile(`^(.+?)\s+(\d+)\s*[xX]$`)
)

// extractItems walks the lines section by section and collects
// "description amount" lines from the item section
func extractItems(lines []string) []Item {
	current := sectionItems
	for _, line := range lines {
		if itemsHeaderRe.MatchString(line) {
			current = sectionPreamble
			break
		}
	}

	var items []Item
	for _, line := range lines {
		summary := isSummaryLine(line)
		switch {
		case itemsHeaderRe.MatchString(line):
			current = sectionItems
			continue
		case summary && subtotalHeaderRe.MatchString(line):
			current = sectionSubtotal
			continue
		case summary && taxHeaderRe.MatchString(line):
			current = sectionTax
			continue
		case summary && totalHeaderRe.MatchString(line):
			current = sectionTotal
			continue
		}

		if current != sectionItems || labelLineRe.MatchString(line) {
			continue
		}
		if item, ok := parseItemLine(line); ok {
			items = append(items, item)
		}
	}
	return items
}

// isSummaryLine reports whether a line can open a summary section: it either
// carries an amount or is a bare header such as "TOTAL". "VAT REG TIN ..." is neither.
func isSummaryLine(line string) bool {
	return moneyInLineRe.MatchString(line) || len(strings.Fields(line)) <= 2
}

// parseItemLine splits "2 x Bottled Water   95.00" into title, quantity and amount
func parseItemLine(line string) (Item, bool) {
	m := itemLineRe.FindStringSubmatch(line)
	if m == nil {
		return Item{}, false
	}
	price, ok := ParseMoney(m[2])
	if !ok {
		return Item{}, false
	}

	title, qty := splitQuantity(strings.TrimSpace(m[1]))
	if !strings.ContainsFunc(title, unicode.IsLetter) {
		return Item{}, false
	}

	return Item{
		Title:    title,
		Quantity: qty,
		Price:    *price,
		Subtotal: *price,
		Category: CategoryOther,
	}, true
}

func splitQuantity(desc string) (string, int) {
	for _, re := range []*regexp.Regexp{leadingQtyRe, trailingQtyRe, trailingQty2Re} {
		m := re.FindStringSubmatch(desc)
		if m == nil {
			continue
		}
		numIdx, titleIdx := 2, 1
		if re == leadingQtyRe {
			numIdx, titleIdx = 1, 2
		}
		qty, err := strconv.Atoi(m[numIdx])
		if err != nil || qty < 1 {
			continue
		}
		return strings.Join(strings.Fields(m[titleIdx]), " "), qty
	}
	return strings.Join(strings.Fields(desc), " "), 1
}
