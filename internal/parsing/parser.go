package parsing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultCurrency = "PHP"
	DefaultVATRate  = 0.12
)

var (
	consistencyTolerance = decimal.RequireFromString("0.01")
	branchWordRe         = regexp.MustCompile(`(?i)\bBRANCH\b`)
)

// Config tunes locale-dependent parsing
type Config struct {
	// MonthFirst reads ambiguous numeric dates as month/day
	MonthFirst bool
	// Currency defaults to PHP
	Currency string
	// VATRate defaults to 0.12
	VATRate float64
}

// Parser turns extracted receipt text into a Record
type Parser struct {
	policy Policy
	cfg    Config
}

// NewParser creates a Parser. A nil policy uses the business table.
func NewParser(policy Policy, cfg Config) *Parser {
	if policy == nil {
		policy = NewTablePolicy(PurposeBusiness)
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.VATRate == 0 {
		cfg.VATRate = DefaultVATRate
	}
	return &Parser{policy: policy, cfg: cfg}
}

// Parse builds a record from raw text and an optional model-structured JSON
// payload. Model values win field by field; missing ones come from the text
// patterns. Parse never fails: undetected fields are left empty.
func (p *Parser) Parse(text string, structured json.RawMessage) *Record {
	record := p.parseText(text)

	model, hints, ok := decodePayload(structured, p.cfg.MonthFirst)
	if ok {
		if len(model.Items) == 0 {
			hints = nil
		}
		record = merge(model, record)
	}

	p.finish(record, hints)
	return record
}

func (p *Parser) parseText(text string) *Record {
	lines := splitLines(text)
	joined := strings.Join(lines, "\n")
	name := findStoreName(lines)

	r := &Record{
		StoreInfo: StoreInfo{
			Name:    name,
			TIN:     findTIN(joined),
			Branch:  findBranch(lines),
			Address: findAddress(lines, name),
		},
		TransactionInfo: TransactionInfo{
			PaymentMethod: findPaymentMethod(lines),
		},
		Items: extractItems(lines),
		Totals: Totals{
			Subtotal:      findAmount(lines, subtotalRe),
			VAT:           findAmount(lines, vatRe),
			ServiceCharge: findAmount(lines, serviceChargeRe),
			Discount:      findAmount(lines, discountRe),
			Total:         findTotal(lines),
		},
		Metadata: Metadata{
			BIRAccreditation: findString(lines, birRe),
			SerialNumber:     findString(lines, serialRe),
		},
	}
	if d, ok := NormalizeDate(joined, p.cfg.MonthFirst); ok {
		r.TransactionInfo.Date = d
	}
	if t, ok := NormalizeTime(joined); ok {
		r.TransactionInfo.Time = t
	}
	return r
}

func findBranch(lines []string) string {
	if b := findString(lines, branchRe); b != "" {
		return b
	}
	for _, line := range lines {
		if branchWordRe.MatchString(line) && !moneyInLineRe.MatchString(line) {
			return line
		}
	}
	return ""
}

func (p *Parser) finish(r *Record, hints []itemHint) {
	if r.Metadata.Currency == "" {
		r.Metadata.Currency = p.cfg.Currency
	}
	if r.Metadata.VATRate == 0 {
		r.Metadata.VATRate = p.cfg.VATRate
	}
	if r.Items == nil {
		r.Items = []Item{}
	}

	p.reconcileTotals(r)
	p.classify(r, hints)
}

// reconcileTotals derives subtotal = total - vat when no subtotal was
// extracted, and records a warning when an extracted subtotal disagrees
func (p *Parser) reconcileTotals(r *Record) {
	t := &r.Totals
	if t.Total == nil || t.VAT == nil {
		return
	}
	expected := t.Total.Sub(*t.VAT)

	if t.Subtotal == nil {
		t.Subtotal = &expected
		return
	}
	if !t.Subtotal.Within(expected, consistencyTolerance) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"subtotal %s does not match total %s minus vat %s (%s); keeping extracted subtotal",
			t.Subtotal, t.Total, t.VAT, expected))
	}
}

func (p *Parser) classify(r *Record, hints []itemHint) {
	storeCategory := p.policy.Categorize(r.StoreInfo.Name, CategoryOther)

	deductible := NewMoney(decimal.Zero)
	spend := map[Category]decimal.Decimal{}
	var order []Category

	for i := range r.Items {
		item := &r.Items[i]
		var hint itemHint
		if i < len(hints) {
			hint = hints[i]
		}

		category := p.policy.Categorize(item.Title, CategoryOther)
		if category == CategoryOther && hint.category != "" {
			category = hint.category
		}
		if category == CategoryOther {
			category = storeCategory
		}

		item.Category = category
		item.DeductibleAmount = item.Subtotal.Mul(p.policy.Fraction(category))
		item.IsDeductible = item.DeductibleAmount.IsPositive()
		deductible = deductible.Add(item.DeductibleAmount)

		if hint.deductible != nil && !hint.deductible.Equal(item.DeductibleAmount) {
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"model deductible amount %s for %q replaced by policy amount %s",
				hint.deductible, item.Title, item.DeductibleAmount))
		}

		if _, seen := spend[category]; !seen {
			order = append(order, category)
		}
		spend[category] = spend[category].Add(item.Subtotal.Decimal)
	}

	transactionCategory := storeCategory
	if len(order) > 0 {
		transactionCategory = order[0]
		for _, c := range order[1:] {
			if spend[c].GreaterThan(spend[transactionCategory]) {
				transactionCategory = c
			}
		}
	} else if base := firstMoney(r.Totals.Subtotal, r.Totals.Total); base != nil {
		deductible = base.Mul(p.policy.Fraction(transactionCategory))
	}

	r.Metadata.TransactionCategory = transactionCategory
	r.Metadata.DeductibleAmount = deductible
	r.Metadata.IsDeductible = deductible.IsPositive()
}
