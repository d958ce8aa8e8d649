package extraction

import (
	"encoding/json"
	"strings"
	"unicode"
)

// DefaultConfidenceFloor is the local OCR confidence below which the vision
// model is consulted
const DefaultConfidenceFloor = 0.6

var domainKeywords = []string{"TIN", "VAT", "TOTAL", "₱", "PHP", "$"}

// NeedsVision decides whether the vision strategy should run after local OCR
func NeedsVision(local *Result, allowMulti bool, floor float64) bool {
	if allowMulti {
		return true
	}
	if local == nil || !local.Success || strings.TrimSpace(local.RawText) == "" {
		return true
	}
	if local.Confidence != nil && *local.Confidence < floor {
		return true
	}
	return false
}

// PickBest reconciles the two strategies. A successful vision result wins when
// its JSON payload carries items or totals, or when its text has more
// structured lines than local OCR and mentions at least one receipt keyword.
// Otherwise a usable local result is kept.
func PickBest(local, vision *Result) *Result {
	switch {
	case vision == nil || !vision.Usable():
		if local != nil {
			return local
		}
		return vision
	case local == nil || !local.Usable():
		return vision
	}

	if HasReceiptPayload(vision.Structured) {
		return vision
	}
	if StructuredLines(vision.RawText) > StructuredLines(local.RawText) && hasDomainKeyword(vision.RawText) {
		return vision
	}
	return local
}

// StructuredLines counts non-blank lines holding both a letter and a digit
func StructuredLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.IndexFunc(line, unicode.IsLetter) >= 0 && strings.IndexFunc(line, unicode.IsDigit) >= 0 {
			n++
		}
	}
	return n
}

func hasDomainKeyword(text string) bool {
	upper := strings.ToUpper(text)
	for _, kw := range domainKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// HasReceiptPayload reports whether a model payload holds at least one item
// or one non-null total
func HasReceiptPayload(structured json.RawMessage) bool {
	if len(structured) == 0 {
		return false
	}
	var p struct {
		Items  []json.RawMessage          `json:"items"`
		Totals map[string]json.RawMessage `json:"totals"`
	}
	if err := json.Unmarshal(structured, &p); err != nil {
		return false
	}
	if len(p.Items) > 0 {
		return true
	}
	for _, v := range p.Totals {
		if s := strings.TrimSpace(string(v)); s != "" && s != "null" {
			return true
		}
	}
	return false
}
