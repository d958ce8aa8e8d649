package parsing

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	currencyPrefix = `(?:PHP|Php|P|₱|\$)?\s*`
	amount         = `([\d,]+\.\d{2})`
	// optional "12%" between a label and its amount
	percentSkip    = `[^\d\n]*?(?:\d{1,2}(?:\.\d+)?\s*%[^\d\n]*?)?`
)

var (
	tinRe = regexp.MustCompile(`(?i)(?:VAT\s+REG\.?\s+TIN|TAX\s+ID|\bTIN)\b[^\d\n]{0,4}(\d{3}[-\s]?\d{3}[-\s]?\d{3}[-\s]?\d{3,5})`)

	totalRe         = regexp.MustCompile(`(?i)^\s*(?:GRAND\s+TOTAL|TOTAL\s+AMOUNT(?:\s+DUE)?|TOTAL\s+DUE|AMOUNT\s+DUE|TOTAL)\b[^\d\n]*?` + currencyPrefix + amount)
	subtotalRe      = regexp.MustCompile(`(?i)^\s*SUB\s*-?\s*TOTAL\b[^\d\n]*?` + currencyPrefix + amount)
	vatRe           = regexp.MustCompile(`(?i)^\s*(?:VAT\b|V\.A\.T\.?)(?:\s+AMOUNT|\s+AMT\.?)?\s*(?:\(?\s*\d{1,2}(?:\.\d+)?\s*%\s*\)?)?[:\s]*` + currencyPrefix + amount)
	serviceChargeRe = regexp.MustCompile(`(?i)^\s*(?:SERVICE\s+CHARGE|SVC\.?\s*CHG\.?|SERV\.?\s+CHG\.?)` + percentSkip + currencyPrefix + amount)
	discountRe      = regexp.MustCompile(`(?i)^\s*(?:(?:SENIOR|PWD|SC|EMPLOYEE|PROMO)\s+)?(?:DISCOUNT|DISC\b\.?|LESS\b)` + percentSkip + currencyPrefix + amount)

	branchRe  = regexp.MustCompile(`(?i)^\s*BRANCH\b[:\s-]*(.+?)\s*$`)
	birRe     = regexp.MustCompile(`(?i)(?:BIR\s+Accred(?:itation)?(?:\s+No\.?)?|PTU\s+No\.?)[:#\s]*([A-Za-z0-9][A-Za-z0-9\-]*)`)
	serialRe  = regexp.MustCompile(`(?i)(?:Serial\s+No\.?|Machine\s+No\.?|S/N)[:#\s]*([A-Za-z0-9][A-Za-z0-9\-]*)`)
	paymentRe = regexp.MustCompile(`(?i)\b(CREDIT\s+CARD|DEBIT\s+CARD|GCASH|PAYMAYA|MAYA|CASH|CARD)\b`)

	addressRe = regexp.MustCompile(`(?i)\b(?:st\.?|street|ave\.?|avenue|road|rd\.?|blvd\.?|brgy\.?|barangay|city|highway|hwy\.?|bldg\.?|floor|mall)(?:\s|,|$)`)

	// amounts with letters OCR commonly confuses for digits
	numericTokenRe = regexp.MustCompile(`[0-9OolISB][0-9OolISB,]*\.[0-9OolIS]{2}\b`)
	digitRepair    = strings.NewReplacer("O", "0", "o", "0", "l", "1", "I", "1", "S", "5", "B", "8")

	moneyInLineRe = regexp.MustCompile(`\d\.\d{2}\b`)

	// lines that carry a label rather than a purchased item
	labelLineRe = regexp.MustCompile(`(?i)^\s*(?:SUB\s*-?\s*TOTAL|GRAND\s+TOTAL|TOTAL|AMOUNT\s+DUE|VAT|V\.A\.T|VATABLE|VAT-EXEMPT|ZERO[\s-]RATED|NON-?VAT|TAX|SERVICE\s+CHARGE|SVC|DISCOUNT|DISC|LESS|CASH|CHANGE|CARD|CREDIT|DEBIT|GCASH|PAYMAYA|MAYA|TENDERED|AMOUNT\s+TENDERED|BALANCE|TIN|TIP|SENIOR|PWD|BRANCH|SERIAL|MACHINE|PTU|BIR|INVOICE|OR\s+NO|RECEIPT\s+NO|CASHIER)\b`)

	paymentNames = map[string]string{
		"CREDIT CARD": "Credit Card",
		"DEBIT CARD":  "Debit Card",
		"GCASH":       "GCash",
		"PAYMAYA":     "Maya",
		"MAYA":        "Maya",
		"CASH":        "Cash",
		"CARD":        "Card",
	}
)

// repairDigits rewrites letters inside amount-like tokens (2O5.OO -> 205.00)
func repairDigits(line string) string {
	return numericTokenRe.ReplaceAllStringFunc(line, func(tok string) string {
		intPart := tok[:strings.Index(tok, ".")]
		if !strings.ContainsAny(intPart, "0123456789") {
			return tok
		}
		return digitRepair.Replace(tok)
	})
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, repairDigits(l))
	}
	return lines
}

func findAmount(lines []string, re *regexp.Regexp) *Money {
	for _, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, ok := ParseMoney(m[1]); ok {
			return v
		}
	}
	return nil
}

func findTotal(lines []string) *Money {
	for _, line := range lines {
		if subtotalRe.MatchString(line) {
			continue
		}
		if m := totalRe.FindStringSubmatch(line); m != nil {
			if v, ok := ParseMoney(m[1]); ok {
				return v
			}
		}
	}
	return nil
}

func findString(lines []string, re *regexp.Regexp) string {
	for _, line := range lines {
		if m := re.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// findTIN returns the tax id grouped as 123-456-789-000
func findTIN(text string) string {
	m := tinRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, m[1])
	if len(digits) < 12 {
		return digits
	}
	return digits[0:3] + "-" + digits[3:6] + "-" + digits[6:9] + "-" + digits[9:]
}

func findPaymentMethod(lines []string) string {
	for _, line := range lines {
		m := paymentRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.Join(strings.Fields(strings.ToUpper(m[1])), " ")
		return paymentNames[key]
	}
	return ""
}

// findStoreName returns the first capitalized line that is not a label, date or amount
func findStoreName(lines []string) string {
	for _, line := range lines {
		if labelLineRe.MatchString(line) || moneyInLineRe.MatchString(line) {
			continue
		}
		if _, ok := NormalizeDate(line, false); ok {
			continue
		}

		var first rune
		letters := 0
		for _, r := range line {
			if unicode.IsLetter(r) {
				if letters == 0 {
					first = r
				}
				letters++
			}
		}
		if letters >= 2 && unicode.IsUpper(first) && unicode.IsLetter([]rune(line)[0]) {
			return line
		}
	}
	return ""
}

// findAddress returns the first line after the store name that looks like a street address
func findAddress(lines []string, storeName string) string {
	start := 0
	for i, line := range lines {
		if line == storeName {
			start = i + 1
			break
		}
	}
	for _, line := range lines[start:] {
		if labelLineRe.MatchString(line) || moneyInLineRe.MatchString(line) {
			continue
		}
		if addressRe.MatchString(line) {
			return line
		}
	}
	return ""
}
