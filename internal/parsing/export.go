package parsing

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// ToJSON renders the record as indented JSON
func ToJSON(r *Record) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	return data, nil
}

var csvHeader = []string{"type", "title", "quantity", "price", "subtotal", "category", "deductible_amount"}

// ToCSV renders one row per item followed by one row per detected total
func ToCSV(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{csvHeader}
	for _, item := range r.Items {
		rows = append(rows, []string{
			"item",
			item.Title,
			strconv.Itoa(item.Quantity),
			item.Price.String(),
			item.Subtotal.String(),
			string(item.Category),
			item.DeductibleAmount.String(),
		})
	}

	totals := []struct {
		name  string
		value *Money
	}{
		{"subtotal", r.Totals.Subtotal},
		{"vat", r.Totals.VAT},
		{"service_charge", r.Totals.ServiceCharge},
		{"discount", r.Totals.Discount},
		{"total", r.Totals.Total},
	}
	for _, t := range totals {
		if t.value == nil {
			continue
		}
		rows = append(rows, []string{"total", t.name, "", "", t.value.String(), "", ""})
	}
	rows = append(rows, []string{
		"deductible", "", "", "", "", string(r.Metadata.TransactionCategory), r.Metadata.DeductibleAmount.String(),
	})

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("writing csv: %w", err)
	}
	return buf.Bytes(), nil
}
