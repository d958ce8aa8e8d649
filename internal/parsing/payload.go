package parsing

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// payload mirrors the JSON a vision model is asked to return. Scalars are kept
// raw so that null, absent and mistyped values all read as "not provided".
type payload struct {
	StoreInfo struct {
		Name    json.RawMessage `json:"name"`
		TIN     json.RawMessage `json:"tin"`
		Branch  json.RawMessage `json:"branch"`
		Address json.RawMessage `json:"address"`
	} `json:"store_info"`
	TransactionInfo struct {
		Date          json.RawMessage `json:"date"`
		Time          json.RawMessage `json:"time"`
		PaymentMethod json.RawMessage `json:"payment_method"`
	} `json:"transaction_info"`
	Items  []payloadItem `json:"items"`
	Totals struct {
		Subtotal      json.RawMessage `json:"subtotal"`
		VAT           json.RawMessage `json:"vat"`
		ServiceCharge json.RawMessage `json:"service_charge"`
		Discount      json.RawMessage `json:"discount"`
		Total         json.RawMessage `json:"total"`
	} `json:"totals"`
	Metadata struct {
		Currency         json.RawMessage `json:"currency"`
		VATRate          json.RawMessage `json:"vat_rate"`
		BIRAccreditation json.RawMessage `json:"bir_accreditation"`
		SerialNumber     json.RawMessage `json:"serial_number"`
	} `json:"metadata"`
}

type payloadItem struct {
	Name             json.RawMessage `json:"name"`
	Title            json.RawMessage `json:"title"`
	Quantity         json.RawMessage `json:"quantity"`
	Price            json.RawMessage `json:"price"`
	UnitPrice        json.RawMessage `json:"unit_price"`
	Subtotal         json.RawMessage `json:"subtotal"`
	Category         json.RawMessage `json:"category"`
	DeductibleAmount json.RawMessage `json:"deductible_amount"`
}

// itemHint keeps the model's own classification for an item. It is advisory.
type itemHint struct {
	category   Category
	deductible *Money
}

// decodePayload converts a model payload into a partial record. Fields the
// model did not provide are left empty or nil.
func decodePayload(raw json.RawMessage, monthFirst bool) (*Record, []itemHint, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, false
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, false
	}

	r := &Record{
		StoreInfo: StoreInfo{
			Name:    rawString(p.StoreInfo.Name),
			TIN:     rawString(p.StoreInfo.TIN),
			Branch:  rawString(p.StoreInfo.Branch),
			Address: rawString(p.StoreInfo.Address),
		},
		TransactionInfo: TransactionInfo{
			PaymentMethod: rawString(p.TransactionInfo.PaymentMethod),
		},
		Totals: Totals{
			Subtotal:      rawMoney(p.Totals.Subtotal),
			VAT:           rawMoney(p.Totals.VAT),
			ServiceCharge: rawMoney(p.Totals.ServiceCharge),
			Discount:      rawMoney(p.Totals.Discount),
			Total:         rawMoney(p.Totals.Total),
		},
		Metadata: Metadata{
			Currency:         rawString(p.Metadata.Currency),
			BIRAccreditation: rawString(p.Metadata.BIRAccreditation),
			SerialNumber:     rawString(p.Metadata.SerialNumber),
		},
	}
	if d, ok := NormalizeDate(rawString(p.TransactionInfo.Date), monthFirst); ok {
		r.TransactionInfo.Date = d
	}
	if t, ok := NormalizeTime(rawString(p.TransactionInfo.Time)); ok {
		r.TransactionInfo.Time = t
	}
	if rate, ok := rawFloat(p.Metadata.VATRate); ok && rate > 0 && rate < 100 {
		if rate >= 1 {
			rate /= 100
		}
		r.Metadata.VATRate = rate
	}

	var hints []itemHint
	for _, pi := range p.Items {
		item, hint, ok := decodeItem(pi)
		if !ok {
			continue
		}
		r.Items = append(r.Items, item)
		hints = append(hints, hint)
	}
	return r, hints, true
}

func decodeItem(pi payloadItem) (Item, itemHint, bool) {
	title := rawString(pi.Name)
	if title == "" {
		title = rawString(pi.Title)
	}
	if title == "" {
		return Item{}, itemHint{}, false
	}

	qty := rawQuantity(pi.Quantity)

	price := rawMoney(pi.Price)
	if price == nil {
		price = rawMoney(pi.UnitPrice)
	}
	subtotal := rawMoney(pi.Subtotal)
	switch {
	case price == nil && subtotal == nil:
		return Item{}, itemHint{}, false
	case subtotal == nil:
		s := price.Mul(decimalFromInt(qty))
		subtotal = &s
	case price == nil:
		p := NewMoney(subtotal.Decimal.Div(decimalFromInt(qty)))
		price = &p
	}

	hint := itemHint{deductible: rawMoney(pi.DeductibleAmount)}
	if c, ok := ParseCategory(rawString(pi.Category)); ok {
		hint.category = c
	}

	return Item{
		Title:    title,
		Quantity: qty,
		Price:    *price,
		Subtotal: *subtotal,
		Category: CategoryOther,
	}, hint, true
}

func isNull(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

func rawString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawMoney(raw json.RawMessage) *Money {
	if isNull(raw) {
		return nil
	}
	var m Money
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return &m
}

// rawQuantity accepts whole counts from 1 to MaxInt32 and defaults to 1
func rawQuantity(raw json.RawMessage) int {
	q, ok := rawFloat(raw)
	if !ok || q < 1 || q > math.MaxInt32 || q != math.Trunc(q) {
		return 1
	}
	return int(q)
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	s := rawString(raw)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
