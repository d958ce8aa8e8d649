package parsing

import "strings"

// Category groups receipt lines for deductibility
type Category string

const (
	CategoryFood           Category = "FOOD"
	CategoryTransportation Category = "TRANSPORTATION"
	CategoryEntertainment  Category = "ENTERTAINMENT"
	CategoryOther          Category = "OTHER"
)

// ParseCategory maps a free-form label onto a known category
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategoryFood, CategoryTransportation, CategoryEntertainment, CategoryOther:
		return c, true
	}
	return "", false
}

// StoreInfo identifies the vendor
type StoreInfo struct {
	Name    string `json:"name,omitempty"`
	TIN     string `json:"tin,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Address string `json:"address,omitempty"`
}

// TransactionInfo holds when and how the purchase was paid
type TransactionInfo struct {
	Date          string `json:"date,omitempty"` // YYYY-MM-DD
	Time          string `json:"time,omitempty"` // HH:MM:SS
	PaymentMethod string `json:"payment_method,omitempty"`
}

// Item is one purchased line.
//
// Price is the amount reported for the line entry: the printed line amount for
// text-parsed receipts, or the unit price when a model supplied one.
type Item struct {
	Title            string   `json:"title"`
	Quantity         int      `json:"quantity"`
	Price            Money    `json:"price"`
	Subtotal         Money    `json:"subtotal"`
	IsDeductible     bool     `json:"is_deductible"`
	DeductibleAmount Money    `json:"deductible_amount"`
	Category         Category `json:"category"`
}

// Totals are the summary amounts; nil means not detected
type Totals struct {
	Subtotal      *Money `json:"subtotal,omitempty"`
	VAT           *Money `json:"vat,omitempty"`
	ServiceCharge *Money `json:"service_charge,omitempty"`
	Discount      *Money `json:"discount,omitempty"`
	Total         *Money `json:"total,omitempty"`
}

// Metadata carries tax and classification details
type Metadata struct {
	Currency            string   `json:"currency"`
	VATRate             float64  `json:"vat_rate"`
	BIRAccreditation    string   `json:"bir_accreditation,omitempty"`
	SerialNumber        string   `json:"serial_number,omitempty"`
	TransactionCategory Category `json:"transaction_category,omitempty"`
	IsDeductible        bool     `json:"is_deductible"`
	DeductibleAmount    Money    `json:"deductible_amount"`
}

// Record is the canonical structured receipt
type Record struct {
	StoreInfo       StoreInfo       `json:"store_info"`
	TransactionInfo TransactionInfo `json:"transaction_info"`
	Items           []Item          `json:"items"`
	Totals          Totals          `json:"totals"`
	Metadata        Metadata        `json:"metadata"`
	Warnings        []string        `json:"warnings,omitempty"`
}
