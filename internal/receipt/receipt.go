package receipt

import (
	"time"

	"github.com/zombor/receipt-ocr/internal/parsing"
)

// Receipt is a parsed receipt as persisted after processing
type Receipt struct {
	ID               string           `json:"id"`
	Owner            string           `json:"owner,omitempty"`
	VendorID         string           `json:"vendor_id,omitempty"`
	Date             string           `json:"date,omitempty"`
	Time             string           `json:"time,omitempty"`
	PaymentMethod    string           `json:"payment_method,omitempty"`
	Items            []parsing.Item   `json:"items"`
	Totals           parsing.Totals   `json:"totals"`
	Currency         string           `json:"currency"`
	Category         parsing.Category `json:"category,omitempty"`
	IsDeductible     bool             `json:"is_deductible"`
	DeductibleAmount parsing.Money    `json:"deductible_amount"`
	BIRAccreditation string           `json:"bir_accreditation,omitempty"`
	SerialNumber     string           `json:"serial_number,omitempty"`
	ImagePath        string           `json:"image_path,omitempty"` // storage key of the original image
	ImageURL         string           `json:"image_url,omitempty"`
	Filename         string           `json:"filename,omitempty"`
	ContentType      string           `json:"content_type,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Vendor is a store that issued one or more receipts
type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TIN       string    `json:"tin,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newReceipt copies the persisted fields out of a parsed record
func newReceipt(id string, rec *parsing.Record, now time.Time) *Receipt {
	items := make([]parsing.Item, len(rec.Items))
	copy(items, rec.Items)

	return &Receipt{
		ID:               id,
		Date:             rec.TransactionInfo.Date,
		Time:             rec.TransactionInfo.Time,
		PaymentMethod:    rec.TransactionInfo.PaymentMethod,
		Items:            items,
		Totals:           rec.Totals,
		Currency:         rec.Metadata.Currency,
		Category:         rec.Metadata.TransactionCategory,
		IsDeductible:     rec.Metadata.IsDeductible,
		DeductibleAmount: rec.Metadata.DeductibleAmount,
		BIRAccreditation: rec.Metadata.BIRAccreditation,
		SerialNumber:     rec.Metadata.SerialNumber,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
