package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// StoredReceipt is a persisted receipt with its vendor resolved
type StoredReceipt struct {
	*Receipt
	Vendor *Vendor `json:"vendor,omitempty"`
}

// Records reads and removes receipts written by the Pipeline
type Records struct {
	db      DB
	storage Storage
}

// NewRecords creates a Records over the same database and storage the
// Pipeline writes to
func NewRecords(db DB, storage Storage) *Records {
	return &Records{db: db, storage: storage}
}

// Get retrieves a receipt by ID. A missing vendor is logged, not returned.
func (r *Records) Get(id string) (*StoredReceipt, error) {
	receipt, err := r.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	stored := &StoredReceipt{Receipt: receipt}
	if receipt.VendorID != "" {
		vendor, err := r.db.GetVendor(receipt.VendorID)
		if err != nil {
			slog.Warn("Failed to load vendor", "receipt_id", id, "vendor_id", receipt.VendorID, "error", err)
		} else {
			stored.Vendor = vendor
		}
	}
	return stored, nil
}

// List returns all receipts, oldest first
func (r *Records) List() ([]*StoredReceipt, error) {
	receipts, err := r.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	vendors, err := r.db.ListVendors()
	if err != nil {
		return nil, fmt.Errorf("listing vendors: %w", err)
	}

	byID := make(map[string]*Vendor, len(vendors))
	for _, v := range vendors {
		byID[v.ID] = v
	}

	sort.Slice(receipts, func(i, j int) bool {
		if receipts[i].CreatedAt.Equal(receipts[j].CreatedAt) {
			return receipts[i].ID < receipts[j].ID
		}
		return receipts[i].CreatedAt.Before(receipts[j].CreatedAt)
	})

	stored := make([]*StoredReceipt, 0, len(receipts))
	for _, receipt := range receipts {
		stored = append(stored, &StoredReceipt{Receipt: receipt, Vendor: byID[receipt.VendorID]})
	}
	return stored, nil
}

// Delete removes a receipt and its image. A failed image delete is logged
// and the record is still removed.
func (r *Records) Delete(ctx context.Context, id string) error {
	receipt, err := r.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.ImagePath != "" {
		if err := r.storage.Delete(ctx, receipt.ImagePath); err != nil {
			slog.Warn("Failed to delete receipt image", "receipt_id", id, "key", receipt.ImagePath, "error", err)
		}
	}

	if err := r.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// Image returns the stored original image and its content type
func (r *Records) Image(ctx context.Context, id string) ([]byte, string, error) {
	receipt, err := r.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.ImagePath == "" {
		return nil, "", fmt.Errorf("receipt %s has no image: %w", id, ErrNotFound)
	}

	data, err := r.storage.Get(ctx, receipt.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, receipt.ContentType, nil
}
