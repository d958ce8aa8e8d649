package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/receipt-ocr/internal/metrics"
	"github.com/zombor/receipt-ocr/internal/parsing"
)

// Job is one processed receipt awaiting its side effects
type Job struct {
	ReceiptID   string          `json:"receipt_id"`
	Owner       string          `json:"owner,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	ContentType string          `json:"content_type"`
	Image       []byte          `json:"image"`
	Record      *parsing.Record `json:"record"`
}

// JobRunner performs the side effects of a Job
type JobRunner interface {
	Run(ctx context.Context, job Job) error
}

// Pipeline uploads the original image, then records the vendor and the
// receipt. The receipt is only written once the upload has succeeded.
type Pipeline struct {
	db          DB
	storage     Storage
	metrics     *metrics.Metrics
	idGenerator IDGenerator
	timeSource  TimeSource

	// serializes vendor find-or-create
	vendorMu sync.Mutex
}

// NewPipeline creates a new Pipeline with default ID generator and time source
func NewPipeline(db DB, storage Storage, m *metrics.Metrics) *Pipeline {
	return NewPipelineWithDeps(db, storage, m, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewPipelineWithDeps creates a new Pipeline with custom dependencies for testing
func NewPipelineWithDeps(db DB, storage Storage, m *metrics.Metrics, idGen IDGenerator, timeSrc TimeSource) *Pipeline {
	return &Pipeline{
		db:          db,
		storage:     storage,
		metrics:     m,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Run executes the side effects for job
func (p *Pipeline) Run(ctx context.Context, job Job) error {
	if job.Record == nil {
		return fmt.Errorf("receipt %s has no record", job.ReceiptID)
	}

	key := fmt.Sprintf("%s_%s", job.ReceiptID, sanitizeFilename(defaultFilename(job.Filename, job.ContentType)))
	savedKey, err := p.storage.Save(ctx, key, job.Image, job.ContentType)
	p.metrics.ObserveSideEffect("upload", err)
	if err != nil {
		slog.Error("Failed to upload receipt image",
			"receipt_id", job.ReceiptID,
			"file_size", len(job.Image),
			"error", err,
		)
		return fmt.Errorf("uploading image: %w", err)
	}

	vendorID, err := p.vendorFor(job.Record.StoreInfo)
	p.metrics.ObserveSideEffect("vendor", err)
	if err != nil {
		// The receipt is still worth keeping without its vendor link
		slog.Error("Failed to record vendor", "receipt_id", job.ReceiptID, "vendor", job.Record.StoreInfo.Name, "error", err)
	}

	receipt := newReceipt(job.ReceiptID, job.Record, p.timeSource.Now())
	receipt.Owner = job.Owner
	receipt.VendorID = vendorID
	receipt.ImagePath = savedKey
	receipt.ImageURL = p.storage.URL(savedKey)
	receipt.Filename = job.Filename
	receipt.ContentType = job.ContentType

	err = p.db.SaveReceipt(receipt)
	p.metrics.ObserveSideEffect("persist", err)
	if err != nil {
		slog.Error("Failed to save receipt", "receipt_id", job.ReceiptID, "error", err)
		if delErr := p.storage.Delete(ctx, savedKey); delErr != nil {
			slog.Warn("Failed to delete uploaded image", "key", savedKey, "error", delErr)
		}
		return fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Saved receipt",
		"receipt_id", receipt.ID,
		"vendor_id", receipt.VendorID,
		"image_url", receipt.ImageURL,
	)
	return nil
}

// vendorFor returns the ID of the vendor named in info, creating it when
// needed. Empty names yield no vendor.
func (p *Pipeline) vendorFor(info parsing.StoreInfo) (string, error) {
	if vendorKey(info.Name) == "" {
		return "", nil
	}

	p.vendorMu.Lock()
	defer p.vendorMu.Unlock()

	vendor, err := p.db.FindVendorByName(info.Name)
	switch {
	case err == nil:
		if !fillVendor(vendor, info) {
			return vendor.ID, nil
		}
		vendor.UpdatedAt = p.timeSource.Now()
	case errors.Is(err, ErrNotFound):
		now := p.timeSource.Now()
		vendor = &Vendor{
			ID:        p.idGenerator.Generate(),
			Name:      info.Name,
			TIN:       info.TIN,
			Branch:    info.Branch,
			Address:   info.Address,
			CreatedAt: now,
			UpdatedAt: now,
		}
	default:
		return "", fmt.Errorf("finding vendor: %w", err)
	}

	if err := p.db.SaveVendor(vendor); err != nil {
		return "", fmt.Errorf("saving vendor: %w", err)
	}
	return vendor.ID, nil
}

// fillVendor copies details the vendor is missing and reports whether any changed
func fillVendor(v *Vendor, info parsing.StoreInfo) bool {
	changed := false
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&v.TIN, info.TIN},
		{&v.Branch, info.Branch},
		{&v.Address, info.Address},
	} {
		if *f.dst == "" && f.src != "" {
			*f.dst = f.src
			changed = true
		}
	}
	return changed
}

func defaultFilename(filename, contentType string) string {
	if filename != "" {
		return filename
	}
	switch contentType {
	case "image/jpeg":
		return "receipt.jpg"
	case "image/png":
		return "receipt.png"
	case "image/gif":
		return "receipt.gif"
	case "image/webp":
		return "receipt.webp"
	case "image/heic", "image/heif":
		return "receipt.heic"
	case "application/pdf":
		return "receipt.pdf"
	}
	return "receipt"
}
