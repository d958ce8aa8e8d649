package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-ocr/internal/parsing"
)

// mockDB is a mock implementation of DB
type mockDB struct {
	mu            sync.Mutex
	receipts      map[string]*Receipt
	vendors       map[string]*Vendor
	saveErr       error
	findVendorErr error
	saveVendorErr error
	listErr       error
}

func newMockDB() *mockDB {
	return &mockDB{
		receipts: make(map[string]*Receipt),
		vendors:  make(map[string]*Vendor),
	}
}

func (m *mockDB) SaveReceipt(receipt *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.receipts[receipt.ID] = receipt
	return nil
}

func (m *mockDB) GetReceipt(id string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return receipt, nil
}

func (m *mockDB) ListReceipts() ([]*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	receipts := make([]*Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func (m *mockDB) DeleteReceipt(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.receipts, id)
	return nil
}

func (m *mockDB) SaveVendor(vendor *Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveVendorErr != nil {
		return m.saveVendorErr
	}
	m.vendors[vendor.ID] = vendor
	return nil
}

func (m *mockDB) GetVendor(id string) (*Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vendor, ok := m.vendors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return vendor, nil
}

func (m *mockDB) FindVendorByName(name string) (*Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findVendorErr != nil {
		return nil, m.findVendorErr
	}
	for _, v := range m.vendors {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("vendor named %q: %w", name, ErrNotFound)
}

func (m *mockDB) ListVendors() ([]*Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vendors := make([]*Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		vendors = append(vendors, v)
	}
	return vendors, nil
}

func (m *mockDB) Close() error {
	return nil
}

// mockStorage is a mock implementation of Storage
type mockStorage struct {
	mu        sync.Mutex
	files     map[string][]byte
	saveErr   error
	deleteErr error
	deleted   []string
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		files: make(map[string][]byte),
	}
}

func (m *mockStorage) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.files[key] = data
	return key, nil
}

func (m *mockStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.files, key)
	return nil
}

func (m *mockStorage) URL(key string) string {
	return "mem://" + key
}

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

func parsedRecord() *parsing.Record {
	total := parsing.MustMoney("245.00")
	vat := parsing.MustMoney("26.25")
	return &parsing.Record{
		StoreInfo:       parsing.StoreInfo{Name: "JOLLIBEE FOODS", TIN: "123-456-789-000"},
		TransactionInfo: parsing.TransactionInfo{Date: "2024-01-15", Time: "12:30:00", PaymentMethod: "cash"},
		Items: []parsing.Item{{
			Title:            "Pad Kaling Kaling",
			Quantity:         1,
			Price:            parsing.MustMoney("218.75"),
			Subtotal:         parsing.MustMoney("218.75"),
			IsDeductible:     true,
			DeductibleAmount: parsing.MustMoney("109.38"),
			Category:         parsing.CategoryFood,
		}},
		Totals: parsing.Totals{Total: &total, VAT: &vat},
		Metadata: parsing.Metadata{
			Currency:            "PHP",
			VATRate:             0.12,
			TransactionCategory: parsing.CategoryFood,
			IsDeductible:        true,
			DeductibleAmount:    parsing.MustMoney("109.38"),
		},
	}
}

var _ = Describe("Pipeline", func() {
	var (
		db       *mockDB
		storage  *mockStorage
		now      time.Time
		pipeline *Pipeline
		job      Job
		err      error
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		now = time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
		job = Job{
			ReceiptID:   "rcpt-1",
			Owner:       "user-1",
			Filename:    "IMG 0001 (copy).jpg",
			ContentType: "image/jpeg",
			Image:       []byte("jpeg-bytes"),
			Record:      parsedRecord(),
		}
	})

	JustBeforeEach(func() {
		pipeline = NewPipelineWithDeps(db, storage, nil, &mockIDGenerator{id: "vendor-1"}, &mockTimeSource{now: now})
		err = pipeline.Run(context.Background(), job)
	})

	When("every step succeeds", func() {
		It("uploads the image under a sanitized key", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.files).To(HaveKeyWithValue("rcpt-1_IMG 0001 copy.jpg", []byte("jpeg-bytes")))
		})

		It("creates the vendor", func() {
			Expect(db.vendors).To(HaveKey("vendor-1"))
			Expect(db.vendors["vendor-1"].Name).To(Equal("JOLLIBEE FOODS"))
			Expect(db.vendors["vendor-1"].TIN).To(Equal("123-456-789-000"))
		})

		It("saves the receipt with the image URL", func() {
			saved := db.receipts["rcpt-1"]
			Expect(saved).NotTo(BeNil())
			Expect(saved.Owner).To(Equal("user-1"))
			Expect(saved.VendorID).To(Equal("vendor-1"))
			Expect(saved.ImagePath).To(Equal("rcpt-1_IMG 0001 copy.jpg"))
			Expect(saved.ImageURL).To(Equal("mem://rcpt-1_IMG 0001 copy.jpg"))
			Expect(saved.Date).To(Equal("2024-01-15"))
			Expect(saved.Items).To(HaveLen(1))
			Expect(saved.IsDeductible).To(BeTrue())
			Expect(saved.DeductibleAmount.String()).To(Equal("109.38"))
			Expect(saved.Category).To(Equal(parsing.CategoryFood))
			Expect(saved.CreatedAt).To(Equal(now))
		})
	})

	When("the vendor already exists", func() {
		BeforeEach(func() {
			db.vendors["existing"] = &Vendor{ID: "existing", Name: "Jollibee Foods"}
		})

		It("links to it and fills in missing details", func() {
			Expect(db.receipts["rcpt-1"].VendorID).To(Equal("existing"))
			Expect(db.vendors).To(HaveLen(1))
			Expect(db.vendors["existing"].TIN).To(Equal("123-456-789-000"))
			Expect(db.vendors["existing"].UpdatedAt).To(Equal(now))
		})
	})

	When("the store name is unknown", func() {
		BeforeEach(func() {
			job.Record.StoreInfo = parsing.StoreInfo{}
		})

		It("saves the receipt without a vendor", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(db.vendors).To(BeEmpty())
			Expect(db.receipts["rcpt-1"].VendorID).To(BeEmpty())
		})
	})

	When("there is no filename", func() {
		BeforeEach(func() {
			job.Filename = ""
			job.ContentType = "application/pdf"
		})

		It("names the upload after the content type", func() {
			Expect(storage.files).To(HaveKey("rcpt-1_receipt.pdf"))
		})
	})

	When("the upload fails", func() {
		BeforeEach(func() {
			storage.saveErr = errBoom
		})

		It("does not persist the receipt", func() {
			Expect(err).To(MatchError(errBoom))
			Expect(err.Error()).To(ContainSubstring("uploading image"))
			Expect(db.receipts).To(BeEmpty())
		})
	})

	When("the vendor lookup fails", func() {
		BeforeEach(func() {
			db.findVendorErr = errBoom
		})

		It("still saves the receipt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(db.receipts["rcpt-1"].VendorID).To(BeEmpty())
		})
	})

	When("saving the receipt fails", func() {
		BeforeEach(func() {
			db.saveErr = errBoom
		})

		It("removes the uploaded image", func() {
			Expect(err).To(MatchError(errBoom))
			Expect(storage.deleted).To(ConsistOf("rcpt-1_IMG 0001 copy.jpg"))
			Expect(storage.files).To(BeEmpty())
		})
	})

	When("the job has no record", func() {
		BeforeEach(func() {
			job.Record = nil
		})

		It("fails before uploading", func() {
			Expect(err).To(HaveOccurred())
			Expect(storage.files).To(BeEmpty())
		})
	})
})
