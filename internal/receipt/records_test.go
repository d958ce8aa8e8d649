package receipt

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Records", func() {
	var (
		ctx     context.Context
		db      *mockDB
		storage *mockStorage
		records *Records
		created time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = newMockDB()
		storage = newMockStorage()
		records = NewRecords(db, storage)
		created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		db.vendors["v1"] = &Vendor{ID: "v1", Name: "CVS Pharmacy"}
		db.receipts["r2"] = &Receipt{ID: "r2", VendorID: "v1", ImagePath: "r2_receipt.png", ContentType: "image/png", CreatedAt: created.Add(time.Hour)}
		db.receipts["r1"] = &Receipt{ID: "r1", ImagePath: "r1_receipt.jpg", ContentType: "image/jpeg", CreatedAt: created}
		storage.files["r2_receipt.png"] = []byte("png bytes")
		storage.files["r1_receipt.jpg"] = []byte("jpeg bytes")
	})

	Describe("Get", func() {
		It("resolves the vendor", func() {
			stored, err := records.Get("r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).To(Equal("r2"))
			Expect(stored.Vendor).NotTo(BeNil())
			Expect(stored.Vendor.Name).To(Equal("CVS Pharmacy"))
		})

		It("returns the receipt when its vendor is gone", func() {
			delete(db.vendors, "v1")
			stored, err := records.Get("r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Vendor).To(BeNil())
		})

		It("reports a missing receipt", func() {
			_, err := records.Get("nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("List", func() {
		It("returns receipts oldest first with vendors attached", func() {
			stored, err := records.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(2))
			Expect(stored[0].ID).To(Equal("r1"))
			Expect(stored[0].Vendor).To(BeNil())
			Expect(stored[1].ID).To(Equal("r2"))
			Expect(stored[1].Vendor.Name).To(Equal("CVS Pharmacy"))
		})

		It("wraps database errors", func() {
			db.listErr = errors.New("disk gone")
			_, err := records.List()
			Expect(err).To(MatchError(ContainSubstring("listing receipts: disk gone")))
		})
	})

	Describe("Delete", func() {
		It("removes the image and the record", func() {
			Expect(records.Delete(ctx, "r1")).To(Succeed())
			Expect(storage.deleted).To(ConsistOf("r1_receipt.jpg"))
			Expect(db.receipts).NotTo(HaveKey("r1"))
		})

		When("the image cannot be deleted", func() {
			BeforeEach(func() {
				storage.deleteErr = errors.New("permission denied")
			})

			It("still removes the record", func() {
				Expect(records.Delete(ctx, "r1")).To(Succeed())
				Expect(db.receipts).NotTo(HaveKey("r1"))
			})
		})

		It("reports a missing receipt", func() {
			Expect(records.Delete(ctx, "nope")).To(MatchError(ErrNotFound))
			Expect(storage.deleted).To(BeEmpty())
		})
	})

	Describe("Image", func() {
		It("returns the stored bytes and content type", func() {
			data, contentType, err := records.Image(ctx, "r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png bytes")))
			Expect(contentType).To(Equal("image/png"))
		})

		It("reports a receipt saved without an image", func() {
			db.receipts["r3"] = &Receipt{ID: "r3", CreatedAt: created}
			_, _, err := records.Image(ctx, "r3")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("wraps storage errors", func() {
			delete(storage.files, "r1_receipt.jpg")
			_, _, err := records.Image(ctx, "r1")
			Expect(err).To(MatchError(ContainSubstring("getting receipt image")))
		})
	})
})
