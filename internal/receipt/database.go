package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucket    = "receipts"
	vendorBucket     = "vendors"
	vendorNameBucket = "vendor_names"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt to the database
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// SaveVendor saves a vendor and indexes it by name
	SaveVendor(vendor *Vendor) error

	// GetVendor retrieves a vendor by ID
	GetVendor(id string) (*Vendor, error)

	// FindVendorByName looks a vendor up by its normalized name
	FindVendorByName(name string) (*Vendor, error)

	// ListVendors returns all vendors
	ListVendors() ([]*Vendor, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucket, vendorBucket, vendorNameBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// vendorKey is the name index key: upper case with collapsed whitespace
func vendorKey(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

func put(tx *bbolt.Tx, bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
}

func get[T any](db *bbolt.DB, bucket, id string) (*T, error) {
	var v *T
	err := db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucket, id, ErrNotFound)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func list[T any](db *bbolt.DB, bucket string) ([]*T, error) {
	out := make([]*T, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling %s: %w", bucket, err)
			}
			out = append(out, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, receiptBucket, receipt.ID, receipt)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	return get[Receipt](b.db, receiptBucket, id)
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	return list[Receipt](b.db, receiptBucket)
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucket)).Delete([]byte(id))
	})
}

// SaveVendor saves a vendor and points its name index at it
func (b *BoltDB) SaveVendor(vendor *Vendor) error {
	key := vendorKey(vendor.Name)
	if key == "" {
		return fmt.Errorf("vendor %s has no name", vendor.ID)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := put(tx, vendorBucket, vendor.ID, vendor); err != nil {
			return err
		}
		return tx.Bucket([]byte(vendorNameBucket)).Put([]byte(key), []byte(vendor.ID))
	})
}

// GetVendor retrieves a vendor by ID
func (b *BoltDB) GetVendor(id string) (*Vendor, error) {
	return get[Vendor](b.db, vendorBucket, id)
}

// FindVendorByName matches names case-insensitively, ignoring extra whitespace
func (b *BoltDB) FindVendorByName(name string) (*Vendor, error) {
	var id []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(vendorNameBucket)).Get([]byte(vendorKey(name))); v != nil {
			id = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("looking up vendor %q: %w", name, err)
	}
	if id == nil {
		return nil, fmt.Errorf("vendor named %q: %w", name, ErrNotFound)
	}
	return b.GetVendor(string(id))
}

// ListVendors returns all vendors
func (b *BoltDB) ListVendors() ([]*Vendor, error) {
	return list[Vendor](b.db, vendorBucket)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
