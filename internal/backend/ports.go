package backend

import (
	"context"

	"splitledger/internal/core"
)

// Ports for the expense-backend collaborator. The editor only ever sees
// these interfaces; the wire format lives in httpapi.
type (
	PurchaseStore interface {
		// GetPurchase returns a purchase with its items and image references.
		GetPurchase(ctx context.Context, id int64) (*PurchaseRecord, error)
		// CreatePurchase submits a multipart request carrying the normalized
		// payload plus any staged image blobs and returns the new id.
		CreatePurchase(ctx context.Context, payload PurchasePayload, images []ImageBlob) (int64, error)
		// UpdatePurchase is a full replace of the purchase and its items.
		UpdatePurchase(ctx context.Context, id int64, payload PurchasePayload) error
		DeletePurchase(ctx context.Context, id int64) error
	}

	CategoryDirectory interface {
		ListCategories(ctx context.Context, level int) ([]string, error)
		// CreateCategory is idempotent-tolerant on the backend side;
		// callers are still expected to dedup before calling.
		CreateCategory(ctx context.Context, name string, level int) error
	}

	UserDirectory interface {
		ListUsers(ctx context.Context) ([]core.User, error)
	}

	ProvenanceLog interface {
		AppendLog(ctx context.Context, purchaseID int64, userID int64, message string) error
		ListLogs(ctx context.Context, purchaseID int64) ([]core.LogEntry, error)
	}

	// ItemExtractor is the OCR collaborator. It returns the raw JSON
	// payload; schema validation and decoding happen in internal/ocr.
	ItemExtractor interface {
		Extract(ctx context.Context, images []ImageBlob) ([]byte, error)
	}
)

// Backend bundles every collaborator port a single adapter provides.
type Backend interface {
	PurchaseStore
	CategoryDirectory
	UserDirectory
	ProvenanceLog
	ItemExtractor
}

// ItemPayload is one normalized line item as the backend expects it:
// numeric coercion already applied, contributor ids filtered to valid
// integers.
type ItemPayload struct {
	ID             int64   `json:"item_id,omitempty"`
	FriendlyName   string  `json:"friendly_name"`
	OriginalName   string  `json:"original_name"`
	Quantity       int     `json:"quantity"`
	Price          float64 `json:"price"`
	Discount       float64 `json:"discount"`
	TaxRate        float64 `json:"tax_rate"`
	CategoryLevel1 string  `json:"category_level_1"`
	CategoryLevel2 string  `json:"category_level_2"`
	CategoryLevel3 string  `json:"category_level_3"`
	Contributors   []int64 `json:"contributors"`
}

// PurchasePayload is the full normalized save payload.
type PurchasePayload struct {
	Name              string        `json:"purchase_name"`
	Date              core.Date     `json:"purchase_date"`
	PayerID           int64         `json:"payer_user_id"`
	TaxIsAdded        bool          `json:"tax_is_added"`
	DiscountIsApplied bool          `json:"discount_is_applied"`
	Items             []ItemPayload `json:"items"`
}

// ImageRef points at a receipt image already persisted by the backend.
type ImageRef struct {
	ID       int64  `json:"image_id"`
	Filename string `json:"original_filename"`
	URL      string `json:"url"`
}

// ImageBlob is a staged image ready for upload.
type ImageBlob struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PurchaseRecord is a fetched purchase with items and image references.
type PurchaseRecord struct {
	Purchase core.Purchase
	Items    []ItemPayload
	Images   []ImageRef
}
