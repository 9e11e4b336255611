package core

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMissingPurchaseName = errors.New("missing purchase name")
	ErrMissingPayer        = errors.New("missing payer")
	ErrInvalidDate         = errors.New("invalid purchase date")
)

type (
	// Date is a day-granularity date serialized as "2006-01-02".
	Date struct {
		time.Time
	}

	// User is an eligible contributor identity known to the editor.
	User struct {
		ID   int64  `json:"user_id"`
		Name string `json:"name"`
	}

	// Purchase is a single recorded expense event. ID is zero until the
	// first successful create.
	Purchase struct {
		ID                int64  `json:"purchase_id,omitempty"`
		Name              string `json:"purchase_name"`
		Date              Date   `json:"purchase_date"`
		PayerID           int64  `json:"payer_user_id"`
		TaxIsAdded        bool   `json:"tax_is_added"`
		DiscountIsApplied bool   `json:"discount_is_applied"`
	}

	// Item is one line entry of a purchase. Numeric fields hold the raw
	// user input; they parse with a zero fallback (see numbers.go) so a
	// half-typed value never poisons the running total.
	Item struct {
		ID             int64   `json:"id"`
		OriginalName   string  `json:"original_name"`
		FriendlyName   string  `json:"friendly_name"`
		Quantity       string  `json:"quantity"`
		Price          string  `json:"price"`
		Discount       string  `json:"discount"`
		TaxRate        string  `json:"tax_rate"`
		CategoryLevel1 string  `json:"category_level_1"`
		CategoryLevel2 string  `json:"category_level_2"`
		CategoryLevel3 string  `json:"category_level_3"`
		Contributors   []int64 `json:"contributors"`
	}

	// ExtractedItem is one row of an OCR extraction payload.
	ExtractedItem struct {
		ExtractedName string  `json:"extracted_name"`
		FriendlyName  string  `json:"friendly_name,omitempty"`
		Quantity      int     `json:"quantity"`
		Price         float64 `json:"price"`
		Discount      float64 `json:"discount"`
	}

	// LogEntry is one provenance record attached to a purchase.
	LogEntry struct {
		ID        int64     `json:"id"`
		UserID    int64     `json:"user_id"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}
)

const dateLayout = "2006-01-02"

// NewDate creates a Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current UTC date
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// ParseDate parses a "2006-01-02" string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate checks the fields required before a purchase may be saved.
func (p Purchase) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrMissingPurchaseName
	}
	if p.PayerID == 0 {
		return ErrMissingPayer
	}
	if p.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// LineTotal evaluates price x quantity x (1 + tax/100) - discount for one
// item, with every numeric field parsed under the zero-fallback policy.
func (it Item) LineTotal() float64 {
	price := ParseAmount(it.Price)
	qty := float64(ParseCount(it.Quantity))
	tax := ParseAmount(it.TaxRate)
	discount := ParseAmount(it.Discount)
	return price*qty*(1+tax/100) - discount
}

// Clone returns a deep copy; the contributor slice is never shared.
func (it Item) Clone() Item {
	out := it
	out.Contributors = append([]int64(nil), it.Contributors...)
	return out
}

// HasContributor reports membership of userID in the item's split.
func (it Item) HasContributor(userID int64) bool {
	for _, id := range it.Contributors {
		if id == userID {
			return true
		}
	}
	return false
}
