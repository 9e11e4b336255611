package editor

import (
	"errors"

	"splitledger/internal/core"
)

var (
	ErrItemNotFound    = errors.New("item not found")
	ErrUnknownField    = errors.New("unknown item field")
	ErrIndexOutOfRange = errors.New("reorder index out of range")
)

// Item field names accepted by Update. They mirror the JSON names so the
// HTTP layer can pass them through untouched.
const (
	FieldOriginalName   = "original_name"
	FieldFriendlyName   = "friendly_name"
	FieldQuantity       = "quantity"
	FieldPrice          = "price"
	FieldDiscount       = "discount"
	FieldTaxRate        = "tax_rate"
	FieldCategoryLevel1 = "category_level_1"
	FieldCategoryLevel2 = "category_level_2"
	FieldCategoryLevel3 = "category_level_3"
)

// ItemCollection is the ordered set of line items. New items get negative
// monotonic local ids; hydrated items keep their server-issued positive
// ids. Ids stay stable across edits and reorders.
type ItemCollection struct {
	items       []core.Item
	nextLocalID int64
}

// NewItemCollection returns an empty collection.
func NewItemCollection() *ItemCollection {
	return &ItemCollection{nextLocalID: -1}
}

// Hydrate replaces the collection with items fetched from the backend,
// keeping their server ids. The local id counter moves below any
// negative id in the batch so later adds cannot collide.
func (c *ItemCollection) Hydrate(items []core.Item) {
	c.items = c.items[:0]
	for _, it := range items {
		c.items = append(c.items, it.Clone())
		if it.ID <= c.nextLocalID {
			c.nextLocalID = it.ID - 1
		}
	}
}

// Add prepends a new item: quantity 1, contributors copied from defaults.
// The copy matters; later per-item edits must never reach the template.
func (c *ItemCollection) Add(defaults []int64) core.Item {
	item := core.Item{
		ID:           c.nextLocalID,
		Quantity:     "1",
		Contributors: append([]int64(nil), defaults...),
	}
	c.nextLocalID--
	c.items = append([]core.Item{item}, c.items...)
	return item.Clone()
}

// Insert appends an already-built item, assigning it a local id. Used by
// the extraction intake.
func (c *ItemCollection) Insert(item core.Item) core.Item {
	item.ID = c.nextLocalID
	c.nextLocalID--
	item.Contributors = append([]int64(nil), item.Contributors...)
	c.items = append(c.items, item)
	return item.Clone()
}

// Update patches one field of one item. Category levels apply the
// parent-clears-children rule: emptying a level empties every deeper
// level in the same update.
func (c *ItemCollection) Update(id int64, field, value string) (core.Item, error) {
	idx := c.index(id)
	if idx < 0 {
		return core.Item{}, ErrItemNotFound
	}
	it := &c.items[idx]
	switch field {
	case FieldOriginalName:
		it.OriginalName = value
	case FieldFriendlyName:
		it.FriendlyName = value
	case FieldQuantity:
		it.Quantity = value
	case FieldPrice:
		it.Price = value
	case FieldDiscount:
		it.Discount = value
	case FieldTaxRate:
		it.TaxRate = value
	case FieldCategoryLevel1:
		it.CategoryLevel1 = value
		if value == "" {
			it.CategoryLevel2 = ""
			it.CategoryLevel3 = ""
		}
	case FieldCategoryLevel2:
		it.CategoryLevel2 = value
		if value == "" {
			it.CategoryLevel3 = ""
		}
	case FieldCategoryLevel3:
		it.CategoryLevel3 = value
	default:
		return core.Item{}, ErrUnknownField
	}
	return it.Clone(), nil
}

// Delete removes an item. Deleting an unknown id is a no-op.
func (c *ItemCollection) Delete(id int64) {
	idx := c.index(id)
	if idx < 0 {
		return
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
}

// Reorder moves the item at from to position to, a pure remove-then-insert.
// Equal indices are a no-op.
func (c *ItemCollection) Reorder(from, to int) error {
	n := len(c.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}
	moved := c.items[from]
	c.items = append(c.items[:from], c.items[from+1:]...)
	rest := append([]core.Item(nil), c.items[to:]...)
	c.items = append(append(c.items[:to], moved), rest...)
	return nil
}

// Total accumulates unrounded line totals under the zero-fallback parse
// policy. Rounding happens only at display and export boundaries.
func (c *ItemCollection) Total() float64 {
	var total float64
	for _, it := range c.items {
		total += it.LineTotal()
	}
	return total
}

// Len returns the number of items.
func (c *ItemCollection) Len() int {
	return len(c.items)
}

// Items returns a deep copy of the ordered items.
func (c *ItemCollection) Items() []core.Item {
	out := make([]core.Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.Clone())
	}
	return out
}

// Get returns a copy of one item by id.
func (c *ItemCollection) Get(id int64) (core.Item, bool) {
	idx := c.index(id)
	if idx < 0 {
		return core.Item{}, false
	}
	return c.items[idx].Clone(), true
}

func (c *ItemCollection) index(id int64) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

// apply mutates one item in place through fn. Used by the contributor
// resolver, which needs write access without exposing the slice.
func (c *ItemCollection) apply(id int64, fn func(*core.Item)) bool {
	idx := c.index(id)
	if idx < 0 {
		return false
	}
	fn(&c.items[idx])
	return true
}

// each runs fn over every item in order with write access.
func (c *ItemCollection) each(fn func(*core.Item)) {
	for i := range c.items {
		fn(&c.items[i])
	}
}
