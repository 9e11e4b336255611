package editor

import "splitledger/internal/core"

// ContributorResolver maintains the purchase-wide default contributor
// set and per-item membership. The defaults are a template: broadcasting
// copies the values into each item, never a shared slice, so a later
// per-item toggle cannot leak into its siblings.
type ContributorResolver struct {
	defaults []int64
	items    *ItemCollection
}

// NewContributorResolver binds a resolver to an item collection.
func NewContributorResolver(items *ItemCollection) *ContributorResolver {
	return &ContributorResolver{items: items}
}

// Defaults returns a copy of the default contributor set.
func (r *ContributorResolver) Defaults() []int64 {
	return append([]int64(nil), r.defaults...)
}

// SetDefaults replaces the default set. Existing items keep their
// selections until the next broadcast.
func (r *ContributorResolver) SetDefaults(userIDs []int64) {
	seen := make(map[int64]struct{}, len(userIDs))
	r.defaults = r.defaults[:0]
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		r.defaults = append(r.defaults, id)
	}
}

// Toggle flips one user's membership on one item. Unknown item ids are
// a no-op. Non-participant ids are accepted here and filtered at save
// time by the gateway.
func (r *ContributorResolver) Toggle(itemID, userID int64) {
	r.items.apply(itemID, func(it *core.Item) {
		for i, id := range it.Contributors {
			if id == userID {
				it.Contributors = append(it.Contributors[:i], it.Contributors[i+1:]...)
				return
			}
		}
		it.Contributors = append(it.Contributors, userID)
	})
}

// BroadcastDefaults replaces every item's contributor set with an
// independent copy of the defaults.
func (r *ContributorResolver) BroadcastDefaults() {
	r.items.each(func(it *core.Item) {
		it.Contributors = append([]int64(nil), r.defaults...)
	})
}
