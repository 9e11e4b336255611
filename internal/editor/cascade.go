package editor

// The category cascade is a small tagged state machine per item per
// level. A level is either Selecting (picking a known name) or Creating
// (free-text entry opened by the reserved CreateNewOption). Known names
// per level are fetched once per session and are hints only; the
// gateway owns deduplication at save time.

// CreateNewOption is the reserved selection that opens free-text entry.
const CreateNewOption = "__new__"

// LevelMode tags the per-level state.
type LevelMode string

const (
	LevelSelecting LevelMode = "selecting"
	LevelCreating  LevelMode = "creating"
)

// LevelState is the cascade state of one category level of one item.
type LevelState struct {
	Mode    LevelMode `json:"mode"`
	Pending string    `json:"pending,omitempty"`
}

// CategoryCascade tracks per-item per-level states. Item values live in
// the ItemCollection; the cascade owns only the selecting/creating modes
// and pending free-text.
type CategoryCascade struct {
	states map[int64]map[int]LevelState
}

// NewCategoryCascade returns an empty cascade.
func NewCategoryCascade() *CategoryCascade {
	return &CategoryCascade{states: make(map[int64]map[int]LevelState)}
}

// State returns the state of one level, defaulting to Selecting.
func (c *CategoryCascade) State(itemID int64, level int) LevelState {
	if levels, ok := c.states[itemID]; ok {
		if st, ok := levels[level]; ok {
			return st
		}
	}
	return LevelState{Mode: LevelSelecting}
}

// Select applies a selection to one level and returns the value the item
// field should take. Choosing CreateNewOption enters Creating with an
// empty pending value and clears the field; anything else stays in (or
// returns to) Selecting. An empty selection clears every deeper level's
// state along with the field cascade handled by ItemCollection.
func (c *CategoryCascade) Select(itemID int64, level int, value string) string {
	if value == CreateNewOption {
		c.set(itemID, level, LevelState{Mode: LevelCreating})
		return ""
	}
	c.set(itemID, level, LevelState{Mode: LevelSelecting})
	if value == "" {
		c.clearBelow(itemID, level)
	}
	return value
}

// TypePending records free-text typed while a level is in Creating. It is
// a no-op when the level is not Creating.
func (c *CategoryCascade) TypePending(itemID int64, level int, text string) {
	st := c.State(itemID, level)
	if st.Mode != LevelCreating {
		return
	}
	st.Pending = text
	c.set(itemID, level, st)
}

// ConfirmPending leaves Creating and returns the value the item field
// should take. An empty pending value clears the level, which clears
// every deeper level too.
func (c *CategoryCascade) ConfirmPending(itemID int64, level int) string {
	st := c.State(itemID, level)
	if st.Mode != LevelCreating {
		return ""
	}
	value := st.Pending
	c.set(itemID, level, LevelState{Mode: LevelSelecting})
	if value == "" {
		c.clearBelow(itemID, level)
	}
	return value
}

// CancelPending abandons Creating, clearing the pending value and the
// level.
func (c *CategoryCascade) CancelPending(itemID int64, level int) {
	st := c.State(itemID, level)
	if st.Mode != LevelCreating {
		return
	}
	c.set(itemID, level, LevelState{Mode: LevelSelecting})
	c.clearBelow(itemID, level)
}

// Forget drops all state for an item, e.g. after deletion.
func (c *CategoryCascade) Forget(itemID int64) {
	delete(c.states, itemID)
}

// States returns a copy of the tracked states for snapshotting.
func (c *CategoryCascade) States() map[int64]map[int]LevelState {
	out := make(map[int64]map[int]LevelState, len(c.states))
	for id, levels := range c.states {
		copied := make(map[int]LevelState, len(levels))
		for lvl, st := range levels {
			copied[lvl] = st
		}
		out[id] = copied
	}
	return out
}

// Restore replaces the tracked states from a snapshot.
func (c *CategoryCascade) Restore(states map[int64]map[int]LevelState) {
	c.states = make(map[int64]map[int]LevelState, len(states))
	for id, levels := range states {
		copied := make(map[int]LevelState, len(levels))
		for lvl, st := range levels {
			copied[lvl] = st
		}
		c.states[id] = copied
	}
}

func (c *CategoryCascade) set(itemID int64, level int, st LevelState) {
	levels, ok := c.states[itemID]
	if !ok {
		levels = make(map[int]LevelState)
		c.states[itemID] = levels
	}
	levels[level] = st
}

func (c *CategoryCascade) clearBelow(itemID int64, level int) {
	levels, ok := c.states[itemID]
	if !ok {
		return
	}
	for lvl := level + 1; lvl <= 3; lvl++ {
		delete(levels, lvl)
	}
}
