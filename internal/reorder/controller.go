// Package reorder converts drag gestures into index permutations.
//
// The controller tracks at most one active gesture. A pointer press arms
// it; movement below the activation threshold never becomes a drag, so
// taps stay taps. Once dragging, the drop slot is resolved by nearest
// row-center collision against the tracked row rectangles. Ending the
// gesture yields a single (from, to) move; equal indices mean no move.
package reorder

import "errors"

var (
	ErrGestureActive   = errors.New("drag gesture already active")
	ErrNoActiveGesture = errors.New("no active drag gesture")
	ErrBadIndex        = errors.New("row index out of range")
)

// ActivationThreshold is the pointer travel, in pixels, below which a
// press never becomes a drag.
const ActivationThreshold = 8.0

// Point is a pointer position in viewport pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is one row's tracked rectangle.
type Rect struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

func (r Rect) center() float64 { return r.Top + r.Height/2 }

// Move is the permutation a finished gesture resolved to.
type Move struct {
	From int
	To   int
}

// IsNoop reports whether applying the move would change nothing.
func (m Move) IsNoop() bool { return m.From == m.To }

// Controller owns the single-gesture drag state machine.
type Controller struct {
	rows []Rect

	active    bool
	dragging  bool
	origin    Point
	current   Point
	fromIndex int
	toIndex   int
}

// NewController returns an idle controller.
func NewController() *Controller {
	return &Controller{}
}

// SetRows replaces the tracked row rectangles. Rows must be in list
// order; they are re-sent whenever the list changes.
func (c *Controller) SetRows(rows []Rect) {
	c.rows = append(c.rows[:0], rows...)
}

// Begin arms a gesture on the row at index. A second Begin while a
// gesture is active is rejected.
func (c *Controller) Begin(p Point, index int) error {
	if c.active {
		return ErrGestureActive
	}
	if index < 0 || index >= len(c.rows) {
		return ErrBadIndex
	}
	c.active = true
	c.dragging = false
	c.origin = p
	c.current = p
	c.fromIndex = index
	c.toIndex = index
	return nil
}

// Update feeds pointer movement. The drag activates once travel from the
// origin exceeds the threshold; afterwards each update re-resolves the
// drop slot.
func (c *Controller) Update(p Point) error {
	if !c.active {
		return ErrNoActiveGesture
	}
	c.current = p
	if !c.dragging {
		dx := p.X - c.origin.X
		dy := p.Y - c.origin.Y
		if dx*dx+dy*dy < ActivationThreshold*ActivationThreshold {
			return nil
		}
		c.dragging = true
	}
	c.toIndex = c.nearestRow(p.Y)
	return nil
}

// End finishes the gesture. It returns the resolved move and whether a
// drag actually happened; a press that never crossed the threshold
// reports ok=false.
func (c *Controller) End() (Move, bool, error) {
	if !c.active {
		return Move{}, false, ErrNoActiveGesture
	}
	move := Move{From: c.fromIndex, To: c.toIndex}
	dragged := c.dragging
	c.reset()
	return move, dragged, nil
}

// Cancel abandons the gesture without emitting a move.
func (c *Controller) Cancel() {
	c.reset()
}

// Dragging reports whether a gesture has crossed the activation
// threshold.
func (c *Controller) Dragging() bool {
	return c.active && c.dragging
}

// DraggedIndex returns the armed row, or -1 when idle.
func (c *Controller) DraggedIndex() int {
	if !c.active {
		return -1
	}
	return c.fromIndex
}

// StepUp maps a keyboard "move up" on index to a single-step move.
func StepUp(index, length int) (Move, bool) {
	if index <= 0 || index >= length {
		return Move{}, false
	}
	return Move{From: index, To: index - 1}, true
}

// StepDown maps a keyboard "move down" on index to a single-step move.
func StepDown(index, length int) (Move, bool) {
	if index < 0 || index >= length-1 {
		return Move{}, false
	}
	return Move{From: index, To: index + 1}, true
}

func (c *Controller) nearestRow(y float64) int {
	best := c.fromIndex
	bestDist := -1.0
	for i, row := range c.rows {
		dist := y - row.center()
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}

func (c *Controller) reset() {
	c.active = false
	c.dragging = false
	c.fromIndex = 0
	c.toIndex = 0
}
