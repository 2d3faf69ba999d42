package compose

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cutoutlab/cutout/internal/domain"
)

const (
	// frameInterval bounds gesture reporting to one patch per rendering frame.
	frameInterval = 16 * time.Millisecond

	nudgeStep       = 1.0
	nudgeCoarseStep = 10.0
	scaleStepUp     = 1.1
	scaleStepDown   = 0.9
	minScale        = 0.01
)

// Editor folds direct-manipulation gestures on the foreground (drag, resize
// handle, rotate handle, keyboard nudges) into transform patches. Patches are
// coalesced and reported at most once per frame interval so continuous
// dragging does not flood the session with updates; Flush forces the trailing
// patch out.
type Editor struct {
	clock  clockwork.Clock
	report func(domain.TransformPatch)

	mu      sync.Mutex
	current domain.Transform
	pending domain.TransformPatch
	last    time.Time
}

func NewEditor(clock clockwork.Clock, report func(domain.TransformPatch)) *Editor {
	return &Editor{clock: clock, report: report}
}

// SetTransform syncs the editor's view of the foreground transform, e.g.
// after a recompose or an external transform update.
func (e *Editor) SetTransform(t domain.Transform) {
	e.mu.Lock()
	e.current = t
	e.pending = domain.TransformPatch{}
	e.mu.Unlock()
}

// Drag moves the foreground by a pointer delta.
func (e *Editor) Drag(dx, dy float64) {
	e.mu.Lock()
	e.current.X += dx
	e.current.Y += dy
	x, y := e.current.X, e.current.Y
	e.queue(domain.TransformPatch{X: &x, Y: &y})
	e.mu.Unlock()
}

// Resize scales the foreground by a handle-drag factor.
func (e *Editor) Resize(factor float64) {
	e.mu.Lock()
	e.scaleBy(factor)
	e.mu.Unlock()
}

// Rotate sets the foreground rotation from the rotate handle, in degrees.
func (e *Editor) Rotate(degrees float64) {
	e.mu.Lock()
	e.current.Rotation = degrees
	r := degrees
	e.queue(domain.TransformPatch{Rotation: &r})
	e.mu.Unlock()
}

// Nudge moves the foreground by whole units: 1 per activation, 10 with the
// coarse modifier held.
func (e *Editor) Nudge(dx, dy int, coarse bool) {
	step := nudgeStep
	if coarse {
		step = nudgeCoarseStep
	}
	e.Drag(float64(dx)*step, float64(dy)*step)
}

// StepScale multiplies the scale by 1.1 (up) or 0.9 (down) per activation.
func (e *Editor) StepScale(up bool) {
	factor := scaleStepDown
	if up {
		factor = scaleStepUp
	}
	e.mu.Lock()
	e.scaleBy(factor)
	e.mu.Unlock()
}

// Flush reports any coalesced patch immediately.
func (e *Editor) Flush() {
	e.mu.Lock()
	patch := e.pending
	e.pending = domain.TransformPatch{}
	if !patch.IsEmpty() {
		e.last = e.clock.Now()
	}
	e.mu.Unlock()

	if !patch.IsEmpty() {
		e.report(patch)
	}
}

// scaleBy and queue must be called with e.mu held.

func (e *Editor) scaleBy(factor float64) {
	next := e.current.Scale * factor
	if next < minScale {
		next = minScale
	}
	e.current.Scale = next
	s := next
	e.queue(domain.TransformPatch{Scale: &s})
}

func (e *Editor) queue(p domain.TransformPatch) {
	e.pending = e.pending.Merge(p)

	now := e.clock.Now()
	if !e.last.IsZero() && now.Sub(e.last) < frameInterval {
		return
	}

	patch := e.pending
	e.pending = domain.TransformPatch{}
	e.last = now

	e.report(patch)
}
