package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cutoutlab/cutout/internal/domain"
)

// Gesture is one direct-manipulation event from the client: a pointer drag,
// a resize or rotate handle move, a keyboard nudge, or a scale step.
type Gesture struct {
	Type      string  `json:"type"`
	DX        float64 `json:"dx,omitempty"`
	DY        float64 `json:"dy,omitempty"`
	Factor    float64 `json:"factor,omitempty"`
	Degrees   float64 `json:"degrees,omitempty"`
	StepX     int     `json:"stepX,omitempty"`
	StepY     int     `json:"stepY,omitempty"`
	Coarse    bool    `json:"coarse,omitempty"`
	Direction string  `json:"direction,omitempty"`
}

const (
	GestureDrag      = "drag"
	GestureResize    = "resize"
	GestureRotate    = "rotate"
	GestureNudge     = "nudge"
	GestureScaleStep = "scale_step"
)

// ApplyGestures feeds a batch of gestures through the session's editor. The
// editor coalesces them to at most one transform patch per frame interval and
// the trailing patch is flushed at the end of the batch, so a burst of drag
// events lands as a single update.
func (s *Service) ApplyGestures(ctx context.Context, id uuid.UUID, gestures []Gesture) (domain.Snapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	if e.session.SourceImage.IsZero() {
		e.mu.Unlock()
		return domain.Snapshot{}, domain.ErrNoSource
	}

	for _, g := range gestures {
		switch g.Type {
		case GestureDrag:
			e.editor.Drag(g.DX, g.DY)
		case GestureResize:
			e.editor.Resize(g.Factor)
		case GestureRotate:
			e.editor.Rotate(g.Degrees)
		case GestureNudge:
			e.editor.Nudge(g.StepX, g.StepY, g.Coarse)
		case GestureScaleStep:
			e.editor.StepScale(g.Direction != "down")
		default:
			e.mu.Unlock()
			return domain.Snapshot{}, fmt.Errorf("unknown gesture type %q", g.Type)
		}
	}
	e.editor.Flush()

	e.lastTouched = s.clock.Now()
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	s.publish(ctx, snap)
	return snap, nil
}
