package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// State enumerates the editing-session states.
type State int

const (
	StateEmpty State = iota
	StateSourceReady
	StateProcessing
	StateProcessed
	StateBackgroundSet
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateSourceReady:
		return "source_ready"
	case StateProcessing:
		return "processing"
	case StateProcessed:
		return "processed"
	case StateBackgroundSet:
		return "background_set"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the aggregate describing one edit in progress. It is a plain
// value: every transition is a pure method returning the next session plus
// the handles the transition superseded. All side effects — releasing those
// handles, acquiring new ones, network calls — belong to the orchestrator.
type Session struct {
	ID         uuid.UUID
	Generation uint64
	State      State
	Progress   int

	SourceImage    Handle
	SourceBytes    Handle
	ProcessedImage Handle
	ProcessedBytes Handle

	Background BackgroundSpec
	Transform  Transform
	Failure    *Failure
}

// NewSession returns an empty session.
func NewSession(id uuid.UUID) Session {
	return Session{
		ID:         id,
		State:      StateEmpty,
		Background: NoBackground(),
		Transform:  IdentityTransform(),
	}
}

// LiveHandles lists every handle the session currently references.
func (s Session) LiveHandles() []Handle {
	var live []Handle
	for _, h := range []Handle{s.SourceImage, s.SourceBytes, s.ProcessedImage, s.ProcessedBytes, s.Background.Image} {
		if !h.IsZero() {
			live = append(live, h)
		}
	}
	return live
}

// UploadSource starts a new generation from freshly acquired source handles.
// Every handle of the prior generation is superseded; processing state,
// background, transform, and error are reset.
func (s Session) UploadSource(img, raw Handle) (Session, []Handle) {
	released := s.LiveHandles()
	next := NewSession(s.ID)
	next.Generation = s.Generation + 1
	next.State = StateSourceReady
	next.SourceImage = img
	next.SourceBytes = raw
	return next, released
}

// RequestRemoval moves the session into Processing. Valid from SourceReady,
// from Processed/BackgroundSet (re-run), and from a retryable Error.
func (s Session) RequestRemoval() (Session, error) {
	switch s.State {
	case StateSourceReady, StateProcessed, StateBackgroundSet:
	case StateError:
		if s.Failure == nil || !s.Failure.Retryable {
			return s, fmt.Errorf("%w: removal from non-retryable error", ErrInvalidTransition)
		}
	default:
		return s, fmt.Errorf("%w: removal from %s", ErrInvalidTransition, s.State)
	}

	s.State = StateProcessing
	s.Progress = 0
	s.Failure = nil
	return s, nil
}

// ProgressTick folds a synthesized progress report into the session. Observed
// progress is monotonically non-decreasing regardless of the raw values the
// estimator produces. Stale-generation and out-of-state ticks are ignored.
func (s Session) ProgressTick(generation uint64, p int) Session {
	if generation != s.Generation || s.State != StateProcessing {
		return s
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > s.Progress {
		s.Progress = p
	}
	return s
}

// RemovalSucceeded applies a finished removal. A result whose generation is
// stale, or that arrives outside Processing, is dropped: the session is
// returned unchanged, applied is false, and the offered handles come back in
// the release set so the caller can return them to the tracker.
func (s Session) RemovalSucceeded(generation uint64, img, raw Handle) (next Session, released []Handle, applied bool) {
	if generation != s.Generation || s.State != StateProcessing {
		return s, []Handle{img, raw}, false
	}

	for _, h := range []Handle{s.ProcessedImage, s.ProcessedBytes} {
		if !h.IsZero() {
			released = append(released, h)
		}
	}

	s.State = StateProcessed
	s.Progress = 100
	s.ProcessedImage = img
	s.ProcessedBytes = raw
	s.Failure = nil
	return s, released, true
}

// RemovalFailed records an exhausted removal. Stale completions are dropped.
func (s Session) RemovalFailed(generation uint64, f *Failure) Session {
	if generation != s.Generation || s.State != StateProcessing {
		return s
	}
	s.State = StateError
	s.Failure = f
	return s
}

// SetBackground replaces the background variant. Valid once a processed
// result exists. Replacing a background image supersedes its handle.
func (s Session) SetBackground(spec BackgroundSpec) (Session, []Handle, error) {
	if s.State != StateProcessed && s.State != StateBackgroundSet {
		return s, nil, fmt.Errorf("%w: set background from %s", ErrInvalidTransition, s.State)
	}

	var released []Handle
	if prev := s.Background.Image; !prev.IsZero() && prev != spec.Image {
		released = append(released, prev)
	}

	s.State = StateBackgroundSet
	s.Background = spec
	return s, released, nil
}

// UpdateTransform merges a partial transform into the session. Valid in any
// image-bearing state.
func (s Session) UpdateTransform(p TransformPatch) (Session, error) {
	if s.SourceImage.IsZero() {
		return s, ErrNoSource
	}
	merged := s.Transform.Apply(p)
	if merged.Scale <= 0 {
		return s, ErrInvalidScale
	}
	s.Transform = merged
	return s, nil
}

// Reset returns to SourceReady within the current generation: the processed
// result and background image are superseded, the source is preserved, and
// everything else goes back to defaults. Calling Reset twice in a row yields
// the identical session.
func (s Session) Reset() (Session, []Handle, error) {
	if s.SourceImage.IsZero() {
		return s, nil, ErrNoSource
	}

	var released []Handle
	for _, h := range []Handle{s.ProcessedImage, s.ProcessedBytes, s.Background.Image} {
		if !h.IsZero() {
			released = append(released, h)
		}
	}

	next := NewSession(s.ID)
	next.Generation = s.Generation
	next.State = StateSourceReady
	next.SourceImage = s.SourceImage
	next.SourceBytes = s.SourceBytes
	return next, released, nil
}

// DismissError clears only the failure field. The state falls back to
// whatever the remaining content implies; all handles stay live.
func (s Session) DismissError() Session {
	s.Failure = nil
	if s.State != StateError {
		return s
	}

	switch {
	case !s.ProcessedImage.IsZero() && s.Background.Kind != BackgroundNone:
		s.State = StateBackgroundSet
	case !s.ProcessedImage.IsZero():
		s.State = StateProcessed
	case !s.SourceImage.IsZero():
		s.State = StateSourceReady
	default:
		s.State = StateEmpty
	}
	return s
}
