package domain

import (
	"context"
	"image"

	"github.com/google/uuid"
)

// Handle is an opaque reference to an ephemeral decoded resource owned by a
// Tracker. The zero value means "no resource".
type Handle struct {
	id uuid.UUID
}

// NewHandle mints a fresh handle. Only trackers should call this.
func NewHandle() Handle {
	return Handle{id: uuid.New()}
}

func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

func (h Handle) String() string {
	return h.id.String()
}

// Tracker owns ephemeral decoded resources. Release is idempotent: releasing
// an unknown or already-released handle is a safe no-op.
type Tracker interface {
	Acquire(generation uint64, img image.Image, raw []byte) Handle
	Release(h Handle)
	ReleaseAll()
	Image(h Handle) (image.Image, bool)
	Bytes(h Handle) ([]byte, bool)
	Live() int
}

// Segmenter submits a working image to the external segmentation processor
// and returns the cut-out result bytes. Progress is synthesized and reported
// through onProgress in the range [0, 100].
type Segmenter interface {
	Submit(ctx context.Context, imageBytes []byte, onProgress func(int)) ([]byte, error)
}

// WarmupStore persists the cross-session "processor warmed" indicator.
// Read/write failures are non-fatal and must never affect session behavior.
type WarmupStore interface {
	IsWarmed(ctx context.Context) (bool, error)
	MarkWarmed(ctx context.Context) error
}

// EventPublisher pushes session snapshots to connected clients.
type EventPublisher interface {
	PublishSessionUpdated(ctx context.Context, snapshot Snapshot)
}

// Snapshot is the externally visible projection of a Session.
type Snapshot struct {
	SessionID    uuid.UUID      `json:"sessionId"`
	State        string         `json:"state"`
	Generation   uint64         `json:"generation"`
	Progress     int            `json:"progress"`
	Transform    Transform      `json:"transform"`
	Background   BackgroundView `json:"background"`
	HasSource    bool           `json:"hasSource"`
	HasProcessed bool           `json:"hasProcessed"`
	Failure      *FailureView   `json:"failure,omitempty"`
}

// BackgroundView is the wire form of a BackgroundSpec.
type BackgroundView struct {
	Kind  string `json:"kind"`
	Color string `json:"color,omitempty"`
}

// FailureView is the wire form of a Failure.
type FailureView struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SnapshotOf projects a session into its wire form.
func SnapshotOf(s Session) Snapshot {
	snap := Snapshot{
		SessionID:    s.ID,
		State:        s.State.String(),
		Generation:   s.Generation,
		Progress:     s.Progress,
		Transform:    s.Transform,
		Background:   BackgroundView{Kind: s.Background.Kind.String(), Color: s.Background.Color},
		HasSource:    !s.SourceImage.IsZero(),
		HasProcessed: !s.ProcessedImage.IsZero(),
	}
	if s.Failure != nil {
		snap.Failure = &FailureView{
			Kind:      string(s.Failure.Kind),
			Message:   s.Failure.Message,
			Retryable: s.Failure.Retryable,
		}
	}
	return snap
}
