// Package app is the application layer — the only component that references
// multiple domain components. It orchestrates all session use cases and owns
// the one lock per session that makes every mutation serialized.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/cutoutlab/cutout/internal/compose"
	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/imaging"
	"github.com/cutoutlab/cutout/internal/metrics"
	"github.com/cutoutlab/cutout/internal/tracker"
)

const (
	idleSessionMaxAge = 30 * time.Minute
	cleanupInterval   = 5 * time.Minute

	defaultCanvasWidth    = 800
	defaultCanvasHeight   = 600
	defaultMaxUploadBytes = 10 << 20
)

// Config carries the editing-surface dimensions and upload limits.
type Config struct {
	CanvasWidth    int
	CanvasHeight   int
	MaxUploadBytes int64
}

func (c Config) withDefaults() Config {
	if c.CanvasWidth <= 0 {
		c.CanvasWidth = defaultCanvasWidth
	}
	if c.CanvasHeight <= 0 {
		c.CanvasHeight = defaultCanvasHeight
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUploadBytes
	}
	return c
}

// sessionEntry bundles one session with its resource tracker and gesture
// editor. entry.mu serializes every mutation of the session, so transitions
// behave as if the session ran on a single thread.
type sessionEntry struct {
	mu          sync.Mutex
	session     domain.Session
	tracker     *tracker.Tracker
	editor      *compose.Editor
	lastTouched time.Time
}

// Service orchestrates editing sessions: uploads, background removal,
// composition edits, and exports.
type Service struct {
	cfg        Config
	segmenter  domain.Segmenter
	warmup     domain.WarmupStore
	publisher  domain.EventPublisher
	clock      clockwork.Clock
	capability *domain.Failure

	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry

	exportGroup singleflight.Group

	warmedMu sync.Mutex
	warmed   bool

	cleanupStopCh chan struct{}
	stopOnce      sync.Once
	cleanupWg     sync.WaitGroup
}

// NewService creates the application layer service. capability, when non-nil,
// marks the processing path unavailable (e.g. the segmentation backend failed
// its startup probe); browsing, upload, and composition stay usable.
func NewService(cfg Config, seg domain.Segmenter, warmup domain.WarmupStore, publisher domain.EventPublisher, clock clockwork.Clock, capability *domain.Failure) *Service {
	s := &Service{
		cfg:           cfg.withDefaults(),
		segmenter:     seg,
		warmup:        warmup,
		publisher:     publisher,
		clock:         clock,
		capability:    capability,
		sessions:      make(map[uuid.UUID]*sessionEntry),
		cleanupStopCh: make(chan struct{}),
	}

	s.loadWarmedFlag()
	s.startCleanupTimer()
	return s
}

// CreateSession registers a new empty session and returns its snapshot.
func (s *Service) CreateSession(ctx context.Context) domain.Snapshot {
	e := &sessionEntry{
		session:     domain.NewSession(uuid.New()),
		tracker:     tracker.New(),
		lastTouched: s.clock.Now(),
	}
	// The editor's report callback runs while e.mu is already held by the
	// gesture feed, so it must mutate the session directly instead of going
	// back through a locking operation.
	e.editor = compose.NewEditor(s.clock, func(p domain.TransformPatch) {
		next, err := e.session.UpdateTransform(p)
		if err != nil {
			slog.Debug("Gesture patch rejected", "session_id", e.session.ID, "error", err)
			return
		}
		e.session = next
	})

	s.mu.Lock()
	s.sessions[e.session.ID] = e
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	slog.Info("Session created", "session_id", e.session.ID)
	return domain.SnapshotOf(e.session)
}

// GetSession returns the current snapshot of a session.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (domain.Snapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.SnapshotOf(e.session), nil
}

// DeleteSession removes a session and releases every resource it holds.
func (s *Service) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}

	e.mu.Lock()
	e.tracker.ReleaseAll()
	e.mu.Unlock()

	metrics.SessionsActive.Dec()
	slog.Info("Session deleted", "session_id", id)
	return nil
}

// UploadSource validates and decodes an uploaded image, then starts a new
// generation from it. Validation failures never touch the session: the current
// generation and its resources stay exactly as they were.
func (s *Service) UploadSource(ctx context.Context, id uuid.UUID, data []byte) (domain.Snapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return domain.Snapshot{}, domain.UploadFailure(
			fmt.Sprintf("image exceeds the maximum upload size of %d bytes", s.cfg.MaxUploadBytes))
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return domain.Snapshot{}, domain.UploadFailure("unsupported or corrupted image file")
	}

	e.mu.Lock()
	nextGen := e.session.Generation + 1
	imgHandle := e.tracker.Acquire(nextGen, img, nil)
	rawHandle := e.tracker.Acquire(nextGen, nil, data)

	next, released := e.session.UploadSource(imgHandle, rawHandle)
	releaseHandles(e.tracker, released)

	bounds := img.Bounds()
	fit := compose.DefaultTransform(bounds.Dx(), bounds.Dy(), s.cfg.CanvasWidth, s.cfg.CanvasHeight)
	next, err = next.UpdateTransform(patchOf(fit))
	if err != nil {
		// Unreachable for a decoded image; keep the fitted-transform
		// invariant visible in logs if it ever fires.
		slog.Error("Default transform rejected", "session_id", id, "error", err)
	}

	e.session = next
	e.editor.SetTransform(next.Transform)
	e.lastTouched = s.clock.Now()
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	slog.Info("Source uploaded", "session_id", id, "generation", snap.Generation, "bytes", len(data))
	s.publish(ctx, snap)
	return snap, nil
}

// SetBackgroundColor switches the background to a solid color.
func (s *Service) SetBackgroundColor(ctx context.Context, id uuid.UUID, hex string) (domain.Snapshot, error) {
	if _, err := compose.ParseHexColor(hex); err != nil {
		return domain.Snapshot{}, err
	}
	return s.setBackground(ctx, id, func(e *sessionEntry) (domain.BackgroundSpec, error) {
		return domain.ColorBackground(hex), nil
	})
}

// SetBackgroundImage decodes an uploaded background image and switches the
// background to it.
func (s *Service) SetBackgroundImage(ctx context.Context, id uuid.UUID, data []byte) (domain.Snapshot, error) {
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return domain.Snapshot{}, domain.UploadFailure(
			fmt.Sprintf("image exceeds the maximum upload size of %d bytes", s.cfg.MaxUploadBytes))
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return domain.Snapshot{}, domain.UploadFailure("unsupported or corrupted image file")
	}

	return s.setBackground(ctx, id, func(e *sessionEntry) (domain.BackgroundSpec, error) {
		h := e.tracker.Acquire(e.session.Generation, img, nil)
		return domain.ImageBackground(h), nil
	})
}

// ClearBackground removes any configured background.
func (s *Service) ClearBackground(ctx context.Context, id uuid.UUID) (domain.Snapshot, error) {
	return s.setBackground(ctx, id, func(e *sessionEntry) (domain.BackgroundSpec, error) {
		return domain.NoBackground(), nil
	})
}

func (s *Service) setBackground(ctx context.Context, id uuid.UUID, build func(*sessionEntry) (domain.BackgroundSpec, error)) (domain.Snapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	spec, err := build(e)
	if err != nil {
		e.mu.Unlock()
		return domain.Snapshot{}, err
	}

	next, released, err := e.session.SetBackground(spec)
	if err != nil {
		// A background image acquired for a rejected transition must not leak.
		e.tracker.Release(spec.Image)
		e.mu.Unlock()
		return domain.Snapshot{}, err
	}

	releaseHandles(e.tracker, released)
	e.session = next
	e.lastTouched = s.clock.Now()
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	slog.Info("Background set", "session_id", id, "kind", snap.Background.Kind)
	s.publish(ctx, snap)
	return snap, nil
}

// UpdateTransform merges an explicit transform patch into the session.
func (s *Service) UpdateTransform(ctx context.Context, id uuid.UUID, patch domain.TransformPatch) (domain.Snapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	next, err := e.session.UpdateTransform(patch)
	if err != nil {
		e.mu.Unlock()
		return domain.Snapshot{}, err
	}

	e.session = next
	e.editor.SetTransform(next.Transform)
	e.lastTouched = s.clock.Now()
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	s.publish(ctx, snap)
	return snap, nil
}

// Reset returns the session to its freshly-uploaded look within the current
// generation.
func (s *Service) Reset(ctx context.Context, id uuid.UUID) (domain.Snapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	next, released, err := e.session.Reset()
	if err != nil {
		e.mu.Unlock()
		return domain.Snapshot{}, err
	}

	releaseHandles(e.tracker, released)

	// Back to the freshly-uploaded look: the source fitted and centered.
	if img, ok := e.tracker.Image(next.SourceImage); ok {
		bounds := img.Bounds()
		fit := compose.DefaultTransform(bounds.Dx(), bounds.Dy(), s.cfg.CanvasWidth, s.cfg.CanvasHeight)
		next, _ = next.UpdateTransform(patchOf(fit))
	}

	e.session = next
	e.editor.SetTransform(next.Transform)
	e.lastTouched = s.clock.Now()
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	slog.Info("Session reset", "session_id", id, "generation", snap.Generation)
	s.publish(ctx, snap)
	return snap, nil
}

// DismissError clears the session failure and falls back to the state its
// remaining content implies.
func (s *Service) DismissError(ctx context.Context, id uuid.UUID) (domain.Snapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	e.session = e.session.DismissError()
	e.lastTouched = s.clock.Now()
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	s.publish(ctx, snap)
	return snap, nil
}

// ProcessorWarmed reports whether a removal has ever completed successfully,
// here or in a previous process if a durable store is configured.
func (s *Service) ProcessorWarmed() bool {
	s.warmedMu.Lock()
	defer s.warmedMu.Unlock()
	return s.warmed
}

func (s *Service) entry(id uuid.UUID) (*sessionEntry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return e, nil
}

func (s *Service) publish(ctx context.Context, snap domain.Snapshot) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishSessionUpdated(ctx, snap)
}

func releaseHandles(t *tracker.Tracker, handles []domain.Handle) {
	for _, h := range handles {
		t.Release(h)
	}
}

func patchOf(t domain.Transform) domain.TransformPatch {
	return domain.TransformPatch{X: &t.X, Y: &t.Y, Scale: &t.Scale, Rotation: &t.Rotation}
}
