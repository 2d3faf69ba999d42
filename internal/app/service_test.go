package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutoutlab/cutout/internal/domain"
)

// --- Mock implementations ---

type mockSegmenter struct {
	submitFn func(ctx context.Context, imageBytes []byte, onProgress func(int)) ([]byte, error)
}

func (m *mockSegmenter) Submit(ctx context.Context, imageBytes []byte, onProgress func(int)) ([]byte, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, imageBytes, onProgress)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockWarmupStore struct {
	mu       sync.Mutex
	warmed   bool
	readErr  error
	writeErr error
	writes   int
}

func (m *mockWarmupStore) IsWarmed(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warmed, m.readErr
}

func (m *mockWarmupStore) MarkWarmed(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.warmed = true
	return nil
}

func (m *mockWarmupStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// recordingPublisher forwards every snapshot into a channel so tests can wait
// for asynchronous state changes.
type recordingPublisher struct {
	snapshots chan domain.Snapshot
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{snapshots: make(chan domain.Snapshot, 64)}
}

func (p *recordingPublisher) PublishSessionUpdated(_ context.Context, snap domain.Snapshot) {
	p.snapshots <- snap
}

func (p *recordingPublisher) waitForState(t *testing.T, state string) domain.Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap := <-p.snapshots:
			if snap.State == state {
				return snap
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %q", state)
		}
	}
}

// --- Helpers ---

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type serviceFixture struct {
	svc       *Service
	clock     *clockwork.FakeClock
	segmenter *mockSegmenter
	warmup    *mockWarmupStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		clock:     clockwork.NewFakeClock(),
		segmenter: &mockSegmenter{},
		warmup:    &mockWarmupStore{},
		publisher: newRecordingPublisher(),
	}
	f.svc = NewService(Config{CanvasWidth: 800, CanvasHeight: 600}, f.segmenter, f.warmup, f.publisher, f.clock, nil)
	t.Cleanup(f.svc.Stop)
	return f
}

func (f *serviceFixture) uploadedSession(t *testing.T) domain.Snapshot {
	t.Helper()
	snap := f.svc.CreateSession(context.Background())
	snap, err := f.svc.UploadSource(context.Background(), snap.SessionID, pngBytes(t, 400, 300))
	require.NoError(t, err)
	return snap
}

// --- Tests ---

func TestUploadSource_FitsAndCenters(t *testing.T) {
	f := newFixture(t)

	snap := f.svc.CreateSession(context.Background())
	snap, err := f.svc.UploadSource(context.Background(), snap.SessionID, pngBytes(t, 1600, 600))
	require.NoError(t, err)

	assert.Equal(t, "source_ready", snap.State)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.InDelta(t, 0.5, snap.Transform.Scale, 1e-9)
	assert.InDelta(t, 400, snap.Transform.X, 1e-9)
	assert.InDelta(t, 300, snap.Transform.Y, 1e-9)

	e, err := f.svc.entry(snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, e.tracker.Live())
}

func TestUploadSource_InvalidDataLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	_, err := f.svc.UploadSource(context.Background(), snap.SessionID, []byte("not an image"))
	var failure *domain.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, domain.FailureUpload, failure.Kind)

	got, err := f.svc.GetSession(context.Background(), snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, snap.Generation, got.Generation)
	assert.Equal(t, "source_ready", got.State)
}

func TestUploadSource_OversizedRejected(t *testing.T) {
	f := &serviceFixture{
		clock:     clockwork.NewFakeClock(),
		segmenter: &mockSegmenter{},
		warmup:    &mockWarmupStore{},
		publisher: newRecordingPublisher(),
	}
	f.svc = NewService(Config{MaxUploadBytes: 16}, f.segmenter, f.warmup, f.publisher, f.clock, nil)
	t.Cleanup(f.svc.Stop)

	snap := f.svc.CreateSession(context.Background())
	_, err := f.svc.UploadSource(context.Background(), snap.SessionID, pngBytes(t, 50, 50))

	var failure *domain.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, domain.FailureUpload, failure.Kind)
}

func TestUploadSource_SupersedesPreviousGeneration(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	e, err := f.svc.entry(snap.SessionID)
	require.NoError(t, err)
	require.Equal(t, 2, e.tracker.Live())

	snap, err = f.svc.UploadSource(context.Background(), snap.SessionID, pngBytes(t, 200, 200))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), snap.Generation)
	assert.Equal(t, 2, e.tracker.Live())
}

func TestRemoval_SucceedsAndMarksWarmed(t *testing.T) {
	f := newFixture(t)
	result := pngBytes(t, 400, 300)
	f.segmenter.submitFn = func(_ context.Context, imageBytes []byte, onProgress func(int)) ([]byte, error) {
		onProgress(15)
		return result, nil
	}

	snap := f.uploadedSession(t)
	snap, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "processing", snap.State)
	assert.Equal(t, 0, snap.Progress)

	final := f.publisher.waitForState(t, "processed")
	assert.Equal(t, 100, final.Progress)
	assert.True(t, final.HasProcessed)

	require.Eventually(t, f.svc.ProcessorWarmed, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.warmup.writeCount())
}

func TestRemoval_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	done := make(chan struct{})
	f.segmenter.submitFn = func(_ context.Context, _ []byte, onProgress func(int)) ([]byte, error) {
		onProgress(30)
		onProgress(20)
		onProgress(50)
		close(done)
		return nil, errors.New("backend gave up")
	}

	snap := f.uploadedSession(t)
	_, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)
	<-done

	var progress []int
	timeout := time.After(2 * time.Second)
	for len(progress) < 2 {
		select {
		case s := <-f.publisher.snapshots:
			if s.State == "processing" && s.Progress > 0 {
				progress = append(progress, s.Progress)
			}
		case <-timeout:
			t.Fatal("timed out waiting for progress updates")
		}
	}
	assert.Equal(t, []int{30, 50}, progress)
}

func TestRemoval_FailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.segmenter.submitFn = func(context.Context, []byte, func(int)) ([]byte, error) {
		return nil, domain.ProcessingFailure("something went wrong while processing the image", errors.New("boom"))
	}

	snap := f.uploadedSession(t)
	_, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)

	failed := f.publisher.waitForState(t, "error")
	require.NotNil(t, failed.Failure)
	assert.Equal(t, "processing", failed.Failure.Kind)
	assert.True(t, failed.Failure.Retryable)

	// A retryable error allows another attempt without a new upload.
	f.segmenter.submitFn = func(_ context.Context, _ []byte, _ func(int)) ([]byte, error) {
		return pngBytes(t, 400, 300), nil
	}
	_, err = f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)
	f.publisher.waitForState(t, "processed")
}

func TestRemoval_UndecodableResultFailsDecode(t *testing.T) {
	f := newFixture(t)
	f.segmenter.submitFn = func(context.Context, []byte, func(int)) ([]byte, error) {
		return []byte("garbage"), nil
	}

	snap := f.uploadedSession(t)
	_, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)

	failed := f.publisher.waitForState(t, "error")
	require.NotNil(t, failed.Failure)
	assert.Equal(t, "decode", failed.Failure.Kind)
	assert.False(t, failed.Failure.Retryable)
}

func TestRemoval_StaleResultIsDropped(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.segmenter.submitFn = func(_ context.Context, _ []byte, _ func(int)) ([]byte, error) {
		<-release
		return pngBytes(t, 400, 300), nil
	}

	snap := f.uploadedSession(t)
	_, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)

	// A new upload supersedes the in-flight removal's generation.
	snap, err = f.svc.UploadSource(context.Background(), snap.SessionID, pngBytes(t, 200, 200))
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Generation)

	close(release)

	assert.Never(t, func() bool {
		got, err := f.svc.GetSession(context.Background(), snap.SessionID)
		return err == nil && got.HasProcessed
	}, 300*time.Millisecond, 20*time.Millisecond)

	e, err := f.svc.entry(snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, e.tracker.Live())
	assert.False(t, f.svc.ProcessorWarmed())
}

func TestRequestRemoval_CapabilityGate(t *testing.T) {
	f := &serviceFixture{
		clock:     clockwork.NewFakeClock(),
		segmenter: &mockSegmenter{},
		warmup:    &mockWarmupStore{},
		publisher: newRecordingPublisher(),
	}
	capability := domain.CapabilityFailure("background removal is not available on this deployment")
	f.svc = NewService(Config{}, f.segmenter, f.warmup, f.publisher, f.clock, capability)
	t.Cleanup(f.svc.Stop)

	snap := f.svc.CreateSession(context.Background())
	snap, err := f.svc.UploadSource(context.Background(), snap.SessionID, pngBytes(t, 100, 100))
	require.NoError(t, err)
	require.Equal(t, "source_ready", snap.State)

	_, err = f.svc.RequestRemoval(context.Background(), snap.SessionID)
	var failure *domain.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, domain.FailureCapability, failure.Kind)
}

func TestWarmedFlag_StoreErrorsAreNonFatal(t *testing.T) {
	f := &serviceFixture{
		clock:     clockwork.NewFakeClock(),
		segmenter: &mockSegmenter{},
		warmup:    &mockWarmupStore{readErr: errors.New("redis down"), writeErr: errors.New("redis down")},
		publisher: newRecordingPublisher(),
	}
	f.svc = NewService(Config{}, f.segmenter, f.warmup, f.publisher, f.clock, nil)
	t.Cleanup(f.svc.Stop)

	f.segmenter.submitFn = func(_ context.Context, _ []byte, _ func(int)) ([]byte, error) {
		return pngBytes(t, 100, 100), nil
	}

	snap := f.svc.CreateSession(context.Background())
	snap, err := f.svc.UploadSource(context.Background(), snap.SessionID, pngBytes(t, 100, 100))
	require.NoError(t, err)
	_, err = f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)

	f.publisher.waitForState(t, "processed")
	require.Eventually(t, f.svc.ProcessorWarmed, time.Second, 10*time.Millisecond)
}

func TestSetBackground_ColorAndClear(t *testing.T) {
	f := newFixture(t)
	f.segmenter.submitFn = func(_ context.Context, _ []byte, _ func(int)) ([]byte, error) {
		return pngBytes(t, 400, 300), nil
	}

	snap := f.uploadedSession(t)
	_, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)
	f.publisher.waitForState(t, "processed")

	snap, err = f.svc.SetBackgroundColor(context.Background(), snap.SessionID, "#336699")
	require.NoError(t, err)
	assert.Equal(t, "background_set", snap.State)
	assert.Equal(t, "#336699", snap.Background.Color)

	_, err = f.svc.SetBackgroundColor(context.Background(), snap.SessionID, "oops")
	assert.ErrorIs(t, err, domain.ErrInvalidColor)
}

func TestSetBackground_RejectedBeforeProcessing(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	_, err := f.svc.SetBackgroundColor(context.Background(), snap.SessionID, "#ffffff")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSetBackgroundImage_RejectedSpecReleasesHandle(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	e, err := f.svc.entry(snap.SessionID)
	require.NoError(t, err)
	before := e.tracker.Live()

	_, err = f.svc.SetBackgroundImage(context.Background(), snap.SessionID, pngBytes(t, 50, 50))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, before, e.tracker.Live())
}

func TestUpdateTransform_InvalidScale(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	bad := -1.0
	_, err := f.svc.UpdateTransform(context.Background(), snap.SessionID, domain.TransformPatch{Scale: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidScale)
}

func TestApplyGestures_CoalescesToSingleUpdate(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	gestures := make([]Gesture, 0, 10)
	for i := 0; i < 10; i++ {
		gestures = append(gestures, Gesture{Type: GestureDrag, DX: 1, DY: 0})
	}

	before := snap.Transform.X
	snap, err := f.svc.ApplyGestures(context.Background(), snap.SessionID, gestures)
	require.NoError(t, err)
	assert.InDelta(t, before+10, snap.Transform.X, 1e-9)
}

func TestApplyGestures_NudgeAndScaleStep(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	baseX := snap.Transform.X
	baseScale := snap.Transform.Scale

	snap, err := f.svc.ApplyGestures(context.Background(), snap.SessionID, []Gesture{
		{Type: GestureNudge, StepX: 1, Coarse: true},
		{Type: GestureScaleStep, Direction: "up"},
	})
	require.NoError(t, err)
	assert.InDelta(t, baseX+10, snap.Transform.X, 1e-9)
	assert.InDelta(t, baseScale*1.1, snap.Transform.Scale, 1e-9)
}

func TestApplyGestures_UnknownTypeRejected(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	_, err := f.svc.ApplyGestures(context.Background(), snap.SessionID, []Gesture{{Type: "teleport"}})
	assert.Error(t, err)
}

func TestReset_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.segmenter.submitFn = func(_ context.Context, _ []byte, _ func(int)) ([]byte, error) {
		return pngBytes(t, 400, 300), nil
	}

	snap := f.uploadedSession(t)
	_, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)
	f.publisher.waitForState(t, "processed")

	first, err := f.svc.Reset(context.Background(), snap.SessionID)
	require.NoError(t, err)
	second, err := f.svc.Reset(context.Background(), snap.SessionID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "source_ready", second.State)
	assert.False(t, second.HasProcessed)

	e, err := f.svc.entry(snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, e.tracker.Live())
}

func TestExport_SourceOnlySession(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	res, err := f.svc.Export(context.Background(), snap.SessionID, "png", 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)

	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
}

func TestExport_EmptySessionRejected(t *testing.T) {
	f := newFixture(t)
	snap := f.svc.CreateSession(context.Background())

	_, err := f.svc.Export(context.Background(), snap.SessionID, "png", 0)
	assert.ErrorIs(t, err, domain.ErrNoSource)
}

func TestExport_UnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	_, err := f.svc.Export(context.Background(), snap.SessionID, "tiff", 0)
	var failure *domain.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, domain.FailureExport, failure.Kind)
}

func TestCleanupIdleSessions(t *testing.T) {
	f := newFixture(t)
	keep := f.svc.CreateSession(context.Background())

	idle := f.uploadedSession(t)
	f.clock.Advance(idleSessionMaxAge + time.Minute)

	// Touch one session so only the other ages out.
	_, err := f.svc.GetSession(context.Background(), keep.SessionID)
	require.NoError(t, err)
	_, err = f.svc.UploadSource(context.Background(), keep.SessionID, pngBytes(t, 10, 10))
	require.NoError(t, err)

	f.svc.CleanupIdleSessions()

	_, err = f.svc.GetSession(context.Background(), idle.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.GetSession(context.Background(), keep.SessionID)
	assert.NoError(t, err)
}

func TestDeleteSession_ReleasesResources(t *testing.T) {
	f := newFixture(t)
	snap := f.uploadedSession(t)

	e, err := f.svc.entry(snap.SessionID)
	require.NoError(t, err)
	require.Equal(t, 2, e.tracker.Live())

	require.NoError(t, f.svc.DeleteSession(context.Background(), snap.SessionID))
	assert.Equal(t, 0, e.tracker.Live())

	err = f.svc.DeleteSession(context.Background(), snap.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDismissError_FallsBackToContentState(t *testing.T) {
	f := newFixture(t)
	f.segmenter.submitFn = func(context.Context, []byte, func(int)) ([]byte, error) {
		return nil, errors.New("boom")
	}

	snap := f.uploadedSession(t)
	_, err := f.svc.RequestRemoval(context.Background(), snap.SessionID)
	require.NoError(t, err)
	f.publisher.waitForState(t, "error")

	snap, err = f.svc.DismissError(context.Background(), snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "source_ready", snap.State)
	assert.Nil(t, snap.Failure)
}
