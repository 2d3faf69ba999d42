package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutoutlab/cutout/internal/domain"
)

func newSourceReady(t *testing.T) (domain.Session, domain.Handle, domain.Handle) {
	t.Helper()
	img, raw := domain.NewHandle(), domain.NewHandle()
	s, released := domain.NewSession(uuid.New()).UploadSource(img, raw)
	require.Empty(t, released)
	return s, img, raw
}

func newProcessed(t *testing.T) domain.Session {
	t.Helper()
	s, _, _ := newSourceReady(t)
	s, err := s.RequestRemoval()
	require.NoError(t, err)
	s, _, applied := s.RemovalSucceeded(s.Generation, domain.NewHandle(), domain.NewHandle())
	require.True(t, applied)
	return s
}

func TestUploadSource_BumpsGenerationAndSupersedesAllHandles(t *testing.T) {
	s, img, raw := newSourceReady(t)
	assert.Equal(t, uint64(1), s.Generation)
	assert.Equal(t, domain.StateSourceReady, s.State)
	assert.ElementsMatch(t, []domain.Handle{img, raw}, s.LiveHandles())

	s = newProcessedFrom(t, s)
	s, _, err := s.SetBackground(domain.ImageBackground(domain.NewHandle()))
	require.NoError(t, err)
	prior := s.LiveHandles()
	require.Len(t, prior, 5)

	img2, raw2 := domain.NewHandle(), domain.NewHandle()
	next, released := s.UploadSource(img2, raw2)

	assert.Equal(t, uint64(2), next.Generation)
	assert.Equal(t, domain.StateSourceReady, next.State)
	assert.ElementsMatch(t, prior, released, "every prior-generation handle must be superseded")
	assert.ElementsMatch(t, []domain.Handle{img2, raw2}, next.LiveHandles())
	assert.Equal(t, domain.IdentityTransform(), next.Transform)
	assert.Equal(t, domain.BackgroundNone, next.Background.Kind)
	assert.Nil(t, next.Failure)
}

func newProcessedFrom(t *testing.T, s domain.Session) domain.Session {
	t.Helper()
	s, err := s.RequestRemoval()
	require.NoError(t, err)
	s, _, applied := s.RemovalSucceeded(s.Generation, domain.NewHandle(), domain.NewHandle())
	require.True(t, applied)
	return s
}

func TestRequestRemoval_InvalidFromEmpty(t *testing.T) {
	s := domain.NewSession(uuid.New())
	_, err := s.RequestRemoval()
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRequestRemoval_AllowedFromRetryableError(t *testing.T) {
	s, _, _ := newSourceReady(t)
	s, err := s.RequestRemoval()
	require.NoError(t, err)
	s = s.RemovalFailed(s.Generation, domain.ProcessingFailure("network hiccup", nil))
	require.Equal(t, domain.StateError, s.State)

	s, err = s.RequestRemoval()
	require.NoError(t, err)
	assert.Equal(t, domain.StateProcessing, s.State)
	assert.Equal(t, 0, s.Progress)
	assert.Nil(t, s.Failure)
}

func TestProgressTick_MonotonicallyNonDecreasing(t *testing.T) {
	s, _, _ := newSourceReady(t)
	s, err := s.RequestRemoval()
	require.NoError(t, err)

	var observed []int
	for _, p := range []int{30, 20, 50} {
		s = s.ProgressTick(s.Generation, p)
		observed = append(observed, s.Progress)
	}
	assert.Equal(t, []int{30, 30, 50}, observed)
}

func TestProgressTick_IgnoresStaleGeneration(t *testing.T) {
	s, _, _ := newSourceReady(t)
	s, err := s.RequestRemoval()
	require.NoError(t, err)

	s = s.ProgressTick(s.Generation-1, 80)
	assert.Equal(t, 0, s.Progress)
}

func TestRemovalSucceeded_ReplacesPriorProcessedHandles(t *testing.T) {
	s := newProcessed(t)
	firstImg, firstRaw := s.ProcessedImage, s.ProcessedBytes

	s, err := s.RequestRemoval()
	require.NoError(t, err)
	img2, raw2 := domain.NewHandle(), domain.NewHandle()
	s, released, applied := s.RemovalSucceeded(s.Generation, img2, raw2)

	require.True(t, applied)
	assert.ElementsMatch(t, []domain.Handle{firstImg, firstRaw}, released)
	assert.Equal(t, img2, s.ProcessedImage)
	assert.Equal(t, raw2, s.ProcessedBytes)
	assert.Equal(t, 100, s.Progress)
}

func TestRemovalSucceeded_StaleGenerationDropped(t *testing.T) {
	s, _, _ := newSourceReady(t)
	s, err := s.RequestRemoval()
	require.NoError(t, err)
	staleGen := s.Generation

	img2, raw2 := domain.NewHandle(), domain.NewHandle()
	s, _ = s.UploadSource(img2, raw2)

	offered1, offered2 := domain.NewHandle(), domain.NewHandle()
	next, released, applied := s.RemovalSucceeded(staleGen, offered1, offered2)

	assert.False(t, applied)
	assert.Equal(t, s, next, "stale result must leave the session untouched")
	assert.ElementsMatch(t, []domain.Handle{offered1, offered2}, released, "offered handles must come back for release")
}

func TestRemovalFailed_StaleGenerationDropped(t *testing.T) {
	s, _, _ := newSourceReady(t)
	s, err := s.RequestRemoval()
	require.NoError(t, err)

	next := s.RemovalFailed(s.Generation+1, domain.ProcessingFailure("boom", nil))
	assert.Equal(t, s, next)
}

func TestSetBackground_ReplacingImageSupersedesHandle(t *testing.T) {
	s := newProcessed(t)

	first := domain.NewHandle()
	s, released, err := s.SetBackground(domain.ImageBackground(first))
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Equal(t, domain.StateBackgroundSet, s.State)

	s, released, err = s.SetBackground(domain.ColorBackground("#ff8800"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Handle{first}, released, "setting a color must supersede the image handle")
	assert.Equal(t, domain.BackgroundColor, s.Background.Kind)
	assert.True(t, s.Background.Image.IsZero())
}

func TestSetBackground_InvalidBeforeProcessing(t *testing.T) {
	s, _, _ := newSourceReady(t)
	_, _, err := s.SetBackground(domain.ColorBackground("#ffffff"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateTransform_ShallowMerge(t *testing.T) {
	s, _, _ := newSourceReady(t)

	x, scale := 40.0, 0.5
	s, err := s.UpdateTransform(domain.TransformPatch{X: &x, Scale: &scale})
	require.NoError(t, err)
	assert.Equal(t, domain.Transform{X: 40, Y: 0, Scale: 0.5, Rotation: 0}, s.Transform)

	rot := 90.0
	s, err = s.UpdateTransform(domain.TransformPatch{Rotation: &rot})
	require.NoError(t, err)
	assert.Equal(t, domain.Transform{X: 40, Y: 0, Scale: 0.5, Rotation: 90}, s.Transform)
}

func TestUpdateTransform_RejectsNonPositiveScale(t *testing.T) {
	s, _, _ := newSourceReady(t)
	zero := 0.0
	_, err := s.UpdateTransform(domain.TransformPatch{Scale: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidScale)
}

func TestUpdateTransform_RequiresSource(t *testing.T) {
	s := domain.NewSession(uuid.New())
	x := 1.0
	_, err := s.UpdateTransform(domain.TransformPatch{X: &x})
	assert.ErrorIs(t, err, domain.ErrNoSource)
}

func TestReset_IdempotentAndPreservesSource(t *testing.T) {
	s := newProcessed(t)
	srcImg, srcRaw := s.SourceImage, s.SourceBytes
	procImg, procRaw := s.ProcessedImage, s.ProcessedBytes

	first, released, err := s.Reset()
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Handle{procImg, procRaw}, released)
	assert.Equal(t, domain.StateSourceReady, first.State)
	assert.Equal(t, srcImg, first.SourceImage)
	assert.Equal(t, srcRaw, first.SourceBytes)
	assert.Equal(t, s.Generation, first.Generation, "reset is not a generation bump")

	second, released, err := first.Reset()
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Equal(t, first, second)
}

func TestDismissError_ClearsOnlyFailure(t *testing.T) {
	s, _, _ := newSourceReady(t)
	s, err := s.RequestRemoval()
	require.NoError(t, err)
	s = s.RemovalFailed(s.Generation, domain.ProcessingFailure("nope", nil))

	before := s
	s = s.DismissError()
	assert.Nil(t, s.Failure)
	assert.Equal(t, domain.StateSourceReady, s.State)
	assert.Equal(t, before.Generation, s.Generation)
	assert.ElementsMatch(t, before.LiveHandles(), s.LiveHandles())
}
