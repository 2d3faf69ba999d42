package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/imaging"
	"github.com/cutoutlab/cutout/internal/metrics"
)

const warmupStoreTimeout = 2 * time.Second

// RequestRemoval moves the session into Processing and submits the source
// bytes to the segmentation processor in the background. There is no
// cancellation path: once submitted, a removal runs to completion and its
// result is dropped at the generation gate if the session has moved on.
func (s *Service) RequestRemoval(ctx context.Context, id uuid.UUID) (domain.Snapshot, error) {
	if s.capability != nil {
		return domain.Snapshot{}, s.capability
	}

	e, err := s.entry(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	raw, ok := e.tracker.Bytes(e.session.SourceBytes)
	if !ok {
		e.mu.Unlock()
		return domain.Snapshot{}, domain.ErrNoSource
	}

	next, err := e.session.RequestRemoval()
	if err != nil {
		e.mu.Unlock()
		return domain.Snapshot{}, err
	}

	e.session = next
	e.lastTouched = s.clock.Now()
	generation := next.Generation
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	slog.Info("Removal requested", "session_id", id, "generation", generation)
	s.publish(ctx, snap)

	go s.runRemoval(id, generation, raw)
	return snap, nil
}

// runRemoval drives one background removal to completion. It runs on a fresh
// context: the triggering request may be long gone by the time the processor
// answers, and stale results are discarded by generation, not cancellation.
func (s *Service) runRemoval(id uuid.UUID, generation uint64, raw []byte) {
	ctx := context.Background()

	result, err := s.segmenter.Submit(ctx, raw, func(p int) {
		s.progressTick(ctx, id, generation, p)
	})
	s.completeRemoval(ctx, id, generation, result, err)
}

func (s *Service) progressTick(ctx context.Context, id uuid.UUID, generation uint64, p int) {
	e, err := s.entry(id)
	if err != nil {
		return
	}

	e.mu.Lock()
	next := e.session.ProgressTick(generation, p)
	changed := next.Progress != e.session.Progress
	e.session = next
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	if changed {
		s.publish(ctx, snap)
	}
}

// completeRemoval delivers a finished removal back into the session. The
// generation is checked before the result is decoded and again before its
// handles are applied; anything stale is dropped and released.
func (s *Service) completeRemoval(ctx context.Context, id uuid.UUID, generation uint64, result []byte, submitErr error) {
	e, err := s.entry(id)
	if err != nil {
		slog.Info("Removal finished for a deleted session", "session_id", id, "generation", generation)
		metrics.StaleResultsDroppedTotal.WithLabelValues("removal").Inc()
		return
	}

	e.mu.Lock()
	if generation != e.session.Generation {
		e.mu.Unlock()
		slog.Info("Stale removal result dropped",
			"session_id", id, "generation", generation)
		metrics.StaleResultsDroppedTotal.WithLabelValues("removal").Inc()
		return
	}

	if submitErr != nil {
		e.session = e.session.RemovalFailed(generation, domain.AsFailure(submitErr))
		snap := domain.SnapshotOf(e.session)
		e.mu.Unlock()

		slog.Warn("Removal failed", "session_id", id, "generation", generation, "error", submitErr)
		s.publish(ctx, snap)
		return
	}
	e.mu.Unlock()

	// Decode outside the lock; the result is re-gated by generation below.
	img, _, err := imaging.Decode(result)

	e.mu.Lock()
	if err != nil {
		e.session = e.session.RemovalFailed(generation, domain.DecodeFailure(err))
		snap := domain.SnapshotOf(e.session)
		e.mu.Unlock()

		slog.Warn("Removal result failed to decode", "session_id", id, "generation", generation, "error", err)
		s.publish(ctx, snap)
		return
	}

	imgHandle := e.tracker.Acquire(generation, img, nil)
	rawHandle := e.tracker.Acquire(generation, nil, result)
	next, released, applied := e.session.RemovalSucceeded(generation, imgHandle, rawHandle)
	releaseHandles(e.tracker, released)
	e.session = next
	if applied {
		e.lastTouched = s.clock.Now()
	}
	snap := domain.SnapshotOf(e.session)
	e.mu.Unlock()

	if !applied {
		slog.Info("Stale removal result dropped", "session_id", id, "generation", generation)
		metrics.StaleResultsDroppedTotal.WithLabelValues("removal").Inc()
		return
	}

	slog.Info("Removal succeeded", "session_id", id, "generation", generation, "bytes", len(result))
	s.markWarmed(ctx)
	s.publish(ctx, snap)
}

// loadWarmedFlag reads the durable warmed indicator at startup. Failures are
// non-fatal: the flag only softens first-run messaging.
func (s *Service) loadWarmedFlag() {
	if s.warmup == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), warmupStoreTimeout)
	defer cancel()

	warmed, err := s.warmup.IsWarmed(ctx)
	if err != nil {
		slog.Warn("Could not read processor warmed flag", "error", err)
		metrics.WarmupStoreErrorsTotal.WithLabelValues("read").Inc()
		return
	}

	s.warmedMu.Lock()
	s.warmed = warmed
	s.warmedMu.Unlock()
}

// markWarmed records the first successful removal, durably when a store is
// configured. Write failures are logged and swallowed.
func (s *Service) markWarmed(ctx context.Context) {
	s.warmedMu.Lock()
	already := s.warmed
	s.warmed = true
	s.warmedMu.Unlock()

	if already || s.warmup == nil {
		return
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), warmupStoreTimeout)
	defer cancel()

	if err := s.warmup.MarkWarmed(storeCtx); err != nil {
		slog.Warn("Could not persist processor warmed flag", "error", err)
		metrics.WarmupStoreErrorsTotal.WithLabelValues("write").Inc()
	}
}
