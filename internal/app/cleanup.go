package app

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/cutoutlab/cutout/internal/metrics"
)

func (s *Service) startCleanupTimer() {
	ticker := s.clock.NewTicker(cleanupInterval)
	s.cleanupWg.Add(1)
	go func() {
		defer s.cleanupWg.Done()
		for {
			select {
			case <-ticker.Chan():
				s.CleanupIdleSessions()
			case <-s.cleanupStopCh:
				ticker.Stop()
				return
			}
		}
	}()
	slog.Info("Session cleanup timer started", "interval", cleanupInterval.String())
}

// CleanupIdleSessions removes sessions untouched for longer than the idle
// limit and releases their resources.
func (s *Service) CleanupIdleSessions() {
	now := s.clock.Now()

	s.mu.Lock()
	var idle []*sessionEntry
	var ids []uuid.UUID
	for id, e := range s.sessions {
		e.mu.Lock()
		stale := now.Sub(e.lastTouched) > idleSessionMaxAge
		e.mu.Unlock()
		if stale {
			idle = append(idle, e)
			ids = append(ids, id)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for i, e := range idle {
		e.mu.Lock()
		e.tracker.ReleaseAll()
		e.mu.Unlock()
		metrics.SessionsActive.Dec()
		slog.Info("Idle session removed", "session_id", ids[i])
	}
}

// Stop stops the cleanup timer. In-flight removals keep running; their
// results are dropped at the generation gate if nobody is left to take them.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.cleanupStopCh)
	})
	s.cleanupWg.Wait()
}
