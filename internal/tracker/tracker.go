// Package tracker owns the ephemeral decoded resources of one editing
// session. Handles are generation-tagged; release is idempotent so a handle
// revoked while a dependent decode is still pending never turns into a crash
// — the stale result is dropped by the state machine instead.
package tracker

import (
	"image"
	"log/slog"
	"sync"

	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/metrics"
)

type entry struct {
	generation uint64
	img        image.Image
	raw        []byte
}

// Tracker is a map of live handles to decoded resources.
type Tracker struct {
	mu      sync.Mutex
	entries map[domain.Handle]entry
}

var _ domain.Tracker = (*Tracker)(nil)

func New() *Tracker {
	return &Tracker{entries: make(map[domain.Handle]entry)}
}

// Acquire registers a resource under a fresh handle tagged with the given
// generation. Either img or raw may be nil.
func (t *Tracker) Acquire(generation uint64, img image.Image, raw []byte) domain.Handle {
	h := domain.NewHandle()

	t.mu.Lock()
	t.entries[h] = entry{generation: generation, img: img, raw: raw}
	t.mu.Unlock()

	metrics.HandlesLive.Inc()
	return h
}

// Release drops the resource behind h. Releasing the zero handle, an unknown
// handle, or an already-released handle is a safe no-op.
func (t *Tracker) Release(h domain.Handle) {
	if h.IsZero() {
		return
	}

	t.mu.Lock()
	_, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	t.mu.Unlock()

	if !ok {
		slog.Debug("Release of unknown handle ignored", "handle", h.String())
		return
	}
	metrics.HandlesLive.Dec()
}

// ReleaseAll drops every live resource. Called on session teardown.
func (t *Tracker) ReleaseAll() {
	t.mu.Lock()
	n := len(t.entries)
	t.entries = make(map[domain.Handle]entry)
	t.mu.Unlock()

	metrics.HandlesLive.Sub(float64(n))
}

// Image returns the decoded image behind h, if the handle is still live.
func (t *Tracker) Image(h domain.Handle) (image.Image, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok || e.img == nil {
		return nil, false
	}
	return e.img, true
}

// Bytes returns the raw bytes behind h, if the handle is still live.
func (t *Tracker) Bytes(h domain.Handle) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok || e.raw == nil {
		return nil, false
	}
	return e.raw, true
}

// Live returns the number of live handles.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Generation returns the generation tag of a live handle.
func (t *Tracker) Generation(h domain.Handle) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	return e.generation, ok
}
