package redis

import (
	"context"
	"sync/atomic"

	"github.com/cutoutlab/cutout/internal/domain"
)

// MemoryWarmupStore is the fallback used when no redis is configured: the
// warmed flag then lives only as long as the process.
type MemoryWarmupStore struct {
	warmed atomic.Bool
}

var _ domain.WarmupStore = (*MemoryWarmupStore)(nil)

func NewMemoryWarmupStore() *MemoryWarmupStore {
	return &MemoryWarmupStore{}
}

func (s *MemoryWarmupStore) IsWarmed(context.Context) (bool, error) {
	return s.warmed.Load(), nil
}

func (s *MemoryWarmupStore) MarkWarmed(context.Context) error {
	s.warmed.Store(true)
	return nil
}
