package countstore

import (
	"context"
	"sync"
)

type MemCountStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts: make(map[string]int64),
	}
}

var _ CountStore = (*MemCountStore)(nil)

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		s.counts[periodBucket(name, val, p)]++
	}
	return nil
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counts[periodBucket(name, val, period)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}
