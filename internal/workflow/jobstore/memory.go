package jobstore

import (
	"context"
	"sort"
	"sync"
)

// memoryStore is the volatile driver. Jobs are gone after a restart.
type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemory returns the in-process volatile store.
func NewMemory() Store {
	return &memoryStore{jobs: map[string]Job{}}
}

func (s *memoryStore) Upsert(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := j
	cp.Segments = append([]string(nil), j.Segments...)
	s.jobs[j.ID] = cp
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := j
		cp.Segments = append([]string(nil), j.Segments...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].TriggerTime.Equal(out[k].TriggerTime) {
			return out[i].ID < out[k].ID
		}
		return out[i].TriggerTime.Before(out[k].TriggerTime)
	})
	return out, nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memoryStore) Close() error { return nil }
