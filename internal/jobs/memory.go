package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はプロセス内にジョブを保持する Store 実装です。
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, id, correlationID string) (*Job, error) {
	job, err := newJob(id, correlationID, s.now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return nil, fmt.Errorf("job already exists: %s", id)
	}
	s.jobs[id] = job
	return job.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Clone(), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, line string) error {
	return s.update(id, setStatus(status, line))
}

func (s *MemoryStore) AppendLog(ctx context.Context, id, line string) error {
	return s.update(id, addLog(line))
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress float64, line string) error {
	return s.update(id, setProgress(progress, line))
}

func (s *MemoryStore) Finish(ctx context.Context, id string, status Status, result *Result, line string) error {
	return s.update(id, finish(status, result, line))
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			out = append(out, job.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) update(id string, mutate mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := job.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	touch(next, s.now())
	s.jobs[id] = next
	return nil
}
