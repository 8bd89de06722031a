package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/adforge/api/internal/model"
)

// MemoryStore implements Store with an in-process map. It backs unit tests
// and local development without Redis; the concurrency semantics match the
// Redis implementation.
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	brandImages map[string][]string
}

// NewMemoryStore creates an empty in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*model.Job),
		brandImages: make(map[string][]string),
	}
}

func cloneJob(job *model.Job) *model.Job {
	data, _ := json.Marshal(job)
	var out model.Job
	_ = json.Unmarshal(data, &out)
	return &out
}

func (s *MemoryStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrExists
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, expectedStage model.Stage, apply func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.jobs[id]
	if !exists {
		return nil, ErrNotFound
	}

	if expectedStage != "" && current.Stage != expectedStage {
		return nil, ErrConflict
	}

	job := cloneJob(current)
	if err := apply(job); err != nil {
		return nil, err
	}

	job.Version++
	job.UpdatedAt = time.Now()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryStore) GetBrandImages(ctx context.Context, brandID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := s.brandImages[brandID]
	if urls == nil {
		return nil, nil
	}
	out := make([]string, len(urls))
	copy(out, urls)
	return out, nil
}

func (s *MemoryStore) SetBrandImages(ctx context.Context, brandID string, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]string, len(urls))
	copy(stored, urls)
	s.brandImages[brandID] = stored
	return nil
}
