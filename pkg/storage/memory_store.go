package storage

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

// memoryStore implements JobStore in process memory. Records live for the
// lifetime of the process.
type memoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]models.Job
	closed bool
}

func NewMemoryStore() JobStore {
	return &memoryStore{jobs: make(map[string]models.Job)}
}

func clone(j models.Job) models.Job {
	j.Params = maps.Clone(j.Params)
	j.Result = maps.Clone(j.Result)
	return j
}

func (m *memoryStore) CreateJob(ctx context.Context, job models.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("store is closed")
	}
	if _, exists := m.jobs[job.ID]; exists {
		return errors.Wrap(ErrAlreadyExists, job.ID)
	}
	m.jobs[job.ID] = clone(job)
	return nil
}

func (m *memoryStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.Job{}, errors.Wrap(ErrNotFound, id)
	}
	return clone(j), nil
}

func (m *memoryStore) UpdateJob(ctx context.Context, job models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("store is closed")
	}
	prev, ok := m.jobs[job.ID]
	if !ok {
		return errors.Wrap(ErrNotFound, job.ID)
	}
	if err := CheckTransition(prev, job); err != nil {
		return err
	}
	m.jobs[job.ID] = clone(job)
	return nil
}

func (m *memoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]models.Job, error) {
	m.mu.RLock()
	jobs := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if filter.Matches(j) {
			jobs = append(jobs, clone(j))
		}
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
