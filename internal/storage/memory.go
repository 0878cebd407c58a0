package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
)

type memoryRepo struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]cohort.Run
}

// NewMemoryRepository keeps runs in process memory. Used when no database is
// configured and in tests.
func NewMemoryRepository() Repository {
	return &memoryRepo{runs: make(map[uuid.UUID]cohort.Run)}
}

func (m *memoryRepo) SaveRun(_ context.Context, run *cohort.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, run.ID)
	}
	stored := *run
	stored.RecordCount = len(run.Records)
	stored.Records = make([]cohort.Record, len(run.Records))
	copy(stored.Records, run.Records)
	m.runs[run.ID] = stored
	return nil
}

func (m *memoryRepo) GetRun(_ context.Context, id uuid.UUID) (*cohort.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	run.Records = append([]cohort.Record(nil), run.Records...)
	return &run, nil
}

func (m *memoryRepo) ListRuns(_ context.Context, limit int) ([]cohort.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	runs := make([]cohort.Run, 0, len(m.runs))
	for _, r := range m.runs {
		r.Records = nil
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
