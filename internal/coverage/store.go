package coverage

import (
	"context"
	"sort"
	"sync"
)

// Store persists cell counters per source. Implementations must be safe for
// concurrent use.
type Store interface {
	// Add increments the counters of one cell.
	Add(ctx context.Context, source string, cellID int, received, missing int64) error
	// Cells returns every recorded cell of source.
	Cells(ctx context.Context, source string) (map[int]CellStats, error)
	// Sources lists the sources with at least one recorded cell, sorted.
	Sources(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore keeps all counters in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	cells map[string]map[int]CellStats
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cells: make(map[string]map[int]CellStats)}
}

func (m *MemoryStore) Add(_ context.Context, source string, cellID int, received, missing int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	grid, ok := m.cells[source]
	if !ok {
		grid = make(map[int]CellStats)
		m.cells[source] = grid
	}
	grid[cellID] = grid[cellID].Add(CellStats{Received: received, Missing: missing})
	return nil
}

func (m *MemoryStore) Cells(_ context.Context, source string) (map[int]CellStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grid, ok := m.cells[source]
	if !ok {
		return nil, ErrUnknownSource
	}
	out := make(map[int]CellStats, len(grid))
	for id, c := range grid {
		out[id] = c
	}
	return out, nil
}

func (m *MemoryStore) Sources(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.cells))
	for s := range m.cells {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
