package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/raterudder/homeplug/pkg/types"
)

// MemoryProvider keeps every table in process memory. It is used by tests and
// for running without any persistence.
type MemoryProvider struct {
	mu              sync.Mutex
	tables          map[Table]*memoryTable
	settings        types.Settings
	settingsVersion int
}

type memoryTable struct {
	// rows are kept sorted oldest to newest
	rows   []Row
	keys   map[string]struct{}
	nextID int64
}

var _ Database = (*MemoryProvider)(nil)

// NewMemory returns an empty MemoryProvider.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{
		tables: make(map[Table]*memoryTable),
	}
}

func (m *MemoryProvider) table(table Table) *memoryTable {
	t, ok := m.tables[table]
	if !ok {
		t = &memoryTable{keys: make(map[string]struct{})}
		m.tables[table] = t
	}
	return t
}

// compareRows orders rows by timestamp and then by id.
func compareRows(a, b Row) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func reverseRows(rows []Row) {
	slices.Reverse(rows)
}

func (m *MemoryProvider) Insert(ctx context.Context, table Table, row Row, limit int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	if row.Key != "" {
		if _, ok := t.keys[row.Key]; ok {
			return false, nil
		}
		t.keys[row.Key] = struct{}{}
	}
	t.nextID++
	row.ID = t.nextID
	row.Data = slices.Clone(row.Data)

	i, _ := slices.BinarySearchFunc(t.rows, row, compareRows)
	t.rows = slices.Insert(t.rows, i, row)
	// a row older than every retained row is evicted by its own insert
	return i >= t.trim(limit), nil
}

func (t *memoryTable) trim(limit int) int {
	excess := len(t.rows) - limit
	if excess <= 0 {
		return 0
	}
	for _, row := range t.rows[:excess] {
		if row.Key != "" {
			delete(t.keys, row.Key)
		}
	}
	t.rows = slices.Delete(t.rows, 0, excess)
	return excess
}

func (m *MemoryProvider) Trim(ctx context.Context, table Table, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table(table).trim(limit), nil
}

func (m *MemoryProvider) Latest(ctx context.Context, table Table, k int) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.table(table).rows
	if k < len(rows) {
		rows = rows[len(rows)-k:]
	}
	return slices.Clone(rows), nil
}

func (m *MemoryProvider) Count(ctx context.Context, table Table) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table(table).rows), nil
}

func (m *MemoryProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, m.settingsVersion, nil
}

func (m *MemoryProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.settingsVersion = version
	return nil
}

func (m *MemoryProvider) Close() error {
	return nil
}
