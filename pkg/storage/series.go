package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Record is implemented by everything a Series can hold.
type Record interface {
	// RecordTime orders the record for retention.
	RecordTime() time.Time
	// RecordKey is the uniqueness key, or empty for records that are never
	// deduplicated.
	RecordKey() string
}

// Series is a bounded, deduplicated, append-only log of one record type.
//
// All operations on a Series are serialized so that an insert and the
// retention pass that follows it can't interleave with another writer.
type Series[T Record] struct {
	mu    sync.Mutex
	db    Database
	table Table
	limit int
	now   func() time.Time
}

// NewSeries returns a Series over table that keeps at most limit rows.
func NewSeries[T Record](db Database, table Table, limit int) *Series[T] {
	return &Series[T]{
		db:    db,
		table: table,
		limit: limit,
		now:   time.Now,
	}
}

// Table returns the table backing the series.
func (s *Series[T]) Table() Table {
	return s.table
}

// Limit returns the retention cap.
func (s *Series[T]) Limit() int {
	return s.limit
}

func unavailable(table Table, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, table, err)
}

// Append inserts rec and enforces retention. It returns false without an error
// when rec's key is already stored or rec is older than every retained record.
func (s *Series[T]) Append(ctx context.Context, rec T) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s record: %w", s.table, err)
	}
	row := Row{
		Key:        rec.RecordKey(),
		Timestamp:  rec.RecordTime().UTC(),
		InsertedAt: s.now().UTC(),
		Data:       data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.db.Insert(ctx, s.table, row, s.limit)
	if err != nil {
		return false, unavailable(s.table, "append to", err)
	}
	return added, nil
}

// AppendAll appends each record in order and returns how many were new. It
// stops at the first error.
func (s *Series[T]) AppendAll(ctx context.Context, recs []T) (int, error) {
	var added int
	for _, rec := range recs {
		ok, err := s.Append(ctx, rec)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// Latest returns the k most recent records ordered oldest to newest.
func (s *Series[T]) Latest(ctx context.Context, k int) ([]T, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	rows, err := s.db.Latest(ctx, s.table, k)
	s.mu.Unlock()
	if err != nil {
		return nil, unavailable(s.table, "read", err)
	}

	recs := make([]T, 0, len(rows))
	for _, row := range rows {
		var rec T
		if err := json.Unmarshal(row.Data, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s row %d: %w", s.table, row.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Last returns the most recent record and false if the series is empty.
func (s *Series[T]) Last(ctx context.Context) (T, bool, error) {
	var zero T
	recs, err := s.Latest(ctx, 1)
	if err != nil || len(recs) == 0 {
		return zero, false, err
	}
	return recs[0], true, nil
}

// EnforceRetention deletes every record not among the most recent Limit.
// Append already does this, so this is only needed after lowering the limit
// or when adopting a table written by something else.
func (s *Series[T]) EnforceRetention(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.db.Trim(ctx, s.table, s.limit)
	if err != nil {
		return 0, unavailable(s.table, "trim", err)
	}
	return n, nil
}

// Count returns the number of stored records.
func (s *Series[T]) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.db.Count(ctx, s.table)
	if err != nil {
		return 0, unavailable(s.table, "count", err)
	}
	return n, nil
}
