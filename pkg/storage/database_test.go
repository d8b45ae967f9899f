package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

var testBase = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func testRow(key string, hour int) Row {
	return Row{
		Key:        key,
		Timestamp:  testBase.Add(time.Duration(hour) * time.Hour),
		InsertedAt: testBase,
		Data:       []byte(fmt.Sprintf(`{"hour":%d}`, hour)),
	}
}

func rowHours(t *testing.T, rows []Row) []int {
	t.Helper()
	hours := make([]int, 0, len(rows))
	for _, r := range rows {
		var d struct {
			Hour int `json:"hour"`
		}
		require.NoError(t, json.Unmarshal(r.Data, &d))
		hours = append(hours, d.Hour)
	}
	return hours
}

func rowKeys(rows []Row) []string {
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	return keys
}

// testDatabase runs the behavior every Database implementation must share. db
// must start empty.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()

	t.Run("Dedup", func(t *testing.T) {
		added, err := db.Insert(ctx, TablePrices, testRow("a", 1), 10)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = db.Insert(ctx, TablePrices, testRow("b", 2), 10)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = db.Insert(ctx, TablePrices, testRow("a", 3), 10)
		require.NoError(t, err)
		assert.False(t, added, "duplicate key should not be inserted")

		n, err := db.Count(ctx, TablePrices)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rows, err := db.Latest(ctx, TablePrices, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, rowKeys(rows))
		assert.Equal(t, []int{1, 2}, rowHours(t, rows), "the first write of a key wins")
	})

	t.Run("Retention", func(t *testing.T) {
		for _, h := range []int{5, 1, 4, 2, 3} {
			added, err := db.Insert(ctx, TableMetrics, testRow("", h), 3)
			require.NoError(t, err)
			assert.True(t, added)

			n, err := db.Count(ctx, TableMetrics)
			require.NoError(t, err)
			assert.LessOrEqual(t, n, 3)
		}

		rows, err := db.Latest(ctx, TableMetrics, 10)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 4, 5}, rowHours(t, rows))
		for _, r := range rows {
			assert.Positive(t, r.ID)
			assert.True(t, r.InsertedAt.Equal(testBase))
		}

		rows, err = db.Latest(ctx, TableMetrics, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 5}, rowHours(t, rows))

		deleted, err := db.Trim(ctx, TableMetrics, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		n, err := db.Count(ctx, TableMetrics)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		deleted, err = db.Trim(ctx, TableMetrics, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})

	t.Run("UnkeyedNeverDedup", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			added, err := db.Insert(ctx, TableSolar, testRow("", 7), 10)
			require.NoError(t, err)
			assert.True(t, added)
		}
		n, err := db.Count(ctx, TableSolar)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = db.Trim(ctx, TableSolar, 0)
		require.NoError(t, err)
		n, err = db.Count(ctx, TableSolar)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("TiesEvictEarliestInsert", func(t *testing.T) {
		for _, key := range []string{"x", "y"} {
			added, err := db.Insert(ctx, TableSolar, testRow(key, 1), 2)
			require.NoError(t, err)
			assert.True(t, added)
		}
		added, err := db.Insert(ctx, TableSolar, testRow("z", 2), 2)
		require.NoError(t, err)
		assert.True(t, added)

		rows, err := db.Latest(ctx, TableSolar, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"y", "z"}, rowKeys(rows))

		// an evicted key is no longer present so it can be stored again
		added, err = db.Insert(ctx, TableSolar, testRow("x", 3), 2)
		require.NoError(t, err)
		assert.True(t, added)

		rows, err = db.Latest(ctx, TableSolar, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "x"}, rowKeys(rows))
	})

	t.Run("OlderThanRetainedNotAdded", func(t *testing.T) {
		// the table holds z (hour 2) and x (hour 3)
		added, err := db.Insert(ctx, TableSolar, testRow("w", 0), 2)
		require.NoError(t, err)
		assert.False(t, added, "a row evicted by its own insert is not added")

		rows, err := db.Latest(ctx, TableSolar, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "x"}, rowKeys(rows))

		// an equal timestamp is newer than the existing row
		added, err = db.Insert(ctx, TableSolar, testRow("u", 2), 2)
		require.NoError(t, err)
		assert.True(t, added)

		rows, err = db.Latest(ctx, TableSolar, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"u", "x"}, rowKeys(rows))

		// a smaller limit still trims the table when the new row is dropped
		added, err = db.Insert(ctx, TableSolar, testRow("t", 0), 1)
		require.NoError(t, err)
		assert.False(t, added)

		rows, err = db.Latest(ctx, TableSolar, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, rowKeys(rows))
	})

	t.Run("Settings", func(t *testing.T) {
		s, version, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Equal(t, types.Settings{}, s)

		want := types.Settings{
			CurrentTemperature:   21,
			LowThresholdPercent:  30,
			HighThresholdPercent: 85,
		}
		require.NoError(t, db.SetSettings(ctx, want, types.CurrentSettingsVersion))

		s, version, err = db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, want, s)
	})
}

func TestMemoryProvider(t *testing.T) {
	testDatabase(t, NewMemory())
}

func TestBoltProvider(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "homeplug.db")

	b, err := NewBolt(ctx, path)
	require.NoError(t, err)
	testDatabase(t, b)
	require.NoError(t, b.Close())

	t.Run("Reopen", func(t *testing.T) {
		b, err := NewBolt(ctx, path)
		require.NoError(t, err)
		defer b.Close()

		rows, err := b.Latest(ctx, TableSolar, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "x"}, rowKeys(rows))

		// the sequence survives reopening
		added, err := b.Insert(ctx, TableSolar, testRow("w", 3), 10)
		require.NoError(t, err)
		assert.True(t, added)
		rows, err = b.Latest(ctx, TableSolar, 1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "w", rows[0].Key)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, (&BoltProvider{}).Validate())
		assert.NoError(t, (&BoltProvider{path: path}).Validate())
	})
}

func TestBoltRowKeyOrder(t *testing.T) {
	times := []time.Time{
		{},
		time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 0, 1, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 1, 0, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		prev := boltRowKey(times[i-1], 100)
		cur := boltRowKey(times[i], 1)
		assert.True(t, string(prev) < string(cur), "index %d", i)
	}
	assert.True(t, string(boltRowKey(testBase, 1)) < string(boltRowKey(testBase, 2)))
}
