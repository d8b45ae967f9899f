package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	boltRowsBucket   = []byte("rows")
	boltKeysBucket   = []byte("keys")
	boltConfigBucket = []byte("config")
	boltSettingsKey  = []byte("settings")
)

// BoltProvider implements the Database interface on a local bbolt file. Each
// table is a bucket holding a "rows" bucket, keyed so that byte order matches
// (timestamp, id) order, and a "keys" bucket mapping uniqueness keys to row
// keys.
type BoltProvider struct {
	db      *bolt.DB
	path    string
	timeout time.Duration
}

var _ Database = (*BoltProvider)(nil)

type boltRow struct {
	ID         int64           `json:"id"`
	Key        string          `json:"key,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	InsertedAt time.Time       `json:"insertedAt"`
	Data       json.RawMessage `json:"data"`
}

type boltSettings struct {
	Version  int             `json:"version"`
	Settings json.RawMessage `json:"settings"`
}

func configuredBolt() *BoltProvider {
	path := lflag.String("bolt-path", "homeplug.db", "Path to the bbolt database file")
	timeout := lflag.Duration("bolt-open-timeout", 5*time.Second, "How long to wait for the bbolt file lock")

	b := &BoltProvider{}

	lflag.Do(func() {
		b.path = *path
		b.timeout = *timeout
	})

	return b
}

// NewBolt opens (creating if needed) the bbolt file at path.
func NewBolt(ctx context.Context, path string) (*BoltProvider, error) {
	b := &BoltProvider{path: path, timeout: 5 * time.Second}
	if err := b.Init(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks if the provider is properly configured.
func (b *BoltProvider) Validate() error {
	if b.path == "" {
		return errors.New("bolt-path is required")
	}
	return nil
}

// Init opens the database file and creates every bucket.
func (b *BoltProvider) Init(ctx context.Context) error {
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.timeout})
	if err != nil {
		return fmt.Errorf("failed to open bolt database %s: %w", b.path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, table := range Tables {
			tb, err := tx.CreateBucketIfNotExists([]byte(table))
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", table, err)
			}
			if _, err := tb.CreateBucketIfNotExists(boltRowsBucket); err != nil {
				return fmt.Errorf("failed to create rows bucket for %s: %w", table, err)
			}
			if _, err := tb.CreateBucketIfNotExists(boltKeysBucket); err != nil {
				return fmt.Errorf("failed to create keys bucket for %s: %w", table, err)
			}
		}
		_, err := tx.CreateBucketIfNotExists(boltConfigBucket)
		return err
	})
	if err != nil {
		db.Close()
		return err
	}
	b.db = db
	return nil
}

// Close closes the database file.
func (b *BoltProvider) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// boltRowKey encodes (timestamp, id) so that byte order is chronological. The
// sign bit of the seconds is flipped so negative times sort first.
func boltRowKey(ts time.Time, id uint64) []byte {
	k := make([]byte, 20)
	binary.BigEndian.PutUint64(k[0:8], uint64(ts.Unix())^(1<<63))
	binary.BigEndian.PutUint32(k[8:12], uint32(ts.Nanosecond()))
	binary.BigEndian.PutUint64(k[12:20], id)
	return k
}

func boltBuckets(tx *bolt.Tx, table Table) (*bolt.Bucket, *bolt.Bucket, *bolt.Bucket, error) {
	tb := tx.Bucket([]byte(table))
	if tb == nil {
		return nil, nil, nil, fmt.Errorf("unknown table %s", table)
	}
	return tb, tb.Bucket(boltRowsBucket), tb.Bucket(boltKeysBucket), nil
}

func (b *BoltProvider) Insert(ctx context.Context, table Table, row Row, limit int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var added bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		tb, rows, keys, err := boltBuckets(tx, table)
		if err != nil {
			return err
		}
		if row.Key != "" && keys.Get([]byte(row.Key)) != nil {
			return nil
		}
		id, err := tb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate id: %w", err)
		}
		data, err := json.Marshal(boltRow{
			ID:         int64(id),
			Key:        row.Key,
			Timestamp:  row.Timestamp,
			InsertedAt: row.InsertedAt,
			Data:       row.Data,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		rk := boltRowKey(row.Timestamp, id)
		if err := rows.Put(rk, data); err != nil {
			return fmt.Errorf("failed to put row: %w", err)
		}
		if row.Key != "" {
			if err := keys.Put([]byte(row.Key), rk); err != nil {
				return fmt.Errorf("failed to put key: %w", err)
			}
		}
		if _, err := boltTrim(rows, keys, limit); err != nil {
			return err
		}
		// a row older than every retained row is evicted by its own insert
		added = rows.Get(rk) != nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func boltTrim(rows, keys *bolt.Bucket, limit int) (int, error) {
	var stale [][]byte
	var seen int
	c := rows.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		seen++
		if seen <= limit {
			continue
		}
		var r boltRow
		if err := json.Unmarshal(v, &r); err == nil && r.Key != "" {
			if existing := keys.Get([]byte(r.Key)); bytes.Equal(existing, k) {
				if err := keys.Delete([]byte(r.Key)); err != nil {
					return 0, fmt.Errorf("failed to delete key: %w", err)
				}
			}
		}
		stale = append(stale, bytes.Clone(k))
	}
	for _, k := range stale {
		if err := rows.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to delete row: %w", err)
		}
	}
	return len(stale), nil
}

func (b *BoltProvider) Trim(ctx context.Context, table Table, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var deleted int
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, rows, keys, err := boltBuckets(tx, table)
		if err != nil {
			return err
		}
		deleted, err = boltTrim(rows, keys, limit)
		return err
	})
	return deleted, err
}

func (b *BoltProvider) Latest(ctx context.Context, table Table, k int) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Row
	err := b.db.View(func(tx *bolt.Tx) error {
		_, rows, _, err := boltBuckets(tx, table)
		if err != nil {
			return err
		}
		c := rows.Cursor()
		for key, v := c.Last(); key != nil && len(out) < k; key, v = c.Prev() {
			var r boltRow
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal row: %w", err)
			}
			out = append(out, Row{
				ID:         r.ID,
				Key:        r.Key,
				Timestamp:  r.Timestamp,
				InsertedAt: r.InsertedAt,
				Data:       bytes.Clone(r.Data),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reverseRows(out)
	return out, nil
}

func (b *BoltProvider) Count(ctx context.Context, table Table) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		_, rows, _, err := boltBuckets(tx, table)
		if err != nil {
			return err
		}
		n = rows.Stats().KeyN
		return nil
	})
	return n, err
}

func (b *BoltProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw = bytes.Clone(tx.Bucket(boltConfigBucket).Get(boltSettingsKey))
		return nil
	})
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to read settings: %w", err)
	}
	if raw == nil {
		return types.Settings{}, 0, nil
	}
	var bs boltSettings
	if err := json.Unmarshal(raw, &bs); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings envelope: %w", err)
	}
	var s types.Settings
	if err := json.Unmarshal(bs.Settings, &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, bs.Version, nil
}

func (b *BoltProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	sb, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	raw, err := json.Marshal(boltSettings{Version: version, Settings: sb})
	if err != nil {
		return fmt.Errorf("failed to marshal settings envelope: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltConfigBucket).Put(boltSettingsKey, raw)
	})
}
