package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/types"
)

// DefaultRetentionCap is how many rows each table keeps unless overridden.
const DefaultRetentionCap = 200

var (
	// ErrUnavailable wraps every failure of the persistence layer. Callers
	// should treat it as transient and retry on their next tick.
	ErrUnavailable = errors.New("store unavailable")
)

// Table names a bounded, append-only table.
type Table string

const (
	TableMetrics Table = "metrics_samples"
	TablePrices  Table = "price_samples"
	TableSolar   Table = "solar_samples"
)

// Tables lists every table a Database must provide.
var Tables = []Table{TableMetrics, TablePrices, TableSolar}

// Row is the persisted envelope around one record.
type Row struct {
	// ID is assigned by the database on insert and increases monotonically
	// within a table.
	ID int64
	// Key is the uniqueness key. Empty means the row is never deduplicated.
	Key string
	// Timestamp orders rows for retention and reads.
	Timestamp time.Time
	// InsertedAt is when the row was written.
	InsertedAt time.Time
	// Data is the JSON encoded record.
	Data []byte
}

// Database defines the interface for persisting rows and settings.
//
// Row ordering is by Timestamp and then by ID, so among rows with equal
// timestamps the earliest inserted is considered oldest.
type Database interface {
	// Insert adds row to table unless row.Key is non-empty and a row with the
	// same key is already present. After a successful insert the table is
	// trimmed to its limit most recent rows within the same transaction. It
	// reports whether row is stored once the trim is done.
	Insert(ctx context.Context, table Table, row Row, limit int) (bool, error)
	// Trim deletes every row not among the limit most recent and reports how
	// many were deleted.
	Trim(ctx context.Context, table Table, limit int) (int, error)
	// Latest returns up to k of the most recent rows ordered oldest to newest.
	Latest(ctx context.Context, table Table, k int) ([]Row, error)
	// Count returns the number of rows in table.
	Count(ctx context.Context, table Table) (int, error)

	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Lifecycle
	Close() error
}

// Store bundles the typed series the rest of the process reads and writes.
type Store struct {
	Database
	Metrics *Series[types.MetricsSample]
	Prices  *Series[types.PriceSample]
	Solar   *Series[types.SolarSample]
}

// NewStore wraps db with one series per table, each capped at retention rows.
func NewStore(db Database, retention int) *Store {
	s := &Store{}
	s.init(db, retention)
	return s
}

func (s *Store) init(db Database, retention int) {
	s.Database = db
	s.Metrics = NewSeries[types.MetricsSample](db, TableMetrics, retention)
	s.Prices = NewSeries[types.PriceSample](db, TablePrices, retention)
	s.Solar = NewSeries[types.SolarSample](db, TableSolar, retention)
}

// Configured sets up the Storage provider based on flags.
func Configured() *Store {
	provider := lflag.String("storage-provider", "bolt", "Storage provider to use (available: bolt, postgres, firestore, memory)")
	retention := lflag.Int("retention-cap", DefaultRetentionCap, "Maximum number of rows kept per table")

	var p struct{ Database }
	s := &Store{}

	bdb := configuredBolt()
	pg := configuredPostgres()
	fs := configuredFirestore()

	lflag.Do(func() {
		if *retention <= 0 {
			panic(fmt.Sprintf("retention-cap must be positive: %d", *retention))
		}
		switch *provider {
		case "bolt":
			if err := bdb.Validate(); err != nil {
				panic(fmt.Sprintf("bolt validation failed: %v", err))
			}
			p.Database = bdb
			if err := bdb.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("bolt init failed: %v", err))
			}
		case "postgres":
			if err := pg.Validate(); err != nil {
				panic(fmt.Sprintf("postgres validation failed: %v", err))
			}
			p.Database = pg
			if err := pg.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("postgres init failed: %v", err))
			}
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
		s.init(&p, *retention)
	})

	return s
}
