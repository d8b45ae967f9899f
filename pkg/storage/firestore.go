package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreMetaCollection = "series_meta"

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Each table is a top-level collection and each row a document
// holding the record as a JSON string.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	prefix    string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	prefix := lflag.String("firestore-collection-prefix", "", "Prefix added to every Firestore collection name")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.prefix = *prefix

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// the project ID can be inferred from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + name)
}

func (f *FirestoreProvider) newestFirst(table Table) firestore.Query {
	return f.collection(string(table)).
		OrderBy("timestamp", firestore.Desc).
		OrderBy("id", firestore.Desc)
}

// Insert creates the row's document, bumps the table's id counter and deletes
// the rows pushed past limit, all in one transaction. Keyed rows use their key
// as the document ID so an existing document means the row is a duplicate.
func (f *FirestoreProvider) Insert(ctx context.Context, table Table, row Row, limit int) (bool, error) {
	coll := f.collection(string(table))
	docID := row.Key
	if docID == "" {
		docID = uuid.NewString()
	}
	docRef := coll.Doc(docID)
	metaRef := f.collection(firestoreMetaCollection).Doc(string(table))

	var added bool
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		added = false
		// firestore requires every read to happen before the first write
		if row.Key != "" {
			_, err := tx.Get(docRef)
			if err == nil {
				return nil
			}
			if status.Code(err) != codes.NotFound {
				return fmt.Errorf("failed to check for existing row: %w", err)
			}
		}

		nextID := int64(1)
		meta, err := tx.Get(metaRef)
		if err == nil {
			if v, err := meta.DataAt("nextID"); err == nil {
				if n, ok := v.(int64); ok {
					nextID = n
				}
			}
		} else if status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read id counter: %w", err)
		}

		// rows past the limit-1 most recent are evicted, unless the new row
		// is older than all of them, in which case the newest one stays
		candidates, err := f.trimCandidates(tx, table, limit-1)
		if err != nil {
			return err
		}
		stale := candidates
		switch {
		case limit <= 0:
		case len(candidates) > 0 && row.Timestamp.Before(candidates[0].timestamp):
			stale = candidates[1:]
		default:
			if err := tx.Create(docRef, map[string]interface{}{
				"id":         nextID,
				"key":        row.Key,
				"timestamp":  row.Timestamp,
				"insertedAt": row.InsertedAt,
				"json":       string(row.Data),
			}); err != nil {
				return fmt.Errorf("failed to create row: %w", err)
			}
			if err := tx.Set(metaRef, map[string]interface{}{
				"nextID": nextID + 1,
			}); err != nil {
				return fmt.Errorf("failed to bump id counter: %w", err)
			}
			added = true
		}

		for _, c := range stale {
			if err := tx.Delete(c.ref); err != nil {
				return fmt.Errorf("failed to delete row %s: %w", c.ref.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return added, nil
}

type firestoreCandidate struct {
	ref       *firestore.DocumentRef
	timestamp time.Time
}

// trimCandidates returns every row after the offset most recent, newest first.
func (f *FirestoreProvider) trimCandidates(tx *firestore.Transaction, table Table, offset int) ([]firestoreCandidate, error) {
	iter := tx.Documents(f.newestFirst(table).Offset(max(offset, 0)).Select("timestamp"))
	defer iter.Stop()

	var out []firestoreCandidate
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate rows: %w", err)
		}
		var d struct {
			Timestamp time.Time `firestore:"timestamp"`
		}
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode row %s: %w", doc.Ref.ID, err)
		}
		out = append(out, firestoreCandidate{ref: doc.Ref, timestamp: d.Timestamp})
	}
	return out, nil
}

// Trim deletes every document past the limit most recent in a single
// transaction.
func (f *FirestoreProvider) Trim(ctx context.Context, table Table, limit int) (int, error) {
	var deleted int
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = 0
		iter := tx.Documents(f.newestFirst(table).Offset(limit).Select())
		defer iter.Stop()

		var refs []*firestore.DocumentRef
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to iterate rows: %w", err)
			}
			refs = append(refs, doc.Ref)
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return fmt.Errorf("failed to delete row %s: %w", ref.ID, err)
			}
		}
		deleted = len(refs)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to trim %s: %w", table, err)
	}
	return deleted, nil
}

// Latest returns up to k of the most recent documents ordered oldest to newest.
func (f *FirestoreProvider) Latest(ctx context.Context, table Table, k int) ([]Row, error) {
	iter := f.newestFirst(table).Limit(k).Documents(ctx)
	defer iter.Stop()

	var rows []Row
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
		}
		row, err := firestoreRow(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed row", slog.String("table", string(table)), slog.String("doc", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		rows = append(rows, row)
	}
	reverseRows(rows)
	return rows, nil
}

func firestoreRow(doc *firestore.DocumentSnapshot) (Row, error) {
	var d struct {
		ID         int64     `firestore:"id"`
		Key        string    `firestore:"key"`
		JSON       string    `firestore:"json"`
		Timestamp  time.Time `firestore:"timestamp"`
		InsertedAt time.Time `firestore:"insertedAt"`
	}
	if err := doc.DataTo(&d); err != nil {
		return Row{}, fmt.Errorf("failed to decode document: %w", err)
	}
	if d.JSON == "" {
		return Row{}, fmt.Errorf("document missing 'json' field")
	}
	return Row{
		ID:         d.ID,
		Key:        d.Key,
		Timestamp:  d.Timestamp,
		InsertedAt: d.InsertedAt,
		Data:       []byte(d.JSON),
	}, nil
}

// Count returns the number of documents in the table's collection.
func (f *FirestoreProvider) Count(ctx context.Context, table Table) (int, error) {
	docs, err := f.collection(string(table)).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return len(docs), nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json")
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string")
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = f.collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
