// Package mongorunlog implements store.RunLogStore against MongoDB: an
// append-only, ObjectID-cursor-paginated log of a run's events, separate
// from mongosession's whole-snapshot round-trip. Grounded on the teacher's
// features/runlog/mongo/clients/mongo/client.go: events insert with a
// Mongo-assigned ObjectID, List filters on `_id > cursor` and orders
// ascending, turning the natural insertion order into a stable forward
// cursor with no separate sequence counter to maintain.
package mongorunlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/store"
)

const (
	defaultCollection = "agent_run_events"
	defaultTimeout    = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements store.RunLogStore against a Mongo collection.
type Store struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New returns a Store backed by the given Mongo client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongorunlog: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongorunlog: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)
	return &Store{coll: coll, timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Append implements store.RunLogStore.
func (s *Store) Append(ctx context.Context, runID string, e event.Event) error {
	if runID == "" {
		return errors.New("mongorunlog: run id is required")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("mongorunlog: encode event: %w", err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := eventDocument{RunID: runID, Kind: string(e.Kind), Payload: payload, Timestamp: time.Now().UTC()}
	_, err = s.coll.InsertOne(ctx, doc)
	return err
}

// List implements store.RunLogStore.
func (s *Store) List(ctx context.Context, runID string, cursor string, limit int) (store.Page, error) {
	if runID == "" {
		return store.Page{}, errors.New("mongorunlog: run id is required")
	}
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{"run_id": runID}
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return store.Page{}, fmt.Errorf("mongorunlog: invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return store.Page{}, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var page store.Page
	var lastID bson.ObjectID
	count := 0
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return store.Page{}, err
		}
		var ev event.Event
		if err := json.Unmarshal(doc.Payload, &ev); err != nil {
			return store.Page{}, fmt.Errorf("mongorunlog: decode event: %w", err)
		}
		page.Entries = append(page.Entries, store.LogEntry{RunID: runID, Cursor: doc.ID.Hex(), Event: ev})
		lastID = doc.ID
		count++
	}
	if err := cur.Err(); err != nil {
		return store.Page{}, err
	}
	if count == limit {
		page.NextCursor = lastID.Hex()
	}
	return page, nil
}

type eventDocument struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	RunID     string        `bson:"run_id"`
	Kind      string        `bson:"kind"`
	Payload   []byte        `bson:"payload"`
	Timestamp time.Time     `bson:"timestamp"`
}
