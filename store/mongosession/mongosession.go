// Package mongosession implements store.SessionStore, store.SessionLifecycle,
// and store.RunStore against MongoDB via go.mongodb.org/mongo-driver/v2, the
// durable alternative to memstore a host wires in when it needs session
// snapshots and run metadata to survive a process restart (spec.md §6.2).
//
// Grounded on the teacher's features/session/mongo/store.go +
// clients/mongo/client.go: a thin Store wrapping a collection handle,
// idempotent upserts via $setOnInsert for creation and $set for updates,
// bson-tagged document types translating to/from the store package's
// plain structs.
package mongosession

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/store"
)

const (
	defaultSnapshotsCollection = "agent_session_snapshots"
	defaultSessionsCollection  = "agent_sessions"
	defaultRunsCollection      = "agent_runs"
	defaultOpTimeout           = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	Client              *mongodriver.Client
	Database            string
	SnapshotsCollection string
	SessionsCollection  string
	RunsCollection      string
	Timeout             time.Duration
}

// Store implements store.SessionStore, store.SessionLifecycle, and
// store.RunStore against MongoDB collections.
type Store struct {
	snapshots *mongodriver.Collection
	sessions  *mongodriver.Collection
	runs      *mongodriver.Collection
	timeout   time.Duration
}

// New returns a Store backed by the given Mongo client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongosession: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongosession: database name is required")
	}
	snapshotsCollection := opts.SnapshotsCollection
	if snapshotsCollection == "" {
		snapshotsCollection = defaultSnapshotsCollection
	}
	sessionsCollection := opts.SessionsCollection
	if sessionsCollection == "" {
		sessionsCollection = defaultSessionsCollection
	}
	runsCollection := opts.RunsCollection
	if runsCollection == "" {
		runsCollection = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	return &Store{
		snapshots: db.Collection(snapshotsCollection),
		sessions:  db.Collection(sessionsCollection),
		runs:      db.Collection(runsCollection),
		timeout:   timeout,
	}, nil
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

// Load implements store.SessionStore.
func (s *Store) Load(ctx context.Context, sessionID string) (store.Snapshot, error) {
	if sessionID == "" {
		return store.Snapshot{}, errors.New("mongosession: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc snapshotDocument
	if err := s.snapshots.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.Snapshot{}, store.ErrSnapshotNotFound
		}
		return store.Snapshot{}, err
	}
	return doc.toSnapshot(), nil
}

// Commit implements store.SessionStore.
func (s *Store) Commit(ctx context.Context, snap store.Snapshot) error {
	if snap.SessionID == "" {
		return errors.New("mongosession: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := fromSnapshot(snap)
	filter := bson.M{"session_id": snap.SessionID}
	update := bson.M{"$set": bson.M{
		"session_id": doc.SessionID,
		"events":     doc.Events,
		"cursor":     doc.Cursor,
	}}
	_, err := s.snapshots.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// CreateSession implements store.SessionLifecycle.
func (s *Store) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (store.SessionRecord, error) {
	if sessionID == "" {
		return store.SessionRecord{}, errors.New("mongosession: session id is required")
	}
	existing, err := s.LoadSession(ctx, sessionID)
	if err == nil {
		if existing.Status == store.SessionEnded {
			return store.SessionRecord{}, store.ErrSessionEnded
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return store.SessionRecord{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		// Idempotent insert: never touches an existing session document.
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"status":     store.SessionActive,
			"created_at": createdAt.UTC(),
		},
	}
	if _, err := s.sessions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return store.SessionRecord{}, err
	}
	return s.LoadSession(ctx, sessionID)
}

// LoadSession implements store.SessionLifecycle.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (store.SessionRecord, error) {
	if sessionID == "" {
		return store.SessionRecord{}, errors.New("mongosession: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.SessionRecord{}, store.ErrSessionNotFound
		}
		return store.SessionRecord{}, err
	}
	return doc.toRecord(), nil
}

// EndSession implements store.SessionLifecycle.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (store.SessionRecord, error) {
	existing, err := s.LoadSession(ctx, sessionID)
	if err != nil {
		return store.SessionRecord{}, err
	}
	if existing.Status == store.SessionEnded {
		return existing, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{"$set": bson.M{"status": store.SessionEnded, "ended_at": endedAt.UTC()}}
	if _, err := s.sessions.UpdateOne(ctx, filter, update); err != nil {
		return store.SessionRecord{}, err
	}
	return s.LoadSession(ctx, sessionID)
}

// UpsertRun implements store.RunStore.
func (s *Store) UpsertRun(ctx context.Context, run store.RunMeta) error {
	if run.RunID == "" || run.SessionID == "" {
		return errors.New("mongosession: run id and session id are required")
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := fromRunMeta(run)
	filter := bson.M{"run_id": run.RunID}
	update := bson.M{
		"$set": bson.M{
			"run_id":     doc.RunID,
			"agent_id":   doc.AgentID,
			"session_id": doc.SessionID,
			"status":     doc.Status,
			"updated_at": doc.UpdatedAt,
			"labels":     doc.Labels,
			"metadata":   doc.Metadata,
		},
		"$setOnInsert": bson.M{"started_at": doc.StartedAt},
	}
	_, err := s.runs.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// LoadRun implements store.RunStore.
func (s *Store) LoadRun(ctx context.Context, runID string) (store.RunMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := s.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.RunMeta{}, store.ErrRunNotFound
		}
		return store.RunMeta{}, err
	}
	return doc.toRunMeta(), nil
}

// ListRunsBySession implements store.RunStore.
func (s *Store) ListRunsBySession(ctx context.Context, sessionID string, statuses []store.RunStatus) ([]store.RunMeta, error) {
	filter := bson.M{"session_id": sessionID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.runs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []store.RunMeta
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRunMeta())
	}
	return out, cur.Err()
}

type snapshotDocument struct {
	SessionID string        `bson:"session_id"`
	Events    []event.Event `bson:"events"`
	Cursor    int           `bson:"cursor"`
}

func (d snapshotDocument) toSnapshot() store.Snapshot {
	return store.Snapshot{SessionID: d.SessionID, Events: d.Events, Cursor: d.Cursor}
}

func fromSnapshot(snap store.Snapshot) snapshotDocument {
	return snapshotDocument{SessionID: snap.SessionID, Events: snap.Events, Cursor: snap.Cursor}
}

type sessionDocument struct {
	SessionID string              `bson:"session_id"`
	Status    store.SessionStatus `bson:"status"`
	CreatedAt time.Time           `bson:"created_at"`
	EndedAt   *time.Time          `bson:"ended_at,omitempty"`
}

func (d sessionDocument) toRecord() store.SessionRecord {
	return store.SessionRecord{ID: d.SessionID, Status: d.Status, CreatedAt: d.CreatedAt, EndedAt: d.EndedAt}
}

type runDocument struct {
	RunID     string            `bson:"run_id"`
	AgentID   string            `bson:"agent_id"`
	SessionID string            `bson:"session_id"`
	Status    store.RunStatus   `bson:"status"`
	StartedAt time.Time         `bson:"started_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
	Labels    map[string]string `bson:"labels,omitempty"`
	Metadata  map[string]any    `bson:"metadata,omitempty"`
}

func (d runDocument) toRunMeta() store.RunMeta {
	return store.RunMeta{
		RunID: d.RunID, AgentID: d.AgentID, SessionID: d.SessionID, Status: d.Status,
		StartedAt: d.StartedAt, UpdatedAt: d.UpdatedAt, Labels: d.Labels, Metadata: d.Metadata,
	}
}

func fromRunMeta(run store.RunMeta) runDocument {
	return runDocument{
		RunID: run.RunID, AgentID: run.AgentID, SessionID: run.SessionID, Status: run.Status,
		StartedAt: run.StartedAt, UpdatedAt: run.UpdatedAt, Labels: run.Labels, Metadata: run.Metadata,
	}
}
