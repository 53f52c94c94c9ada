// MongoDiagnosticsStore mirrors diagnostic entries into MongoDB for
// longer-than-in-memory retention, adapted from the teacher's
// services/database.go Database (MongoDB connect/ping/insert shape),
// repointed from stock closing-price documents onto diagnostic entries.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pricewatch/models"
)

var (
	ErrMongoURINotSet  = errors.New("store: mongo uri not set")
	ErrMongoConnection = errors.New("store: mongo connection failed")
	ErrMongoQuery      = errors.New("store: mongo query failed")
)

// MongoDiagnosticsStore writes a copy of every diagnostic entry to a
// MongoDB collection. It is optional (spec's §6 query-diagnostics route
// is fully served by the in-memory ring buffer); this exists for
// deployments that want diagnostics retained past a process restart.
type MongoDiagnosticsStore struct {
	client *mongo.Client
	dbName string
}

// NewMongoDiagnosticsStore connects and pings, mirroring the teacher's
// NewDatabase.
func NewMongoDiagnosticsStore(uri, dbName string) (*MongoDiagnosticsStore, error) {
	if uri == "" {
		return nil, ErrMongoURINotSet
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMongoConnection, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMongoConnection, err)
	}

	if dbName == "" {
		dbName = "pricewatch"
	}
	return &MongoDiagnosticsStore{client: client, dbName: dbName}, nil
}

// Insert mirrors one diagnostic entry.
func (m *MongoDiagnosticsStore) Insert(ctx context.Context, e models.DiagnosticEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	collection := m.client.Database(m.dbName).Collection("diagnostics")
	if _, err := collection.InsertOne(ctx, e); err != nil {
		log.Printf("[store] mongo insert failed: %v", err)
		return fmt.Errorf("%w: %v", ErrMongoQuery, err)
	}
	return nil
}

// FailuresSince queries the mirrored collection directly, for deployments
// that want history past the in-memory ring buffer's capacity.
func (m *MongoDiagnosticsStore) FailuresSince(ctx context.Context, t time.Time) ([]models.DiagnosticEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	collection := m.client.Database(m.dbName).Collection("diagnostics")
	filter := bson.D{
		{Key: "time", Value: bson.D{{Key: "$gte", Value: t}}},
		{Key: "ok", Value: false},
	}
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMongoQuery, err)
	}
	defer cursor.Close(ctx)

	var out []models.DiagnosticEntry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMongoQuery, err)
	}
	return out, nil
}

// Close disconnects the underlying client.
func (m *MongoDiagnosticsStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// MirroredDiagnostics fans every recorded entry out to the in-memory ring
// buffer (read synchronously by diagnostics routes) and to the Mongo
// mirror. The mongo write runs in its own goroutine so one slow/unreachable
// mirror write never paces down the sweep that is recording it; a failed
// mirror write is logged by Insert and otherwise dropped, matching the
// rest of this package's log-and-continue failure handling.
type MirroredDiagnostics struct {
	ring  *Diagnostics
	mongo *MongoDiagnosticsStore
}

// NewMirroredDiagnostics builds a DiagnosticsRecorder that writes to both
// ring and mongo.
func NewMirroredDiagnostics(ring *Diagnostics, mongo *MongoDiagnosticsStore) *MirroredDiagnostics {
	return &MirroredDiagnostics{ring: ring, mongo: mongo}
}

// Record writes e to the ring buffer immediately and to the mongo mirror
// asynchronously.
func (m *MirroredDiagnostics) Record(e models.DiagnosticEntry) {
	m.ring.Record(e)
	go func() {
		_ = m.mongo.Insert(context.Background(), e)
	}()
}
