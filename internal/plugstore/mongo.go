package plugstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/smukkama/heating-monitor/internal/plug"
)

// MongoStore keeps the control record as a single document with a fixed _id.
// Writes are find-and-update upserts that only touch their own fields.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to MongoDB and verifies the connection
func NewMongoStore(ctx context.Context, uri, databaseName, collectionName string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(databaseName).Collection(collectionName),
	}, nil
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}

// Get returns the record, creating it with defaults if absent
func (s *MongoStore) Get(ctx context.Context) (*plug.Record, error) {
	var rec plug.Record
	err := s.collection.FindOne(ctx, bson.M{"_id": plug.RecordID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.upsert(ctx, time.Now(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plug state from MongoDB: %w", err)
	}
	return &rec, nil
}

// SetDesired stores the desired state and stamps last_changed
func (s *MongoStore) SetDesired(ctx context.Context, state plug.State, at time.Time) (*plug.Record, error) {
	return s.upsert(ctx, at, bson.M{
		fieldDesiredState: state,
		fieldLastChanged:  at,
		fieldUpdatedAt:    at,
	})
}

// SetReported stores the reported state and stamps last_reported
func (s *MongoStore) SetReported(ctx context.Context, state plug.State, at time.Time) (*plug.Record, error) {
	return s.upsert(ctx, at, bson.M{
		fieldReportedState: state,
		fieldLastReported:  at,
		fieldUpdatedAt:     at,
	})
}

// MarkFetched stamps last_fetched
func (s *MongoStore) MarkFetched(ctx context.Context, at time.Time) (*plug.Record, error) {
	return s.upsert(ctx, at, bson.M{
		fieldLastFetched: at,
		fieldUpdatedAt:   at,
	})
}

// SetMode stores the mode and the provided numbers
func (s *MongoStore) SetMode(ctx context.Context, update plug.ModeUpdate, at time.Time) (*plug.Record, error) {
	set := bson.M{
		fieldMode:      update.Mode,
		fieldUpdatedAt: at,
	}
	if update.Threshold != nil {
		set[fieldThreshold] = *update.Threshold
	}
	if update.Hysteresis != nil {
		set[fieldHysteresis] = *update.Hysteresis
	}
	return s.upsert(ctx, at, set)
}

func (s *MongoStore) upsert(ctx context.Context, at time.Time, set bson.M) (*plug.Record, error) {
	update := bson.M{"$setOnInsert": insertDefaults(at, set)}
	if len(set) > 0 {
		update["$set"] = set
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var rec plug.Record
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": plug.RecordID}, update, opts).Decode(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to update plug state in MongoDB: %w", err)
	}
	return &rec, nil
}

// insertDefaults returns the default fields not already written by set.
// MongoDB rejects an update that names the same path in $set and $setOnInsert.
func insertDefaults(now time.Time, set bson.M) bson.M {
	d := plug.DefaultRecord(now)
	defaults := bson.M{
		fieldMode:          d.Mode,
		fieldThreshold:     d.TemperatureThreshold,
		fieldHysteresis:    d.Hysteresis,
		fieldDesiredState:  d.DesiredState,
		fieldReportedState: d.ReportedState,
		fieldLastChanged:   d.LastChanged,
		fieldCreatedAt:     d.CreatedAt,
		fieldUpdatedAt:     d.UpdatedAt,
	}
	for field := range set {
		delete(defaults, field)
	}
	return defaults
}
