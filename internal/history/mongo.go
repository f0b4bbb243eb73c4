package history

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

const historyCollection = "lock_history"

// MongoRecorder implements Recorder on a MongoDB collection. Records are
// inserted once and never updated; reads are served from indexed queries
// and aggregation pipelines.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoRecorder connects to MongoDB and ensures the indexes backing the
// read projections.
func NewMongoRecorder(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoRecorder, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	r := &MongoRecorder{
		client:     client,
		collection: client.Database(database).Collection(historyCollection),
		logger:     logger,
	}

	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("History recorder connected",
		zap.String("database", database),
		zap.String("collection", historyCollection),
	)

	return r, nil
}

func (r *MongoRecorder) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "appointment_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create history indexes: %w", err)
	}
	return nil
}

// Record appends one history record.
func (r *MongoRecorder) Record(ctx context.Context, rec *model.HistoryRecord) error {
	if _, err := r.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	return nil
}

// ForAppointment returns one appointment's records newest-first.
func (r *MongoRecorder) ForAppointment(ctx context.Context, appointmentID string, page, perPage int64) ([]*model.HistoryRecord, int64, error) {
	return r.find(ctx, bson.M{"appointment_id": appointmentID}, page, perPage)
}

// ForOwner returns one owner's records across appointments newest-first.
func (r *MongoRecorder) ForOwner(ctx context.Context, ownerID string, page, perPage int64) ([]*model.HistoryRecord, int64, error) {
	return r.find(ctx, bson.M{"owner_id": ownerID}, page, perPage)
}

func (r *MongoRecorder) find(ctx context.Context, filter bson.M, page, perPage int64) ([]*model.HistoryRecord, int64, error) {
	page, perPage = ClampPage(page, perPage)

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count history records: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip((page - 1) * perPage).
		SetLimit(perPage)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query history records: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]*model.HistoryRecord, 0, perPage)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, 0, fmt.Errorf("failed to decode history records: %w", err)
	}

	return records, total, nil
}

// Stats aggregates one appointment's audit trail: record counts per
// action, average held-duration over terminal events, and the number of
// distinct owners.
func (r *MongoRecorder) Stats(ctx context.Context, appointmentID string) (*model.HistoryStats, error) {
	stats := &model.HistoryStats{
		AppointmentID: appointmentID,
		ActionCounts:  make(map[model.Action]int64),
	}
	filter := bson.M{"appointment_id": appointmentID}

	countPipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: filter}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$action",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, countPipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate action counts: %w", err)
	}
	defer cursor.Close(ctx)

	var counts []struct {
		Action model.Action `bson:"_id"`
		Count  int64        `bson:"count"`
	}
	if err := cursor.All(ctx, &counts); err != nil {
		return nil, fmt.Errorf("failed to decode action counts: %w", err)
	}
	for _, c := range counts {
		stats.ActionCounts[c.Action] = c.Count
		stats.TotalRecords += c.Count
	}

	durationPipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"appointment_id":   appointmentID,
			"duration_seconds": bson.M{"$exists": true},
		}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id": nil,
			"avg": bson.M{"$avg": "$duration_seconds"},
		}}},
	}

	durCursor, err := r.collection.Aggregate(ctx, durationPipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate durations: %w", err)
	}
	defer durCursor.Close(ctx)

	var averages []struct {
		Avg float64 `bson:"avg"`
	}
	if err := durCursor.All(ctx, &averages); err != nil {
		return nil, fmt.Errorf("failed to decode durations: %w", err)
	}
	if len(averages) > 0 {
		stats.AverageDurationSeconds = averages[0].Avg
	}

	owners, err := r.collection.Distinct(ctx, "owner_id", filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count distinct owners: %w", err)
	}
	stats.DistinctOwners = int64(len(owners))

	return stats, nil
}

// Purge deletes records older than the cutoff and returns the count
// removed.
func (r *MongoRecorder) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{
		"timestamp": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge history records: %w", err)
	}

	r.logger.Info("Purged history records",
		zap.Int64("removed", result.DeletedCount),
		zap.Time("older_than", olderThan),
	)

	return result.DeletedCount, nil
}

// Ping verifies connectivity to MongoDB.
func (r *MongoRecorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
