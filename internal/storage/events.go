package storage

import (
	"context"
	"fmt"
	"time"

	"fdp-index/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoEventLog stores events in a single collection keyed by uuid
type MongoEventLog struct {
	coll   *mongo.Collection
	logger *zap.Logger
	Now    func() time.Time
}

func NewMongoEventLog(coll *mongo.Collection, logger *zap.Logger) *MongoEventLog {
	return &MongoEventLog{
		coll:   coll,
		logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append upserts the event by uuid as long as the stored copy is unfinished.
// Matching a finished copy makes the upsert collide on the unique uuid index.
func (l *MongoEventLog) Append(ctx context.Context, event *models.Event) (*models.Event, error) {
	prepareAppend(event, l.Now)

	filter := bson.M{"uuid": event.UUID, "finished": nil}
	_, err := l.coll.ReplaceOne(ctx, filter, event, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("append event %s: %w", event.UUID, ErrEventFinished)
		}
		l.logger.Error("Failed to append event",
			zap.String("uuid", event.UUID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return nil, fmt.Errorf("append event %s: %w", event.UUID, err)
	}
	return event, nil
}

func (l *MongoEventLog) FindUnfinished(ctx context.Context) ([]*models.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created", Value: 1}})
	return l.find(ctx, bson.M{"finished": nil}, opts)
}

func (l *MongoEventLog) FindRecent(ctx context.Context, clientURL string, limit int64) ([]*models.Event, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created", Value: -1}}).
		SetLimit(limit)
	return l.find(ctx, bson.M{"related_to": clientURL}, opts)
}

func (l *MongoEventLog) FindByRemoteAddrSince(ctx context.Context, remoteAddr string, since time.Time) ([]*models.Event, error) {
	filter := bson.M{
		"type":                         models.EventTypeIncomingPing,
		"payload.exchange.remote_addr": remoteAddr,
		"created":                      bson.M{"$gt": since},
	}
	return l.find(ctx, filter, options.Find())
}

func (l *MongoEventLog) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*models.Event, error) {
	cursor, err := l.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*models.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

func prepareAppend(event *models.Event, now func() time.Time) {
	if event.UUID == "" {
		event.UUID = uuid.NewString()
	}
	if event.Created.IsZero() {
		event.Created = now()
	}
	if event.Version == 0 {
		event.Version = models.EventVersion
	}
}
