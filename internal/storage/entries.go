package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"fdp-index/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoEntryStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func NewMongoEntryStore(coll *mongo.Collection, logger *zap.Logger) *MongoEntryStore {
	return &MongoEntryStore{coll: coll, logger: logger}
}

func (s *MongoEntryStore) FindByClientURL(ctx context.Context, clientURL string) (*models.Entry, error) {
	var entry models.Entry
	err := s.coll.FindOne(ctx, bson.M{"client_url": clientURL}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entry %s: %w", clientURL, err)
	}
	return &entry, nil
}

// Register upserts the entry. A freshly inserted entry has equal registration
// and modification times.
func (s *MongoEntryStore) Register(ctx context.Context, clientURL string, now time.Time) (*models.Entry, error) {
	filter := bson.M{"client_url": clientURL}
	update := bson.M{
		"$setOnInsert": bson.M{
			"registration_time": now,
			"state":             models.EntryStateUnknown,
		},
		"$set": bson.M{"modification_time": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var entry models.Entry
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&entry)
	if mongo.IsDuplicateKeyError(err) {
		// Two concurrent first pings raced on the unique index, the loser updates.
		err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&entry)
	}
	if err != nil {
		s.logger.Error("Failed to register entry", zap.String("clientUrl", clientURL), zap.Error(err))
		return nil, fmt.Errorf("register entry %s: %w", clientURL, err)
	}
	return &entry, nil
}

func (s *MongoEntryStore) SaveVerification(ctx context.Context, entry *models.Entry) error {
	set := bson.M{"state": entry.State}
	if entry.LastRetrievalTime != nil {
		set["last_retrieval_time"] = entry.LastRetrievalTime
	}
	if entry.CurrentMetadata != nil {
		set["current_metadata"] = entry.CurrentMetadata
	}

	result, err := s.coll.UpdateOne(ctx, bson.M{"client_url": entry.ClientURL}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("save entry %s: %w", entry.ClientURL, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoEntryStore) FindAll(ctx context.Context) ([]*models.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "modification_time", Value: -1}})
	return s.find(ctx, bson.M{}, opts)
}

func (s *MongoEntryStore) FindPage(ctx context.Context, filter EntryFilter, page, size int64) ([]*models.Entry, int64, error) {
	if page < 0 || size < 1 || page > math.MaxInt64/size {
		return nil, 0, fmt.Errorf("%w: page %d of size %d", models.ErrInvalidQuery, page, size)
	}
	query := entryQuery(filter)

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "modification_time", Value: -1}}).
		SetSkip(page * size).
		SetLimit(size)
	entries, err := s.find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *MongoEntryStore) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*models.Entry, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*models.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}

func entryQuery(filter EntryFilter) bson.M {
	query := bson.M{}
	if filter.State != "" {
		query["state"] = filter.State
	}
	modification := bson.M{}
	if filter.ActiveSince != nil {
		modification["$gte"] = *filter.ActiveSince
	}
	if filter.InactiveBefore != nil {
		modification["$lt"] = *filter.InactiveBefore
	}
	if len(modification) > 0 {
		query["modification_time"] = modification
	}
	return query
}
