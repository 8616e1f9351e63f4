package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	EntryCollection   = "indexEntry"
	EventCollection   = "event"
	WebhookCollection = "webhook"
	TokenCollection   = "token"
)

type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

func NewMongoDB(uri, database string, logger *zap.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetSocketTimeout(30 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to MongoDB", zap.String("database", database))

	m := &MongoDB{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		EntryCollection: {
			{
				Keys:    bson.D{{Key: "client_url", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "modification_time", Value: -1}},
			},
			{
				Keys: bson.D{{Key: "state", Value: 1}},
			},
		},
		EventCollection: {
			{
				Keys:    bson.D{{Key: "uuid", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "finished", Value: 1}},
			},
			{
				Keys: bson.D{
					{Key: "related_to", Value: 1},
					{Key: "created", Value: -1},
				},
			},
			{
				Keys: bson.D{
					{Key: "type", Value: 1},
					{Key: "payload.exchange.remote_addr", Value: 1},
					{Key: "created", Value: 1},
				},
			},
		},
		WebhookCollection: {
			{
				Keys:    bson.D{{Key: "uuid", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		TokenCollection: {
			{
				Keys:    bson.D{{Key: "token", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for name, models := range indexes {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (m *MongoDB) Events() *MongoEventLog {
	return NewMongoEventLog(m.db.Collection(EventCollection), m.logger)
}

func (m *MongoDB) Entries() *MongoEntryStore {
	return NewMongoEntryStore(m.db.Collection(EntryCollection), m.logger)
}

func (m *MongoDB) Webhooks() *MongoWebhookStore {
	return NewMongoWebhookStore(m.db.Collection(WebhookCollection))
}

func (m *MongoDB) Tokens() *MongoTokenStore {
	return NewMongoTokenStore(m.db.Collection(TokenCollection))
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
