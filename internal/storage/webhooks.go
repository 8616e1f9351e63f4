package storage

import (
	"context"
	"errors"
	"fmt"

	"fdp-index/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoWebhookStore struct {
	coll *mongo.Collection
}

func NewMongoWebhookStore(coll *mongo.Collection) *MongoWebhookStore {
	return &MongoWebhookStore{coll: coll}
}

func (s *MongoWebhookStore) FindAll(ctx context.Context) ([]*models.Webhook, error) {
	cursor, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find webhooks: %w", err)
	}
	defer cursor.Close(ctx)

	var webhooks []*models.Webhook
	if err := cursor.All(ctx, &webhooks); err != nil {
		return nil, fmt.Errorf("decode webhooks: %w", err)
	}
	return webhooks, nil
}

func (s *MongoWebhookStore) FindByUUID(ctx context.Context, id string) (*models.Webhook, error) {
	var webhook models.Webhook
	err := s.coll.FindOne(ctx, bson.M{"uuid": id}).Decode(&webhook)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find webhook %s: %w", id, err)
	}
	return &webhook, nil
}

type MongoTokenStore struct {
	coll *mongo.Collection
}

func NewMongoTokenStore(coll *mongo.Collection) *MongoTokenStore {
	return &MongoTokenStore{coll: coll}
}

func (s *MongoTokenStore) FindByToken(ctx context.Context, token string) (*models.Token, error) {
	var t models.Token
	err := s.coll.FindOne(ctx, bson.M{"token": token}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	return &t, nil
}
