package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"fdp-index/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"
)

func TestMongoEventLog(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("append upserts unfinished event", func(mt *mtest.T) {
		log := NewMongoEventLog(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
		))

		event := models.NewAdminTriggerEvent("10.0.0.1", "admin", "", time.Now().UTC())
		saved, err := log.Append(context.Background(), event)
		require.NoError(mt, err)
		assert.Equal(mt, event.UUID, saved.UUID)
	})

	mt.Run("append to finished event fails", func(mt *mtest.T) {
		log := NewMongoEventLog(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		event := models.NewAdminTriggerEvent("10.0.0.1", "admin", "", time.Now().UTC())
		_, err := log.Append(context.Background(), event)
		assert.ErrorIs(mt, err, ErrEventFinished)
	})

	mt.Run("find recent decodes payloads", func(mt *mtest.T) {
		log := NewMongoEventLog(mt.Coll, zap.NewNop())
		created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fdp.event", mtest.FirstBatch,
			bson.D{
				{Key: "uuid", Value: "e1"},
				{Key: "type", Value: "MetadataRetrieval"},
				{Key: "version", Value: 1},
				{Key: "related_to", Value: "https://a.example"},
				{Key: "payload", Value: bson.D{
					{Key: "error", Value: "Cannot parse metadata"},
					{Key: "entry_state", Value: "Invalid"},
				}},
				{Key: "created", Value: created},
				{Key: "finished", Value: created},
			},
			bson.D{
				{Key: "uuid", Value: "e2"},
				{Key: "type", Value: "SomethingNew"},
				{Key: "version", Value: 2},
				{Key: "created", Value: created},
			},
		))

		events, err := log.FindRecent(context.Background(), "https://a.example", 10)
		require.NoError(mt, err)
		require.Len(mt, events, 2)

		retrieval := events[0].MetadataRetrieval()
		require.NotNil(mt, retrieval)
		assert.Equal(mt, "Cannot parse metadata", retrieval.Error)
		assert.Equal(mt, models.EntryStateInvalid, retrieval.EntryState)
		assert.True(mt, events[0].IsFinished())

		assert.Nil(mt, events[1].Payload)
	})
}

func TestMongoEntryStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("register returns upserted entry", func(mt *mtest.T) {
		store := NewMongoEntryStore(mt.Coll, zap.NewNop())
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "client_url", Value: "https://a.example"},
			{Key: "state", Value: "Unknown"},
			{Key: "registration_time", Value: now},
			{Key: "modification_time", Value: now},
		}}))

		entry, err := store.Register(context.Background(), "https://a.example", now)
		require.NoError(mt, err)
		assert.Equal(mt, "https://a.example", entry.ClientURL)
		assert.Equal(mt, models.EntryStateUnknown, entry.State)
		assert.True(mt, entry.RegistrationTime.Equal(entry.ModificationTime))
	})

	mt.Run("find missing entry", func(mt *mtest.T) {
		store := NewMongoEntryStore(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fdp.indexEntry", mtest.FirstBatch))

		_, err := store.FindByClientURL(context.Background(), "https://missing.example")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("save verification of missing entry", func(mt *mtest.T) {
		store := NewMongoEntryStore(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := store.SaveVerification(context.Background(), &models.Entry{
			ClientURL: "https://missing.example",
			State:     models.EntryStateValid,
		})
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("find page beyond range", func(mt *mtest.T) {
		store := NewMongoEntryStore(mt.Coll, zap.NewNop())

		_, _, err := store.FindPage(context.Background(), EntryFilter{}, math.MaxInt64/20+1, 20)
		assert.ErrorIs(mt, err, models.ErrInvalidQuery)
	})
}

func TestMongoWebhookAndTokenStores(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("find webhook", func(mt *mtest.T) {
		store := NewMongoWebhookStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fdp.webhook", mtest.FirstBatch, bson.D{
			{Key: "uuid", Value: "w1"},
			{Key: "payload_url", Value: "https://hook.example"},
			{Key: "secret", Value: "s3cr3t"},
			{Key: "enabled", Value: true},
			{Key: "all_events", Value: true},
			{Key: "all_entries", Value: true},
		}))

		webhook, err := store.FindByUUID(context.Background(), "w1")
		require.NoError(mt, err)
		assert.Equal(mt, "s3cr3t", webhook.Secret)
		assert.True(mt, webhook.Subscribes(models.WebhookEventNewEntry))
	})

	mt.Run("unknown token", func(mt *mtest.T) {
		store := NewMongoTokenStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fdp.token", mtest.FirstBatch))

		_, err := store.FindByToken(context.Background(), "nope")
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}
