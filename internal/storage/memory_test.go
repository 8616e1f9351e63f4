package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"fdp-index/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventLog_AppendAssignsIdentity(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	log := NewMemoryEventLog()
	log.Now = func() time.Time { return now }

	event := &models.Event{Type: models.EventTypeAdminTrigger, Payload: &models.AdminTrigger{TokenName: "admin"}}
	saved, err := log.Append(context.Background(), event)
	require.NoError(t, err)

	assert.NotEmpty(t, saved.UUID)
	assert.Equal(t, now, saved.Created)
	assert.Equal(t, models.EventVersion, saved.Version)

	unfinished, err := log.FindUnfinished(context.Background())
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "admin", unfinished[0].AdminTrigger().TokenName)
}

func TestMemoryEventLog_FinishedEventsAreImmutable(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryEventLog()
	now := time.Now().UTC()

	event := models.NewAdminTriggerEvent("10.0.0.1", "admin", "", now)
	_, err := log.Append(ctx, event)
	require.NoError(t, err)

	event.Finish(now)
	_, err = log.Append(ctx, event)
	require.NoError(t, err)

	_, err = log.Append(ctx, event)
	assert.ErrorIs(t, err, ErrEventFinished)

	unfinished, err := log.FindUnfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestMemoryEventLog_StoredCopyIsIndependent(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryEventLog()

	event := models.NewAdminTriggerEvent("10.0.0.1", "admin", "", time.Now().UTC())
	_, err := log.Append(ctx, event)
	require.NoError(t, err)

	event.Finish(time.Now().UTC())

	unfinished, err := log.FindUnfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 1)
}

func TestMemoryEventLog_FindRecent(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryEventLog()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	trigger := models.NewAdminTriggerEvent("10.0.0.1", "admin", "", base)

	for i := 0; i < 5; i++ {
		e := models.NewMetadataRetrievalEvent(trigger, "https://a.example", base.Add(time.Duration(i)*time.Minute))
		_, err := log.Append(ctx, e)
		require.NoError(t, err)
	}
	other := models.NewMetadataRetrievalEvent(trigger, "https://b.example", base)
	_, err := log.Append(ctx, other)
	require.NoError(t, err)

	events, err := log.FindRecent(ctx, "https://a.example", 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, base.Add(4*time.Minute).Equal(events[0].Created))
	assert.True(t, base.Add(2*time.Minute).Equal(events[2].Created))
}

func TestMemoryEventLog_FindByRemoteAddrSince(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryEventLog()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		addr    string
		created time.Time
	}{
		{"10.0.0.1", base.Add(-2 * time.Hour)},
		{"10.0.0.1", base.Add(time.Minute)},
		{"10.0.0.1", base.Add(2 * time.Minute)},
		{"10.0.0.2", base.Add(time.Minute)},
	} {
		_, err := log.Append(ctx, models.NewIncomingPingEvent(tc.addr, tc.created))
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, models.NewAdminTriggerEvent("10.0.0.1", "admin", "", base.Add(time.Minute)))
	require.NoError(t, err)

	events, err := log.FindByRemoteAddrSince(ctx, "10.0.0.1", base)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryEntryStore_Register(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntryStore()
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	entry, err := store.Register(ctx, "https://a.example", first)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStateUnknown, entry.State)
	assert.True(t, entry.RegistrationTime.Equal(entry.ModificationTime))

	entry.State = models.EntryStateValid
	entry.CurrentMetadata = &models.RepositoryMetadata{MetadataVersion: 1, Metadata: map[string]string{"title": "A"}}
	require.NoError(t, store.SaveVerification(ctx, entry))

	entry, err = store.Register(ctx, "https://a.example", second)
	require.NoError(t, err)
	assert.True(t, first.Equal(entry.RegistrationTime))
	assert.True(t, second.Equal(entry.ModificationTime))
	assert.Equal(t, models.EntryStateValid, entry.State)
	assert.Equal(t, "A", entry.CurrentMetadata.Metadata["title"])
}

func TestMemoryEntryStore_SaveVerificationKeepsModificationTime(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntryStore()
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stale, err := store.Register(ctx, "https://a.example", first)
	require.NoError(t, err)
	_, err = store.Register(ctx, "https://a.example", first.Add(time.Hour))
	require.NoError(t, err)

	retrieved := first.Add(2 * time.Hour)
	stale.State = models.EntryStateUnreachable
	stale.LastRetrievalTime = &retrieved
	require.NoError(t, store.SaveVerification(ctx, stale))

	entry, err := store.FindByClientURL(ctx, "https://a.example")
	require.NoError(t, err)
	assert.True(t, first.Add(time.Hour).Equal(entry.ModificationTime))
	assert.Equal(t, models.EntryStateUnreachable, entry.State)
	assert.True(t, retrieved.Equal(*entry.LastRetrievalTime))
}

func TestMemoryEntryStore_FindPage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, url := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		_, err := store.Register(ctx, url, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	valid, err := store.FindByClientURL(ctx, "https://b.example")
	require.NoError(t, err)
	valid.State = models.EntryStateValid
	require.NoError(t, store.SaveVerification(ctx, valid))

	entries, total, err := store.FindPage(ctx, EntryFilter{}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://c.example", entries[0].ClientURL)

	entries, _, err = store.FindPage(ctx, EntryFilter{}, 1, 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://a.example", entries[0].ClientURL)

	entries, total, err = store.FindPage(ctx, EntryFilter{State: models.EntryStateValid}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "https://b.example", entries[0].ClientURL)

	since := base.Add(time.Hour)
	_, total, err = store.FindPage(ctx, EntryFilter{ActiveSince: &since}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, total, err = store.FindPage(ctx, EntryFilter{InactiveBefore: &since}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestMemoryEntryStore_FindPageBeyondRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntryStore()
	_, err := store.Register(ctx, "https://a.example", time.Now().UTC())
	require.NoError(t, err)

	for _, page := range []int64{5, math.MaxInt64 / 20, math.MaxInt64/20 + 1, math.MaxInt64} {
		entries, total, err := store.FindPage(ctx, EntryFilter{}, page, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Empty(t, entries, "page %d", page)
	}
}

func TestMemoryEntryStore_NotFound(t *testing.T) {
	store := NewMemoryEntryStore()

	_, err := store.FindByClientURL(context.Background(), "https://missing.example")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.SaveVerification(context.Background(), &models.Entry{ClientURL: "https://missing.example"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryWebhookAndTokenStores(t *testing.T) {
	ctx := context.Background()
	webhooks := NewMemoryWebhookStore(&models.Webhook{UUID: "w1", PayloadURL: "https://hook.example"})
	tokens := NewMemoryTokenStore(&models.Token{Name: "admin", Token: "secret", Roles: []string{models.RoleAdmin}})

	w, err := webhooks.FindByUUID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "https://hook.example", w.PayloadURL)

	_, err = webhooks.FindByUUID(ctx, "w2")
	assert.ErrorIs(t, err, ErrNotFound)

	token, err := tokens.FindByToken(ctx, "secret")
	require.NoError(t, err)
	assert.True(t, token.HasRole(models.RoleAdmin))

	_, err = tokens.FindByToken(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
