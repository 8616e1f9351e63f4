package storage

import (
	"context"
	"errors"
	"time"

	"fdp-index/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrEventFinished is returned when appending an event whose stored copy is
	// already finished. Finished events are immutable.
	ErrEventFinished = errors.New("storage: event already finished")
)

// EventLog is the append-only record of everything that happened
type EventLog interface {
	// Append assigns uuid and created timestamp when absent and persists the
	// event before returning.
	Append(ctx context.Context, event *models.Event) (*models.Event, error)
	FindUnfinished(ctx context.Context) ([]*models.Event, error)
	FindRecent(ctx context.Context, clientURL string, limit int64) ([]*models.Event, error)
	// FindByRemoteAddrSince returns IncomingPing events from remoteAddr created after since.
	FindByRemoteAddrSince(ctx context.Context, remoteAddr string, since time.Time) ([]*models.Event, error)
}

// EntryFilter narrows entry listings. Zero values match everything.
type EntryFilter struct {
	State          models.EntryState
	ActiveSince    *time.Time
	InactiveBefore *time.Time
}

type EntryStore interface {
	FindByClientURL(ctx context.Context, clientURL string) (*models.Entry, error)
	// Register creates the entry on first ping or refreshes its modification
	// time. Only timestamp fields are written.
	Register(ctx context.Context, clientURL string, now time.Time) (*models.Entry, error)
	// SaveVerification writes the verification fields of the entry only.
	SaveVerification(ctx context.Context, entry *models.Entry) error
	FindAll(ctx context.Context) ([]*models.Entry, error)
	FindPage(ctx context.Context, filter EntryFilter, page, size int64) ([]*models.Entry, int64, error)
}

type WebhookStore interface {
	FindAll(ctx context.Context) ([]*models.Webhook, error)
	FindByUUID(ctx context.Context, id string) (*models.Webhook, error)
}

type TokenStore interface {
	FindByToken(ctx context.Context, token string) (*models.Token, error)
}
