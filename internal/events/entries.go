package events

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"fdp-index/internal/models"
	"fdp-index/internal/storage"
)

// EntryQuery lists entries by state name as used by the listing endpoints
type EntryQuery struct {
	entries  storage.EntryStore
	validFor time.Duration
	Now      func() time.Time
}

func NewEntryQuery(entries storage.EntryStore, validFor time.Duration) *EntryQuery {
	return &EntryQuery{
		entries:  entries,
		validFor: validFor,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Filter converts a state name into a storage filter. Accepted names are
// all, active, inactive and the entry states in lower case.
func (q *EntryQuery) Filter(state string) (storage.EntryFilter, error) {
	switch strings.ToLower(state) {
	case "", "all":
		return storage.EntryFilter{}, nil
	case "active":
		since := q.Now().Add(-q.validFor)
		return storage.EntryFilter{ActiveSince: &since}, nil
	case "inactive":
		before := q.Now().Add(-q.validFor)
		return storage.EntryFilter{InactiveBefore: &before}, nil
	case "valid":
		return storage.EntryFilter{State: models.EntryStateValid}, nil
	case "invalid":
		return storage.EntryFilter{State: models.EntryStateInvalid}, nil
	case "unreachable":
		return storage.EntryFilter{State: models.EntryStateUnreachable}, nil
	case "unknown":
		return storage.EntryFilter{State: models.EntryStateUnknown}, nil
	default:
		return storage.EntryFilter{}, fmt.Errorf("%w: unknown state filter %q", models.ErrInvalidQuery, state)
	}
}

func (q *EntryQuery) Page(ctx context.Context, state string, page, size int64) ([]*models.Entry, int64, error) {
	if page < 0 || size < 1 || page > math.MaxInt64/size {
		return nil, 0, fmt.Errorf("%w: page %d of size %d", models.ErrInvalidQuery, page, size)
	}
	filter, err := q.Filter(state)
	if err != nil {
		return nil, 0, err
	}
	return q.entries.FindPage(ctx, filter, page, size)
}

func (q *EntryQuery) All(ctx context.Context) ([]*models.Entry, error) {
	return q.entries.FindAll(ctx)
}

// IsActive reports whether entry pinged recently enough to count as active
func (q *EntryQuery) IsActive(entry *models.Entry) bool {
	return entry.IsActive(q.validFor, q.Now())
}
