// Package ratelimit evaluates sliding-window limits against the event log.
// There is no counter state of its own.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"fdp-index/internal/models"
)

type PingHistory interface {
	FindByRemoteAddrSince(ctx context.Context, remoteAddr string, since time.Time) ([]*models.Event, error)
}

// PingPolicy caps incoming pings per remote address
type PingPolicy struct {
	history PingHistory
	Window  time.Duration
	Hits    int
	Now     func() time.Time
}

func NewPingPolicy(history PingHistory, window time.Duration, hits int) *PingPolicy {
	return &PingPolicy{
		history: history,
		Window:  window,
		Hits:    hits,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Check returns models.ErrRateLimit when remoteAddr already sent more than
// Hits pings within the window.
func (p *PingPolicy) Check(ctx context.Context, remoteAddr string) error {
	since := p.Now().Add(-p.Window)
	previous, err := p.history.FindByRemoteAddrSince(ctx, remoteAddr, since)
	if err != nil {
		return fmt.Errorf("load ping history: %w", err)
	}
	if len(previous) > p.Hits {
		return fmt.Errorf("%w for %s (max. %d per %s)", models.ErrRateLimit, remoteAddr, p.Hits, p.Window)
	}
	return nil
}

// RetrievalPolicy spaces out metadata retrievals of the same entry
type RetrievalPolicy struct {
	Wait time.Duration
}

func (p RetrievalPolicy) ShouldRetrieve(entry *models.Entry, now time.Time) bool {
	if entry.LastRetrievalTime == nil {
		return true
	}
	return now.Sub(*entry.LastRetrievalTime) >= p.Wait
}
