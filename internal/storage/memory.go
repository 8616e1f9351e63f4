package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fdp-index/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// In-memory stores used for local runs without MongoDB and in tests. Values
// are copied through the BSON codec so that callers never share state with
// the store, the same as with a real database.

func clone[T any](v *T) (*T, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := bson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

type MemoryEventLog struct {
	mu     sync.RWMutex
	events map[string]*models.Event
	Now    func() time.Time
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		events: make(map[string]*models.Event),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryEventLog) Append(_ context.Context, event *models.Event) (*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prepareAppend(event, l.Now)
	if stored, ok := l.events[event.UUID]; ok && stored.IsFinished() {
		return nil, fmt.Errorf("append event %s: %w", event.UUID, ErrEventFinished)
	}

	stored, err := clone(event)
	if err != nil {
		return nil, fmt.Errorf("append event %s: %w", event.UUID, err)
	}
	l.events[event.UUID] = stored
	return event, nil
}

func (l *MemoryEventLog) FindUnfinished(_ context.Context) ([]*models.Event, error) {
	events, err := l.collect(func(e *models.Event) bool { return !e.IsFinished() })
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Created.Before(events[j].Created) })
	return events, nil
}

func (l *MemoryEventLog) FindRecent(_ context.Context, clientURL string, limit int64) ([]*models.Event, error) {
	events, err := l.collect(func(e *models.Event) bool { return e.RelatedTo == clientURL })
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Created.After(events[j].Created) })
	if limit > 0 && int64(len(events)) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (l *MemoryEventLog) FindByRemoteAddrSince(_ context.Context, remoteAddr string, since time.Time) ([]*models.Event, error) {
	return l.collect(func(e *models.Event) bool {
		ping := e.IncomingPing()
		return ping != nil && ping.Exchange != nil &&
			ping.Exchange.RemoteAddr == remoteAddr &&
			e.Created.After(since)
	})
}

func (l *MemoryEventLog) collect(match func(*models.Event) bool) ([]*models.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.Event
	for _, e := range l.events {
		if !match(e) {
			continue
		}
		c, err := clone(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.Entry
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string]*models.Entry)}
}

func (s *MemoryEntryStore) FindByClientURL(_ context.Context, clientURL string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[clientURL]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(entry)
}

func (s *MemoryEntryStore) Register(_ context.Context, clientURL string, now time.Time) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[clientURL]
	if !ok {
		entry = &models.Entry{
			ClientURL:        clientURL,
			State:            models.EntryStateUnknown,
			RegistrationTime: now,
		}
		s.entries[clientURL] = entry
	}
	entry.ModificationTime = now
	return clone(entry)
}

func (s *MemoryEntryStore) SaveVerification(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ClientURL]
	if !ok {
		return ErrNotFound
	}
	update, err := clone(entry)
	if err != nil {
		return err
	}
	stored.State = update.State
	if update.LastRetrievalTime != nil {
		stored.LastRetrievalTime = update.LastRetrievalTime
	}
	if update.CurrentMetadata != nil {
		stored.CurrentMetadata = update.CurrentMetadata
	}
	return nil
}

func (s *MemoryEntryStore) FindAll(ctx context.Context) ([]*models.Entry, error) {
	entries, _, err := s.FindPage(ctx, EntryFilter{}, 0, 0)
	return entries, err
}

// FindPage with size 0 returns every matching entry
func (s *MemoryEntryStore) FindPage(_ context.Context, filter EntryFilter, page, size int64) ([]*models.Entry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Entry
	for _, e := range s.entries {
		if filter.State != "" && e.State != filter.State {
			continue
		}
		if filter.ActiveSince != nil && e.ModificationTime.Before(*filter.ActiveSince) {
			continue
		}
		if filter.InactiveBefore != nil && !e.ModificationTime.Before(*filter.InactiveBefore) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ModificationTime.After(matched[j].ModificationTime)
	})

	total := int64(len(matched))
	if size > 0 {
		start := total
		if page >= 0 && page <= total/size {
			start = page * size
		}
		end := min(start+size, total)
		matched = matched[start:end]
	}

	out := make([]*models.Entry, 0, len(matched))
	for _, e := range matched {
		c, err := clone(e)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, nil
}

type MemoryWebhookStore struct {
	mu       sync.RWMutex
	webhooks []*models.Webhook
}

func NewMemoryWebhookStore(webhooks ...*models.Webhook) *MemoryWebhookStore {
	return &MemoryWebhookStore{webhooks: webhooks}
}

func (s *MemoryWebhookStore) Add(webhook *models.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks = append(s.webhooks, webhook)
}

func (s *MemoryWebhookStore) FindAll(_ context.Context) ([]*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Webhook, 0, len(s.webhooks))
	for _, w := range s.webhooks {
		c := *w
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryWebhookStore) FindByUUID(_ context.Context, id string) (*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.webhooks {
		if w.UUID == id {
			c := *w
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

type MemoryTokenStore struct {
	tokens map[string]*models.Token
}

func NewMemoryTokenStore(tokens ...*models.Token) *MemoryTokenStore {
	s := &MemoryTokenStore{tokens: make(map[string]*models.Token)}
	for _, t := range tokens {
		s.tokens[t.Token] = t
	}
	return s
}

func (s *MemoryTokenStore) FindByToken(_ context.Context, token string) (*models.Token, error) {
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}
