package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fdp-index/internal/models"
	"fdp-index/internal/outbound"
	"fdp-index/internal/ratelimit"
	"fdp-index/internal/rdfmeta"
	"fdp-index/internal/storage"
	"fdp-index/pkg/metrics"

	"go.uber.org/zap"
)

const (
	ErrRepositoryNotFound = "Repository not found in metadata"
	ErrCannotParse        = "Cannot parse metadata"
	ErrSkipped            = "Rate limit reached (skipping)"
	ErrEntryNotFound      = "Entry not found"
)

// Notifier receives every finished retrieval event
type Notifier interface {
	TriggerWebhooks(event *models.Event)
}

type Appender interface {
	Append(ctx context.Context, event *models.Event) (*models.Event, error)
}

// Task verifies entries by fetching and parsing their metadata
type Task struct {
	events   Appender
	entries  storage.EntryStore
	client   *outbound.Client
	policy   ratelimit.RetrievalPolicy
	timeout  time.Duration
	notifier Notifier
	logger   *zap.Logger
	locks    *keyedMutex
	Now      func() time.Time
}

func NewTask(events Appender, entries storage.EntryStore, client *outbound.Client, policy ratelimit.RetrievalPolicy, timeout time.Duration, notifier Notifier, logger *zap.Logger) *Task {
	return &Task{
		events:   events,
		entries:  entries,
		client:   client,
		policy:   policy,
		timeout:  timeout,
		notifier: notifier,
		logger:   logger,
		locks:    newKeyedMutex(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// PrepareEvents builds one MetadataRetrieval event per entry targeted by
// trigger. An admin trigger without a client URL targets every entry.
func (t *Task) PrepareEvents(ctx context.Context, trigger *models.Event) ([]*models.Event, error) {
	if trigger.RelatedTo != "" {
		return []*models.Event{models.NewMetadataRetrievalEvent(trigger, trigger.RelatedTo, t.Now())}, nil
	}
	if trigger.Type != models.EventTypeAdminTrigger {
		return nil, nil
	}

	entries, err := t.entries.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	events := make([]*models.Event, 0, len(entries))
	for _, entry := range entries {
		events = append(events, models.NewMetadataRetrievalEvent(trigger, entry.ClientURL, t.Now()))
	}
	return events, nil
}

// Process runs the retrieval for event and records the outcome on the entry
// and the event. Running it again for the same event starts from scratch.
func (t *Task) Process(ctx context.Context, event *models.Event) error {
	payload := event.MetadataRetrieval()
	if payload == nil {
		return fmt.Errorf("event %s is not a metadata retrieval", event.UUID)
	}
	*payload = models.MetadataRetrieval{}

	clientURL := event.RelatedTo
	unlock := t.locks.Lock(clientURL)
	defer unlock()

	log := t.logger.With(zap.String("client_url", clientURL), zap.String("event_uuid", event.UUID))

	entry, err := t.entries.FindByClientURL(ctx, clientURL)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("Entry for metadata retrieval does not exist")
		payload.Error = ErrEntryNotFound
		event.Finish(t.Now())
		_, err = t.events.Append(ctx, event)
		return err
	}
	if err != nil {
		return err
	}

	if !t.policy.ShouldRetrieve(entry, t.Now()) {
		log.Info("Rate limit reached, skipping metadata retrieval")
		metrics.RateLimitExceeded.WithLabelValues("retrieval").Inc()
		payload.Error = ErrSkipped
		event.Finish(t.Now())
		if _, err := t.events.Append(ctx, event); err != nil {
			return err
		}
		t.notifier.TriggerWebhooks(event)
		return nil
	}

	event.Execute(t.Now())
	if _, err := t.events.Append(ctx, event); err != nil {
		return err
	}

	start := time.Now()
	log.Info("Retrieving metadata")
	ex := models.NewOutgoingExchange()
	payload.Exchange = ex
	t.client.Do(ctx, outbound.Request{
		Method:  http.MethodGet,
		URL:     clientURL,
		Header:  http.Header{"Accept": {rdfmeta.Accept}},
		Timeout: t.timeout,
	}, ex)

	state := t.evaluate(ex, payload, log)
	entry.State = state
	payload.EntryState = state
	if state == models.EntryStateValid {
		entry.CurrentMetadata = payload.Metadata
	}

	retrieved := t.Now()
	entry.LastRetrievalTime = &retrieved
	if err := t.entries.SaveVerification(ctx, entry); err != nil {
		return fmt.Errorf("save entry %s: %w", clientURL, err)
	}

	event.Finish(t.Now())
	if _, err := t.events.Append(ctx, event); err != nil {
		return err
	}

	metrics.RetrievalsCompleted.WithLabelValues(string(state)).Inc()
	metrics.RetrievalDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())
	log.Info("Finished metadata retrieval", zap.String("state", string(state)))

	t.notifier.TriggerWebhooks(event)
	return nil
}

func (t *Task) evaluate(ex *models.Exchange, payload *models.MetadataRetrieval, log *zap.Logger) models.EntryState {
	if ex.State != models.ExchangeRetrieved {
		log.Info("Cannot retrieve metadata", zap.String("error", ex.Error))
		return models.EntryStateUnreachable
	}

	metadata, err := rdfmeta.ExtractDocument(ex.Response.Body, ex.Response.Headers.Get("Content-Type"))
	if err != nil {
		log.Info("Cannot parse metadata", zap.Error(err))
		payload.Error = ErrCannotParse
		return models.EntryStateInvalid
	}
	if metadata == nil {
		log.Info("Repository not found in metadata")
		payload.Error = ErrRepositoryNotFound
		return models.EntryStateInvalid
	}

	payload.Metadata = metadata
	return models.EntryStateValid
}

// keyedMutex serialises work per key and drops locks nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
