package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fdp-index/internal/models"
	"fdp-index/internal/ratelimit"
	"fdp-index/internal/storage"
	"fdp-index/internal/worker"
	"fdp-index/pkg/metrics"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RecentEventsLimit is how many events are listed per entry
const RecentEventsLimit = 10

type Submitter interface {
	Submit(name string, task worker.Task) error
}

type Retriever interface {
	PrepareEvents(ctx context.Context, trigger *models.Event) ([]*models.Event, error)
	Process(ctx context.Context, event *models.Event) error
}

type Dispatcher interface {
	TriggerWebhooks(event *models.Event)
	Resume(ctx context.Context, event *models.Event) error
	HandleWebhookPing(ctx context.Context, actor, remoteAddr, webhookUUID string) (*models.Event, error)
}

// Ping is the body a repository sends to announce itself
type Ping struct {
	ClientURL string `json:"clientUrl" validate:"required,url"`
}

// Service accepts inbound triggers, records them and hands follow-up work to
// the worker pool.
type Service struct {
	events     storage.EventLog
	entries    storage.EntryStore
	pingPolicy *ratelimit.PingPolicy
	retriever  Retriever
	dispatcher Dispatcher
	pool       Submitter
	validate   *validator.Validate
	logger     *zap.Logger
	Now        func() time.Time
}

func NewService(events storage.EventLog, entries storage.EntryStore, pingPolicy *ratelimit.PingPolicy, retriever Retriever, dispatcher Dispatcher, pool Submitter, logger *zap.Logger) *Service {
	return &Service{
		events:     events,
		entries:    entries,
		pingPolicy: pingPolicy,
		retriever:  retriever,
		dispatcher: dispatcher,
		pool:       pool,
		validate:   validator.New(),
		logger:     logger,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// AcceptIncomingPing registers or refreshes the pinging entry, then schedules
// its verification and notifications. Rate-limited pings leave no trace.
func (s *Service) AcceptIncomingPing(ctx context.Context, remoteAddr string, body []byte) (*models.Event, error) {
	if err := s.pingPolicy.Check(ctx, remoteAddr); err != nil {
		if errors.Is(err, models.ErrRateLimit) {
			s.logger.Warn("Rate limit for ping reached", zap.String("remote_addr", remoteAddr))
			metrics.PingsReceived.WithLabelValues("rate_limited").Inc()
			metrics.RateLimitExceeded.WithLabelValues("ping").Inc()
		}
		return nil, err
	}

	event := models.NewIncomingPingEvent(remoteAddr, s.Now())
	ping := event.IncomingPing()
	ping.Exchange.Request = models.ExchangeRequest{
		Method:    http.MethodPost,
		Headers:   http.Header{"Content-Type": {"application/json"}},
		Body:      string(body),
		Timestamp: s.Now(),
	}
	if _, err := s.events.Append(ctx, event); err != nil {
		return nil, err
	}
	event.Execute(s.Now())

	var dto Ping
	if err := s.parsePing(body, &dto); err != nil {
		responded := s.Now()
		errBody, _ := json.Marshal(map[string]string{"error": err.Error()})
		ping.Exchange.Response = models.ExchangeResponse{
			Code:      http.StatusBadRequest,
			Body:      string(errBody),
			Timestamp: &responded,
		}
		event.Finish(s.Now())
		if _, appendErr := s.events.Append(ctx, event); appendErr != nil {
			s.logger.Error("Failed to record malformed ping", zap.String("event_uuid", event.UUID), zap.Error(appendErr))
		}
		s.logger.Info("Incoming ping has incorrect format", zap.String("remote_addr", remoteAddr), zap.Error(err))
		metrics.PingsReceived.WithLabelValues("malformed").Inc()
		return event, fmt.Errorf("%w: %s", models.ErrMalformedPing, err.Error())
	}

	entry, err := s.entries.Register(ctx, dto.ClientURL, s.Now())
	if err != nil {
		return nil, err
	}
	ping.NewEntry = entry.RegistrationTime.Equal(entry.ModificationTime)
	responded := s.Now()
	ping.Exchange.Response = models.ExchangeResponse{Code: http.StatusNoContent, Timestamp: &responded}
	event.RelatedTo = entry.ClientURL
	event.Finish(s.Now())
	if _, err := s.events.Append(ctx, event); err != nil {
		return nil, err
	}

	s.logger.Info("Accepted incoming ping",
		zap.String("remote_addr", remoteAddr),
		zap.String("client_url", entry.ClientURL),
		zap.Bool("new_entry", ping.NewEntry))
	metrics.PingsReceived.WithLabelValues("accepted").Inc()

	s.TriggerMetadataRetrieval(event)
	s.dispatcher.TriggerWebhooks(event)
	return event, nil
}

func (s *Service) parsePing(body []byte, dto *Ping) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(dto); err != nil {
		return fmt.Errorf("could not parse ping: %w", err)
	}
	if err := s.validate.Struct(dto); err != nil {
		return fmt.Errorf("could not parse ping: %w", err)
	}
	return nil
}

// AcceptAdminTrigger records a manual verification request for one entry or,
// with an empty clientURL, for all of them.
func (s *Service) AcceptAdminTrigger(ctx context.Context, actor, remoteAddr, clientURL string) (*models.Event, error) {
	if clientURL != "" {
		if _, err := s.entries.FindByClientURL(ctx, clientURL); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("there is no such entry %s: %w", clientURL, models.ErrNotFound)
			}
			return nil, err
		}
	}

	event := models.NewAdminTriggerEvent(remoteAddr, actor, clientURL, s.Now())
	event.RelatedTo = clientURL
	event.Finish(s.Now())
	if _, err := s.events.Append(ctx, event); err != nil {
		return nil, err
	}

	s.logger.Info("Accepted admin trigger",
		zap.String("token_name", actor),
		zap.String("remote_addr", remoteAddr),
		zap.String("client_url", clientURL))

	s.TriggerMetadataRetrieval(event)
	s.dispatcher.TriggerWebhooks(event)
	return event, nil
}

func (s *Service) HandleWebhookPing(ctx context.Context, actor, remoteAddr, webhookUUID string) (*models.Event, error) {
	return s.dispatcher.HandleWebhookPing(ctx, actor, remoteAddr, webhookUUID)
}

// TriggerMetadataRetrieval schedules verification of every entry targeted by
// trigger and returns immediately.
func (s *Service) TriggerMetadataRetrieval(trigger *models.Event) {
	err := s.pool.Submit("prepare-retrieval", func(ctx context.Context) {
		events, err := s.retriever.PrepareEvents(ctx, trigger)
		if err != nil {
			s.logger.Error("Failed to prepare metadata retrieval", zap.String("event_uuid", trigger.UUID), zap.Error(err))
			return
		}
		s.logger.Info("Initiating metadata retrieval",
			zap.String("event_uuid", trigger.UUID),
			zap.Int("entries", len(events)))

		for _, event := range events {
			event := event
			// recorded unfinished first so the recovery sweep resumes it if
			// the task never runs
			if _, err := s.events.Append(ctx, event); err != nil {
				s.logger.Error("Failed to record metadata retrieval",
					zap.String("event_uuid", event.UUID),
					zap.String("client_url", event.RelatedTo),
					zap.Error(err))
				continue
			}
			err := s.pool.Submit("metadata-retrieval", func(ctx context.Context) {
				if err := s.retriever.Process(ctx, event); err != nil {
					s.logger.Error("Failed to retrieve metadata",
						zap.String("event_uuid", event.UUID),
						zap.String("client_url", event.RelatedTo),
						zap.Error(err))
				}
			})
			if err != nil {
				s.logger.Error("Failed to schedule metadata retrieval", zap.String("event_uuid", event.UUID), zap.Error(err))
			}
		}
	})
	if err != nil {
		s.logger.Error("Failed to schedule metadata retrieval", zap.String("event_uuid", trigger.UUID), zap.Error(err))
	}
}

// TriggerWebhooks forwards event to the dispatcher
func (s *Service) TriggerWebhooks(event *models.Event) {
	s.dispatcher.TriggerWebhooks(event)
}

func (s *Service) RecentEvents(ctx context.Context, clientURL string) ([]*models.Event, error) {
	if _, err := s.entries.FindByClientURL(ctx, clientURL); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("there is no such entry %s: %w", clientURL, models.ErrNotFound)
		}
		return nil, err
	}
	return s.events.FindRecent(ctx, clientURL, RecentEventsLimit)
}
