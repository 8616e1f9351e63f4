package events

import (
	"context"
	"fmt"

	"fdp-index/internal/models"
	"fdp-index/pkg/metrics"

	"go.uber.org/zap"
)

// StartRecovery schedules the recovery sweep without waiting for it
func (s *Service) StartRecovery() error {
	return s.pool.Submit("recovery", func(ctx context.Context) {
		if _, err := s.Recover(ctx); err != nil {
			s.logger.Error("Recovery of unfinished events failed", zap.Error(err))
		}
	})
}

// Recover re-drives every unfinished event through its handler. Each event is
// handled in isolation; the count of events finished by the sweep is returned.
func (s *Service) Recover(ctx context.Context) (int, error) {
	s.logger.Info("Resuming unfinished events")

	unfinished, err := s.events.FindUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("load unfinished events: %w", err)
	}

	resumed := 0
	for _, event := range unfinished {
		if err := s.resume(ctx, event); err != nil {
			s.logger.Error("Failed to resume event",
				zap.String("event_uuid", event.UUID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
			metrics.EventsRecovered.WithLabelValues(string(event.Type), "failed").Inc()
			continue
		}
		if event.IsFinished() {
			resumed++
			metrics.EventsRecovered.WithLabelValues(string(event.Type), "finished").Inc()
		}
	}

	s.logger.Info("Finished unfinished events", zap.Int("found", len(unfinished)), zap.Int("resumed", resumed))
	return resumed, nil
}

func (s *Service) resume(ctx context.Context, event *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	s.logger.Info("Resuming event", zap.String("event_uuid", event.UUID), zap.String("type", string(event.Type)))

	switch event.Type {
	case models.EventTypeMetadataRetrieval:
		return s.retriever.Process(ctx, event)
	case models.EventTypeWebhookTrigger:
		return s.dispatcher.Resume(ctx, event)
	default:
		s.logger.Warn("Unknown event type to resume",
			zap.String("event_uuid", event.UUID),
			zap.String("type", string(event.Type)))
		metrics.EventsRecovered.WithLabelValues(string(event.Type), "skipped").Inc()
		return nil
	}
}
