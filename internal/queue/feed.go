package queue

import (
	"context"

	"fdp-index/internal/models"
	"fdp-index/internal/storage"
	"fdp-index/pkg/metrics"

	"go.uber.org/zap"
)

// PublishingLog is an EventLog that also announces every finished event on
// the feed. Publishing failures are logged and never fail the append.
type PublishingLog struct {
	storage.EventLog
	publisher Publisher
	logger    *zap.Logger
}

func NewPublishingLog(log storage.EventLog, publisher Publisher, logger *zap.Logger) *PublishingLog {
	return &PublishingLog{EventLog: log, publisher: publisher, logger: logger}
}

func (l *PublishingLog) Append(ctx context.Context, event *models.Event) (*models.Event, error) {
	stored, err := l.EventLog.Append(ctx, event)
	if err != nil || !event.IsFinished() {
		return stored, err
	}

	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.Error("Failed to publish event",
			zap.String("event_uuid", event.UUID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		metrics.EventsPublished.WithLabelValues(string(event.Type), "failed").Inc()
		return stored, nil
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type), "published").Inc()
	return stored, nil
}
