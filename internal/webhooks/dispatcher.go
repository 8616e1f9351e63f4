package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fdp-index/internal/models"
	"fdp-index/internal/outbound"
	"fdp-index/internal/storage"
	"fdp-index/internal/worker"
	"fdp-index/pkg/metrics"

	"go.uber.org/zap"
)

type Submitter interface {
	Submit(name string, task worker.Task) error
}

type Appender interface {
	Append(ctx context.Context, event *models.Event) (*models.Event, error)
}

// Dispatcher matches events against webhook subscriptions and delivers signed
// notifications. Deliveries are recorded as WebhookTrigger events and are
// never retried once finished.
type Dispatcher struct {
	events   Appender
	webhooks storage.WebhookStore
	pool     Submitter
	client   *outbound.Client
	timeout  time.Duration
	logger   *zap.Logger
	Now      func() time.Time
}

func NewDispatcher(events Appender, webhooks storage.WebhookStore, pool Submitter, client *outbound.Client, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		events:   events,
		webhooks: webhooks,
		pool:     pool,
		client:   client,
		timeout:  timeout,
		logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Kinds maps an event to the notification kinds it produces
func Kinds(event *models.Event) []models.WebhookEventKind {
	switch event.Type {
	case models.EventTypeIncomingPing:
		kinds := []models.WebhookEventKind{models.WebhookEventIncomingPing}
		if p := event.IncomingPing(); p != nil && p.NewEntry {
			kinds = append(kinds, models.WebhookEventNewEntry)
		}
		return kinds
	case models.EventTypeAdminTrigger:
		return []models.WebhookEventKind{models.WebhookEventAdminTrigger}
	case models.EventTypeMetadataRetrieval:
		p := event.MetadataRetrieval()
		if p == nil {
			return nil
		}
		switch p.EntryState {
		case models.EntryStateValid:
			return []models.WebhookEventKind{models.WebhookEventEntryValid}
		case models.EntryStateInvalid:
			return []models.WebhookEventKind{models.WebhookEventEntryInvalid}
		case models.EntryStateUnreachable:
			return []models.WebhookEventKind{models.WebhookEventEntryUnreachable}
		}
		return nil
	case models.EventTypeWebhookPing:
		return []models.WebhookEventKind{models.WebhookEventWebhookPing}
	}
	return nil
}

// Matches reports whether webhook should be notified of kind for event. A
// webhook ping only reaches the pinged subscription.
func Matches(webhook *models.Webhook, kind models.WebhookEventKind, event *models.Event) bool {
	if !webhook.Enabled {
		return false
	}
	if ping := event.WebhookPing(); ping != nil {
		return webhook.UUID == ping.WebhookUUID
	}
	return webhook.Subscribes(kind) && webhook.Watches(event.RelatedTo)
}

// TriggerWebhooks schedules delivery of event to every matching subscription
// and returns immediately.
func (d *Dispatcher) TriggerWebhooks(event *models.Event) {
	kinds := Kinds(event)
	if len(kinds) == 0 {
		return
	}

	err := d.pool.Submit("match-webhooks", func(ctx context.Context) {
		d.dispatch(ctx, event, kinds)
	})
	if err != nil {
		d.logger.Error("Failed to schedule webhooks", zap.String("event_uuid", event.UUID), zap.Error(err))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event *models.Event, kinds []models.WebhookEventKind) {
	webhooks, err := d.webhooks.FindAll(ctx)
	if err != nil {
		d.logger.Error("Failed to load webhooks", zap.String("event_uuid", event.UUID), zap.Error(err))
		return
	}

	for _, kind := range kinds {
		d.logger.Info("Triggered webhook event",
			zap.String("kind", string(kind)),
			zap.String("event_uuid", event.UUID))

		for _, webhook := range webhooks {
			webhook := webhook
			if !Matches(webhook, kind, event) {
				continue
			}
			// recorded unfinished first so the recovery sweep redelivers it
			// if the task never runs
			delivery := models.NewWebhookTriggerEvent(webhook, kind, event, d.Now())
			if _, err := d.events.Append(ctx, delivery); err != nil {
				d.logger.Error("Failed to record webhook delivery",
					zap.String("webhook_uuid", webhook.UUID),
					zap.Error(err))
				continue
			}
			err := d.pool.Submit("deliver-webhook", func(ctx context.Context) {
				d.deliver(ctx, webhook, delivery)
			})
			if err != nil {
				d.logger.Error("Failed to schedule webhook delivery",
					zap.String("event_uuid", delivery.UUID),
					zap.String("webhook_uuid", webhook.UUID),
					zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, webhook *models.Webhook, event *models.Event) {
	if err := d.process(ctx, event, webhook); err != nil {
		d.logger.Error("Failed to record webhook delivery",
			zap.String("event_uuid", event.UUID),
			zap.String("webhook_uuid", webhook.UUID),
			zap.Error(err))
	}
}

// Resume re-delivers a WebhookTrigger event left unfinished
func (d *Dispatcher) Resume(ctx context.Context, event *models.Event) error {
	trigger := event.WebhookTrigger()
	if trigger == nil {
		return fmt.Errorf("event %s is not a webhook trigger", event.UUID)
	}

	webhook, err := d.webhooks.FindByUUID(ctx, trigger.WebhookUUID)
	if errors.Is(err, storage.ErrNotFound) {
		trigger.Error = "Webhook not found"
		event.Finish(d.Now())
		_, err = d.events.Append(ctx, event)
		return err
	}
	if err != nil {
		return err
	}
	return d.process(ctx, event, webhook)
}

func (d *Dispatcher) process(ctx context.Context, event *models.Event, webhook *models.Webhook) error {
	trigger := event.WebhookTrigger()
	event.Execute(d.Now())
	if _, err := d.events.Append(ctx, event); err != nil {
		return err
	}

	payload := Payload{
		Event:     trigger.MatchedEvent,
		ClientURL: event.RelatedTo,
		UUID:      event.UUID,
		Timestamp: d.Now().Format(time.RFC3339Nano),
		Secret:    webhook.Secret,
	}

	start := time.Now()
	ex := models.NewOutgoingExchange()
	trigger.Exchange = ex

	body, signature, err := payload.Seal()
	if err != nil {
		trigger.Error = "Cannot serialize payload: " + err.Error()
	} else {
		d.client.Do(ctx, outbound.Request{
			Method: http.MethodPost,
			URL:    webhook.PayloadURL,
			Header: http.Header{
				"Content-Type":  {"application/json"},
				SignatureHeader: {signature},
			},
			Body:    body,
			Timeout: d.timeout,
		}, ex)
	}

	metrics.WebhookDeliveries.WithLabelValues(string(trigger.MatchedEvent), string(ex.State)).Inc()
	metrics.WebhookDeliveryDuration.WithLabelValues(string(trigger.MatchedEvent)).Observe(time.Since(start).Seconds())

	d.logger.Info("Webhook delivered",
		zap.String("event_uuid", event.UUID),
		zap.String("webhook_uuid", webhook.UUID),
		zap.String("kind", string(trigger.MatchedEvent)),
		zap.String("state", string(ex.State)),
		zap.Int("code", ex.Response.Code))

	event.Finish(d.Now())
	_, err = d.events.Append(ctx, event)
	return err
}

// HandleWebhookPing records a test notification for one subscription and
// delivers it.
func (d *Dispatcher) HandleWebhookPing(ctx context.Context, actor, remoteAddr, webhookUUID string) (*models.Event, error) {
	if _, err := d.webhooks.FindByUUID(ctx, webhookUUID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("webhook %s: %w", webhookUUID, models.ErrNotFound)
		}
		return nil, err
	}

	event := models.NewWebhookPingEvent(webhookUUID, remoteAddr, actor, d.Now())
	event.Finish(d.Now())
	if _, err := d.events.Append(ctx, event); err != nil {
		return nil, err
	}

	d.TriggerWebhooks(event)
	return event, nil
}
