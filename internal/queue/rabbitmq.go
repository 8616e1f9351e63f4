package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fdp-index/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
	Close() error
}

// RabbitMQ publishes events to a durable direct exchange. The routing key is
// the event type so consumers can bind to the kinds they care about.
type RabbitMQ struct {
	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	exchangeName string
	logger       *zap.Logger
}

func NewRabbitMQ(url, exchangeName string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := NewRabbitMQConnection(url, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %v", err)
	}

	logger.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))
	return &RabbitMQ{
		conn:         conn,
		ch:           ch,
		exchangeName: exchangeName,
		logger:       logger,
	}, nil
}

// NewMessage builds the AMQP message carrying event
func NewMessage(event *models.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %v", err)
	}

	headers := make(amqp.Table)
	headers["event_uuid"] = event.UUID
	headers["event_type"] = string(event.Type)
	if event.RelatedTo != "" {
		headers["client_url"] = event.RelatedTo
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		Headers:      headers,
		MessageId:    event.UUID,
		Timestamp:    event.Created,
		Type:         string(event.Type),
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, event *models.Event) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// channels are not safe for concurrent publishing
	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.ch.PublishWithContext(ctx,
		r.exchangeName,
		string(event.Type), // routing key
		false,              // mandatory
		false,              // immediate
		msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil {
		r.logger.Error("Failed to close channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Error("Failed to close connection", zap.Error(err))
	}
	return nil
}
