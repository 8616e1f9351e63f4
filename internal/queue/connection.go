package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dialAttempts = 5
	dialBackoff  = 2 * time.Second
)

// NewRabbitMQConnection dials the broker, retrying while it starts up
func NewRabbitMQConnection(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < dialAttempts {
			time.Sleep(time.Duration(attempt) * dialBackoff)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", lastErr)
}
