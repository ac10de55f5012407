package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
)

// SQSMessenger sends notifications to the messaging provider through an SQS queue.
type SQSMessenger struct {
	publisher *aws.Publisher
}

func NewSQSMessenger(p *aws.Publisher) *SQSMessenger {
	return &SQSMessenger{publisher: p}
}

func (m *SQSMessenger) Send(ctx context.Context, n OrderNotification) error {
	return m.publisher.SendJSON(ctx, n, map[string]string{
		"topic":         n.Topic,
		"restaurant_id": n.RestaurantID,
		"role_id":       n.RoleID,
		"order_id":      n.OrderID,
	})
}

// AMQPChannel is the subset of *amqp.Channel used for publishing.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPMessenger publishes notifications to a topic exchange with the topic as routing key.
type AMQPMessenger struct {
	ch       AMQPChannel
	exchange string
}

func NewAMQPMessenger(ch AMQPChannel, exchange string) *AMQPMessenger {
	return &AMQPMessenger{ch: ch, exchange: exchange}
}

// DeclareExchange declares the durable topic exchange notifications are routed through.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

func (m *AMQPMessenger) Send(ctx context.Context, n OrderNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = m.ch.PublishWithContext(ctx, m.exchange, n.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    n.OrderID + ":" + n.RoleID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", m.exchange, err)
	}
	return nil
}

// BreakerMessenger stops calling a failing provider until it recovers.
type BreakerMessenger struct {
	next Messenger
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings returns the breaker configuration used for messengers.
func BreakerSettings(name string, logger *zap.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
}

func NewBreakerMessenger(next Messenger, settings gobreaker.Settings) *BreakerMessenger {
	return &BreakerMessenger{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (m *BreakerMessenger) Send(ctx context.Context, n OrderNotification) error {
	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, m.next.Send(ctx, n)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (m *BreakerMessenger) State() gobreaker.State {
	return m.cb.State()
}
