/**
 * @description
 * This package publishes payment lifecycle events to RabbitMQ so downstream
 * services (notifications, analytics, fraud review) can follow what users do
 * with risk warnings and settlements.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/securepay/payment-service/internal/domain"
)

const DefaultExchange = "payment_events"

// Routing keys for payment events.
const (
	RoutingPaymentSettled   = "payment.settled"
	RoutingPaymentCancelled = "payment.cancelled"
	RoutingPaymentBlocked   = "payment.blocked"
	RoutingRiskWarned       = "payment.risk.warned"
	RoutingPayeeReported    = "payee.reported"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishPaymentEvent(ctx context.Context, routingKey string, event domain.PaymentEvent) error
	PublishPayeeReport(ctx context.Context, report domain.PayeeReport) error
	Close()
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishPaymentEvent(ctx context.Context, routingKey string, event domain.PaymentEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"payment event publish skipped\" routing_key=%s payment_id=%s", routingKey, event.PaymentID)
	return nil
}

func (p *EventProducerFallback) PublishPayeeReport(ctx context.Context, report domain.PayeeReport) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"payee report publish skipped\" report_id=%s", report.ID)
	return nil
}

func (p *EventProducerFallback) Close() {}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	// drop stray characters before the scheme
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer connects to RabbitMQ. Events go to exchange, or DefaultExchange when empty.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends body as JSON to exchange with routingKey. A failed declare or publish
// reopens the channel once and tries again.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishOnce(ctx, exchange, routingKey, jsonBody)
	if err == nil {
		return nil
	}
	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
	if p.conn == nil {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	return p.publishOnce(ctx, exchange, routingKey, jsonBody)
}

func (p *EventProducer) publishOnce(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
}

// PublishPaymentEvent publishes a payment lifecycle event to the configured exchange.
func (p *EventProducer) PublishPaymentEvent(ctx context.Context, routingKey string, event domain.PaymentEvent) error {
	return p.Publish(ctx, p.exchange, routingKey, event)
}

// PublishPayeeReport publishes a user's report about a payee.
func (p *EventProducer) PublishPayeeReport(ctx context.Context, report domain.PayeeReport) error {
	return p.Publish(ctx, p.exchange, RoutingPayeeReported, report)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// RoutingKeyFor maps a flow state to the event published when a payment enters it.
// ok is false for states that are not published.
func RoutingKeyFor(state domain.FlowState) (string, bool) {
	switch state {
	case domain.StateSucceeded:
		return RoutingPaymentSettled, true
	case domain.StateCancelled:
		return RoutingPaymentCancelled, true
	case domain.StateBlocked:
		return RoutingPaymentBlocked, true
	case domain.StateAwaitingOverride:
		return RoutingRiskWarned, true
	default:
		return "", false
	}
}
