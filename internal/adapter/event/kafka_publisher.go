package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/market-orders/internal/core/domain"
)

const (
	TypeOrderCreated     = "order.created"
	TypeSettlementFailed = "order.settlement_failed"

	headerEventType = "event-type"
	writeTimeout    = 5 * time.Second
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
	ErrInboxFull       = errors.New("publisher inbox full")
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value of every message on the orders topic.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type SettlementFailedPayload struct {
	Order        domain.Order `json:"order"`
	StockError   string       `json:"stock_error,omitempty"`
	BalanceError string       `json:"balance_error,omitempty"`
}

// KafkaPublisher queues events on an in-memory inbox and writes them from a
// single goroutine so the order path never waits on the broker.
type KafkaPublisher struct {
	w     MessageWriter
	log   *slog.Logger
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaPublisher(w MessageWriter, buf int, log *slog.Logger) *KafkaPublisher {
	if buf <= 0 {
		buf = 1024
	}
	return &KafkaPublisher{
		w:     w,
		log:   log,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start launches the writer loop. It runs until Close.
func (p *KafkaPublisher) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Error("kafka write failed",
					"key", string(m.Key),
					"event_type", headerValue(m.Headers, headerEventType),
					"err", err)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Error("kafka writer close failed", "err", err)
		}
	}()
}

// Close stops accepting events, flushes the inbox and waits for the writer
// loop to exit.
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order domain.Order) error {
	return p.publish(ctx, TypeOrderCreated, order.BuyerID, order)
}

func (p *KafkaPublisher) PublishSettlementFailed(ctx context.Context, result domain.OrderResult) error {
	payload := SettlementFailedPayload{
		Order:        result.Order,
		StockError:   errText(result.Settlement.StockErr),
		BalanceError: errText(result.Settlement.BalanceErr),
	}
	return p.publish(ctx, TypeSettlementFailed, result.Order.BuyerID, payload)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(Envelope{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	})
	if err != nil {
		return err
	}

	headers := injectTraceHeaders(ctx, []kafka.Header{
		{Key: headerEventType, Value: []byte(eventType)},
	})

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NoopPublisher drops every event. It is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderCreated(context.Context, domain.Order) error { return nil }

func (NoopPublisher) PublishSettlementFailed(context.Context, domain.OrderResult) error { return nil }
