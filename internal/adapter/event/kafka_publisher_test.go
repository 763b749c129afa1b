package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/port"
)

var _ port.EventPublisher = (*KafkaPublisher)(nil)
var _ port.EventPublisher = NoopPublisher{}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	err     error
	closed  bool
	blockCh chan struct{}
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) messages() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func testOrder() domain.Order {
	return domain.Order{
		ID:        "o-1",
		BuyerID:   "u-1",
		Basket:    domain.Basket{ProductID: "p-1", Quantity: 2, UnitCost: 10, Total: 20},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestPublishOrderCreated(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, 8, slog.New(slog.DiscardHandler))
	p.Start()

	require.NoError(t, p.PublishOrderCreated(context.Background(), testOrder()))
	p.Close()

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "u-1", string(msgs[0].Key))
	assert.Equal(t, TypeOrderCreated, headerValue(msgs[0].Headers, headerEventType))
	assert.True(t, w.closed)

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, TypeOrderCreated, env.Type)

	var order domain.Order
	require.NoError(t, json.Unmarshal(env.Payload, &order))
	assert.Equal(t, testOrder(), order)
}

func TestPublishSettlementFailed(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, 8, slog.New(slog.DiscardHandler))
	p.Start()

	result := domain.OrderResult{
		Order: testOrder(),
		Settlement: domain.Settlement{
			Status:     domain.SettlementPartialFailure,
			BalanceErr: domain.ErrInsufficientFunds,
		},
	}
	require.NoError(t, p.PublishSettlementFailed(context.Background(), result))
	p.Close()

	msgs := w.messages()
	require.Len(t, msgs, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
	assert.Equal(t, TypeSettlementFailed, env.Type)

	var payload SettlementFailedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "o-1", payload.Order.ID)
	assert.Empty(t, payload.StockError)
	assert.Equal(t, domain.ErrInsufficientFunds.Error(), payload.BalanceError)
}

func TestPublishInjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &fakeWriter{}
	p := NewKafkaPublisher(w, 8, slog.New(slog.DiscardHandler))
	p.Start()
	require.NoError(t, p.PublishOrderCreated(ctx, testOrder()))
	p.Close()

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t,
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		headerValue(msgs[0].Headers, "traceparent"))
}

func TestPublishAfterClose(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{}, 8, slog.New(slog.DiscardHandler))
	p.Start()
	p.Close()
	p.Close()

	err := p.PublishOrderCreated(context.Background(), testOrder())
	assert.ErrorIs(t, err, ErrPublisherClosed)
}

func TestPublishInboxFull(t *testing.T) {
	w := &fakeWriter{blockCh: make(chan struct{})}
	p := NewKafkaPublisher(w, 1, slog.New(slog.DiscardHandler))
	p.Start()

	ctx := context.Background()
	// the first message is taken by the writer loop, which then blocks
	require.NoError(t, p.PublishOrderCreated(ctx, testOrder()))
	require.Eventually(t, func() bool { return len(p.inbox) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.PublishOrderCreated(ctx, testOrder()))

	assert.ErrorIs(t, p.PublishOrderCreated(ctx, testOrder()), ErrInboxFull)

	close(w.blockCh)
	p.Close()
	assert.Len(t, w.messages(), 2)
}

func TestWriteErrorsAreLoggedNotReturned(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w, 8, slog.New(slog.DiscardHandler))
	p.Start()

	assert.NoError(t, p.PublishOrderCreated(context.Background(), testOrder()))
	p.Close()
	assert.Empty(t, w.messages())
}
