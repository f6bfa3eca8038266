package mq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"orderflow/internal/pkg/apperr"
)

func TestMatchRoutingKey(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"order.created", "order.created", true},
		{"order.created", "order.completed", false},
		{"order.*", "order.completed", true},
		{"order.*", "order.ready_for_payment", true},
		{"order.*", "order", false},
		{"order.*", "order.a.b", false},
		{"order.#", "order", true},
		{"order.#", "order.a.b", true},
		{"#", "stock.validation.response", true},
		{"stock.*.response", "stock.validation.response", true},
		{"#.response", "stock.validation.response", true},
		{"stock.#.response", "stock.response", true},
		{"stock.validation.response", "stock.validation", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchRoutingKey(tc.pattern, tc.key), "%s ~ %s", tc.pattern, tc.key)
	}
}

func TestHeaders(t *testing.T) {
	var carrier KafkaHeaderCarrier
	carrier.Set("a", "1")
	carrier.Set("b", "2")
	carrier.Set("a", "3")

	assert.Equal(t, "3", carrier.Get("a"))
	assert.ElementsMatch(t, []string{"a", "b"}, carrier.Keys())
	assert.Equal(t, 0, RetryCount(nil))
	assert.Equal(t, 2, RetryCount([]kafka.Header{{Key: HeaderRetryCount, Value: []byte("2")}}))
	assert.Equal(t, "order.events.dlt", DeadLetterTopic("order.events"))
	assert.Equal(t, []string{"order.events", "order.events.dlt", "stock.events", "stock.events.dlt"},
		ExchangeTopics("order.events", "stock.events"))
}

func TestPublisherSetsRoutingHeadersAndTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	w := &fakeWriter{}
	require.NoError(t, NewPublisher(w).Publish(ctx, "order.events", "order.created", "order-1", []byte(`{}`)))

	sent := w.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "order.events", sent[0].Topic)
	assert.Equal(t, "order-1", string(sent[0].Key))
	assert.Equal(t, "order.created", HeaderValue(sent[0].Headers, HeaderRoutingKey))
	assert.Contains(t, HeaderValue(sent[0].Headers, "traceparent"), span.SpanContext().TraceID().String())
}

func TestPublisherWrapsWriteErrorAsMessaging(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	err := NewPublisher(w).Publish(context.Background(), "order.events", "order.created", "k", nil)
	assert.True(t, apperr.Is(err, apperr.KindMessaging))
}

func TestFailureHandlerRequeuesThenDeadLetters(t *testing.T) {
	w := &fakeWriter{}
	h := NewFailureHandler(w, 2)
	cause := errors.New("db timeout")

	outcome, err := h.Handle(context.Background(), "orders", message("stock.events", "stock.validation.response", "v"), cause)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequeued, outcome)

	requeued := w.sent()[0]
	assert.Equal(t, "stock.events", requeued.Topic)
	assert.Equal(t, 1, RetryCount(requeued.Headers))
	assert.Equal(t, "orders", HeaderValue(requeued.Headers, HeaderTargetQueue))
	assert.Equal(t, "stock.validation.response", HeaderValue(requeued.Headers, HeaderRoutingKey))

	exhausted := message("stock.events", "stock.validation.response", "v",
		kafka.Header{Key: HeaderRetryCount, Value: []byte("2")})
	outcome, err = h.Handle(context.Background(), "orders", exhausted, cause)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, outcome)

	dead := w.sent()[1]
	assert.Equal(t, "stock.events.dlt", dead.Topic)
	assert.Equal(t, "stock.events", HeaderValue(dead.Headers, HeaderOriginalTopic))
	assert.Equal(t, "2", HeaderValue(dead.Headers, HeaderOriginalPartition))
	assert.Equal(t, "42", HeaderValue(dead.Headers, HeaderOriginalOffset))
	assert.Equal(t, "db timeout", HeaderValue(dead.Headers, HeaderExceptionMessage))
}

func TestFailureHandlerSkipsRetriesForPermanentErrors(t *testing.T) {
	w := &fakeWriter{}
	outcome, err := NewFailureHandler(w, 5).Handle(context.Background(), "inventory", message("order.events", "order.created", "{"), Permanent(errors.New("bad json")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, "order.events.dlt", w.sent()[0].Topic)
	assert.False(t, IsPermanent(nil))
}

func TestConsumerProcessRoutesByBinding(t *testing.T) {
	w := &fakeWriter{}
	var created, other atomic.Int32
	c := NewConsumer("inventory", newFakeReader(), NewFailureHandler(w, 1)).
		Bind("order.created", func(ctx context.Context, msg kafka.Message) error { created.Add(1); return nil }).
		Bind("order.#", func(ctx context.Context, msg kafka.Message) error { other.Add(1); return nil })

	assert.True(t, c.Process(context.Background(), message("order.events", "order.created", "{}")))
	assert.True(t, c.Process(context.Background(), message("order.events", "order.completed", "{}")))
	assert.True(t, c.Process(context.Background(), message("order.events", "stock.validation.response", "{}")))

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(1), other.Load())
	assert.Empty(t, w.sent())
}

func TestConsumerProcessNacksErrorsAndPanics(t *testing.T) {
	w := &fakeWriter{}
	c := NewConsumer("orders", newFakeReader(), NewFailureHandler(w, 3)).
		Bind("stock.validation.response", func(ctx context.Context, msg kafka.Message) error {
			if string(msg.Value) == "panic" {
				panic("nil verdict")
			}
			return errors.New("store unavailable")
		})

	assert.True(t, c.Process(context.Background(), message("stock.events", "stock.validation.response", "err")))
	assert.True(t, c.Process(context.Background(), message("stock.events", "stock.validation.response", "panic")))

	sent := w.sent()
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.Equal(t, 1, RetryCount(m.Headers))
	}
}

func TestRequeuedMessageIsOnlyRedeliveredToItsOwnQueue(t *testing.T) {
	w := &fakeWriter{}
	var deducted, audited atomic.Int32
	inventory := NewConsumer("inventory", newFakeReader(), NewFailureHandler(w, 3)).
		Bind("order.completed", func(ctx context.Context, msg kafka.Message) error {
			if deducted.Add(1) == 1 {
				return errors.New("db down")
			}
			return nil
		})
	audit := NewConsumer("audit", newFakeReader(), NewFailureHandler(w, 3)).
		Bind("order.#", func(ctx context.Context, msg kafka.Message) error { audited.Add(1); return nil })

	original := message("order.events", "order.completed", "{}")
	assert.True(t, inventory.Process(context.Background(), original))
	assert.True(t, audit.Process(context.Background(), original))

	requeued := w.sent()
	require.Len(t, requeued, 1)
	assert.Equal(t, "order.events", requeued[0].Topic)

	// 两个消费组都会从主题上读到重新入队的消息
	assert.True(t, inventory.Process(context.Background(), requeued[0]))
	assert.True(t, audit.Process(context.Background(), requeued[0]))

	assert.Equal(t, int32(2), deducted.Load())
	assert.Equal(t, int32(1), audited.Load())
	assert.Len(t, w.sent(), 1)
}

func TestConsumerProcessGivesUpWhenFailureRoutingFailsAndContextEnds(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	c := NewConsumer("orders", newFakeReader(), NewFailureHandler(w, 3)).
		Bind("#", func(ctx context.Context, msg kafka.Message) error { return errors.New("boom") })
	c.backoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.False(t, c.Process(ctx, message("stock.events", "x", "")))
}

func TestConsumerRunCommitsAfterHandling(t *testing.T) {
	reader := newFakeReader(
		message("order.events", "order.created", "1"),
		message("order.events", "order.created", "2"),
	)
	var handled atomic.Int32
	c := NewConsumer("inventory", reader, NewFailureHandler(&fakeWriter{}, 1)).
		Bind("order.created", func(ctx context.Context, msg kafka.Message) error { handled.Add(1); return nil })

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond)
	c.Stop(context.Background())

	assert.Equal(t, int32(2), handled.Load())
	assert.True(t, reader.closed)
}

func TestConsumerStartRequiresBindings(t *testing.T) {
	c := NewConsumer("empty", newFakeReader(), NewFailureHandler(&fakeWriter{}, 1))
	assert.Error(t, c.Start(context.Background()))
}

func TestDeadLetterConsumerCommits(t *testing.T) {
	reader := newFakeReader(message("order.events.dlt", "order.created", "{",
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte("bad json")}))
	dlt := NewDeadLetterConsumer("order.events.dlt", reader)

	require.NoError(t, dlt.Start(context.Background()))
	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	dlt.Stop(context.Background())
}
