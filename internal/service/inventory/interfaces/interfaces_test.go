package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/inventory/application"
	"orderflow/internal/service/inventory/domain"
)

var at = time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)

type stubCatalog struct {
	panicOn string
	err     error
}

func (c *stubCatalog) FindProduct(_ context.Context, id string) (*domain.Product, error) {
	if id == c.panicOn {
		panic("catalog exploded")
	}
	if c.err != nil {
		return nil, c.err
	}
	if id == "ghost" {
		return nil, apperr.NotFound("product %s not found", id)
	}
	return &domain.Product{ID: id, Stock: 10, Active: true}, nil
}

func (c *stubCatalog) FindPromotion(_ context.Context, id string) (*domain.Promotion, error) {
	return &domain.Promotion{ID: id, MaxQuantity: 3, Active: true}, nil
}

type published struct {
	exchange, routingKey, key string
	verdict                   contract.ValidationVerdict
}

type recordingPublisher struct {
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	var v contract.ValidationVerdict
	if _, err := contract.Unmarshal(value, &v); err != nil {
		return err
	}
	p.msgs = append(p.msgs, published{exchange, routingKey, key, v})
	return nil
}

type countingLedger struct{ orders []string }

func (l *countingLedger) DeductForOrder(_ context.Context, orderID string, _ []domain.Deduction) (bool, error) {
	l.orders = append(l.orders, orderID)
	return true, nil
}

func newHandler(catalog domain.Catalog) (*OrderEventHandler, *recordingPublisher, *countingLedger) {
	pub := &recordingPublisher{}
	ledger := &countingLedger{}
	h := NewOrderEventHandler(application.NewValidator(catalog), application.NewStockService(ledger, nil), pub)
	h.now = func() time.Time { return at }
	return h, pub, ledger
}

func createdMessage(t *testing.T, evt contract.OrderCreated) kafka.Message {
	t.Helper()
	raw, err := contract.Marshal(contract.RoutingOrderCreated, evt, at)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(evt.OrderID), Value: raw}
}

func TestHandleOrderCreatedPublishesVerdict(t *testing.T) {
	h, pub, _ := newHandler(&stubCatalog{})
	msg := createdMessage(t, contract.OrderCreated{OrderID: "o-1", Owner: "alice", Lines: []contract.OrderLine{
		{ProductID: "p-1", Quantity: 2}, {ProductID: "p-2", Quantity: 20, PromotionID: "promo-1"},
	}})

	require.NoError(t, h.HandleOrderCreated(context.Background(), msg))
	require.Len(t, pub.msgs, 1)
	got := pub.msgs[0]
	assert.Equal(t, contract.ExchangeStockEvents, got.exchange)
	assert.Equal(t, contract.RoutingValidationResponse, got.routingKey)
	assert.Equal(t, "o-1", got.key)
	assert.False(t, got.verdict.IsStockValid)
	assert.True(t, got.verdict.HasPromoItems)
	assert.Equal(t, contract.ReasonInsufficientStock, got.verdict.Details[1].Reason)
	assert.Equal(t, 3, *got.verdict.Details[1].PromoCeiling)
}

func TestHandleOrderCreatedAlwaysReplies(t *testing.T) {
	cases := map[string]struct {
		catalog *stubCatalog
		msg     func(t *testing.T) kafka.Message
	}{
		"lookup error": {
			catalog: &stubCatalog{err: apperr.Persistence(errors.New("db down"), "find product")},
			msg: func(t *testing.T) kafka.Message {
				return createdMessage(t, contract.OrderCreated{OrderID: "o-1", Lines: []contract.OrderLine{{ProductID: "p-1", Quantity: 1}}})
			},
		},
		"panic": {
			catalog: &stubCatalog{panicOn: "p-1"},
			msg: func(t *testing.T) kafka.Message {
				return createdMessage(t, contract.OrderCreated{OrderID: "o-1", Lines: []contract.OrderLine{{ProductID: "p-1", Quantity: 1}}})
			},
		},
		"undecodable payload": {
			catalog: &stubCatalog{},
			msg: func(t *testing.T) kafka.Message {
				return kafka.Message{Key: []byte("o-1"), Value: []byte("{broken")}
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h, pub, _ := newHandler(tc.catalog)
			require.NoError(t, h.HandleOrderCreated(context.Background(), tc.msg(t)))
			require.Len(t, pub.msgs, 1)
			assert.Equal(t, "o-1", pub.msgs[0].verdict.OrderID)
			assert.True(t, pub.msgs[0].verdict.IsError())
			assert.False(t, pub.msgs[0].verdict.IsStockValid)
		})
	}
}

func TestHandleOrderCreatedRequeuesWhenPublishFails(t *testing.T) {
	h, pub, _ := newHandler(&stubCatalog{})
	pub.err = apperr.Messaging(errors.New("broker down"), "publish")

	err := h.HandleOrderCreated(context.Background(), createdMessage(t, contract.OrderCreated{OrderID: "o-1", Lines: []contract.OrderLine{{ProductID: "p-1", Quantity: 1}}}))
	assert.Error(t, err)
	assert.False(t, mq.IsPermanent(err))
}

func TestHandleOrderCreatedWithoutAnyOrderIDIsDeadLettered(t *testing.T) {
	h, pub, _ := newHandler(&stubCatalog{})
	err := h.HandleOrderCreated(context.Background(), kafka.Message{Value: []byte("{broken")})
	assert.True(t, mq.IsPermanent(err))
	assert.Empty(t, pub.msgs)
}

func TestHandleOrderCompletedDeductsStock(t *testing.T) {
	h, _, ledger := newHandler(&stubCatalog{})
	raw, err := contract.Marshal(contract.RoutingOrderCompleted, contract.OrderStatusChanged{
		OrderID: "o-1", Status: "completed", Lines: []contract.OrderLine{{ProductID: "p-1", Quantity: 2}},
	}, at)
	require.NoError(t, err)

	require.NoError(t, h.HandleOrderCompleted(context.Background(), kafka.Message{Value: raw}))
	assert.Equal(t, []string{"o-1"}, ledger.orders)

	assert.True(t, mq.IsPermanent(h.HandleOrderCompleted(context.Background(), kafka.Message{Value: []byte("nope")})))
}

func TestBindRoutesCreatedAndCompleted(t *testing.T) {
	h, pub, ledger := newHandler(&stubCatalog{})
	c := h.Bind(mq.NewConsumer("inventory-service.order-events", nil, nil))

	created := createdMessage(t, contract.OrderCreated{OrderID: "o-1", Lines: []contract.OrderLine{{ProductID: "p-1", Quantity: 1}}})
	created.Headers = []kafka.Header{{Key: mq.HeaderRoutingKey, Value: []byte(contract.RoutingOrderCreated)}}
	assert.True(t, c.Process(context.Background(), created))
	assert.Len(t, pub.msgs, 1)

	raw, err := contract.Marshal(contract.RoutingOrderCompleted, contract.OrderStatusChanged{OrderID: "o-1", Status: "completed"}, at)
	require.NoError(t, err)
	completed := kafka.Message{Value: raw, Headers: []kafka.Header{{Key: mq.HeaderRoutingKey, Value: []byte(contract.RoutingOrderCompleted)}}}
	assert.True(t, c.Process(context.Background(), completed))
	assert.Equal(t, []string{"o-1"}, ledger.orders)

	// 未绑定的路由键被跳过
	skipped := kafka.Message{Value: raw, Headers: []kafka.Header{{Key: mq.HeaderRoutingKey, Value: []byte(contract.RoutingOrderCancelled)}}}
	assert.True(t, c.Process(context.Background(), skipped))
	assert.Len(t, ledger.orders, 1)
}

func TestProductHandler(t *testing.T) {
	router := chi.NewRouter()
	NewProductHandler(&stubCatalog{}).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/p-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool           `json:"success"`
		Data    domain.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 10, body.Data.Stock)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
