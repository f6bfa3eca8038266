package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/pkg/testutil"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/infrastructure"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer(t *testing.T) (*httptest.Server, *infrastructure.GormOrderRepository) {
	t.Helper()
	db := testutil.OpenSQLite(t, infrastructure.Models()...)
	repo := infrastructure.NewGormOrderRepository(db)
	router := chi.NewRouter()
	NewOrderHandler(application.NewOrderService(repo)).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, repo
}

func do(t *testing.T, method, url, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func createOrder(t *testing.T, srv *httptest.Server, body string) application.OrderResponse {
	t.Helper()
	status, env := do(t, http.MethodPost, srv.URL+"/orders", body)
	require.Equal(t, http.StatusCreated, status, env.Message)
	require.True(t, env.Success)
	var order application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &order))
	return order
}

func day() time.Time { return time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC) }

const aliceOrder = `{"owner":"alice","total":"21.00","items":[{"productId":"p-1","quantity":2,"unitPrice":10.5}]}`

func TestCreateAndGetOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	order := createOrder(t, srv, aliceOrder)
	assert.Equal(t, "pending", order.Status)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "21", order.Total.String())

	status, env := do(t, http.MethodGet, srv.URL+"/orders/"+order.ID, "")
	assert.Equal(t, http.StatusOK, status)
	var got application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, order.ID, got.ID)
	require.Len(t, got.Items, 1)

	status, env = do(t, http.MethodGet, srv.URL+"/orders/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Message)
}

func TestCreateOrderValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := map[string]string{
		"bad json":       `{"owner":`,
		"no items":       `{"owner":"alice","items":[]}`,
		"zero quantity":  `{"owner":"alice","items":[{"productId":"p-1","quantity":0,"unitPrice":1}]}`,
		"negative price": `{"owner":"alice","items":[{"productId":"p-1","quantity":1,"unitPrice":-1}]}`,
		"total mismatch": `{"owner":"alice","total":5,"items":[{"productId":"p-1","quantity":1,"unitPrice":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, env := do(t, http.MethodPost, srv.URL+"/orders", body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.False(t, env.Success)
		})
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	order := createOrder(t, srv, aliceOrder)

	status, env := do(t, http.MethodPut, srv.URL+"/orders/"+order.ID+"/status", `{"status":"not_a_status"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Success)

	_, env = do(t, http.MethodGet, srv.URL+"/orders/"+order.ID, "")
	var got application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "pending", got.Status)
}

func TestUpdateStatusStateMachine(t *testing.T) {
	srv, _ := newTestServer(t)
	order := createOrder(t, srv, aliceOrder)

	status, _ := do(t, http.MethodPut, srv.URL+"/orders/missing/status", `{"status":"failed"}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodPut, srv.URL+"/orders/"+order.ID+"/status", `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusOK, status)

	status, env := do(t, http.MethodPut, srv.URL+"/orders/"+order.ID+"/status", `{"status":"pending"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, env.Success)
}

func TestPaymentAndListing(t *testing.T) {
	srv, repo := newTestServer(t)
	order := createOrder(t, srv, aliceOrder)
	createOrder(t, srv, `{"owner":"bob","items":[{"productId":"p-2","quantity":1,"unitPrice":"3"}]}`)

	status, _ := do(t, http.MethodPost, srv.URL+"/orders/"+order.ID+"/payment", "")
	assert.Equal(t, http.StatusConflict, status)

	_, err := repo.TransitionStatus(context.Background(), order.ID, domain.StatusReadyForPayment)
	require.NoError(t, err)
	status, env := do(t, http.MethodPost, srv.URL+"/orders/"+order.ID+"/payment", "")
	assert.Equal(t, http.StatusOK, status)
	var paid application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, "completed", paid.Status)

	status, env = do(t, http.MethodGet, srv.URL+"/users/alice/orders", "")
	assert.Equal(t, http.StatusOK, status)
	var mine []application.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, order.ID, mine[0].ID)

	status, env = do(t, http.MethodGet, srv.URL+"/orders?status=pending&page=1&size=10", "")
	assert.Equal(t, http.StatusOK, status)
	var page application.OrderPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, "bob", page.Orders[0].Owner)

	status, _ = do(t, http.MethodGet, srv.URL+"/orders?status=weird", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

type fakeProcessor struct {
	got []contract.ValidationVerdict
	err error
}

func (p *fakeProcessor) HandleVerdict(_ context.Context, v contract.ValidationVerdict) error {
	p.got = append(p.got, v)
	return p.err
}

func TestVerdictHandler(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewVerdictHandler(proc)
	ctx := context.Background()

	raw, err := contract.Marshal(contract.RoutingValidationResponse,
		contract.NewVerdict("o-1", []contract.LineVerdict{{ProductID: "p-1", Requested: 1, Available: 2, Valid: true}}), day())
	require.NoError(t, err)
	require.NoError(t, h.Handle(ctx, kafka.Message{Value: raw}))
	require.Len(t, proc.got, 1)
	assert.Equal(t, "o-1", proc.got[0].OrderID)
	assert.True(t, proc.got[0].IsStockValid)

	err = h.Handle(ctx, kafka.Message{Value: []byte("not json")})
	assert.True(t, mq.IsPermanent(err))

	noID, err := contract.Marshal(contract.RoutingValidationResponse, contract.ValidationVerdict{}, day())
	require.NoError(t, err)
	assert.True(t, mq.IsPermanent(h.Handle(ctx, kafka.Message{Value: noID})))

	proc.err = errors.New("store unavailable")
	err = h.Handle(ctx, kafka.Message{Value: raw})
	assert.Error(t, err)
	assert.False(t, mq.IsPermanent(err))
}
