package contract

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeCarriesEventTypeAndTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CST", 8*3600))
	raw, err := Marshal(RoutingOrderCreated, OrderCreated{
		OrderID: "o-1",
		Owner:   "alice",
		Total:   decimal.RequireFromString("19.90"),
		Lines:   []OrderLine{{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.RequireFromString("9.95")}},
	}, at)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"eventType":"order.created"`)
	assert.Contains(t, string(raw), `"timestamp":"2024-03-01T02:00:00Z"`)

	var got OrderCreated
	env, err := Unmarshal(raw, &got)
	require.NoError(t, err)
	assert.Equal(t, RoutingOrderCreated, env.EventType)
	assert.Equal(t, "o-1", got.OrderID)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("19.9")))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var v ValidationVerdict
	_, err := Unmarshal([]byte("{not json"), &v)
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"eventType":"stock.validation.response","data":null}`), &v)
	assert.Error(t, err)
}

func TestNewVerdictAggregates(t *testing.T) {
	ceiling := 5
	v := NewVerdict("o-1", []LineVerdict{
		{ProductID: "p-1", Valid: true},
		{ProductID: "p-2", Valid: false, Reason: ReasonInsufficientStock, HasPromo: true, PromoCeiling: &ceiling},
	})
	assert.False(t, v.IsStockValid)
	assert.True(t, v.HasPromoItems)

	v = NewVerdict("o-2", []LineVerdict{{ProductID: "p-1", Valid: true}})
	assert.True(t, v.IsStockValid)
	assert.False(t, v.HasPromoItems)
	assert.False(t, v.IsError())
}

func TestErrorVerdict(t *testing.T) {
	v := ErrorVerdict("o-1", errors.New("db down"))
	assert.True(t, v.IsError())
	assert.False(t, v.IsStockValid)
	assert.Equal(t, "db down", v.Error)
}

func TestStatusRoutingKey(t *testing.T) {
	assert.Equal(t, RoutingOrderReadyForPayment, StatusRoutingKey("ready_for_payment"))
	assert.Equal(t, RoutingOrderCancelled, StatusRoutingKey("cancelled"))
	assert.Equal(t, RoutingOrderCompleted, StatusRoutingKey("completed"))
	assert.Equal(t, RoutingOrderUpdated, StatusRoutingKey("failed"))
	assert.Equal(t, RoutingOrderUpdated, StatusRoutingKey("pending"))
}

func TestReasonDescribe(t *testing.T) {
	assert.Equal(t, "out of stock", ReasonInsufficientStock.Describe())
	assert.Equal(t, "not found", ReasonNotFound.Describe())
	assert.Equal(t, "inactive", ReasonInactive.Describe())
}
