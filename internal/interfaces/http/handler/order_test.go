package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apporder "github.com/bgl/storefront/internal/application/order"
	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/order"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/cache"
	"github.com/bgl/storefront/internal/infrastructure/remote"
	"github.com/bgl/storefront/internal/interfaces/http/dto"
	"github.com/bgl/storefront/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSubmitter is a mock implementation of OrderSubmitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, identity *shared.Identity, snapshot cart.Snapshot, ledger apporder.LedgerClearer) (string, error) {
	args := m.Called(ctx, identity, snapshot, ledger)
	return args.String(0), args.Error(1)
}

// MockHistory is a mock implementation of OrderHistory
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) List(ctx context.Context, id *shared.Identity) ([]order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockHistory) UpdateStatus(ctx context.Context, actor *shared.Identity, orderID string, status order.Status) error {
	return m.Called(ctx, actor, orderID, status).Error(0)
}

func (m *MockHistory) UpdatePaymentStatus(ctx context.Context, actor *shared.Identity, orderID string, status order.PaymentStatus) error {
	return m.Called(ctx, actor, orderID, status).Error(0)
}

type orderFixture struct {
	engine    *gin.Engine
	submitter *MockSubmitter
	history   *MockHistory
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	reg := newTestRegistry(t)
	idem := cache.NewInMemoryIdempotencyStore(time.Minute)
	t.Cleanup(func() { _ = idem.Close() })

	f := &orderFixture{submitter: new(MockSubmitter), history: new(MockHistory)}
	h := NewOrderHandler(reg, f.submitter, f.history, idem, shared.DefaultIdempotencyConfig())
	ch := NewCartHandler(reg)

	r := newTestEngine()
	r.POST("/cart/items", ch.AddItem)
	r.GET("/cart", ch.GetCart)
	r.POST("/checkout", h.Checkout)
	r.GET("/orders", h.ListOrders)
	r.PUT("/orders/:id/status", h.UpdateStatus)
	r.PUT("/orders/:id/payment", h.UpdatePaymentStatus)
	f.engine = r
	return f
}

func (f *orderFixture) fillCart(t *testing.T, user map[string]string) {
	t.Helper()
	w := doJSON(f.engine, http.MethodPost, "/cart/items", map[string]any{"product_id": "sku-1", "quantity": 4}, user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func withKey(user map[string]string, key string) map[string]string {
	h := map[string]string{middleware.IdempotencyKeyHeader: key}
	for k, v := range user {
		h[k] = v
	}
	return h
}

func clearLedger(args mock.Arguments) {
	_ = args.Get(3).(apporder.LedgerClearer).RemoveSubmitted(context.Background(), args.Get(2).(cart.Snapshot))
}

func TestOrderHandler_CheckoutSuccess(t *testing.T) {
	f := newOrderFixture(t)
	user := asUser("u-1")
	f.fillCart(t, user)

	f.submitter.On("Submit", mock.Anything,
		mock.MatchedBy(func(id *shared.Identity) bool { return id.ID == "u-1" }),
		mock.MatchedBy(func(s cart.Snapshot) bool { return s.TotalItems() == 4 }),
		mock.Anything,
	).Run(clearLedger).Return("ORD-1", nil).Once()

	w := doJSON(f.engine, http.MethodPost, "/checkout", nil, user)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env struct {
		Data CheckoutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "ORD-1", env.Data.OrderID)
	assert.Empty(t, decodeCart(t, doJSON(f.engine, http.MethodGet, "/cart", nil, user)).Items)
	f.submitter.AssertExpectations(t)
}

func TestOrderHandler_CheckoutGuestRejected(t *testing.T) {
	f := newOrderFixture(t)

	w := doJSON(f.engine, http.MethodPost, "/checkout", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeUnauthorized, decode(t, w).Error.Code)
	f.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderHandler_CheckoutEmptyCart(t *testing.T) {
	f := newOrderFixture(t)
	f.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", order.ErrEmptyCart).Once()

	w := doJSON(f.engine, http.MethodPost, "/checkout", nil, asUser("u-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeEmptyCart, decode(t, w).Error.Code)
}

func TestOrderHandler_CheckoutFailureRetainsCart(t *testing.T) {
	f := newOrderFixture(t)
	user := asUser("u-1")
	f.fillCart(t, user)

	f.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", &apporder.SubmissionError{IdempotencyKey: "k", Cause: remote.ErrUnavailable}).Once()

	w := doJSON(f.engine, http.MethodPost, "/checkout", nil, user)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, dto.ErrCodeSubmissionFailed, decode(t, w).Error.Code)

	got := decodeCart(t, doJSON(f.engine, http.MethodGet, "/cart", nil, user))
	assert.Equal(t, 4, got.TotalItems)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("10.00")))
}

func TestOrderHandler_CheckoutIdempotencyKey(t *testing.T) {
	f := newOrderFixture(t)
	user := asUser("u-1")
	f.fillCart(t, user)

	f.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("ORD-7", nil).Once()

	w := doJSON(f.engine, http.MethodPost, "/checkout", nil, withKey(user, "key-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(f.engine, http.MethodPost, "/checkout", nil, withKey(user, "key-1"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, dto.ErrCodeDuplicateRequest, decode(t, w).Error.Code)

	// Keys are scoped to the caller
	f.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("ORD-8", nil).Once()
	f.fillCart(t, asUser("u-2"))
	w = doJSON(f.engine, http.MethodPost, "/checkout", nil, withKey(asUser("u-2"), "key-1"))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	f.submitter.AssertNumberOfCalls(t, "Submit", 2)
}

func TestOrderHandler_CheckoutFailureReleasesKey(t *testing.T) {
	f := newOrderFixture(t)
	user := asUser("u-1")
	f.fillCart(t, user)

	f.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", &apporder.SubmissionError{Cause: remote.ErrUnavailable}).Once()
	f.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("ORD-9", nil).Once()

	w := doJSON(f.engine, http.MethodPost, "/checkout", nil, withKey(user, "retry-me"))
	require.Equal(t, http.StatusBadGateway, w.Code)

	w = doJSON(f.engine, http.MethodPost, "/checkout", nil, withKey(user, "retry-me"))
	assert.Equal(t, http.StatusCreated, w.Code, "a failed attempt can be retried with the same key")
	f.submitter.AssertExpectations(t)
}

func TestOrderHandler_ListOrders(t *testing.T) {
	f := newOrderFixture(t)
	orders := []order.Order{{ID: "ORD-2", Status: order.StatusPending}, {ID: "ORD-1", Status: order.StatusDelivered}}
	f.history.On("List", mock.Anything, mock.MatchedBy(func(id *shared.Identity) bool { return id.ID == "u-1" })).
		Return(orders, nil).Once()
	f.history.On("List", mock.Anything, mock.MatchedBy(func(id *shared.Identity) bool { return id.ID == "u-2" })).
		Return(nil, nil).Once()

	w := doJSON(f.engine, http.MethodGet, "/orders", nil, asUser("u-1"))
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []order.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 2)
	assert.Equal(t, "ORD-2", env.Data[0].ID)

	w = doJSON(f.engine, http.MethodGet, "/orders", nil, asUser("u-2"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", string(mustField(t, w, "data")))
}

func TestOrderHandler_ListOrdersGuest(t *testing.T) {
	f := newOrderFixture(t)
	f.history.On("List", mock.Anything, mock.MatchedBy(func(id *shared.Identity) bool { return id.IsGuest() })).Return(nil, shared.ErrUnauthenticated).Once()

	w := doJSON(f.engine, http.MethodGet, "/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderHandler_UpdateStatus(t *testing.T) {
	admin := map[string]string{middleware.HeaderUserID: "a-1", middleware.HeaderUserRole: shared.RoleAdmin}

	tests := []struct {
		name     string
		path     string
		body     map[string]any
		setup    func(h *MockHistory)
		wantCode int
	}{
		{
			name: "status moved forward",
			path: "/orders/ORD-1/status",
			body: map[string]any{"status": "processing"},
			setup: func(h *MockHistory) {
				h.On("UpdateStatus", mock.Anything, mock.Anything, "ORD-1", order.StatusProcessing).Return(nil).Once()
			},
			wantCode: http.StatusNoContent,
		},
		{
			name: "illegal transition",
			path: "/orders/ORD-1/status",
			body: map[string]any{"status": "pending"},
			setup: func(h *MockHistory) {
				h.On("UpdateStatus", mock.Anything, mock.Anything, "ORD-1", order.StatusPending).Return(order.ErrInvalidTransition).Once()
			},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown order",
			path: "/orders/missing/status",
			body: map[string]any{"status": "delivered"},
			setup: func(h *MockHistory) {
				h.On("UpdateStatus", mock.Anything, mock.Anything, "missing", order.StatusDelivered).Return(shared.ErrNotFound).Once()
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "not an admin",
			path: "/orders/ORD-1/status",
			body: map[string]any{"status": "delivered"},
			setup: func(h *MockHistory) {
				h.On("UpdateStatus", mock.Anything, mock.Anything, "ORD-1", order.StatusDelivered).Return(apporder.ErrForbidden).Once()
			},
			wantCode: http.StatusForbidden,
		},
		{
			name:     "missing status",
			path:     "/orders/ORD-1/status",
			body:     map[string]any{},
			setup:    func(*MockHistory) {},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "payment recorded",
			path: "/orders/ORD-1/payment",
			body: map[string]any{"paymentStatus": "paid"},
			setup: func(h *MockHistory) {
				h.On("UpdatePaymentStatus", mock.Anything, mock.Anything, "ORD-1", order.PaymentPaid).Return(nil).Once()
			},
			wantCode: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t)
			tt.setup(f.history)

			w := doJSON(f.engine, http.MethodPut, tt.path, tt.body, admin)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			f.history.AssertExpectations(t)
		})
	}
}

func mustField(t *testing.T, w *httptest.ResponseRecorder, name string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m[name]
}
