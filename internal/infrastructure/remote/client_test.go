package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/chat"
	"github.com/bgl/storefront/internal/domain/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/api/", Timeout: 2 * time.Second}, nil)
}

func sampleSnapshot(t *testing.T) cart.Snapshot {
	t.Helper()
	s, err := cart.Empty().AddItem(cart.LineItem{ProductID: "p1", Variant: "M", Quantity: 3, UnitPrice: decimal.RequireFromString("6.25")})
	require.NoError(t, err)
	return s
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.False(t, c.Configured())

	_, err := c.GetCart(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_BearerToken(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.WithToken("tok-123").GetCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", auth)

	_, err = c.GetCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", auth, "WithToken must not modify the parent client")
}

func TestClient_ContextTokenWins(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	ctx := ContextWithToken(context.Background(), "request-token")
	_, err := c.WithToken("session-token").GetCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer request-token", auth)

	_, err = c.WithToken("session-token").GetCart(ContextWithToken(context.Background(), ""))
	require.NoError(t, err)
	assert.Equal(t, "Bearer session-token", auth)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, `oops`, ErrRequestFailed},
		{"not found", http.StatusNotFound, ``, ErrRequestFailed},
		{"bad json", http.StatusOK, `{"items": "nope"}`, ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.GetCart(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_UnauthorizedIsAlsoRequestFailed(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusUnauthorized, Path: "/cart"}
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.True(t, errors.Is(err, ErrRequestFailed))
	assert.False(t, errors.Is(&StatusError{StatusCode: 500}, ErrUnauthorized))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.GetCart(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ResponseSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"productId":"p1","size":"","quantity":1,"unitPrice":"1"}]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxResponseBytes: 10}, nil)
	_, err := c.GetCart(context.Background())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

// ---------------------------------------------------------------------------
// Cart
// ---------------------------------------------------------------------------

func TestGetCart(t *testing.T) {
	for name, body := range map[string]string{
		"bare array":  `[{"productId":"p1","size":"M","quantity":2,"unitPrice":"4.5","totalPrice":"9"}]`,
		"items field": `{"items":[{"productId":"p1","size":"M","quantity":2,"unitPrice":4.5,"totalPrice":9}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/cart", r.URL.Path)
				_, _ = w.Write([]byte(body))
			})
			s, err := c.GetCart(context.Background())
			require.NoError(t, err)
			line, ok := s.Find("p1", "M")
			require.True(t, ok)
			assert.Equal(t, 2, line.Quantity)
			assert.True(t, decimal.RequireFromString("9").Equal(s.TotalAmount()))
		})
	}
}

func TestReplaceCart(t *testing.T) {
	var got []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.ReplaceCart(context.Background(), sampleSnapshot(t)))
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0]["productId"])
	assert.Equal(t, "M", got[0]["size"])
	assert.EqualValues(t, 3, got[0]["quantity"])
	assert.Contains(t, got[0], "unitPrice")
	assert.Contains(t, got[0], "totalPrice")
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func TestCreateOrder(t *testing.T) {
	for name, body := range map[string]string{
		"numeric id": `{"success":true,"order_id":1042}`,
		"string id":  `{"success":true,"order_id":"1042"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var (
				key     string
				request CreateOrderRequest
			)
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/orders", r.URL.Path)
				key = r.Header.Get("Idempotency-Key")
				require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(body))
			})

			s := sampleSnapshot(t)
			resp, err := c.CreateOrder(context.Background(), CreateOrderRequest{
				ClientName:  "Acme",
				ClientEmail: "buyer@acme.test",
				Items:       s.Items(),
				Total:       s.TotalAmount(),
			}, "key-1")
			require.NoError(t, err)

			assert.True(t, resp.Success)
			assert.Equal(t, OrderID("1042"), resp.OrderID)
			assert.Equal(t, "key-1", key)
			assert.Equal(t, "Acme", request.ClientName)
			assert.True(t, decimal.RequireFromString("18.75").Equal(request.Total))
		})
	}
}

func TestCreateOrder_MissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"order_id":null}`))
	})
	resp, err := c.CreateOrder(context.Background(), CreateOrderRequest{}, "")
	require.NoError(t, err)
	assert.Equal(t, OrderID(""), resp.OrderID)
}

func TestOrderStatusUpdates(t *testing.T) {
	var paths, bodies []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		data, _ := io.ReadAll(r.Body)
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, string(data))
	})

	require.NoError(t, c.UpdateOrderStatus(context.Background(), "17", order.StatusProcessing))
	require.NoError(t, c.UpdatePaymentStatus(context.Background(), "17", order.PaymentPaid))

	assert.Equal(t, []string{"/api/orders/17/status", "/api/orders/17/payment"}, paths)
	assert.JSONEq(t, `{"status":"processing"}`, bodies[0])
	assert.JSONEq(t, `{"paymentStatus":"paid"}`, bodies[1])
}

func TestListOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"5","client_name":"Acme","status":"pending","paymentStatus":"unpaid","total":"10","items":[]},` +
			`{"id":77,"client_name":"Acme","status":"delivered","paymentStatus":"paid","total":12.5,"items":[]}]`))
	})
	orders, err := c.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "5", orders[0].ID)
	assert.Equal(t, order.StatusPending, orders[0].Status)
	assert.Equal(t, "77", orders[1].ID, "numeric ids are accepted")
	assert.Equal(t, order.PaymentPaid, orders[1].PaymentStatus)
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestSendMessage_Text(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/alice:bob/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		assert.Equal(t, "text", body["type"])
		w.WriteHeader(http.StatusCreated)
	})

	echoed, err := c.SendMessage(context.Background(), chat.Message{
		ConversationID: "alice:bob", SenderID: "alice", Content: "hello", Kind: chat.KindText,
	})
	require.NoError(t, err)
	assert.Nil(t, echoed)
}

func TestSendMessage_File(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "file", r.FormValue("type"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "po.pdf", hdr.Filename)
		assert.Equal(t, "%PDF", string(data))
		_, _ = w.Write([]byte(`{"id":"m-9","conversationId":"alice:bob","type":"file","attachment":{"fileName":"po.pdf","fileUrl":"https://cdn.test/po.pdf"}}`))
	})

	echoed, err := c.SendMessage(context.Background(), chat.Message{
		ConversationID: "alice:bob",
		SenderID:       "alice",
		Kind:           chat.KindFile,
		Attachment:     &chat.Attachment{FileName: "po.pdf", Data: []byte("%PDF")},
	})
	require.NoError(t, err)
	require.NotNil(t, echoed)
	assert.Equal(t, "https://cdn.test/po.pdf", echoed.Attachment.URL)
}

func TestConversationsAndRead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/conversations":
			_, _ = w.Write([]byte(`[{"id":"alice:bob","participantIds":["alice","bob"]}]`))
		case "/api/conversations/alice:bob/messages":
			_, _ = w.Write([]byte(`[{"id":"1","content":"hi","type":"text","status":"sent"}]`))
		case "/api/conversations/alice:bob/messages/1/read":
			assert.Equal(t, http.MethodPut, r.Method)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, [2]string{"alice", "bob"}, convs[0].ParticipantIDs)

	msgs, err := c.ListMessages(context.Background(), "alice:bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.DeliverySent, msgs[0].DeliveryState)

	require.NoError(t, c.MarkMessageRead(context.Background(), "alice:bob", "1"))
}
