package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/safebites/pkg/client"
	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
	"github.com/example/safebites/pkg/pricing"
)

// fakeService is a minimal in-memory rendition of the order service wire
// contract, enough to drive the whole engine through one lifecycle.
type fakeService struct {
	mu          sync.Mutex
	cart        models.Cart
	orders      []models.OrderView
	idem        map[string]string
	unavailable map[string]bool
	checkouts   int
}

func newFakeService() *fakeService {
	return &fakeService{
		cart:        models.Cart{OwnerID: "u1"},
		idem:        make(map[string]string),
		unavailable: make(map[string]bool),
	}
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/cart/items", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DishID   string `json:"dish_id"`
			Quantity int    `json:"quantity"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		if line := f.cart.Find(req.DishID); line != nil {
			line.Quantity += req.Quantity
		} else {
			f.cart.Items = append(f.cart.Items, models.CartItem{
				DishID: req.DishID, Name: req.DishID, UnitPrice: 12.99, Quantity: req.Quantity,
			})
		}
		f.cart.Subtotal = pricing.Subtotal(f.cart.Items)
		cart := f.cart.Clone()
		f.mu.Unlock()
		json.NewEncoder(w).Encode(cart)
	})
	mux.HandleFunc("/api/v1/cart", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		cart := f.cart.Clone()
		f.mu.Unlock()
		json.NewEncoder(w).Encode(cart)
	})
	mux.HandleFunc("/api/v1/orders/checkout", func(w http.ResponseWriter, r *http.Request) {
		var req models.CheckoutRequest
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.checkouts++

		for _, item := range f.cart.Items {
			if f.unavailable[item.DishID] {
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]string{
					"code":    errs.CodeConflict,
					"message": "item is no longer available: " + item.Name,
				})
				return
			}
		}

		if id, seen := f.idem[req.IdempotencyKey]; seen {
			for _, o := range f.orders {
				if o.ID == id {
					json.NewEncoder(w).Encode(o)
					return
				}
			}
		}

		quote := pricing.Calculate(f.cart.Items, pricing.Params{})
		order := models.OrderView{
			ID:       "order-" + req.IdempotencyKey,
			OwnerID:  "u1",
			Items:    f.cart.Items,
			Subtotal: quote.Subtotal,
			Tax:      quote.Tax,
			Fees:     quote.Fees,
			Total:    quote.Total,
			Status:   models.StatusPlaced,
			PlacedAt: time.Now().UTC(),
		}
		f.idem[req.IdempotencyKey] = order.ID
		f.orders = append(f.orders, order)
		f.cart = models.Cart{OwnerID: "u1"}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(order)
	})
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		orders := append([]models.OrderView(nil), f.orders...)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(orders)
	})
	return mux
}

func TestCartToOrderLifecycle(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	sess := New(srv.URL, client.StaticToken("u1"), Options{
		CheckoutTimeout: time.Second,
		PollInterval:    time.Hour, // only event-driven refreshes matter here
	}, zap.NewNop())
	defer sess.Close()

	ctx := context.Background()
	sess.Tracker.Start(ctx)

	require.NoError(t, sess.Cart.AddItem(ctx, "d1", 1))
	require.NoError(t, sess.Cart.AddItem(ctx, "d1", 1))

	cart := sess.Cart.Snapshot()
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	order, err := sess.Checkout.Submit(ctx, models.CheckoutRequest{
		PaymentMethod:   "card",
		DeliveryAddress: "1 Main St",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaced, order.Status)

	snap := sess.Cart.Snapshot()
	assert.True(t, snap.IsEmpty(), "cart clears after confirmed checkout")

	// The notifier event drives an eager refresh; the new order must show
	// up in the active set without waiting for the poll interval.
	require.Eventually(t, func() bool {
		active := sess.Tracker.Active()
		return len(active) == 1 && active[0].ID == order.ID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConflictCheckoutLeavesEverythingInPlace(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	sess := New(srv.URL, client.StaticToken("u1"), Options{}, zap.NewNop())
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Cart.AddItem(ctx, "d1", 1))

	svc.mu.Lock()
	svc.unavailable["d1"] = true
	svc.mu.Unlock()

	events, cancel := sess.Notifier.Subscribe()
	defer cancel()

	_, err := sess.Checkout.Submit(ctx, models.CheckoutRequest{})
	require.ErrorIs(t, err, errs.ErrConflict)

	assert.Len(t, sess.Cart.Snapshot().Items, 1, "cart keeps the item on conflict")
	select {
	case <-events:
		t.Fatal("no order placed event may fire on a failed checkout")
	default:
	}
}

func TestReplayedCheckoutDoesNotDuplicate(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	sess := New(srv.URL, client.StaticToken("u1"), Options{}, zap.NewNop())
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Cart.AddItem(ctx, "d1", 1))

	order, err := sess.Checkout.Submit(ctx, models.CheckoutRequest{})
	require.NoError(t, err)

	// Replay the exact request the orchestrator sent, as if the first
	// response had been lost and a retry fired with the same key.
	key := strings.TrimPrefix(order.ID, "order-")
	replay, err := sess.Client.Checkout(ctx, models.CheckoutRequest{IdempotencyKey: key})
	require.NoError(t, err)

	assert.Equal(t, order.ID, replay.ID, "same key must resolve to the same order")
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Len(t, svc.orders, 1)
}
