package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/safebites/pkg/cart"
	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
	"github.com/example/safebites/pkg/notifier"
)

// stubCartAPI serves a fixed server-side cart so the store has content.
type stubCartAPI struct {
	cart models.Cart
}

func (s *stubCartAPI) GetCart(ctx context.Context) (models.Cart, error) {
	return s.cart.Clone(), nil
}

func (s *stubCartAPI) AddItem(ctx context.Context, dishID string, quantity int) (models.Cart, error) {
	return s.cart.Clone(), nil
}

func (s *stubCartAPI) UpdateItem(ctx context.Context, dishID string, quantity int) (models.Cart, error) {
	return s.cart.Clone(), nil
}

func (s *stubCartAPI) RemoveItem(ctx context.Context, dishID string) (models.Cart, error) {
	return s.cart.Clone(), nil
}

// checkoutFake records every attempt's idempotency key and answers from a
// scripted queue.
type checkoutFake struct {
	mu      sync.Mutex
	keys    []string
	scripts []func(req models.CheckoutRequest) (models.OrderView, error)
	block   chan struct{} // when set, Checkout waits here or for ctx
}

func (f *checkoutFake) Checkout(ctx context.Context, req models.CheckoutRequest) (models.OrderView, error) {
	f.mu.Lock()
	f.keys = append(f.keys, req.IdempotencyKey)
	var script func(models.CheckoutRequest) (models.OrderView, error)
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.OrderView{}, &errs.Error{Op: "client.Checkout", Message: ctx.Err().Error(), Err: errs.ErrTransient}
		}
	}
	if script == nil {
		return models.OrderView{ID: "order-1", Status: models.StatusPlaced}, nil
	}
	return script(req)
}

func (f *checkoutFake) script(fns ...func(req models.CheckoutRequest) (models.OrderView, error)) {
	f.mu.Lock()
	f.scripts = append(f.scripts, fns...)
	f.mu.Unlock()
}

func (f *checkoutFake) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func fixture(t *testing.T) (*Orchestrator, *checkoutFake, *cart.Store, *notifier.Notifier) {
	t.Helper()
	token := func() string { return "u1" }
	stub := &stubCartAPI{cart: models.Cart{
		OwnerID: "u1",
		Items: []models.CartItem{
			{DishID: "d1", Name: "Pad Thai", UnitPrice: 12.99, Quantity: 1},
		},
		Subtotal: 12.99,
	}}
	store := cart.NewStore(stub, token, zap.NewNop())
	require.NoError(t, store.Refresh(context.Background()))

	notify := notifier.New()
	fake := &checkoutFake{}
	o := New(fake, store, notify, token, time.Second, zap.NewNop())
	return o, fake, store, notify
}

func TestSubmitSuccessClearsCartAndPublishes(t *testing.T) {
	o, _, store, notify := fixture(t)

	events, cancel := notify.Subscribe()
	defer cancel()

	order, err := o.Submit(context.Background(), models.CheckoutRequest{PaymentMethod: "card"})
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, models.StatusPlaced, order.Status)
	assert.Equal(t, StateSucceeded, o.State())

	snap := store.Snapshot()
	assert.True(t, snap.IsEmpty(), "cart must clear on confirmed success")

	select {
	case ev := <-events:
		assert.Equal(t, notifier.EventOrderPlaced, ev.Kind)
		assert.Equal(t, "order-1", ev.Order.ID)
	case <-time.After(time.Second):
		t.Fatal("order placed event was not published")
	}
}

func TestSubmitConflictKeepsCartAndStaysSilent(t *testing.T) {
	o, fake, store, notify := fixture(t)
	fake.script(func(models.CheckoutRequest) (models.OrderView, error) {
		return models.OrderView{}, errs.NewID("client.Checkout", "d1", errs.ErrConflict, "item is no longer available")
	})

	events, cancel := notify.Subscribe()
	defer cancel()

	before := store.Snapshot()
	_, err := o.Submit(context.Background(), models.CheckoutRequest{})

	require.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, StateFailed, o.State())
	assert.Equal(t, before.Items, store.Snapshot().Items, "failed checkout must not touch the cart")

	select {
	case <-events:
		t.Fatal("no event may be published on failure")
	default:
	}
}

func TestTransientRetryReusesIdempotencyKey(t *testing.T) {
	o, fake, _, _ := fixture(t)
	fake.script(func(models.CheckoutRequest) (models.OrderView, error) {
		return models.OrderView{}, errs.New("client.Checkout", errs.ErrTransient, "connection reset")
	})

	_, err := o.Submit(context.Background(), models.CheckoutRequest{})
	require.ErrorIs(t, err, errs.ErrTransient)

	_, err = o.Submit(context.Background(), models.CheckoutRequest{})
	require.NoError(t, err)

	keys := fake.seenKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1], "transient retry must reuse the attempt key")
}

func TestConflictStartsAFreshAttemptKey(t *testing.T) {
	o, fake, _, _ := fixture(t)
	fake.script(func(models.CheckoutRequest) (models.OrderView, error) {
		return models.OrderView{}, errs.New("client.Checkout", errs.ErrConflict, "out of stock")
	})

	_, err := o.Submit(context.Background(), models.CheckoutRequest{})
	require.ErrorIs(t, err, errs.ErrConflict)

	_, err = o.Submit(context.Background(), models.CheckoutRequest{})
	require.NoError(t, err)

	keys := fake.seenKeys()
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1], "a conflict means the next attempt is a new checkout")
}

func TestAtMostOneConcurrentCheckout(t *testing.T) {
	o, fake, _, _ := fixture(t)
	fake.block = make(chan struct{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := o.Submit(context.Background(), models.CheckoutRequest{})
		done <- err
	}()

	<-started
	require.Eventually(t, func() bool { return o.State() == StateSubmitting },
		time.Second, time.Millisecond)

	_, err := o.Submit(context.Background(), models.CheckoutRequest{})
	assert.ErrorIs(t, err, errs.ErrCheckoutInProgress)

	close(fake.block)
	require.NoError(t, <-done)
}

func TestSubmitTimesOutAsFailedButKeepsKey(t *testing.T) {
	token := func() string { return "u1" }
	stub := &stubCartAPI{cart: models.Cart{
		OwnerID:  "u1",
		Items:    []models.CartItem{{DishID: "d1", UnitPrice: 9.99, Quantity: 1}},
		Subtotal: 9.99,
	}}
	store := cart.NewStore(stub, token, zap.NewNop())
	require.NoError(t, store.Refresh(context.Background()))

	fake := &checkoutFake{block: make(chan struct{})} // never released before timeout
	o := New(fake, store, notifier.New(), token, 20*time.Millisecond, zap.NewNop())

	_, err := o.Submit(context.Background(), models.CheckoutRequest{})
	require.ErrorIs(t, err, errs.ErrTransient)
	assert.Equal(t, StateFailed, o.State())
	snap2 := store.Snapshot()
	assert.False(t, snap2.IsEmpty(), "ambiguous outcome must leave the cart intact")

	fake.mu.Lock()
	fake.block = nil
	fake.mu.Unlock()

	_, err = o.Submit(context.Background(), models.CheckoutRequest{})
	require.NoError(t, err)

	keys := fake.seenKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1], "retry after timeout must dedupe against the lost attempt")
}

func TestSubmitRejectsEmptyCart(t *testing.T) {
	token := func() string { return "u1" }
	store := cart.NewStore(&stubCartAPI{cart: models.Cart{OwnerID: "u1"}}, token, zap.NewNop())
	fake := &checkoutFake{}
	o := New(fake, store, notifier.New(), token, time.Second, zap.NewNop())

	_, err := o.Submit(context.Background(), models.CheckoutRequest{})

	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, fake.seenKeys(), "no request may be sent for an empty cart")
}

func TestSubmitRequiresCredential(t *testing.T) {
	token := func() string { return "" }
	store := cart.NewStore(&stubCartAPI{}, token, zap.NewNop())
	o := New(&checkoutFake{}, store, notifier.New(), token, time.Second, zap.NewNop())

	_, err := o.Submit(context.Background(), models.CheckoutRequest{})
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}
