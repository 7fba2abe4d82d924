// Package checkout converts the current cart into a persisted order. The
// service prices its own cart state at submit time, so a stale client copy
// can never lock in an old price.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/safebites/pkg/cart"
	"github.com/example/safebites/pkg/client"
	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
	"github.com/example/safebites/pkg/notifier"
)

// State of the current or most recent checkout attempt.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// API is the checkout endpoint of the order service.
type API interface {
	Checkout(ctx context.Context, req models.CheckoutRequest) (models.OrderView, error)
}

// DefaultTimeout bounds one checkout attempt. Past it the attempt is failed
// for the caller even if the request might still land server-side; the
// idempotency key makes the retry safe.
const DefaultTimeout = 15 * time.Second

// Orchestrator runs at most one checkout at a time for its owner. An
// idempotency key is generated per attempt and reused across transient
// retries, so a retry after a lost response cannot create a second order.
type Orchestrator struct {
	api     API
	store   *cart.Store
	notify  *notifier.Notifier
	token   client.TokenSource
	timeout time.Duration
	logger  *zap.Logger
	newKey  func() string
	mu      sync.Mutex
	state   State
	attempt string // idempotency key of the open attempt, "" when none
	lastErr error
}

func New(api API, store *cart.Store, notify *notifier.Notifier, token client.TokenSource, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{
		api:     api,
		store:   store,
		notify:  notify,
		token:   token,
		timeout: timeout,
		logger:  logger.Named("checkout"),
		newKey:  uuid.NewString,
	}
}

// State returns the state of the current or most recent attempt.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the error that failed the most recent attempt.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Submit runs one checkout attempt against the current server-side cart.
// On success the local cart store is cleared (the service already cleared
// its side) and the placed order is announced through the notifier. On any
// failure the cart is untouched and the typed error tells the caller
// whether to retry as-is or refresh the cart first.
func (o *Orchestrator) Submit(ctx context.Context, req models.CheckoutRequest) (models.OrderView, error) {
	const op = "checkout.Submit"

	if o.token() == "" {
		return models.OrderView{}, errs.New(op, errs.ErrUnauthenticated, "no credential")
	}
	snap := o.store.Snapshot()
	if snap.IsEmpty() {
		return models.OrderView{}, errs.New(op, errs.ErrValidation, "cart is empty")
	}

	o.mu.Lock()
	if o.state == StateSubmitting {
		o.mu.Unlock()
		return models.OrderView{}, errs.New(op, errs.ErrCheckoutInProgress, "another checkout is submitting")
	}
	if o.attempt == "" {
		o.attempt = o.newKey()
	}
	req.IdempotencyKey = o.attempt
	o.state = StateSubmitting
	o.lastErr = nil
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	order, err := o.api.Checkout(ctx, req)
	if err != nil {
		o.mu.Lock()
		o.state = StateFailed
		o.lastErr = err
		// Transient failures keep the key so the retry dedupes against
		// anything that did land; anything else means the next attempt
		// is a different checkout.
		if !errs.Retryable(err) {
			o.attempt = ""
		}
		o.mu.Unlock()
		o.logger.Warn("checkout failed",
			zap.String("reason", errs.Code(err)),
			zap.Error(err))
		return models.OrderView{}, err
	}

	// Clear only after the order is confirmed persisted; an ambiguous
	// response above leaves the cart intact for retry.
	o.store.Clear()

	o.mu.Lock()
	o.state = StateSucceeded
	o.attempt = ""
	o.mu.Unlock()

	o.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.Float64("total", order.Total))

	o.notify.Publish(notifier.Event{Kind: notifier.EventOrderPlaced, Order: order})
	return order, nil
}
