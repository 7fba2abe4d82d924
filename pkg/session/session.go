// Package session wires the cart-to-order engine for one authenticated
// user. The session owns the cart store, the checkout orchestrator, the
// order tracker and the notifier explicitly; there is no ambient global
// cart that surfaces reach for.
package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/example/safebites/pkg/cart"
	"github.com/example/safebites/pkg/checkout"
	"github.com/example/safebites/pkg/client"
	"github.com/example/safebites/pkg/notifier"
	"github.com/example/safebites/pkg/tracker"
)

// Options tune the engine; zero values fall back to package defaults.
type Options struct {
	CheckoutTimeout time.Duration
	PollInterval    time.Duration
}

// Session is the engine for one user for the lifetime of their login. It
// is not shared across users and is dropped, not persisted, on logout.
type Session struct {
	Client   *client.Client
	Cart     *cart.Store
	Checkout *checkout.Orchestrator
	Tracker  *tracker.Tracker
	Notifier *notifier.Notifier
}

func New(baseURL string, token client.TokenSource, opts Options, logger *zap.Logger) *Session {
	api := client.New(baseURL, token)
	notify := notifier.New()
	store := cart.NewStore(api, token, logger)

	return &Session{
		Client:   api,
		Cart:     store,
		Checkout: checkout.New(api, store, notify, token, opts.CheckoutTimeout, logger),
		Tracker:  tracker.New(api, notify, opts.PollInterval, logger),
		Notifier: notify,
	}
}

// Close stops background work so nothing polls after the user navigates
// away.
func (s *Session) Close() {
	s.Tracker.Stop()
}
