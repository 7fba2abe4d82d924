// Package cart holds the client-side cart store for one authenticated
// owner. The server is the source of truth: every successful mutation
// replaces the whole local snapshot from the response instead of patching
// locally, so the store can never drift from the service.
package cart

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/safebites/pkg/client"
	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
)

// API is the slice of the remote service the store needs. All mutation
// endpoints return the full updated cart.
type API interface {
	GetCart(ctx context.Context) (models.Cart, error)
	AddItem(ctx context.Context, dishID string, quantity int) (models.Cart, error)
	UpdateItem(ctx context.Context, dishID string, quantity int) (models.Cart, error)
	RemoveItem(ctx context.Context, dishID string) (models.Cart, error)
}

// Store serializes all cart mutations for its owner: a mutation issued
// while another is in flight queues behind it rather than interleaving, so
// mutation responses apply in request order. Reads (Refresh) run alongside
// mutations; every applied snapshot bumps a version, and a refresh response
// that raced a mutation is discarded instead of clobbering fresher state.
type Store struct {
	api    API
	token  client.TokenSource
	logger *zap.Logger

	// flight serializes network mutations (queue-behind ordering).
	flight sync.Mutex

	mu       sync.Mutex
	snapshot models.Cart
	version  uint64 // bumped each time a confirmed snapshot is applied
}

func NewStore(api API, token client.TokenSource, logger *zap.Logger) *Store {
	return &Store{
		api:    api,
		token:  token,
		logger: logger.Named("cart-store"),
	}
}

// Snapshot returns the current server-confirmed cart. It never returns a
// speculative local value; optimistic UI echoes live above this store.
// Logged out, the cart reads empty.
func (s *Store) Snapshot() models.Cart {
	if s.token() == "" {
		return models.Cart{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

// Refresh re-reads the authoritative cart from the service. It does not
// queue behind mutations; if a mutation confirms a newer snapshot while the
// read is in flight, the read's response is stale and gets discarded.
func (s *Store) Refresh(ctx context.Context) error {
	if s.token() == "" {
		return errs.New("cart.Refresh", errs.ErrUnauthenticated, "no credential")
	}

	s.mu.Lock()
	issued := s.version
	s.mu.Unlock()

	cart, err := s.api.GetCart(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != issued {
		s.logger.Debug("discarding stale refresh response",
			zap.Uint64("issued", issued),
			zap.Uint64("latest", s.version))
		return nil
	}
	s.version++
	s.snapshot = cart
	return nil
}

// AddItem adds quantity of dishID to the cart at the current catalog price,
// merging into the existing line when the dish is already present.
func (s *Store) AddItem(ctx context.Context, dishID string, quantity int) error {
	const op = "cart.AddItem"
	if quantity < 1 {
		return errs.NewID(op, dishID, errs.ErrValidation, "quantity must be at least 1")
	}
	return s.mutate(ctx, op, dishID, func(ctx context.Context) (models.Cart, error) {
		return s.api.AddItem(ctx, dishID, quantity)
	})
}

// SetQuantity sets the exact quantity for a dish line. A quantity at or
// below zero removes the line; a stored zero never exists. Repeated calls
// with the same value converge to the same cart.
func (s *Store) SetQuantity(ctx context.Context, dishID string, quantity int) error {
	const op = "cart.SetQuantity"
	if quantity <= 0 {
		return s.mutate(ctx, op, dishID, func(ctx context.Context) (models.Cart, error) {
			return s.api.RemoveItem(ctx, dishID)
		})
	}
	return s.mutate(ctx, op, dishID, func(ctx context.Context) (models.Cart, error) {
		return s.api.UpdateItem(ctx, dishID, quantity)
	})
}

// RemoveItem deletes the dish line. Removing an absent line is a no-op,
// not an error.
func (s *Store) RemoveItem(ctx context.Context, dishID string) error {
	return s.mutate(ctx, "cart.RemoveItem", dishID, func(ctx context.Context) (models.Cart, error) {
		return s.api.RemoveItem(ctx, dishID)
	})
}

// Clear resets the local snapshot. Checkout calls this only after the
// service confirms the order persisted (the server clears its side during
// checkout); nothing else should clear optimistically. The version bump
// also invalidates any refresh of the pre-checkout cart still in flight.
func (s *Store) Clear() {
	s.mu.Lock()
	s.version++
	s.snapshot = models.Cart{OwnerID: s.snapshot.OwnerID}
	s.mu.Unlock()
}

// mutate runs one serialized mutation. On failure the snapshot is left
// untouched so the caller sees prior state, not a flicker to something
// half-applied.
func (s *Store) mutate(ctx context.Context, op, dishID string, call func(context.Context) (models.Cart, error)) error {
	if s.token() == "" {
		return errs.NewID(op, dishID, errs.ErrUnauthenticated, "no credential")
	}

	s.flight.Lock()
	defer s.flight.Unlock()

	cart, err := call(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.snapshot = cart
	return nil
}
