// Package tracker maintains the active-orders view. Status is owned by the
// backing service: the tracker only re-reads it, never advances it locally.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/safebites/pkg/models"
	"github.com/example/safebites/pkg/notifier"
)

// API is the orders-listing endpoint of the order service.
type API interface {
	ListOrders(ctx context.Context) ([]models.OrderView, error)
}

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 30 * time.Second

// Tracker polls the service for the owner's orders on a fixed interval
// while running, and refreshes eagerly when the notifier announces a placed
// order. Orders observed in a terminal state are latched out of the active
// set for good, even if a later poll reports a regressed status.
type Tracker struct {
	api      API
	notify   *notifier.Notifier
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	active   []models.OrderView
	terminal map[string]bool
	selected string
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

func New(api API, notify *notifier.Notifier, interval time.Duration, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		api:      api,
		notify:   notify,
		interval: interval,
		logger:   logger.Named("order-tracker"),
		terminal: make(map[string]bool),
	}
}

// RefreshActive re-reads all orders and rebuilds the active set, newest
// first. If the currently selected order fell out of the active set (it
// went terminal or was not returned), the selection is cleared so no
// surface keeps showing stale detail.
func (t *Tracker) RefreshActive(ctx context.Context) error {
	orders, err := t.api.ListOrders(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	active := make([]models.OrderView, 0, len(orders))
	for _, o := range orders {
		if o.Status.Terminal() {
			t.terminal[o.ID] = true
			continue
		}
		if t.terminal[o.ID] {
			// Seen terminal before; a regressed status from the
			// backend does not resurrect it.
			t.logger.Warn("ignoring status regression on terminal order",
				zap.String("order_id", o.ID),
				zap.String("status", string(o.Status)))
			continue
		}
		active = append(active, o)
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].PlacedAt.After(active[j].PlacedAt)
	})
	t.active = active

	if t.selected != "" && t.findLocked(t.selected) == nil {
		t.logger.Info("selected order left the active set, closing detail",
			zap.String("order_id", t.selected))
		t.selected = ""
	}
	return nil
}

func (t *Tracker) findLocked(orderID string) *models.OrderView {
	for i := range t.active {
		if t.active[i].ID == orderID {
			return &t.active[i]
		}
	}
	return nil
}

// Active returns a copy of the current active-orders set, newest first.
func (t *Tracker) Active() []models.OrderView {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.OrderView, len(t.active))
	copy(out, t.active)
	return out
}

// Select opens order detail for an active order. Selecting an unknown or
// terminal order reports false.
func (t *Tracker) Select(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.findLocked(orderID) == nil {
		return false
	}
	t.selected = orderID
	return true
}

// Selected returns the currently open order detail, if any.
func (t *Tracker) Selected() (models.OrderView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.findLocked(t.selected)
	if o == nil {
		return models.OrderView{}, false
	}
	return *o, true
}

// Start launches the polling loop: an immediate refresh, then one per
// interval, plus an eager refresh whenever an order-placed event arrives.
// It returns immediately; Stop cancels the loop and waits for it to exit so
// no background work outlives interest in the view.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	events, cancel := t.notify.Subscribe()

	go func() {
		defer close(done)
		defer cancel()

		// Authoritative refresh on (re)subscription; missed events are
		// reconciled here, not replayed.
		if err := t.RefreshActive(ctx); err != nil {
			t.logger.Warn("initial refresh failed", zap.Error(err))
		}

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind != notifier.EventOrderPlaced {
					continue
				}
				if err := t.RefreshActive(ctx); err != nil {
					t.logger.Warn("refresh after order placed failed", zap.Error(err))
				}
			case <-ticker.C:
				if err := t.RefreshActive(ctx); err != nil {
					t.logger.Warn("poll refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop cancels the polling loop and blocks until it has exited.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done
}
