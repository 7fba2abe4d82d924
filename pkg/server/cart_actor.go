package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
	"github.com/example/safebites/pkg/pricing"
)

// Cart mutation messages. One actor owns one user's cart, so everything
// sent to it is applied strictly in order; two rapid mutations for the same
// dish can never interleave.
type getCart struct{}

type addItem struct {
	DishID   string
	Quantity int
}

type updateItem struct {
	DishID   string
	Quantity int
}

type removeItem struct {
	DishID string
}

type clearCart struct{}

type cartReply struct {
	Cart models.Cart
	Err  error
}

// CartStorage persists full cart snapshots.
type CartStorage interface {
	GetCart(ctx context.Context, ownerID string) (models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	ClearCart(ctx context.Context, ownerID string) error
}

// Catalog resolves dish ids to price and availability.
type Catalog interface {
	FindDish(ctx context.Context, dishID string) (*models.Dish, error)
}

type cartActor struct {
	ownerID string
	storage CartStorage
	catalog Catalog
	logger  *zap.Logger
}

func (a *cartActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.logger.Debug("cart actor started", zap.String("owner_id", a.ownerID))

	case *actor.Stopped:
		a.logger.Debug("cart actor stopped", zap.String("owner_id", a.ownerID))

	case *getCart:
		cart, err := a.storage.GetCart(context.Background(), a.ownerID)
		ctx.Respond(&cartReply{Cart: cart, Err: err})

	case *addItem:
		ctx.Respond(a.apply(func(cart *models.Cart) error {
			return a.add(cart, msg.DishID, msg.Quantity)
		}))

	case *updateItem:
		ctx.Respond(a.apply(func(cart *models.Cart) error {
			return a.update(cart, msg.DishID, msg.Quantity)
		}))

	case *removeItem:
		ctx.Respond(a.apply(func(cart *models.Cart) error {
			// Removing an absent line is a no-op, not an error.
			cart.Remove(msg.DishID)
			return nil
		}))

	case *clearCart:
		ctx.Respond(a.apply(func(cart *models.Cart) error {
			cart.Items = cart.Items[:0]
			return nil
		}))
	}
}

// apply loads the snapshot, runs one mutation, recomputes the subtotal and
// persists the whole cart. The subtotal is always derived from the lines,
// never carried forward.
func (a *cartActor) apply(mutate func(*models.Cart) error) *cartReply {
	bg := context.Background()

	cart, err := a.storage.GetCart(bg, a.ownerID)
	if err != nil {
		return &cartReply{Err: err}
	}

	if err := mutate(&cart); err != nil {
		return &cartReply{Err: err}
	}

	cart.Subtotal = pricing.Subtotal(cart.Items)
	cart.UpdatedAt = time.Now().UTC()

	if err := a.storage.SaveCart(bg, &cart); err != nil {
		return &cartReply{Err: err}
	}
	return &cartReply{Cart: cart}
}

func (a *cartActor) add(cart *models.Cart, dishID string, quantity int) error {
	const op = "cart.AddItem"
	if quantity < 1 {
		return errs.NewID(op, dishID, errs.ErrValidation, "quantity must be at least 1")
	}

	dish, err := a.catalog.FindDish(context.Background(), dishID)
	if err != nil {
		return err
	}
	if !dish.Availability {
		return errs.NewID(op, dishID, errs.ErrConflict, "dish is not available")
	}

	if line := cart.Find(dishID); line != nil {
		line.Quantity += quantity
		return nil
	}

	cart.Items = append(cart.Items, models.CartItem{
		DishID:         dish.ID,
		RestaurantID:   dish.RestaurantID,
		RestaurantName: dish.RestaurantName,
		Name:           dish.Name,
		Description:    dish.Description,
		UnitPrice:      dish.Price,
		Quantity:       quantity,
	})
	return nil
}

func (a *cartActor) update(cart *models.Cart, dishID string, quantity int) error {
	if quantity <= 0 {
		cart.Remove(dishID)
		return nil
	}
	line := cart.Find(dishID)
	if line == nil {
		return errs.NewID("cart.SetQuantity", dishID, errs.ErrNotFound, "item not in cart")
	}
	line.Quantity = quantity
	return nil
}

// cartActors hands out one PID per owner, spawning lazily. The actor is
// what serializes mutations: gin handlers for the same owner all funnel
// into the same mailbox.
type cartActors struct {
	system  *actor.ActorSystem
	storage CartStorage
	catalog Catalog
	logger  *zap.Logger

	mu   sync.Mutex
	pids map[string]*actor.PID
}

func newCartActors(system *actor.ActorSystem, storage CartStorage, catalog Catalog, logger *zap.Logger) *cartActors {
	return &cartActors{
		system:  system,
		storage: storage,
		catalog: catalog,
		logger:  logger,
		pids:    make(map[string]*actor.PID),
	}
}

func (c *cartActors) pid(ownerID string) *actor.PID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pid, ok := c.pids[ownerID]; ok {
		return pid
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return &cartActor{
			ownerID: ownerID,
			storage: c.storage,
			catalog: c.catalog,
			logger:  c.logger,
		}
	})
	pid := c.system.Root.Spawn(props)
	c.pids[ownerID] = pid
	return pid
}

const cartRequestTimeout = 10 * time.Second

// request sends one cart message and waits for the reply.
func (c *cartActors) request(ownerID string, msg interface{}) (models.Cart, error) {
	future := c.system.Root.RequestFuture(c.pid(ownerID), msg, cartRequestTimeout)
	res, err := future.Result()
	if err != nil {
		return models.Cart{}, fmt.Errorf("cart actor request: %w", err)
	}
	reply, ok := res.(*cartReply)
	if !ok {
		return models.Cart{}, fmt.Errorf("cart actor request: unexpected reply %T", res)
	}
	if reply.Err != nil {
		return models.Cart{}, reply.Err
	}
	return reply.Cart, nil
}
