package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
	"github.com/example/safebites/pkg/pricing"
	"github.com/example/safebites/pkg/repository"
)

// checkout converts the owner's current server-side cart into an order.
// Totals come from the cart as it exists here, never from anything the
// client sent, and the cart is cleared only after the order row commits.
func (s *Server) checkout(c *gin.Context) {
	const op = "orders.Checkout"
	ownerID := owner(c)

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.New(op, errs.ErrValidation, err.Error()))
		return
	}
	if req.IdempotencyKey == "" {
		respondError(c, errs.New(op, errs.ErrValidation, "idempotency_key is required"))
		return
	}

	ctx := c.Request.Context()

	// A replayed key resolves before any cart inspection. The first
	// attempt may already have persisted the order and cleared the cart,
	// so running the cart-empty or availability guards here would reject
	// the very retry the key exists for.
	winnerID, err := s.ledger.LookupCheckout(ctx, req.IdempotencyKey)
	if err != nil {
		respondError(c, errs.New(op, errs.ErrTransient, "idempotency lookup failed"))
		return
	}
	if winnerID != "" {
		s.respondReplayedOrder(c, op, winnerID, ownerID)
		return
	}

	cart, err := s.carts.request(ownerID, &getCart{})
	if err != nil {
		respondError(c, err)
		return
	}
	if cart.IsEmpty() {
		respondError(c, errs.New(op, errs.ErrValidation, "cart is empty"))
		return
	}

	// An item may have gone out of stock between add-to-cart and now.
	for _, item := range cart.Items {
		dish, err := s.carts.catalog.FindDish(ctx, item.DishID)
		if err != nil {
			respondError(c, errs.NewID(op, item.DishID, errs.ErrConflict,
				"item is no longer available: "+item.Name))
			return
		}
		if !dish.Availability {
			respondError(c, errs.NewID(op, item.DishID, errs.ErrConflict,
				"item is no longer available: "+item.Name))
			return
		}
	}

	orderID := uuid.NewString()
	winnerID, claimed, err := s.ledger.ReserveCheckout(ctx, req.IdempotencyKey, orderID)
	if err != nil {
		respondError(c, errs.New(op, errs.ErrTransient, "idempotency reservation failed"))
		return
	}
	if !claimed {
		// Lost a race against a concurrent attempt with the same key.
		s.respondReplayedOrder(c, op, winnerID, ownerID)
		return
	}

	quote := pricing.Calculate(cart.Items, pricing.Params{
		TaxRate:    s.config.Pricing.TaxRate,
		ServiceFee: s.config.Pricing.ServiceFee,
	})
	groups := pricing.Summaries(cart.Items)

	now := time.Now().UTC()
	eta := now.Add(estimateArrival(len(groups), cart.ItemCount()))

	order := &models.Order{
		ID:                   orderID,
		OwnerID:              ownerID,
		Subtotal:             quote.Subtotal,
		Tax:                  quote.Tax,
		Fees:                 quote.Fees,
		Total:                quote.Total,
		Status:               models.StatusPlaced,
		PaymentMethod:        req.PaymentMethod,
		DeliveryAddress:      req.DeliveryAddress,
		SpecialInstructions:  req.SpecialInstructions,
		IdempotencyKey:       req.IdempotencyKey,
		PlacedAt:             now,
		EstimatedArrivalTime: &eta,
		UpdatedAt:            now,
	}
	if err := order.EncodeItems(cart.Items); err != nil {
		s.releaseReservation(req.IdempotencyKey)
		respondError(c, errs.New(op, errs.ErrTransient, "failed to freeze cart items"))
		return
	}
	if err := order.EncodeRestaurants(groups); err != nil {
		s.releaseReservation(req.IdempotencyKey)
		respondError(c, errs.New(op, errs.ErrTransient, "failed to encode restaurant summary"))
		return
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.logger.Error("Failed to create order", zap.Error(err))
		s.releaseReservation(req.IdempotencyKey)
		respondError(c, errs.New(op, errs.ErrTransient, "failed to persist order"))
		return
	}

	// The cart clears only now that the order is committed. A failure to
	// clear is logged, not surfaced: the order exists.
	if _, err := s.carts.request(ownerID, &clearCart{}); err != nil {
		s.logger.Error("Failed to clear cart after checkout",
			zap.String("owner_id", ownerID), zap.Error(err))
	}

	s.ledger.CacheOrderStatus(ctx, &repository.OrderStatusCache{
		ID:      order.ID,
		OwnerID: ownerID,
		Status:  order.Status,
	})

	go func() {
		err := s.audit.CreateAuditLog(context.Background(), &repository.AuditLog{
			Service:  "order-service",
			Action:   "checkout",
			EntityID: order.ID,
			OwnerID:  ownerID,
			Data: bson.M{
				"total":           order.Total,
				"item_count":      cart.ItemCount(),
				"idempotency_key": req.IdempotencyKey,
			},
		})
		if err != nil {
			s.logger.Warn("Failed to write audit log",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusCreated, order.View())
}

// respondReplayedOrder serves a checkout whose idempotency key already
// belongs to a persisted order: the stored order comes back instead of a
// duplicate.
func (s *Server) respondReplayedOrder(c *gin.Context, op, orderID, ownerID string) {
	order, err := s.orders.GetOwnerOrder(c.Request.Context(), orderID, ownerID)
	if err != nil {
		respondError(c, errs.New(op, errs.ErrTransient, "replayed checkout not yet visible"))
		return
	}
	c.JSON(http.StatusOK, order.View())
}

func (s *Server) releaseReservation(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.ReleaseCheckout(ctx, key); err != nil {
		s.logger.Warn("Failed to release idempotency reservation",
			zap.String("key", key), zap.Error(err))
	}
}

// estimateArrival is base prep time plus per-restaurant and per-item
// buffers, capped at 90 minutes.
func estimateArrival(restaurantCount, itemCount int) time.Duration {
	if restaurantCount < 1 {
		restaurantCount = 1
	}
	minutes := 35 + (restaurantCount-1)*7
	if itemCount > 3 {
		minutes += (itemCount - 3) * 2
	}
	if minutes > 90 {
		minutes = 90
	}
	return time.Duration(minutes) * time.Minute
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.orders.ListOrders(c.Request.Context(), owner(c))
	if err != nil {
		respondError(c, errs.New("orders.List", errs.ErrTransient, "failed to list orders"))
		return
	}

	views := make([]models.OrderView, len(orders))
	for i := range orders {
		views[i] = orders[i].View()
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.orders.GetOwnerOrder(c.Request.Context(), c.Param("id"), owner(c))
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			err = errs.New("orders.Get", errs.ErrTransient, "failed to load order")
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order.View())
}

// getOrderStatus serves the lifecycle state from the redis cache when it is
// warm, falling back to MySQL and re-warming the cache on a miss. Polling
// surfaces hit this instead of dragging the full order row each time.
func (s *Server) getOrderStatus(c *gin.Context) {
	const op = "orders.GetStatus"
	orderID := c.Param("id")
	ctx := c.Request.Context()

	if entry, err := s.ledger.GetOrderStatusCache(ctx, orderID); err == nil && entry.OwnerID == owner(c) {
		c.JSON(http.StatusOK, gin.H{"id": entry.ID, "status": entry.Status})
		return
	}

	order, err := s.orders.GetOwnerOrder(ctx, orderID, owner(c))
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			err = errs.New(op, errs.ErrTransient, "failed to load order")
		}
		respondError(c, err)
		return
	}

	if err := s.ledger.CacheOrderStatus(ctx, &repository.OrderStatusCache{
		ID:      order.ID,
		OwnerID: order.OwnerID,
		Status:  order.Status,
	}); err != nil {
		s.logger.Warn("Failed to cache order status",
			zap.String("order_id", order.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"id": order.ID, "status": order.Status})
}

// getOrderAudit returns the audit trail for one of the owner's orders.
func (s *Server) getOrderAudit(c *gin.Context) {
	const op = "orders.Audit"
	orderID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := s.orders.GetOwnerOrder(ctx, orderID, owner(c)); err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			err = errs.New(op, errs.ErrTransient, "failed to load order")
		}
		respondError(c, err)
		return
	}

	logs, err := s.audit.GetAuditLogs(ctx, orderID, 50)
	if err != nil {
		respondError(c, errs.New(op, errs.ErrTransient, "failed to load audit trail"))
		return
	}
	c.JSON(http.StatusOK, logs)
}

// updateOrderStatus is the backing-service authority advancing an order
// through its lifecycle. Backends may skip states, but a terminal order is
// frozen: no transition out of completed or cancelled.
func (s *Server) updateOrderStatus(c *gin.Context) {
	const op = "orders.UpdateStatus"
	orderID := c.Param("id")

	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.New(op, errs.ErrValidation, err.Error()))
		return
	}
	if !req.Status.Valid() {
		respondError(c, errs.NewID(op, orderID, errs.ErrValidation, "unknown status"))
		return
	}

	ctx := c.Request.Context()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			err = errs.New(op, errs.ErrTransient, "failed to load order")
		}
		respondError(c, err)
		return
	}

	if order.Status.Terminal() {
		respondError(c, errs.NewID(op, orderID, errs.ErrConflict,
			"order is already "+string(order.Status)))
		return
	}

	if err := s.orders.UpdateOrderStatus(ctx, orderID, req.Status); err != nil {
		respondError(c, errs.New(op, errs.ErrTransient, "failed to update order"))
		return
	}

	// Invalidate cache
	s.ledger.InvalidateOrderStatus(ctx, orderID)

	order.Status = req.Status
	c.JSON(http.StatusOK, order.View())
}
