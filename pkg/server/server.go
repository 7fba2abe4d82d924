// Package server is the order service: the authoritative side of the cart
// and order lifecycle. Cart state lives in redis behind one actor per
// owner, orders are persisted in MySQL, the dish catalog and audit trail
// live in MongoDB.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/example/safebites/pkg/config"
	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
	"github.com/example/safebites/pkg/repository"
)

const ownerKey = "owner_id"

// OrderStore persists and loads orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOwnerOrder(ctx context.Context, id, ownerID string) (*models.Order, error)
	ListOrders(ctx context.Context, ownerID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
}

// CheckoutLedger owns idempotency reservations and the hot status cache.
type CheckoutLedger interface {
	LookupCheckout(ctx context.Context, key string) (string, error)
	ReserveCheckout(ctx context.Context, key, orderID string) (string, bool, error)
	ReleaseCheckout(ctx context.Context, key string) error
	CacheOrderStatus(ctx context.Context, entry *repository.OrderStatusCache) error
	GetOrderStatusCache(ctx context.Context, orderID string) (*repository.OrderStatusCache, error)
	InvalidateOrderStatus(ctx context.Context, orderID string) error
}

// Auditor records and serves the checkout audit trail.
type Auditor interface {
	CreateAuditLog(ctx context.Context, entry *repository.AuditLog) error
	GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

type Server struct {
	orders OrderStore
	ledger CheckoutLedger
	audit  Auditor
	carts  *cartActors
	router *gin.Engine
	logger *zap.Logger
	config *config.Config

	redis *repository.RedisRepository
	mongo *repository.MongoRepository
}

func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Connect to MySQL
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	// Auto migrate
	if err := db.AutoMigrate(&models.Order{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	// Redis
	redisRepo := repository.NewRedisRepository(&cfg.Redis)

	// MongoDB
	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	s := newServer(cfg, repository.NewOrderRepository(db), redisRepo, mongoRepo, redisRepo, mongoRepo, logger)
	s.redis = redisRepo
	s.mongo = mongoRepo
	return s, nil
}

// newServer wires the handlers against their storage interfaces.
func newServer(cfg *config.Config, orders OrderStore, ledger CheckoutLedger, audit Auditor, storage CartStorage, catalog Catalog, logger *zap.Logger) *Server {
	system := actor.NewActorSystem()

	s := &Server{
		orders: orders,
		ledger: ledger,
		audit:  audit,
		carts:  newCartActors(system, storage, catalog, logger.Named("cart-actor")),
		logger: logger,
		config: cfg,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(s.logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(bearerAuth())
	{
		cart := v1.Group("/cart")
		{
			cart.GET("", s.getCart)
			cart.POST("/items", s.addCartItem)
			cart.PATCH("/items/:dish_id", s.updateCartItem)
			cart.DELETE("/items/:dish_id", s.removeCartItem)
			cart.POST("/clear", s.clearCart)
		}

		orders := v1.Group("/orders")
		{
			orders.POST("/checkout", s.checkout)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
			orders.GET("/:id/status", s.getOrderStatus)
			orders.GET("/:id/audit", s.getOrderAudit)
			orders.PUT("/:id/status", s.updateOrderStatus)
		}
	}

	return router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("Order service started", zap.String("address", addr))
	return s.router.Run(addr)
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.mongo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.mongo.Close(ctx)
}

func (s *Server) Redis() *repository.RedisRepository {
	return s.redis
}

// bearerAuth requires an Authorization bearer credential. The identity
// collaborator issues the token; here it resolves directly to the owner id.
// Without it every cart and order route fails with unauthenticated.
func bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortError(c, errs.New("auth", errs.ErrUnauthenticated, "missing Authorization header"))
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortError(c, errs.New("auth", errs.ErrUnauthenticated, "invalid auth header"))
			return
		}
		c.Set(ownerKey, token)
		c.Next()
	}
}

func owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// httpStatus maps the error taxonomy onto response codes.
func httpStatus(err error) int {
	switch errs.Code(err) {
	case errs.CodeUnauthenticated:
		return http.StatusUnauthorized
	case errs.CodeConflict:
		return http.StatusConflict
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

func respondError(c *gin.Context, err error) {
	var e *errs.Error
	message := err.Error()
	if errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	c.JSON(httpStatus(err), gin.H{
		"code":    errs.Code(err),
		"message": message,
	})
}

func abortError(c *gin.Context, err error) {
	respondError(c, err)
	c.Abort()
}

func (s *Server) getCart(c *gin.Context) {
	cart, err := s.carts.request(owner(c), &getCart{})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (s *Server) addCartItem(c *gin.Context) {
	var req struct {
		DishID   string `json:"dish_id" binding:"required"`
		Quantity int    `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.New("cart.AddItem", errs.ErrValidation, err.Error()))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := s.carts.request(owner(c), &addItem{DishID: req.DishID, Quantity: req.Quantity})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cart)
}

func (s *Server) updateCartItem(c *gin.Context) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.New("cart.SetQuantity", errs.ErrValidation, err.Error()))
		return
	}
	cart, err := s.carts.request(owner(c), &updateItem{DishID: c.Param("dish_id"), Quantity: req.Quantity})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (s *Server) removeCartItem(c *gin.Context) {
	cart, err := s.carts.request(owner(c), &removeItem{DishID: c.Param("dish_id")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (s *Server) clearCart(c *gin.Context) {
	cart, err := s.carts.request(owner(c), &clearCart{})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
