package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/safebites/pkg/config"
	"github.com/example/safebites/pkg/models"
)

// Cart snapshots live only as long as the session that owns them.
const cartTTL = 24 * time.Hour

// Idempotency reservations outlive any sane retry window.
const idempotencyTTL = 48 * time.Hour

type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func cartKey(ownerID string) string {
	return fmt.Sprintf("cart:%s", ownerID)
}

// GetCart loads the owner's cart snapshot. A missing key is not an error:
// the owner simply has an empty cart.
func (r *RedisRepository) GetCart(ctx context.Context, ownerID string) (models.Cart, error) {
	var cart models.Cart
	err := r.GetJSON(ctx, cartKey(ownerID), &cart)
	if err == redis.Nil {
		return models.Cart{OwnerID: ownerID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return models.Cart{}, err
	}
	return cart, nil
}

// SaveCart stores the full snapshot, replacing whatever was there.
func (r *RedisRepository) SaveCart(ctx context.Context, cart *models.Cart) error {
	return r.SetJSON(ctx, cartKey(cart.OwnerID), cart, cartTTL)
}

// ClearCart drops the owner's snapshot.
func (r *RedisRepository) ClearCart(ctx context.Context, ownerID string) error {
	return r.Del(ctx, cartKey(ownerID))
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idem:%s", key)
}

// LookupCheckout resolves an idempotency key to the order id that already
// claimed it, or "" when the key is unclaimed.
func (r *RedisRepository) LookupCheckout(ctx context.Context, key string) (string, error) {
	id, err := r.client.Get(ctx, idempotencyKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// ReserveCheckout claims an idempotency key for orderID. It returns the
// order id that owns the key and whether this call claimed it: a replayed
// checkout gets claimed=false and the original order id back.
func (r *RedisRepository) ReserveCheckout(ctx context.Context, key, orderID string) (string, bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKey(key), orderID, idempotencyTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return orderID, true, nil
	}
	existing, err := r.client.Get(ctx, idempotencyKey(key)).Result()
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// ReleaseCheckout frees a reservation after a failed checkout so the same
// key can be retried.
func (r *RedisRepository) ReleaseCheckout(ctx context.Context, key string) error {
	return r.Del(ctx, idempotencyKey(key))
}

// OrderStatusCache is the hot view of an order's lifecycle state.
type OrderStatusCache struct {
	ID      string             `json:"id"`
	OwnerID string             `json:"owner_id"`
	Status  models.OrderStatus `json:"status"`
}

func statusKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

func (r *RedisRepository) CacheOrderStatus(ctx context.Context, entry *OrderStatusCache) error {
	return r.SetJSON(ctx, statusKey(entry.ID), entry, 30*time.Minute)
}

func (r *RedisRepository) GetOrderStatusCache(ctx context.Context, orderID string) (*OrderStatusCache, error) {
	var entry OrderStatusCache
	if err := r.GetJSON(ctx, statusKey(orderID), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// InvalidateOrderStatus drops the cached status after a lifecycle change.
func (r *RedisRepository) InvalidateOrderStatus(ctx context.Context, orderID string) error {
	return r.Del(ctx, statusKey(orderID))
}
