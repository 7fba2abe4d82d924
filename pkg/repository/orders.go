package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
)

// OrderRepository persists orders in MySQL.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.NewID("orders.Get", id, errs.ErrNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOwnerOrder loads one order scoped to its owner; another owner's order
// reads as not found rather than forbidden.
func (r *OrderRepository) GetOwnerOrder(ctx context.Context, id, ownerID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&order).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.NewID("orders.Get", id, errs.ErrNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) ListOrders(ctx context.Context, ownerID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("placed_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}
