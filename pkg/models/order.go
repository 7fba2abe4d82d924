package models

import (
	"encoding/json"
	"time"
)

// OrderStatus follows placed -> preparing -> out_for_delivery -> completed,
// with cancelled reachable from any non-terminal state. Backends may skip
// states, so transitions are not assumed strictly sequential; the only hard
// rule is that a terminal order never leaves its terminal state.
type OrderStatus string

const (
	StatusPlaced         OrderStatus = "placed"
	StatusPreparing      OrderStatus = "preparing"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusCompleted      OrderStatus = "completed"
	StatusCancelled      OrderStatus = "cancelled"
)

// Valid reports whether s is a known status value.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPlaced, StatusPreparing, StatusOutForDelivery, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is completed or cancelled.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is created once from a cart snapshot at checkout. Everything except
// Status and EstimatedArrivalTime is immutable after creation, and status is
// owned by the backing service.
type Order struct {
	ID                   string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID              string      `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Items                string      `gorm:"type:text" json:"-"` // JSON string
	Restaurants          string      `gorm:"type:text" json:"-"` // JSON string
	Subtotal             float64     `gorm:"type:decimal(10,2)" json:"subtotal"`
	Tax                  float64     `gorm:"type:decimal(10,2)" json:"tax"`
	Fees                 float64     `gorm:"type:decimal(10,2)" json:"fees"`
	Total                float64     `gorm:"type:decimal(10,2)" json:"total"`
	Status               OrderStatus `gorm:"type:varchar(20);default:'placed'" json:"status"`
	PaymentMethod        string      `gorm:"type:varchar(40)" json:"payment_method,omitempty"`
	DeliveryAddress      string      `gorm:"type:varchar(255)" json:"delivery_address,omitempty"`
	SpecialInstructions  string      `gorm:"type:text" json:"special_instructions,omitempty"`
	IdempotencyKey       string      `gorm:"type:varchar(36);uniqueIndex" json:"-"`
	PlacedAt             time.Time   `json:"placed_at"`
	EstimatedArrivalTime *time.Time  `json:"estimated_arrival_time,omitempty"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// DecodeItems parses the frozen item lines out of the JSON column.
func (o *Order) DecodeItems() ([]CartItem, error) {
	if o.Items == "" {
		return nil, nil
	}
	var items []CartItem
	if err := json.Unmarshal([]byte(o.Items), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeItems freezes item lines into the JSON column.
func (o *Order) EncodeItems(items []CartItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	o.Items = string(data)
	return nil
}

// DecodeRestaurants parses the per-restaurant summaries out of the JSON
// column.
func (o *Order) DecodeRestaurants() ([]RestaurantGroup, error) {
	if o.Restaurants == "" {
		return nil, nil
	}
	var groups []RestaurantGroup
	if err := json.Unmarshal([]byte(o.Restaurants), &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// EncodeRestaurants stores the per-restaurant summaries as JSON.
func (o *Order) EncodeRestaurants(groups []RestaurantGroup) error {
	data, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	o.Restaurants = string(data)
	return nil
}

// OrderView is the wire shape of an order with the JSON columns expanded.
type OrderView struct {
	ID                   string            `json:"id"`
	OwnerID              string            `json:"owner_id"`
	Items                []CartItem        `json:"items"`
	Restaurants          []RestaurantGroup `json:"restaurants"`
	Subtotal             float64           `json:"subtotal"`
	Tax                  float64           `json:"tax"`
	Fees                 float64           `json:"fees"`
	Total                float64           `json:"total"`
	Status               OrderStatus       `json:"status"`
	PaymentMethod        string            `json:"payment_method,omitempty"`
	DeliveryAddress      string            `json:"delivery_address,omitempty"`
	SpecialInstructions  string            `json:"special_instructions,omitempty"`
	PlacedAt             time.Time         `json:"placed_at"`
	EstimatedArrivalTime *time.Time        `json:"estimated_arrival_time,omitempty"`
}

// View expands the JSON columns into the wire shape. Undecodable columns
// surface as empty slices rather than failing a listing.
func (o *Order) View() OrderView {
	items, _ := o.DecodeItems()
	groups, _ := o.DecodeRestaurants()
	return OrderView{
		ID:                   o.ID,
		OwnerID:              o.OwnerID,
		Items:                items,
		Restaurants:          groups,
		Subtotal:             o.Subtotal,
		Tax:                  o.Tax,
		Fees:                 o.Fees,
		Total:                o.Total,
		Status:               o.Status,
		PaymentMethod:        o.PaymentMethod,
		DeliveryAddress:      o.DeliveryAddress,
		SpecialInstructions:  o.SpecialInstructions,
		PlacedAt:             o.PlacedAt,
		EstimatedArrivalTime: o.EstimatedArrivalTime,
	}
}

// CheckoutRequest is the payload accepted by the checkout endpoint.
type CheckoutRequest struct {
	PaymentMethod       string `json:"payment_method"`
	DeliveryAddress     string `json:"delivery_address"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
	IdempotencyKey      string `json:"idempotency_key"`
}

// Dish is the catalog view the cart engine consumes: price and
// availability by id. The catalog itself is an external collaborator.
type Dish struct {
	ID             string  `bson:"_id" json:"id"`
	Name           string  `bson:"name" json:"name"`
	Description    string  `bson:"description,omitempty" json:"description,omitempty"`
	Price          float64 `bson:"price" json:"price"`
	RestaurantID   string  `bson:"restaurant_id,omitempty" json:"restaurant_id,omitempty"`
	RestaurantName string  `bson:"restaurant_name,omitempty" json:"restaurant_name,omitempty"`
	Availability   bool    `bson:"availability" json:"availability"`
}
