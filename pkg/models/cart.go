package models

import (
	"time"
)

// CartItem is one dish line in a cart. UnitPrice is fixed at add time;
// the same dish never appears on two lines.
type CartItem struct {
	DishID         string  `json:"dish_id"`
	RestaurantID   string  `json:"restaurant_id,omitempty"`
	RestaurantName string  `json:"restaurant_name,omitempty"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       int     `json:"quantity"`
}

// LineTotal is the unrounded price contribution of this line.
func (i CartItem) LineTotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Cart is the mutable pre-order collection for one owner. Items keep
// insertion order and are unique per dish id. A quantity below 1 is never
// stored: such lines are removed instead.
type Cart struct {
	OwnerID   string     `json:"owner_id"`
	Items     []CartItem `json:"items"`
	Subtotal  float64    `json:"subtotal"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Find returns a pointer into Items for dishID, or nil.
func (c *Cart) Find(dishID string) *CartItem {
	for i := range c.Items {
		if c.Items[i].DishID == dishID {
			return &c.Items[i]
		}
	}
	return nil
}

// Remove deletes the line for dishID, preserving the order of the rest.
// It reports whether a line was removed.
func (c *Cart) Remove(dishID string) bool {
	for i := range c.Items {
		if c.Items[i].DishID == dishID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount is the total quantity across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the live item slice.
func (c *Cart) Clone() Cart {
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return out
}

// RestaurantGroup is a derived per-restaurant view of cart or order lines.
// It is never persisted on its own.
type RestaurantGroup struct {
	RestaurantID   string     `json:"restaurant_id,omitempty"`
	RestaurantName string     `json:"restaurant_name,omitempty"`
	Items          []CartItem `json:"items,omitempty"`
	ItemCount      int        `json:"item_count"`
	ItemTotal      float64    `json:"item_total"`
}
