// Package pricing computes charges from a cart snapshot. Everything here is
// a pure function of its inputs: the same lines always price the same.
package pricing

import (
	"math"

	"github.com/example/safebites/pkg/models"
)

const (
	// DefaultTaxRate applies when no rate is configured.
	DefaultTaxRate = 0.08
	// DefaultServiceFee is the flat fee charged on any non-empty cart.
	DefaultServiceFee = 2.50

	// fallbackGroupKey buckets lines that carry neither a restaurant id
	// nor a restaurant name. Using a constant keeps two such lines in one
	// group instead of colliding with a named restaurant.
	fallbackGroupKey = "\x00unattributed"
)

// Params configures a quote. The zero value means "use defaults".
type Params struct {
	TaxRate    float64
	ServiceFee float64
}

func (p Params) withDefaults() Params {
	if p.TaxRate == 0 {
		p.TaxRate = DefaultTaxRate
	}
	if p.ServiceFee == 0 {
		p.ServiceFee = DefaultServiceFee
	}
	return p
}

// Quote is the computed charge breakdown for a cart snapshot.
type Quote struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Fees     float64 `json:"fees"`
	Total    float64 `json:"total"`
}

// Round2 rounds half-up to two decimal places.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// Subtotal sums unit_price x quantity over all lines, rounding once at the
// aggregate rather than per line.
func Subtotal(items []models.CartItem) float64 {
	var sum float64
	for _, it := range items {
		sum += it.LineTotal()
	}
	return Round2(sum)
}

// Calculate prices a cart snapshot: subtotal, tax on the subtotal, a flat
// service fee on any non-empty subtotal, and the rounded total.
func Calculate(items []models.CartItem, p Params) Quote {
	p = p.withDefaults()

	subtotal := Subtotal(items)
	tax := Round2(subtotal * p.TaxRate)
	var fee float64
	if subtotal > 0 {
		fee = p.ServiceFee
	}

	return Quote{
		Subtotal: subtotal,
		Tax:      tax,
		Fees:     fee,
		Total:    Round2(subtotal + tax + fee),
	}
}

// GroupByRestaurant buckets lines per restaurant, preserving first-seen
// order. The grouping key is restaurant_id when present, else the
// restaurant name, else a shared fallback bucket; the precedence matters so
// two unattributed lines with different dish names land together while two
// different unnamed restaurants do not merge by accident.
func GroupByRestaurant(items []models.CartItem) []models.RestaurantGroup {
	index := make(map[string]int)
	var groups []models.RestaurantGroup

	for _, it := range items {
		key := it.RestaurantID
		if key == "" {
			key = it.RestaurantName
		}
		if key == "" {
			key = fallbackGroupKey
		}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, models.RestaurantGroup{
				RestaurantID:   it.RestaurantID,
				RestaurantName: it.RestaurantName,
			})
		}

		groups[i].Items = append(groups[i].Items, it)
		groups[i].ItemCount += it.Quantity
	}

	for i := range groups {
		groups[i].ItemTotal = Subtotal(groups[i].Items)
	}
	return groups
}

// Summaries is GroupByRestaurant without the per-line detail, the shape
// stored on an order.
func Summaries(items []models.CartItem) []models.RestaurantGroup {
	groups := GroupByRestaurant(items)
	for i := range groups {
		groups[i].Items = nil
	}
	return groups
}
