// Package client talks to the cart/order service over its JSON API. Cart
// mutations return the full updated cart, never deltas; the store layers
// above rely on that full-snapshot replacement.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/example/safebites/pkg/errs"
	"github.com/example/safebites/pkg/models"
)

// TokenSource supplies the current bearer credential. An empty string means
// logged out.
type TokenSource func() string

// StaticToken is a TokenSource for a fixed credential.
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

func New(baseURL string, token TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// errorBody is the structured error shape the service returns on non-2xx.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errs.New(op, errs.ErrValidation, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errs.New(op, errs.ErrValidation, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures give no guarantee about server-side effect.
		return &errs.Error{Op: op, Message: err.Error(), Err: errs.ErrTransient}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &errs.Error{Op: op, Message: "decode response", Err: errs.ErrTransient}
		}
		return nil
	}

	var eb errorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
		return &errs.Error{
			Op:      op,
			Message: fmt.Sprintf("status %d", resp.StatusCode),
			Err:     errs.ErrTransient,
		}
	}
	return &errs.Error{Op: op, Message: eb.Message, Err: errs.FromCode(eb.Code)}
}

// GetCart fetches the full authoritative cart snapshot.
func (c *Client) GetCart(ctx context.Context) (models.Cart, error) {
	var cart models.Cart
	err := c.do(ctx, "client.GetCart", http.MethodGet, "/api/v1/cart", nil, &cart)
	return cart, err
}

// AddItem adds quantity of a dish, merging into an existing line, and
// returns the full updated cart.
func (c *Client) AddItem(ctx context.Context, dishID string, quantity int) (models.Cart, error) {
	var cart models.Cart
	req := struct {
		DishID   string `json:"dish_id"`
		Quantity int    `json:"quantity"`
	}{DishID: dishID, Quantity: quantity}
	err := c.do(ctx, "client.AddItem", http.MethodPost, "/api/v1/cart/items", req, &cart)
	return cart, err
}

// UpdateItem sets the exact quantity for a dish line.
func (c *Client) UpdateItem(ctx context.Context, dishID string, quantity int) (models.Cart, error) {
	var cart models.Cart
	req := struct {
		Quantity int `json:"quantity"`
	}{Quantity: quantity}
	path := "/api/v1/cart/items/" + url.PathEscape(dishID)
	err := c.do(ctx, "client.UpdateItem", http.MethodPatch, path, req, &cart)
	return cart, err
}

// RemoveItem deletes a dish line.
func (c *Client) RemoveItem(ctx context.Context, dishID string) (models.Cart, error) {
	var cart models.Cart
	path := "/api/v1/cart/items/" + url.PathEscape(dishID)
	err := c.do(ctx, "client.RemoveItem", http.MethodDelete, path, nil, &cart)
	return cart, err
}

// Checkout submits a checkout attempt. The service prices the current
// server-side cart, not any client-held copy.
func (c *Client) Checkout(ctx context.Context, req models.CheckoutRequest) (models.OrderView, error) {
	var order models.OrderView
	err := c.do(ctx, "client.Checkout", http.MethodPost, "/api/v1/orders/checkout", req, &order)
	return order, err
}

// ListOrders returns all orders for the authenticated identity.
func (c *Client) ListOrders(ctx context.Context) ([]models.OrderView, error) {
	var orders []models.OrderView
	err := c.do(ctx, "client.ListOrders", http.MethodGet, "/api/v1/orders", nil, &orders)
	return orders, err
}

// GetOrder returns one order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (models.OrderView, error) {
	var order models.OrderView
	path := "/api/v1/orders/" + url.PathEscape(orderID)
	err := c.do(ctx, "client.GetOrder", http.MethodGet, path, nil, &order)
	return order, err
}
