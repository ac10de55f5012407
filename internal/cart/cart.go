// Package cart keeps a diner's in-progress selection for one restaurant and mirrors it
// to durable storage after every change.
package cart

import (
	"context"
	"strconv"

	"github.com/imrishuroy/restaurant-orderflow/internal/catalog"
	"github.com/imrishuroy/restaurant-orderflow/internal/money"
	"github.com/imrishuroy/restaurant-orderflow/internal/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Line is one selected menu item.
type Line struct {
	ItemID          string  `json:"itemId"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	Quantity        int     `json:"quantity"`
	SpecialRequests string  `json:"specialRequests"`
	RoleID          string  `json:"roleId,omitempty"`
}

// Key scopes a cart to a browsing session and a restaurant.
type Key struct {
	SessionID    string
	RestaurantID string
}

// String is the storage key. The restaurant id is length-prefixed so ids containing
// the separator cannot collide.
func (k Key) String() string {
	return "cart:" + strconv.Itoa(len(k.RestaurantID)) + ":" + k.RestaurantID + ":" + k.SessionID
}

// Cart is not safe for concurrent use; each request works on its own instance.
type Cart struct {
	key     Key
	lines   []Line
	storage Storage
	logger  *zap.Logger
}

// New returns an empty cart.
func New(key Key, storage Storage, logger *zap.Logger) *Cart {
	return &Cart{key: key, storage: storage, logger: logger}
}

// Load restores a cart from storage. A storage failure yields an empty cart.
func Load(ctx context.Context, key Key, storage Storage, logger *zap.Logger) *Cart {
	c := New(key, storage, logger)
	lines, err := storage.Load(ctx, key)
	if err != nil {
		logger.Warn("cart load failed, starting empty",
			zap.String("cart", key.String()), zap.Error(err))
		return c
	}
	for _, l := range lines {
		if l.ItemID == "" {
			continue
		}
		l.Quantity = clampQuantity(l.Quantity)
		c.lines = append(c.lines, l)
	}
	return c
}

// AddItem increments the line for item or appends a new line with quantity 1.
// Quantities stop at validation.MaxQuantity.
func (c *Cart) AddItem(ctx context.Context, item catalog.MenuItem) {
	if i := c.index(item.ID); i >= 0 {
		c.lines[i].Quantity = clampQuantity(c.lines[i].Quantity + 1)
	} else {
		c.lines = append(c.lines, Line{
			ItemID:   item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: 1,
			RoleID:   item.RoleID,
		})
	}
	c.persist(ctx)
}

// UpdateQuantity applies delta, keeping the quantity within 1..validation.MaxQuantity.
// It reports whether the line exists.
func (c *Cart) UpdateQuantity(ctx context.Context, itemID string, delta int) bool {
	i := c.index(itemID)
	if i < 0 {
		return false
	}
	c.lines[i].Quantity = clampQuantity(c.lines[i].Quantity + delta)
	c.persist(ctx)
	return true
}

// SetSpecialRequests replaces the free text of a line.
func (c *Cart) SetSpecialRequests(ctx context.Context, itemID, text string) bool {
	i := c.index(itemID)
	if i < 0 {
		return false
	}
	c.lines[i].SpecialRequests = text
	c.persist(ctx)
	return true
}

// RemoveItem deletes a line. Removing the last line deletes the stored cart.
func (c *Cart) RemoveItem(ctx context.Context, itemID string) bool {
	i := c.index(itemID)
	if i < 0 {
		return false
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.persist(ctx)
	return true
}

// Total is Σ price×quantity rounded to two places, computed the same way the
// submission service validates it.
func (c *Cart) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(money.Subtotal(l.Price, l.Quantity))
	}
	return money.Round(sum)
}

// Clear empties the cart and its stored copy.
func (c *Cart) Clear(ctx context.Context) {
	c.lines = nil
	c.persist(ctx)
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Empty() bool { return len(c.lines) == 0 }

// Request builds a submission payload from the current lines.
func (c *Cart) Request(orderID, tableNumber string) validation.CreateOrderRequest {
	items := make([]validation.Line, 0, len(c.lines))
	for _, l := range c.lines {
		price := l.Price
		qty := float64(l.Quantity)
		items = append(items, validation.Line{
			ItemName:        l.Name,
			Price:           &price,
			Quantity:        &qty,
			SpecialRequests: l.SpecialRequests,
			RoleID:          l.RoleID,
		})
	}
	total := money.Float(c.Total())
	return validation.CreateOrderRequest{
		OrderID:     orderID,
		Items:       items,
		Total:       &total,
		TableNumber: tableNumber,
	}
}

func clampQuantity(q int) int {
	switch {
	case q < 1:
		return 1
	case q > validation.MaxQuantity:
		return validation.MaxQuantity
	}
	return q
}

func (c *Cart) index(itemID string) int {
	for i, l := range c.lines {
		if l.ItemID == itemID {
			return i
		}
	}
	return -1
}

// persist mirrors the cart to storage. Failures are logged and otherwise ignored.
func (c *Cart) persist(ctx context.Context) {
	var err error
	if len(c.lines) == 0 {
		err = c.storage.Delete(ctx, c.key)
	} else {
		err = c.storage.Save(ctx, c.key, c.lines)
	}
	if err != nil {
		c.logger.Warn("cart not persisted",
			zap.String("cart", c.key.String()), zap.Error(err))
	}
}
