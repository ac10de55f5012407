package notification

import (
	"fmt"

	"github.com/imrishuroy/restaurant-orderflow/internal/money"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
)

const notificationTitle = "New Order for Preparation"

// OrderNotification is the payload handed to the messaging provider for one role.
type OrderNotification struct {
	RestaurantID   string  `json:"restaurantId"`
	RoleID         string  `json:"roleId"`
	Topic          string  `json:"topic"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	ItemName       string  `json:"itemName"`
	CartItemsCount int     `json:"cartItemsCount"`
	CartTotal      float64 `json:"cartTotal"`
	TableNumber    string  `json:"tableNumber,omitempty"`
	OrderID        string  `json:"orderId"`
}

// Topic is the per-restaurant, per-role channel staff devices subscribe to.
func Topic(restaurantID, roleID string) string {
	return fmt.Sprintf("restaurant_%s_role_%s", restaurantID, roleID)
}

// NewOrderNotification builds the message for one role group of an order.
func NewOrderNotification(order orders.Order, g RoleGroup) OrderNotification {
	body := fmt.Sprintf("Prepare %s (Qty: %d). Total cart value: $%s", g.Summary, g.Count, money.Format(g.Subtotal))
	if order.TableNumber != "" {
		body += " - Table " + order.TableNumber
	}
	return OrderNotification{
		RestaurantID:   order.RestaurantID,
		RoleID:         g.RoleID,
		Topic:          Topic(order.RestaurantID, g.RoleID),
		Title:          notificationTitle,
		Body:           body,
		ItemName:       g.Summary,
		CartItemsCount: g.Count,
		CartTotal:      money.Float(g.Subtotal),
		TableNumber:    order.TableNumber,
		OrderID:        order.ID,
	}
}
