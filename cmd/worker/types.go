package main

import (
	"fmt"

	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
)

// StatusUpdate is the payload staff tooling sends to the status queue.
type StatusUpdate struct {
	RestaurantID string        `json:"restaurantId"`
	OrderID      string        `json:"orderId"`
	Status       orders.Status `json:"status"`
}

func (u StatusUpdate) validate() error {
	switch {
	case u.RestaurantID == "":
		return fmt.Errorf("restaurantId is required")
	case u.OrderID == "":
		return fmt.Errorf("orderId is required")
	case !u.Status.Valid():
		return fmt.Errorf("unknown status %q", u.Status)
	}
	return nil
}

// idempotencyKey identifies one requested transition; redelivered messages share it.
func (u StatusUpdate) idempotencyKey() string {
	return "status#" + u.RestaurantID + "#" + u.OrderID + "#" + string(u.Status)
}
