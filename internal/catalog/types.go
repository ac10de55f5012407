package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a role or menu item does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// Role is a staff responsibility queue such as Kitchen or Bar.
type Role struct {
	ID           string    `dynamodbav:"role_id" json:"id"`
	RestaurantID string    `dynamodbav:"restaurant_id" json:"restaurantId"`
	Name         string    `dynamodbav:"name" json:"name"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"createdAt"`
}

// MenuItem is an orderable item. Orders snapshot its fields at submission time.
type MenuItem struct {
	ID           string    `dynamodbav:"item_id" json:"id"`
	RestaurantID string    `dynamodbav:"restaurant_id" json:"restaurantId"`
	Name         string    `dynamodbav:"name" json:"name"`
	Description  string    `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Price        float64   `dynamodbav:"price" json:"price"`
	Category     string    `dynamodbav:"category,omitempty" json:"category,omitempty"`
	RoleID       string    `dynamodbav:"role_id,omitempty" json:"roleId,omitempty"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"createdAt"`
}

// Reader is the read-only view of the catalog used by the order pipeline.
type Reader interface {
	GetRole(ctx context.Context, restaurantID, roleID string) (*Role, error)
	ListRoles(ctx context.Context, restaurantID string) ([]Role, error)
	GetMenuItem(ctx context.Context, restaurantID, itemID string) (*MenuItem, error)
	ListMenuItems(ctx context.Context, restaurantID string) ([]MenuItem, error)
}
