package validation

import "github.com/imrishuroy/restaurant-orderflow/internal/orders"

// TotalPolicy decides how a client-sent total is treated.
type TotalPolicy string

const (
	// TotalPolicyStrict requires a client total equal to the recomputed one.
	TotalPolicyStrict TotalPolicy = "strict"
	// TotalPolicyFallback uses the recomputed total when the client sends none.
	TotalPolicyFallback TotalPolicy = "fallback"
)

// ParseTotalPolicy maps a config value to a policy, defaulting to strict.
func ParseTotalPolicy(s string) TotalPolicy {
	if TotalPolicy(s) == TotalPolicyFallback {
		return TotalPolicyFallback
	}
	return TotalPolicyStrict
}

// MaxQuantity bounds a single line's quantity.
const MaxQuantity = 10000

// Line is a single order line as sent by the client.
// Price and Quantity are pointers so that a missing value is distinguishable from zero.
type Line struct {
	ItemName        string   `json:"itemName" validate:"required"`
	Price           *float64 `json:"price" validate:"required,gte=0"`
	Quantity        *float64 `json:"quantity" validate:"required,gt=0,lte=10000,integral"`
	SpecialRequests string   `json:"specialRequests,omitempty" validate:"max=2000"`
	RoleID          string   `json:"roleId,omitempty"`
}

// CreateOrderRequest is the payload for POST /api/:restaurantId/orders.
type CreateOrderRequest struct {
	OrderID       string   `json:"orderId" validate:"max=128"` // client correlation id, optional
	Items         []Line   `json:"items" validate:"min=1,dive"`
	Total         *float64 `json:"total"`
	TableNumber   string   `json:"tableNumber" validate:"max=32"`
	SchemaVersion int      `json:"schemaVersion,omitempty"`
}

// Draft is a validated order ready to be persisted.
type Draft struct {
	OrderID       string
	Items         []orders.Item
	Total         float64
	TableNumber   string
	SchemaVersion int
}
