package orders

import "time"

// Status is the lifecycle stage of an order: pending -> in-progress -> complete.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
)

// Rank orders statuses for sorting; unknown statuses rank last.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusInProgress:
		return 2
	case StatusComplete:
		return 3
	default:
		return 4
	}
}

func (s Status) Valid() bool {
	return s.Rank() <= 3
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete
}

// CanTransitionTo allows any forward move. A skip (pending -> complete) is accepted because
// status updates may be delivered out of order; backward moves and repeats are not.
func (s Status) CanTransitionTo(next Status) bool {
	return s.Valid() && next.Valid() && next.Rank() > s.Rank()
}

// SchemaVersion is the current order payload version. v3 requires a table number
// and a server-validated total.
const SchemaVersion = 3

// Item is an immutable snapshot of a menu item at the time the order was placed.
type Item struct {
	ItemName        string  `dynamodbav:"item_name" json:"itemName"`
	Price           float64 `dynamodbav:"price" json:"price"`
	Quantity        int     `dynamodbav:"quantity" json:"quantity"`
	SpecialRequests string  `dynamodbav:"special_requests,omitempty" json:"specialRequests,omitempty"`
	RoleID          string  `dynamodbav:"role_id,omitempty" json:"roleId,omitempty"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	ID            string    `dynamodbav:"id" json:"id"`                      // PK, server identity
	OrderID       string    `dynamodbav:"order_id" json:"orderId"`           // client correlation id
	RestaurantID  string    `dynamodbav:"restaurant_id" json:"restaurantId"` // GSI hash key
	Items         []Item    `dynamodbav:"items" json:"items"`
	Total         float64   `dynamodbav:"total" json:"total"`
	Status        Status    `dynamodbav:"status" json:"status"`
	TableNumber   string    `dynamodbav:"table_number,omitempty" json:"tableNumber,omitempty"`
	SchemaVersion int       `dynamodbav:"schema_version" json:"schemaVersion"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"timestamp"`
	CreatedSeq    int64     `dynamodbav:"created_seq" json:"-"` // GSI range key, unix nanos from the restaurant clock
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// LastChanged is the creation or last status update time, whichever is later.
func (o Order) LastChanged() time.Time {
	if o.UpdatedAt.After(o.CreatedAt) {
		return o.UpdatedAt
	}
	return o.CreatedAt
}
