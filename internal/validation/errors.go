package validation

import (
	"errors"
	"fmt"
)

type validationError interface {
	error
	validation()
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve validationError
	return errors.As(err, &ve)
}

// EmptyCartError is returned for an order without items.
type EmptyCartError struct{}

func (e *EmptyCartError) Error() string { return "order must contain at least one item" }
func (e *EmptyCartError) validation()   {}

// MissingTableError is returned when the schema version requires a table number.
type MissingTableError struct{}

func (e *MissingTableError) Error() string { return "table number is required" }
func (e *MissingTableError) validation()   {}

// InvalidLineError describes the first malformed line.
type InvalidLineError struct {
	Index  int
	Field  string
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("item %d: %s %s", e.Index, e.Field, e.Reason)
}
func (e *InvalidLineError) validation() {}

// TotalMismatchError is returned when the client total differs from the recomputed one,
// or is absent under the strict policy.
type TotalMismatchError struct {
	Claimed  string // empty when the client sent no total
	Computed string
}

func (e *TotalMismatchError) Error() string {
	if e.Claimed == "" {
		return fmt.Sprintf("total is required (expected %s)", e.Computed)
	}
	return fmt.Sprintf("total mismatch: got %s, expected %s", e.Claimed, e.Computed)
}
func (e *TotalMismatchError) validation() {}

// UnsupportedSchemaError is returned for an unknown schemaVersion.
type UnsupportedSchemaError struct {
	Version int
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("unsupported schema version %d", e.Version)
}
func (e *UnsupportedSchemaError) validation() {}

// InvalidFieldError reports a malformed top-level field.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string { return fmt.Sprintf("%s %s", e.Field, e.Reason) }
func (e *InvalidFieldError) validation()   {}

// OrderIDReusedError is returned when a correlation id already placed an order with
// different content.
type OrderIDReusedError struct {
	OrderID string
}

func (e *OrderIDReusedError) Error() string {
	return fmt.Sprintf("orderId %q was already used for a different order", e.OrderID)
}
func (e *OrderIDReusedError) validation() {}
