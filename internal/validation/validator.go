package validation

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/restaurant-orderflow/internal/money"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"github.com/shopspring/decimal"
)

const (
	tagTableRequired = "table_required"
	tagTotalMismatch = "total_mismatch"
)

var defaultValidate = New()

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("integral", func(fl validatorv10.FieldLevel) bool {
		f := fl.Field().Float()
		return f == math.Trunc(f)
	})

	v.RegisterStructValidation(lineStructValidation, Line{})
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func lineStructValidation(sl validatorv10.StructLevel) {
	l := sl.Current().Interface().(Line)
	if l.ItemName != "" && strings.TrimSpace(l.ItemName) == "" {
		sl.ReportError(l.ItemName, "itemName", "ItemName", "required", "")
	}
}

// createOrderStructValidation enforces the table rule and, when the client sent a total,
// compares it with the recomputed total in cents.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	if req.SchemaVersion >= orders.SchemaVersion && strings.TrimSpace(req.TableNumber) == "" {
		sl.ReportError(req.TableNumber, "tableNumber", "TableNumber", tagTableRequired, "")
	}

	if req.Total == nil || !linesComplete(req.Items) {
		return
	}
	computed := computeTotal(req.Items)
	claimed := money.FromFloat(*req.Total)
	if money.Cents(computed) != money.Cents(claimed) {
		sl.ReportError(*req.Total, "total", "Total", tagTotalMismatch, money.Format(claimed)+"|"+money.Format(computed))
	}
}

func linesComplete(lines []Line) bool {
	if len(lines) == 0 {
		return false
	}
	for _, l := range lines {
		if l.Price == nil || l.Quantity == nil || *l.Price < 0 || *l.Quantity <= 0 {
			return false
		}
		if *l.Quantity > MaxQuantity || *l.Quantity != math.Trunc(*l.Quantity) {
			return false
		}
	}
	return true
}

func computeTotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(money.Subtotal(*l.Price, int(*l.Quantity)))
	}
	return money.Round(sum)
}

// Validate turns a raw request into a Draft. It performs no I/O.
func Validate(raw CreateOrderRequest, policy TotalPolicy) (Draft, error) {
	version := raw.SchemaVersion
	if version == 0 {
		version = orders.SchemaVersion
	}
	if version < 1 || version > orders.SchemaVersion {
		return Draft{}, &UnsupportedSchemaError{Version: raw.SchemaVersion}
	}
	raw.SchemaVersion = version

	if err := defaultValidate.Struct(raw); err != nil {
		return Draft{}, translate(err)
	}

	computed := computeTotal(raw.Items)
	if raw.Total == nil && policy != TotalPolicyFallback {
		return Draft{}, &TotalMismatchError{Computed: money.Format(computed)}
	}

	items := make([]orders.Item, 0, len(raw.Items))
	for _, l := range raw.Items {
		items = append(items, orders.Item{
			ItemName:        l.ItemName,
			Price:           *l.Price,
			Quantity:        int(*l.Quantity),
			SpecialRequests: l.SpecialRequests,
			RoleID:          l.RoleID,
		})
	}

	return Draft{
		OrderID:       strings.TrimSpace(raw.OrderID),
		Items:         items,
		Total:         money.Float(computed),
		TableNumber:   strings.TrimSpace(raw.TableNumber),
		SchemaVersion: version,
	}, nil
}

// translate maps validator errors to the typed errors, keeping the most significant one.
func translate(err error) error {
	var ves validatorv10.ValidationErrors
	if !errors.As(err, &ves) {
		return &InvalidFieldError{Field: "body", Reason: err.Error()}
	}
	var (
		best     error
		bestRank = math.MaxInt
	)
	for _, fe := range ves {
		e, rank := fromFieldError(fe)
		if rank < bestRank {
			best, bestRank = e, rank
		}
	}
	return best
}

func fromFieldError(fe validatorv10.FieldError) (error, int) {
	ns := fe.StructNamespace()
	switch {
	case fe.StructField() == "Items" && !strings.Contains(ns, "["):
		return &EmptyCartError{}, 0
	case fe.Tag() == tagTableRequired:
		return &MissingTableError{}, 1
	case strings.Contains(ns, "Items["):
		return &InvalidLineError{Index: lineIndex(ns), Field: fe.Field(), Reason: reason(fe)}, 2
	case fe.Tag() == tagTotalMismatch:
		claimed, computed, _ := strings.Cut(fe.Param(), "|")
		return &TotalMismatchError{Claimed: claimed, Computed: computed}, 4
	default:
		return &InvalidFieldError{Field: fe.Field(), Reason: reason(fe)}, 3
	}
}

func lineIndex(ns string) int {
	start := strings.Index(ns, "Items[") + len("Items[")
	end := strings.Index(ns[start:], "]")
	if end < 0 {
		return -1
	}
	i, err := strconv.Atoi(ns[start : start+end])
	if err != nil {
		return -1
	}
	return i
}

func reason(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must not be negative"
	case "gt":
		return "must be positive"
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "integral":
		return "must be a whole number"
	default:
		return "failed " + fe.Tag()
	}
}
