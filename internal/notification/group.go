package notification

import (
	"fmt"
	"strings"

	"github.com/imrishuroy/restaurant-orderflow/internal/money"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"github.com/shopspring/decimal"
)

// RoleGroup is the part of an order one staff role has to prepare.
type RoleGroup struct {
	RoleID   string
	Items    []orders.Item
	Summary  string          // "2x Burger, 1x Fries"
	Count    int             // Σ quantity
	Subtotal decimal.Decimal // Σ price×quantity, rounded
}

// Group partitions items by role in order of first appearance. Items without a role are dropped.
func Group(items []orders.Item) []RoleGroup {
	var (
		groups []RoleGroup
		index  = map[string]int{}
	)
	for _, it := range items {
		if it.RoleID == "" {
			continue
		}
		i, ok := index[it.RoleID]
		if !ok {
			i = len(groups)
			index[it.RoleID] = i
			groups = append(groups, RoleGroup{RoleID: it.RoleID, Subtotal: decimal.Zero})
		}
		groups[i].Items = append(groups[i].Items, it)
	}

	for i := range groups {
		g := &groups[i]
		parts := make([]string, 0, len(g.Items))
		sum := decimal.Zero
		for _, it := range g.Items {
			parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, it.ItemName))
			g.Count += it.Quantity
			sum = sum.Add(money.Subtotal(it.Price, it.Quantity))
		}
		g.Summary = strings.Join(parts, ", ")
		g.Subtotal = money.Round(sum)
	}
	return groups
}
