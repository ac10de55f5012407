package feed

import (
	"fmt"
	"sort"

	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
)

// SortCriteria selects the ordering of both partitions.
type SortCriteria string

const (
	SortDate   SortCriteria = "date"
	SortStatus SortCriteria = "status"
)

// ParseSort accepts "", "date" and "status"; empty means date.
func ParseSort(s string) (SortCriteria, error) {
	switch SortCriteria(s) {
	case "", SortDate:
		return SortDate, nil
	case SortStatus:
		return SortStatus, nil
	default:
		return "", fmt.Errorf("unknown sort %q", s)
	}
}

// Snapshot is the full view of a restaurant's orders at one point in time.
type Snapshot struct {
	RestaurantID string         `json:"restaurantId"`
	Sort         SortCriteria   `json:"sort"`
	Current      []orders.Order `json:"current"`
	Past         []orders.Order `json:"past"`
	Warning      string         `json:"warning,omitempty"`
	Version      uint64         `json:"version"`
}

// Unavailable is a snapshot with empty partitions and a warning, for when orders cannot be read.
func Unavailable(restaurantID string, criteria SortCriteria, warning string) Snapshot {
	return Snapshot{
		RestaurantID: restaurantID,
		Sort:         criteria,
		Current:      []orders.Order{},
		Past:         []orders.Order{},
		Warning:      warning,
	}
}

// Partition splits orders into current (not complete) and past (complete), each sorted by criteria.
func Partition(list []orders.Order, criteria SortCriteria) (current, past []orders.Order) {
	current = make([]orders.Order, 0, len(list))
	past = make([]orders.Order, 0)
	for _, o := range list {
		if o.Status.Terminal() {
			past = append(past, o)
		} else {
			current = append(current, o)
		}
	}
	Sort(current, criteria)
	Sort(past, criteria)
	return current, past
}

// Sort orders in place. date: newest change first. status: pending, in-progress, complete,
// newest first within a status.
func Sort(list []orders.Order, criteria SortCriteria) {
	byDate := func(a, b orders.Order) bool {
		ta, tb := a.LastChanged(), b.LastChanged()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID < b.ID
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if criteria == SortStatus && a.Status.Rank() != b.Status.Rank() {
			return a.Status.Rank() < b.Status.Rank()
		}
		return byDate(a, b)
	})
}
