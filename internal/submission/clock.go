package submission

import (
	"sync"
	"time"
)

// Clock hands out creation times that strictly increase per restaurant, even when
// the wall clock stalls or steps back.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[string]time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, last: map[string]time.Time{}}
}

// Next returns a UTC time, microsecond precision, later than any previous result for restaurantID.
func (c *Clock) Next(restaurantID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if last, ok := c.last[restaurantID]; ok && !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	c.last[restaurantID] = t
	return t
}
