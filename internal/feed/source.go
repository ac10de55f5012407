package feed

import (
	"context"
	"sync"
	"time"
)

// ChangeSource signals that a restaurant's orders may have changed.
// The returned channel is closed when ctx is done.
type ChangeSource interface {
	Watch(ctx context.Context, restaurantID string) (<-chan struct{}, error)
}

// Notifier is told about order writes.
type Notifier interface {
	Notify(ctx context.Context, restaurantID string)
}

// signal performs a non-blocking send; pending signals coalesce into one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Hub broadcasts change signals inside one process.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{watchers: map[string]map[chan struct{}]struct{}{}}
}

func (h *Hub) Watch(ctx context.Context, restaurantID string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.watchers[restaurantID] == nil {
		h.watchers[restaurantID] = map[chan struct{}]struct{}{}
	}
	h.watchers[restaurantID][ch] = struct{}{}
	h.mu.Unlock()

	context.AfterFunc(ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers[restaurantID], ch)
		if len(h.watchers[restaurantID]) == 0 {
			delete(h.watchers, restaurantID)
		}
		close(ch)
	})
	return ch, nil
}

func (h *Hub) Notify(_ context.Context, restaurantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers[restaurantID] {
		signal(ch)
	}
}

// Watchers returns the number of live watches for a restaurant.
func (h *Hub) Watchers(restaurantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[restaurantID])
}

// PollSource emits a signal every interval.
type PollSource struct {
	interval time.Duration
}

func NewPollSource(interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollSource{interval: interval}
}

func (p *PollSource) Watch(ctx context.Context, _ string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				signal(ch)
			}
		}
	}()
	return ch, nil
}
