// Package feed delivers live, partitioned views of a restaurant's orders.
package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
)

// Lister reads every order of a restaurant.
type Lister interface {
	ListByRestaurant(ctx context.Context, restaurantID string) ([]orders.Order, error)
}

// DefaultSettleDelay is how long after a change signal a subscription reads once more.
// The restaurant index is eventually consistent, so the read triggered by the signal may
// not see the write yet.
const DefaultSettleDelay = time.Second

type Feed struct {
	lister  Lister
	source  ChangeSource
	logger  *zap.Logger
	settle  time.Duration
	version atomic.Uint64
}

func New(lister Lister, source ChangeSource, logger *zap.Logger) *Feed {
	return &Feed{lister: lister, source: source, logger: logger, settle: DefaultSettleDelay}
}

// WithSettleDelay sets the follow-up read delay; d <= 0 disables the follow-up read.
func (f *Feed) WithSettleDelay(d time.Duration) *Feed {
	f.settle = d
	return f
}

// Refresh fetches, partitions and sorts once. On a fetch error the snapshot is empty,
// carries a warning and the error is returned alongside it.
func (f *Feed) Refresh(ctx context.Context, restaurantID string, criteria SortCriteria) (Snapshot, error) {
	ctx, span := otel.Tracer("feed").Start(ctx, "Feed.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("restaurant.id", restaurantID))

	list, err := f.lister.ListByRestaurant(ctx, restaurantID)
	if err != nil {
		span.RecordError(err)
		logging.Warn(ctx, f.logger, "feed fetch failed",
			zap.String("restaurant_id", restaurantID), zap.Error(err))
		snap := Unavailable(restaurantID, criteria, "orders are temporarily unavailable")
		snap.Version = f.version.Add(1)
		return snap, fmt.Errorf("list orders: %w", err)
	}
	snap := Snapshot{RestaurantID: restaurantID, Sort: criteria}
	snap.Current, snap.Past = Partition(list, criteria)
	snap.Version = f.version.Add(1)
	return snap, nil
}

// Subscription is a live feed registration.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe stops delivery and waits for an in-flight callback to return.
// No callback runs after it returns. It must not be called from inside the callback;
// cancel the context given to Subscribe instead.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once delivery has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe delivers an initial snapshot and one more after every change signal, plus a
// settle snapshot once signals have been quiet for the settle delay.
// Snapshots are delivered sequentially from a single goroutine; signals that arrive
// while a snapshot is being built coalesce into one follow-up snapshot.
func (f *Feed) Subscribe(ctx context.Context, restaurantID string, criteria SortCriteria, fn func(Snapshot)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	changes, err := f.source.Watch(subCtx, restaurantID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", restaurantID, err)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer cancel()

		deliver := func() bool {
			snap, _ := f.Refresh(subCtx, restaurantID, criteria)
			if subCtx.Err() != nil {
				return false
			}
			fn(snap)
			return true
		}

		if !deliver() {
			return
		}

		settle := time.NewTimer(time.Hour)
		settle.Stop()
		defer settle.Stop()
		var settled <-chan time.Time

		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					logging.Warn(subCtx, f.logger, "feed change source closed",
						zap.String("restaurant_id", restaurantID))
					return
				}
				if !deliver() {
					return
				}
				if f.settle > 0 {
					settle.Reset(f.settle)
					settled = settle.C
				}
			case <-settled:
				settled = nil
				if !deliver() {
					return
				}
			}
		}
	}()
	return sub, nil
}
