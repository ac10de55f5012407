package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
	"github.com/imrishuroy/restaurant-orderflow/internal/aws/awsmock"
	"github.com/imrishuroy/restaurant-orderflow/internal/catalog"
	"github.com/imrishuroy/restaurant-orderflow/internal/feed"
	"github.com/imrishuroy/restaurant-orderflow/internal/idempotency"
	"github.com/imrishuroy/restaurant-orderflow/internal/notification"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"github.com/imrishuroy/restaurant-orderflow/internal/validation"
)

const (
	ordersTable = "orders"
	idempTable  = "idempotency"
)

type fakeRoles struct {
	roles []catalog.Role
	err   error
}

func (f *fakeRoles) ListRoles(ctx context.Context, restaurantID string) ([]catalog.Role, error) {
	return f.roles, f.err
}

type recordingMessenger struct {
	mu     sync.Mutex
	sent   []notification.OrderNotification
	failOn string
}

func (m *recordingMessenger) Send(ctx context.Context, n notification.OrderNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.RoleID == m.failOn {
		return errors.New("provider down")
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *recordingMessenger) messages() []notification.OrderNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.OrderNotification(nil), m.sent...)
}

type countingNotifier struct {
	mu    sync.Mutex
	calls map[string]int
}

func (n *countingNotifier) Notify(ctx context.Context, restaurantID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = map[string]int{}
	}
	n.calls[restaurantID]++
}

type fixture struct {
	svc       *Service
	dynamo    *awsmock.DynamoDB
	store     *orders.Store
	messenger *recordingMessenger
	notifier  *countingNotifier
	cw        *awsmock.CloudWatch
	roles     *fakeRoles
}

func newFixture(t *testing.T, policy validation.TotalPolicy) *fixture {
	t.Helper()
	dynamo := awsmock.NewDynamoDB().
		WithTable(ordersTable, "id", "").
		WithIndex(ordersTable, orders.RestaurantIndex, "restaurant_id", "created_seq").
		WithTable(idempTable, "idempotency_key", "")
	store := orders.NewStore(dynamo, ordersTable)
	messenger := &recordingMessenger{}
	notifier := &countingNotifier{}
	cw := &awsmock.CloudWatch{}
	roles := &fakeRoles{roles: []catalog.Role{{ID: "kitchen", Name: "Kitchen"}, {ID: "bar", Name: "Bar"}}}

	svc := NewService(Deps{
		Orders:      store,
		Idempotency: idempotency.NewStore(dynamo, idempTable, 48*time.Hour),
		Roles:       roles,
		Dispatcher:  notification.NewDispatcher(messenger, 2, zap.NewNop()),
		Notifier:    notifier,
		Metrics:     aws.NewMetrics(cw, ""),
		TotalPolicy: policy,
		Logger:      zap.NewNop(),
	})
	return &fixture{svc: svc, dynamo: dynamo, store: store, messenger: messenger, notifier: notifier, cw: cw, roles: roles}
}

func f64(v float64) *float64 { return &v }

func burgerRequest(orderID string) validation.CreateOrderRequest {
	return validation.CreateOrderRequest{
		OrderID: orderID,
		Items: []validation.Line{
			{ItemName: "Burger", Price: f64(9.50), Quantity: f64(2), RoleID: "kitchen"},
		},
		Total:       f64(19.00),
		TableNumber: "12",
	}
}

func TestSubmitOrder_BurgerScenario(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	ctx := context.Background()

	res, err := fx.svc.SubmitOrder(ctx, "r1", burgerRequest("corr-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "corr-1", res.OrderID)
	assert.False(t, res.Replayed)

	got, err := fx.store.Get(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 19.00, got.Total)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, "12", got.TableNumber)
	assert.Equal(t, orders.SchemaVersion, got.SchemaVersion)

	msgs := fx.messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "kitchen", msgs[0].RoleID)
	assert.Equal(t, "2x Burger", msgs[0].ItemName)
	assert.Equal(t, res.ID, msgs[0].OrderID)

	assert.Equal(t, 1, fx.notifier.calls["r1"])
	assert.Equal(t, 1.0, fx.cw.Total(MetricOrdersSubmitted))
	assert.Equal(t, 0.0, fx.cw.Total(MetricNotificationFailures))

	rec, err := idempotency.NewStore(fx.dynamo, idempTable, time.Hour).Get(ctx, "r1#corr-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, res.ID, rec.OrderID)
}

func TestSubmitOrder_EmptyCartTouchesNoStorage(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	req := burgerRequest("corr-1")
	req.Items = nil

	_, err := fx.svc.SubmitOrder(context.Background(), "r1", req)
	var empty *validation.EmptyCartError
	require.ErrorAs(t, err, &empty)

	assert.Zero(t, fx.dynamo.GetCalls)
	assert.Zero(t, fx.dynamo.QueryCalls)
	assert.Zero(t, fx.dynamo.TransactCalls)
	assert.Zero(t, fx.dynamo.Count(ordersTable))
	assert.Empty(t, fx.messenger.messages())
}

func TestSubmitOrder_ValidationErrorsPersistNothing(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	cases := map[string]func(*validation.CreateOrderRequest){
		"missing table":  func(r *validation.CreateOrderRequest) { r.TableNumber = "" },
		"bad line":       func(r *validation.CreateOrderRequest) { r.Items[0].Quantity = f64(0) },
		"total mismatch": func(r *validation.CreateOrderRequest) { r.Total = f64(20) },
		"absent total":   func(r *validation.CreateOrderRequest) { r.Total = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := burgerRequest("corr-" + name)
			mutate(&req)
			_, err := fx.svc.SubmitOrder(context.Background(), "r1", req)
			require.Error(t, err)
			assert.True(t, validation.IsValidation(err))
		})
	}
	assert.Zero(t, fx.dynamo.Count(ordersTable))

	_, err := fx.svc.SubmitOrder(context.Background(), "", burgerRequest("x"))
	assert.True(t, validation.IsValidation(err))
}

func TestSubmitOrder_FallbackPolicyFillsTotal(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyFallback)
	req := burgerRequest("corr-1")
	req.Total = nil

	res, err := fx.svc.SubmitOrder(context.Background(), "r1", req)
	require.NoError(t, err)
	got, _ := fx.store.Get(context.Background(), res.ID)
	assert.Equal(t, 19.00, got.Total)
}

func TestSubmitOrder_ReplayReturnsFirstOrder(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	ctx := context.Background()

	first, err := fx.svc.SubmitOrder(ctx, "r1", burgerRequest("corr-1"))
	require.NoError(t, err)
	second, err := fx.svc.SubmitOrder(ctx, "r1", burgerRequest("corr-1"))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fx.dynamo.Count(ordersTable))
	assert.Len(t, fx.messenger.messages(), 1, "no second fan-out")

	// the same correlation id in another restaurant is a different order
	other, err := fx.svc.SubmitOrder(ctx, "r2", burgerRequest("corr-1"))
	require.NoError(t, err)
	assert.False(t, other.Replayed)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSubmitOrder_ReusedOrderIDWithDifferentCartIsRejected(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	ctx := context.Background()

	first, err := fx.svc.SubmitOrder(ctx, "r1", burgerRequest("order-1"))
	require.NoError(t, err)

	beers := validation.CreateOrderRequest{
		OrderID:     "order-1",
		Items:       []validation.Line{{ItemName: "Beer", Price: f64(4), Quantity: f64(3), RoleID: "bar"}},
		Total:       f64(12),
		TableNumber: "4",
	}
	_, err = fx.svc.SubmitOrder(ctx, "r1", beers)

	var reused *validation.OrderIDReusedError
	require.ErrorAs(t, err, &reused)
	assert.Equal(t, "order-1", reused.OrderID)
	assert.True(t, validation.IsValidation(err))

	assert.Equal(t, 1, fx.dynamo.Count(ordersTable))
	assert.Len(t, fx.messenger.messages(), 1)
	got, err := fx.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Burger", got.Items[0].ItemName, "first order untouched")

	// a fresh id for the second cart goes through
	beers.OrderID = "order-2"
	res, err := fx.svc.SubmitOrder(ctx, "r1", beers)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, fx.dynamo.Count(ordersTable))
}

func TestSubmitOrder_RecordWithoutFingerprintStillReplays(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	ctx := context.Background()
	idemp := idempotency.NewStore(fx.dynamo, idempTable, time.Hour)
	created, err := idemp.CreateIfNotExists(ctx, idemp.NewRecord(idempotency.Key("r1", "old-1"), "r1", "stored-id"))
	require.NoError(t, err)
	require.True(t, created)

	res, err := fx.svc.SubmitOrder(ctx, "r1", burgerRequest("old-1"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "stored-id", res.ID)
	assert.Zero(t, fx.dynamo.Count(ordersTable))
}

func TestSubmitOrder_ReplayIgnoresMissingTotalUnderFallback(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyFallback)
	ctx := context.Background()

	first, err := fx.svc.SubmitOrder(ctx, "r1", burgerRequest("corr-1"))
	require.NoError(t, err)

	again := burgerRequest("corr-1")
	again.Total = nil
	second, err := fx.svc.SubmitOrder(ctx, "r1", again)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
}

func TestSubmitOrder_NotificationFailureKeepsOrder(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	fx.messenger.failOn = "kitchen"
	req := burgerRequest("corr-1")
	req.Items = append(req.Items, validation.Line{ItemName: "Beer", Price: f64(4), Quantity: f64(1), RoleID: "bar"})
	req.Total = f64(23)

	res, err := fx.svc.SubmitOrder(context.Background(), "r1", req)
	require.NoError(t, err)
	got, _ := fx.store.Get(context.Background(), res.ID)
	require.NotNil(t, got)

	msgs := fx.messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bar", msgs[0].RoleID)
	assert.Equal(t, 1.0, fx.cw.Total(MetricNotificationFailures))
}

func TestSubmitOrder_UnknownRoleIsPersistedButNotNotified(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	req := burgerRequest("corr-1")
	req.Items = append(req.Items,
		validation.Line{ItemName: "Cake", Price: f64(5), Quantity: f64(1), RoleID: "pastry"},
		validation.Line{ItemName: "Water", Price: f64(0), Quantity: f64(1)},
	)
	req.Total = f64(24)

	res, err := fx.svc.SubmitOrder(context.Background(), "r1", req)
	require.NoError(t, err)
	got, _ := fx.store.Get(context.Background(), res.ID)
	require.Len(t, got.Items, 3)
	assert.Equal(t, "pastry", got.Items[1].RoleID)

	msgs := fx.messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "kitchen", msgs[0].RoleID)
}

func TestSubmitOrder_CatalogDownDoesNotBlock(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	fx.roles.err = errors.New("catalog unavailable")

	_, err := fx.svc.SubmitOrder(context.Background(), "r1", burgerRequest("corr-1"))
	require.NoError(t, err)
	assert.Len(t, fx.messenger.messages(), 1)
}

func TestSubmitOrder_PersistenceFailure(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	fx.dynamo.Err = errors.New("service unavailable")
	fx.roles.err = nil

	_, err := fx.svc.SubmitOrder(context.Background(), "r1", burgerRequest("corr-1"))
	require.Error(t, err)
	assert.False(t, validation.IsValidation(err))
	assert.Empty(t, fx.messenger.messages())
	assert.Zero(t, fx.notifier.calls["r1"])
}

func TestSubmitOrder_RoundTripThroughList(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	ctx := context.Background()
	req := burgerRequest("corr-1")
	req.Items[0].SpecialRequests = "no onions"

	res, err := fx.svc.SubmitOrder(ctx, "r1", req)
	require.NoError(t, err)

	list, err := fx.store.ListByRestaurant(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ID, list[0].ID)
	assert.Equal(t, []orders.Item{{ItemName: "Burger", Price: 9.5, Quantity: 2, SpecialRequests: "no onions", RoleID: "kitchen"}}, list[0].Items)
	assert.Equal(t, 19.00, list[0].Total)
	assert.Equal(t, "12", list[0].TableNumber)

	f := feed.New(fx.store, feed.NewHub(), zap.NewNop())
	snap, err := f.Refresh(ctx, "r1", feed.SortDate)
	require.NoError(t, err)
	require.Len(t, snap.Current, 1)
	assert.Equal(t, list[0].Items, snap.Current[0].Items)
}

func TestSubmitOrder_NewestFirst(t *testing.T) {
	fx := newFixture(t, validation.TotalPolicyStrict)
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fx.svc.clock = NewClock(func() time.Time { return frozen })
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := fx.svc.SubmitOrder(ctx, "r1", burgerRequest(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}
	list, err := fx.store.ListByRestaurant(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
}

func TestClock_StrictlyIncreasingPerRestaurant(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return now })

	a := c.Next("r1")
	b := c.Next("r1")
	assert.True(t, b.After(a))
	assert.Equal(t, now, c.Next("r2"))

	now = now.Add(-time.Hour)
	assert.True(t, c.Next("r1").After(b))
}
