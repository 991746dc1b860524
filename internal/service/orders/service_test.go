package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
	"github.com/vladislavdragonenkov/ordercrud/internal/metrics"
	"github.com/vladislavdragonenkov/ordercrud/internal/storage/memory"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	registry *prometheus.Registry
}

// newFixture собирает сервис на in-memory хранилищах; часы сдвигаются на секунду за вызов.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	tick := 0
	clock := func() time.Time {
		tick++
		return baseTime.Add(time.Duration(tick) * time.Second)
	}

	f := &fixture{
		repo:     memory.NewOrderRepository(),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
		registry: prometheus.NewRegistry(),
	}
	f.svc = NewService(f.repo,
		WithTimeline(f.timeline),
		WithOutbox(f.outbox),
		WithMetrics(metrics.NewOrderMetricsWithRegisterer(f.registry)),
		WithClock(clock),
	)
	return f
}

func (f *fixture) operationCount(t *testing.T, operation, result string) float64 {
	t.Helper()

	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "ordercrud_orders_operations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["operation"] == operation && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func sampleInput() OrderInput {
	return OrderInput{
		CustomerID: "customer-1",
		Items: []ItemInput{
			{ProductID: "sku-1", Quantity: 2, UnitPrice: price("10.50")},
			{ProductID: "sku-2", Quantity: 1, UnitPrice: price("5.00")},
		},
	}
}

func TestService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.ID)
	assert.Equal(t, "NEW", view.Status)
	assert.Equal(t, "26.00", view.TotalAmount)
	assert.Equal(t, "10.50", view.Items[0].UnitPrice)
	assert.True(t, view.CreatedAt.Equal(view.UpdatedAt))
	assert.Equal(t, 1.0, f.operationCount(t, operationCreate, metrics.ResultSuccess))

	events, err := f.timeline.List(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	assert.Equal(t, "items=2 total=26.00", events[0].Summary)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "order.created", pending[0].EventType)
	assert.Equal(t, "1", pending[0].AggregateID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "26.00", payload["total_amount"])
}

func TestService_Create_ValidationCollectsAllProblems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, OrderInput{
		CustomerID: " ",
		Items: []ItemInput{
			{ProductID: "", Quantity: 0},
		},
	})
	require.Error(t, err)

	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Len(t, validation.Problems, 4)
	assert.ErrorIs(t, err, domain.ErrCustomerRequired)
	assert.ErrorIs(t, err, domain.ErrItemProductRequired)
	assert.ErrorIs(t, err, domain.ErrItemQtyInvalid)
	assert.ErrorIs(t, err, domain.ErrItemPriceRequired)

	_, total, err := f.repo.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total, "invalid order must not be persisted")
	assert.Empty(t, f.outbox.AllPending())
	assert.Equal(t, 1.0, f.operationCount(t, operationCreate, metrics.ResultValidation))
}

func TestService_Create_EmptyItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), OrderInput{CustomerID: "customer-1"})
	assert.ErrorIs(t, err, domain.ErrItemsRequired)
}

func TestService_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = f.svc.Get(ctx, 999)
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, 1.0, f.operationCount(t, operationGet, metrics.ResultNotFound))

	_, err = f.svc.Get(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrOrderIDInvalid)
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Create(ctx, sampleInput())
		require.NoError(t, err)
	}

	first, err := f.svc.List(ctx, PageRequest{Page: 0, Size: 2})
	require.NoError(t, err)
	require.Len(t, first.Content, 2)
	assert.Equal(t, int64(1), first.Content[0].ID)
	assert.Equal(t, int64(2), first.Content[1].ID)
	assert.Equal(t, 5, first.TotalElements)
	assert.Equal(t, 3, first.TotalPages)
	assert.True(t, first.HasNext)

	last, err := f.svc.List(ctx, PageRequest{Page: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, last.Content, 1)
	assert.Equal(t, int64(5), last.Content[0].ID)
	assert.False(t, last.HasNext)

	beyond, err := f.svc.List(ctx, PageRequest{Page: 7, Size: 2})
	require.NoError(t, err)
	assert.NotNil(t, beyond.Content)
	assert.Empty(t, beyond.Content)
	assert.Equal(t, 5, beyond.TotalElements)

	defaults, err := f.svc.List(ctx, PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, defaults.Size)
	assert.Len(t, defaults.Content, 5)
	assert.Equal(t, 1, defaults.TotalPages)
}

func TestService_List_Empty(t *testing.T) {
	f := newFixture(t)

	page, err := f.svc.List(context.Background(), PageRequest{Size: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Content)
	assert.Zero(t, page.TotalPages)
	assert.False(t, page.HasNext)
}

func TestService_List_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, PageRequest{Page: -1, Size: 1001})
	assert.ErrorIs(t, err, domain.ErrPageInvalid)
	assert.ErrorIs(t, err, domain.ErrPageSizeInvalid)

	_, err = f.svc.List(ctx, PageRequest{Size: -5})
	assert.ErrorIs(t, err, domain.ErrPageSizeInvalid)

	page, err := f.svc.List(ctx, PageRequest{Page: int(^uint(0) >> 2), Size: MaxPageSize})
	require.NoError(t, err)
	assert.Empty(t, page.Content)
}

func TestService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, OrderInput{
		CustomerID: "customer-1",
		Items: []ItemInput{
			{ProductID: "sku-1", Quantity: 1, UnitPrice: price("1")},
			{ProductID: "sku-2", Quantity: 1, UnitPrice: price("2")},
			{ProductID: "sku-3", Quantity: 1, UnitPrice: price("3")},
		},
	})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.ID, OrderInput{
		CustomerID: "customer-2",
		Items:      []ItemInput{{ProductID: "sku-9", Quantity: 3, UnitPrice: price("1.005")}},
	})
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "customer-2", updated.CustomerID)
	assert.Equal(t, created.Status, updated.Status)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "1.005", updated.Items[0].UnitPrice)
	assert.Equal(t, "3.015", updated.TotalAmount)
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	stored, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, stored)

	events, err := f.timeline.List(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineOrderUpdated, events[1].Type)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 2)
	assert.Equal(t, "order.updated", pending[1].EventType)
}

func TestService_Update_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Update(context.Background(), 42, sampleInput())
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, 1.0, f.operationCount(t, operationUpdate, metrics.ResultNotFound))
}

func TestService_Update_InvalidKeepsStoredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, OrderInput{CustomerID: "customer-1"})
	require.True(t, domain.IsValidation(err))

	stored, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, stored)
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, created.ID))

	_, err = f.svc.Get(ctx, created.ID)
	assert.True(t, domain.IsNotFound(err))

	timeline, err := f.svc.Timeline(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, domain.TimelineOrderCreated, timeline[0].Type)
	assert.Equal(t, domain.TimelineOrderDeleted, timeline[1].Type)
	assert.Empty(t, timeline[1].Summary)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 2)
	assert.Equal(t, "order.deleted", pending[1].EventType)
}

func TestService_Delete_MissingIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, 404))

	timeline, err := f.svc.Timeline(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, timeline)
	assert.Empty(t, f.outbox.AllPending())
	assert.Equal(t, 1.0, f.operationCount(t, operationDelete, metrics.ResultSuccess))
}

func TestService_Timeline_WithoutRepository(t *testing.T) {
	svc := NewService(memory.NewOrderRepository())

	entries, err := svc.Timeline(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestService_SideEffectFailuresDoNotFailWrite(t *testing.T) {
	repo := memory.NewOrderRepository()
	svc := NewService(repo,
		WithTimeline(failingTimeline{}),
		WithOutbox(failingOutbox{}),
	)

	view, err := svc.Create(context.Background(), sampleInput())
	require.NoError(t, err)

	_, err = repo.Get(context.Background(), view.ID)
	assert.NoError(t, err)
}

func TestService_PersistenceErrorIsWrapped(t *testing.T) {
	svc := NewService(failingRepo{})

	_, err := svc.Create(context.Background(), sampleInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStorageDown)
	assert.False(t, domain.IsValidation(err))
	assert.Equal(t, metrics.ResultError, resultOf(err))
}

func TestParseID(t *testing.T) {
	id, err := ParseID("17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	for _, raw := range []string{"", "abc", "0", "-3", "1.5", "99999999999999999999"} {
		_, err := ParseID(raw)
		assert.ErrorIs(t, err, domain.ErrOrderIDInvalid, raw)
	}
}

var errStorageDown = errors.New("storage down")

type failingRepo struct{ domain.OrderRepository }

func (failingRepo) Create(context.Context, domain.Order) (domain.Order, error) {
	return domain.Order{}, errStorageDown
}

type failingTimeline struct{}

func (failingTimeline) Append(context.Context, domain.TimelineEvent) error { return errStorageDown }

func (failingTimeline) List(context.Context, int64) ([]domain.TimelineEvent, error) {
	return nil, errStorageDown
}

type failingOutbox struct{ domain.OutboxRepository }

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errStorageDown
}
