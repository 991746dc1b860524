package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
	"github.com/vladislavdragonenkov/ordercrud/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordercrud/internal/service/orders"
	"github.com/vladislavdragonenkov/ordercrud/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordercrud/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordercrud/internal/transport/httpapi"
)

// OrderLifecycleTestSuite прогоняет жизненный цикл заказа через HTTP API на in-memory хранилище.
type OrderLifecycleTestSuite struct {
	suite.Suite
	server    *httptest.Server
	outbox    *memory.OutboxRepository
	publisher *collectingPublisher
	worker    *outbox.Worker
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.outbox = memory.NewOutboxRepository()
	suite.publisher = &collectingPublisher{}
	suite.worker = outbox.NewWorker(suite.outbox, suite.publisher,
		outbox.WithLogger(logger),
		outbox.WithRetryBaseDelay(0),
	)

	svc := orders.NewService(memory.NewOrderRepository(),
		orders.WithTimeline(memory.NewTimelineRepository()),
		orders.WithOutbox(suite.outbox),
		orders.WithLogger(logger),
	)
	router := httpapi.NewRouter(httpapi.NewHandler(svc, logger),
		httpapi.WithRouterLogger(logger),
		httpapi.WithIdempotency(memory.NewIdempotencyRepository()),
	)
	suite.server = httptest.NewServer(router)
}

func (suite *OrderLifecycleTestSuite) TearDownTest() {
	suite.server.Close()
}

func (suite *OrderLifecycleTestSuite) TestCreateGetUpdateDelete() {
	// 1. Создаём заказ: 2 × 10.50 + 1 × 3 + 1 × 2 = 26.00
	status, body := suite.request(http.MethodPost, "/orders", `{
		"customerId": "customer-123",
		"items": [
			{"productId": "laptop-pro", "quantity": 2, "unitPrice": 10.50},
			{"productId": "mouse", "quantity": 1, "unitPrice": "3"},
			{"productId": "cable", "quantity": 1, "unitPrice": 2}
		]
	}`)
	suite.Require().Equal(http.StatusOK, status, string(body))

	created := decode[orders.OrderView](suite, body)
	suite.Positive(created.ID)
	suite.Equal("customer-123", created.CustomerID)
	suite.Equal("NEW", created.Status)
	suite.Equal("26.00", created.TotalAmount)
	suite.Len(created.Items, 3)
	suite.Equal("10.50", created.Items[0].UnitPrice)
	suite.True(created.CreatedAt.Equal(created.UpdatedAt))

	path := fmt.Sprintf("/orders/%d", created.ID)

	// 2. Читаем тот же заказ
	status, body = suite.request(http.MethodGet, path, "")
	suite.Require().Equal(http.StatusOK, status)
	fetched := decode[orders.OrderView](suite, body)
	suite.Equal(created.ID, fetched.ID)
	suite.Equal(created.TotalAmount, fetched.TotalAmount)
	suite.Equal(created.Items, fetched.Items)

	// 3. Обновляем: три позиции превращаются в одну
	status, body = suite.request(http.MethodPut, path, `{
		"customerId": "customer-456",
		"items": [{"productId": "monitor", "quantity": 3, "unitPrice": "100.10"}]
	}`)
	suite.Require().Equal(http.StatusOK, status, string(body))
	updated := decode[orders.OrderView](suite, body)
	suite.Equal(created.ID, updated.ID)
	suite.Equal("customer-456", updated.CustomerID)
	suite.Equal("300.30", updated.TotalAmount)
	suite.Len(updated.Items, 1)
	suite.True(updated.CreatedAt.Equal(created.CreatedAt))
	suite.True(updated.UpdatedAt.After(created.UpdatedAt))

	// 4. Таймлайн хранит создание и обновление
	status, body = suite.request(http.MethodGet, path+"/timeline", "")
	suite.Require().Equal(http.StatusOK, status)
	timeline := decode[[]orders.TimelineEntry](suite, body)
	suite.Require().Len(timeline, 2)
	suite.Equal(domain.TimelineOrderCreated, timeline[0].Type)
	suite.Equal(domain.TimelineOrderUpdated, timeline[1].Type)

	// 5. Удаляем и убеждаемся, что заказа больше нет
	status, _ = suite.request(http.MethodDelete, path, "")
	suite.Equal(http.StatusNoContent, status)

	status, body = suite.request(http.MethodGet, path, "")
	suite.Equal(http.StatusNotFound, status)
	suite.Equal("order_not_found", decode[errorBody](suite, body).Error)

	// 6. Outbox публикует события в порядке операций
	result := suite.worker.ProcessOnce(context.Background())
	suite.Equal(outbox.Result{Sent: 3}, result)
	suite.Equal([]string{
		string(kafka.EventTypeOrderCreated),
		string(kafka.EventTypeOrderUpdated),
		string(kafka.EventTypeOrderDeleted),
	}, suite.publisher.eventTypes())
	suite.Empty(suite.outbox.AllPending())
}

func (suite *OrderLifecycleTestSuite) TestValidationAndNotFound() {
	status, body := suite.request(http.MethodPost, "/orders", `{"customerId":"","items":[]}`)
	suite.Equal(http.StatusBadRequest, status)
	errResp := decode[errorBody](suite, body)
	suite.Equal("validation_failed", errResp.Error)
	suite.NotEmpty(errResp.Details)

	status, _ = suite.request(http.MethodPost, "/orders", `{"customerId":`)
	suite.Equal(http.StatusBadRequest, status)

	status, _ = suite.request(http.MethodGet, "/orders/999", "")
	suite.Equal(http.StatusNotFound, status)

	status, _ = suite.request(http.MethodGet, "/orders/abc", "")
	suite.Equal(http.StatusBadRequest, status)

	status, _ = suite.request(http.MethodPut, "/orders/999", `{"customerId":"c","items":[{"productId":"p","quantity":1,"unitPrice":1}]}`)
	suite.Equal(http.StatusNotFound, status)

	suite.Empty(suite.outbox.AllPending(), "failed requests must not enqueue events")
}

func (suite *OrderLifecycleTestSuite) TestPagination() {
	for i := 0; i < 5; i++ {
		status, body := suite.request(http.MethodPost, "/api/orders", fmt.Sprintf(
			`{"customerId":"customer-%d","items":[{"productId":"sku","quantity":1,"unitPrice":"1.00"}]}`, i))
		suite.Require().Equal(http.StatusOK, status, string(body))
	}

	status, body := suite.request(http.MethodGet, "/api/orders?page=0&size=2", "")
	suite.Require().Equal(http.StatusOK, status)
	page := decode[orders.Page[orders.OrderView]](suite, body)
	suite.Len(page.Content, 2)
	suite.Equal(5, page.TotalElements)
	suite.Equal(3, page.TotalPages)
	suite.True(page.HasNext)
	suite.Equal("customer-0", page.Content[0].CustomerID)

	status, body = suite.request(http.MethodGet, "/api/orders?page=2&size=2", "")
	suite.Require().Equal(http.StatusOK, status)
	last := decode[orders.Page[orders.OrderView]](suite, body)
	suite.Len(last.Content, 1)
	suite.False(last.HasNext)

	status, body = suite.request(http.MethodGet, "/api/orders?page=9&size=2", "")
	suite.Require().Equal(http.StatusOK, status)
	suite.Empty(decode[orders.Page[orders.OrderView]](suite, body).Content)

	status, _ = suite.request(http.MethodGet, "/api/orders?page=-1", "")
	suite.Equal(http.StatusBadRequest, status)
}

func (suite *OrderLifecycleTestSuite) TestIdempotentCreateReplays() {
	const order = `{"customerId":"customer-1","items":[{"productId":"sku","quantity":2,"unitPrice":"3.25"}]}`
	headers := map[string]string{httpapi.IdempotencyKeyHeader: "create-1"}

	status, first := suite.requestWithHeaders(http.MethodPost, "/orders", order, headers)
	suite.Require().Equal(http.StatusOK, status)

	status, second := suite.requestWithHeaders(http.MethodPost, "/orders", order, headers)
	suite.Require().Equal(http.StatusOK, status)
	suite.JSONEq(string(first), string(second))

	status, body := suite.request(http.MethodGet, "/orders", "")
	suite.Require().Equal(http.StatusOK, status)
	suite.Equal(1, decode[orders.Page[orders.OrderView]](suite, body).TotalElements)
}

func (suite *OrderLifecycleTestSuite) request(method, path, body string) (int, []byte) {
	return suite.requestWithHeaders(method, path, body, nil)
}

func (suite *OrderLifecycleTestSuite) requestWithHeaders(method, path, body string, headers map[string]string) (int, []byte) {
	req, err := http.NewRequestWithContext(context.Background(), method, suite.server.URL+path, strings.NewReader(body))
	suite.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := suite.server.Client().Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)
	return resp.StatusCode, raw
}

func decode[T any](suite *OrderLifecycleTestSuite, body []byte) T {
	var out T
	suite.Require().NoError(json.Unmarshal(body, &out), string(body))
	return out
}

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type collectingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *collectingPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
	return nil
}

func (p *collectingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.EventType)
	}
	return types
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
