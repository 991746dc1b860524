package orders

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
	"github.com/vladislavdragonenkov/ordercrud/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordercrud/internal/metrics"
)

const (
	operationCreate   = "create"
	operationGet      = "get"
	operationList     = "list"
	operationUpdate   = "update"
	operationDelete   = "delete"
	operationTimeline = "timeline"
)

// Service реализует CRUD над заказами поверх доменного репозитория.
//
// Запись в timeline и outbox выполняется после успешного сохранения заказа;
// сбой этих шагов логируется и не отменяет операцию.
type Service struct {
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithTimeline подключает журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = timeline
	}
}

// WithOutbox подключает transactional outbox для интеграционных событий.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithMetrics подключает метрики операций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService конструирует сервис заказов.
func NewService(repo domain.OrderRepository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: log.WithField("component", "order-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create валидирует вход, сохраняет новый заказ в статусе NEW и возвращает его.
func (s *Service) Create(ctx context.Context, in OrderInput) (view OrderView, err error) {
	defer s.observe(operationCreate, time.Now(), &err)

	items, err := in.validate()
	if err != nil {
		return OrderView{}, err
	}
	order, err := domain.NewOrder(in.CustomerID, items, s.now())
	if err != nil {
		return OrderView{}, err
	}

	created, err := s.repo.Create(ctx, order)
	if err != nil {
		return OrderView{}, fmt.Errorf("create order: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"order_id":    created.ID,
		"customer_id": created.CustomerID,
		"items":       len(created.Items),
	}).Info("order created")

	s.emit(ctx, created.ID, domain.TimelineOrderCreated, orderSummary(created), created.CreatedAt,
		kafka.NewOrderEvent(kafka.EventTypeOrderCreated, created, created.CreatedAt))
	return ToView(created), nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, id int64) (view OrderView, err error) {
	defer s.observe(operationGet, time.Now(), &err)

	if err := validateID(id); err != nil {
		return OrderView{}, err
	}
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return OrderView{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return ToView(order), nil
}

// List возвращает страницу заказов по возрастанию id.
func (s *Service) List(ctx context.Context, req PageRequest) (page Page[OrderView], err error) {
	defer s.observe(operationList, time.Now(), &err)

	req, err = req.normalize()
	if err != nil {
		return Page[OrderView]{}, err
	}

	var (
		orders []domain.Order
		total  int
	)
	if req.Page > math.MaxInt/req.Size {
		// Смещение не помещается в int: такая страница заведомо пуста.
		_, total, err = s.repo.List(ctx, 0, 1)
	} else {
		orders, total, err = s.repo.List(ctx, req.Page*req.Size, req.Size)
	}
	if err != nil {
		return Page[OrderView]{}, fmt.Errorf("list orders: %w", err)
	}

	content := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		content = append(content, ToView(order))
	}

	totalPages := (total + req.Size - 1) / req.Size
	return Page[OrderView]{
		Content:       content,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    totalPages,
		HasNext:       req.Page < totalPages-1,
	}, nil
}

// Update полностью заменяет клиента и позиции заказа.
// Параллельные обновления одного заказа не согласуются: побеждает последняя запись.
func (s *Service) Update(ctx context.Context, id int64, in OrderInput) (view OrderView, err error) {
	defer s.observe(operationUpdate, time.Now(), &err)

	if err := validateID(id); err != nil {
		return OrderView{}, err
	}
	items, err := in.validate()
	if err != nil {
		return OrderView{}, err
	}

	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return OrderView{}, fmt.Errorf("load order %d: %w", id, err)
	}
	if err := order.Replace(in.CustomerID, items, s.now()); err != nil {
		return OrderView{}, err
	}
	if err := s.repo.Save(ctx, order); err != nil {
		return OrderView{}, fmt.Errorf("save order %d: %w", id, err)
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"items":    len(order.Items),
	}).Info("order updated")

	s.emit(ctx, order.ID, domain.TimelineOrderUpdated, orderSummary(order), order.UpdatedAt,
		kafka.NewOrderEvent(kafka.EventTypeOrderUpdated, order, order.UpdatedAt))
	return ToView(order), nil
}

// Delete удаляет заказ с позициями. Удаление отсутствующего заказа не считается ошибкой.
func (s *Service) Delete(ctx context.Context, id int64) (err error) {
	defer s.observe(operationDelete, time.Now(), &err)

	if err := validateID(id); err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	if !deleted {
		s.logger.WithField("order_id", id).Debug("delete of missing order ignored")
		return nil
	}

	s.logger.WithField("order_id", id).Info("order deleted")

	now := domain.NormalizeTime(s.now())
	s.emit(ctx, id, domain.TimelineOrderDeleted, "", now, kafka.NewOrderDeletedEvent(id, now))
	return nil
}

// Timeline возвращает события заказа в хронологическом порядке.
// События переживают удаление заказа; для неизвестного id список пуст.
func (s *Service) Timeline(ctx context.Context, id int64) (entries []TimelineEntry, err error) {
	defer s.observe(operationTimeline, time.Now(), &err)

	if err := validateID(id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []TimelineEntry{}, nil
	}

	events, err := s.timeline.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list timeline for order %d: %w", id, err)
	}
	return toTimelineEntries(events), nil
}

func (s *Service) emit(ctx context.Context, orderID int64, timelineType, summary string, occurred time.Time, event kafka.OrderEvent) {
	fields := log.Fields{
		"order_id": orderID,
		"event":    event.EventType,
	}

	if s.timeline != nil {
		err := s.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  orderID,
			Type:     timelineType,
			Summary:  summary,
			Occurred: occurred,
		})
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	msg, err := event.OutboxMessage()
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("enqueue event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

// orderSummary кратко описывает состояние заказа для timeline.
func orderSummary(order domain.Order) string {
	return fmt.Sprintf("items=%d total=%s", len(order.Items), FormatAmount(order.TotalAmount))
}

func (s *Service) observe(operation string, start time.Time, errp *error) {
	s.metrics.RecordOperation(operation, resultOf(*errp), time.Since(start))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case domain.IsValidation(err):
		return metrics.ResultValidation
	case domain.IsNotFound(err):
		return metrics.ResultNotFound
	default:
		return metrics.ResultError
	}
}

// ParseID разбирает идентификатор заказа из строки.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(domain.ErrOrderIDInvalid)
	}
	return id, nil
}
