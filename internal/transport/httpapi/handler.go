package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
	"github.com/vladislavdragonenkov/ordercrud/internal/service/orders"
)

const maxBodyBytes = 1 << 20

// OrderService описывает операции над заказами, которые обслуживает HTTP API.
type OrderService interface {
	Create(ctx context.Context, in orders.OrderInput) (orders.OrderView, error)
	Get(ctx context.Context, id int64) (orders.OrderView, error)
	List(ctx context.Context, req orders.PageRequest) (orders.Page[orders.OrderView], error)
	Update(ctx context.Context, id int64, in orders.OrderInput) (orders.OrderView, error)
	Delete(ctx context.Context, id int64) error
	Timeline(ctx context.Context, id int64) ([]orders.TimelineEntry, error)
}

// Handler обрабатывает REST-запросы к заказам.
type Handler struct {
	svc    OrderService
	logger *log.Entry
}

// NewHandler создаёт обработчик поверх сервиса заказов.
func NewHandler(svc OrderService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{svc: svc, logger: logger}
}

// CreateOrder создаёт заказ.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}

	view, err := h.svc.Create(r.Context(), req.toInput())
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetOrder возвращает заказ по id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orders.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}

	view, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListOrders возвращает страницу заказов (?page=0&size=10).
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	req, err := parsePageRequest(r)
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}

	page, err := h.svc.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// UpdateOrder полностью заменяет заказ.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orders.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}
	req, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}

	view, err := h.svc.Update(r.Context(), id, req.toInput())
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteOrder удаляет заказ; отсутствующий заказ тоже даёт 204.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orders.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OrderTimeline возвращает события жизненного цикла заказа.
func (h *Handler) OrderTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := orders.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}

	entries, err := h.svc.Timeline(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) decodeOrder(w http.ResponseWriter, r *http.Request) (orderRequest, bool) {
	var req orderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body", err.Error())
		return orderRequest{}, false
	}
	return req, true
}

func (h *Handler) requestLogger(r *http.Request) *log.Entry {
	return h.logger.WithFields(log.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}

// parsePageRequest читает page и size; пустые значения заменяются значениями по умолчанию.
func parsePageRequest(r *http.Request) (orders.PageRequest, error) {
	req := orders.PageRequest{Page: 0, Size: orders.DefaultPageSize}
	query := r.URL.Query()

	var problems []error
	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			problems = append(problems, domain.ErrPageInvalid)
		}
		req.Page = page
	}
	if raw := query.Get("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size == 0 {
			problems = append(problems, domain.ErrPageSizeInvalid)
		}
		req.Size = size
	}

	if len(problems) > 0 {
		return req, domain.NewValidationError(problems...)
	}
	return req, nil
}
