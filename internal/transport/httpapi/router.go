package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
	"github.com/vladislavdragonenkov/ordercrud/internal/metrics"
)

// RouterOption настраивает роутер.
type RouterOption func(*routerConfig)

type routerConfig struct {
	logger      *log.Entry
	metrics     *metrics.HTTPMetrics
	idempotency domain.IdempotencyRepository
}

func WithRouterLogger(logger *log.Entry) RouterOption {
	return func(c *routerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPMetrics включает метрики запросов.
func WithHTTPMetrics(m *metrics.HTTPMetrics) RouterOption {
	return func(c *routerConfig) {
		c.metrics = m
	}
}

// WithIdempotency включает обработку Idempotency-Key на POST /orders.
func WithIdempotency(repo domain.IdempotencyRepository) RouterOption {
	return func(c *routerConfig) {
		c.idempotency = repo
	}
}

// NewRouter собирает chi-роутер API. Маршруты доступны и под /orders, и под /api/orders.
func NewRouter(handler *Handler, opts ...RouterOption) http.Handler {
	cfg := routerConfig{logger: log.WithField("component", "http-api")}
	for _, opt := range opts {
		opt(&cfg)
	}

	idem := newIdempotency(cfg.idempotency, cfg.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(cfg.logger))
	r.Use(instrument(cfg.metrics))
	r.Use(middleware.Recoverer)

	orderRoutes := func(r chi.Router) {
		r.With(idem.Middleware).Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/{id}", handler.GetOrder)
		r.Put("/{id}", handler.UpdateOrder)
		r.Delete("/{id}", handler.DeleteOrder)
		r.Get("/{id}/timeline", handler.OrderTimeline)
	}
	r.Route("/orders", orderRoutes)
	r.Route("/api/orders", orderRoutes)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeInvalidRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
	})
	return r
}
