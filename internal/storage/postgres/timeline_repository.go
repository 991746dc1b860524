package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

const (
	insertTimelineEventSQL = `
		INSERT INTO timeline_events (order_id, type, summary, occurred)
		VALUES ($1, $2, $3, $4)`

	// События не ссылаются на orders по внешнему ключу и переживают удаление заказа.
	selectTimelineEventsSQL = `
		SELECT order_id, type, summary, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`
)

type timelineRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB(), now: time.Now}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, insertTimelineEventSQL,
		event.OrderID, event.Type, event.Summary, domain.NormalizeTime(event.Occurred))
	if err != nil {
		return fmt.Errorf("append %s event for order %d: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return queryTimeline(ctx, r.db, orderID)
}

func queryTimeline(ctx context.Context, q queryer, orderID int64) ([]domain.TimelineEvent, error) {
	rows, err := q.QueryContext(ctx, selectTimelineEventsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline of order %d: %w", orderID, err)
	}
	defer rows.Close()

	events := []domain.TimelineEvent{}
	for rows.Next() {
		var (
			event    domain.TimelineEvent
			occurred time.Time
		)
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Summary, &occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = occurred.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
