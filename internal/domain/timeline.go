package domain

import "time"

// Типы событий жизненного цикла заказа.
const (
	TimelineOrderCreated = "OrderCreated"
	TimelineOrderUpdated = "OrderUpdated"
	TimelineOrderDeleted = "OrderDeleted"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  int64
	Type     string
	Summary  string
	Occurred time.Time
}
