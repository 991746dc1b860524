package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

// OrderView описывает неизменяемое представление заказа для ответов API.
type OrderView struct {
	ID          int64      `json:"id"`
	CustomerID  string     `json:"customerId"`
	Status      string     `json:"status"`
	TotalAmount string     `json:"totalAmount"`
	Items       []ItemView `json:"items"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ItemView описывает позицию заказа в ответе.
type ItemView struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// TimelineEntry описывает событие жизненного цикла в ответе.
type TimelineEntry struct {
	Type       string    `json:"type"`
	Summary    string    `json:"summary,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Page содержит страницу результатов с метаданными навигации.
type Page[T any] struct {
	Content       []T  `json:"content"`
	Page          int  `json:"page"`
	Size          int  `json:"size"`
	TotalElements int  `json:"totalElements"`
	TotalPages    int  `json:"totalPages"`
	HasNext       bool `json:"hasNext"`
}

// ToView переводит агрегат в представление. Позиции копируются.
func ToView(order domain.Order) OrderView {
	items := make([]ItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, ItemView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: FormatAmount(item.UnitPrice),
		})
	}

	return OrderView{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: FormatAmount(order.TotalAmount),
		Items:       items,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

// FormatAmount печатает сумму минимум с двумя знаками после запятой.
// Значимые знаки сверх двух сохраняются: "10.5" -> "10.50", "1.005" -> "1.005".
func FormatAmount(amount decimal.Decimal) string {
	// String() отбрасывает хвостовые нули, так что масштаб не зависит от хранилища.
	trimmed, err := decimal.NewFromString(amount.String())
	if err != nil {
		trimmed = amount
	}
	return amount.StringFixed(max(2, -trimmed.Exponent()))
}

func toTimelineEntries(events []domain.TimelineEvent) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(events))
	for _, event := range events {
		entries = append(entries, TimelineEntry{
			Type:       event.Type,
			Summary:    event.Summary,
			OccurredAt: event.Occurred,
		})
	}
	return entries
}
