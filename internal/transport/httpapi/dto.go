package httpapi

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercrud/internal/service/orders"
)

// orderRequest соответствует телу POST /orders и PUT /orders/{id}.
type orderRequest struct {
	CustomerID string        `json:"customerId"`
	Items      []itemRequest `json:"items"`
}

// itemRequest принимает unitPrice и числом, и строкой; отсутствие цены
// (или null) отличается от нуля.
type itemRequest struct {
	ProductID string              `json:"productId"`
	Quantity  int32               `json:"quantity"`
	UnitPrice decimal.NullDecimal `json:"unitPrice"`
}

func (r orderRequest) toInput() orders.OrderInput {
	items := make([]orders.ItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, orders.ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return orders.OrderInput{
		CustomerID: r.CustomerID,
		Items:      items,
	}
}

// errorResponse задаёт единый формат ошибок API.
type errorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}
