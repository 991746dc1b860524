package orders

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

// ItemInput описывает позицию во входных данных Create/Update.
// UnitPrice без Valid означает, что цена не передана.
type ItemInput struct {
	ProductID string
	Quantity  int32
	UnitPrice decimal.NullDecimal
}

// OrderInput содержит входные данные для создания и полной замены заказа.
type OrderInput struct {
	CustomerID string
	Items      []ItemInput
}

// PageRequest задаёт страницу списка заказов (нумерация с нуля).
type PageRequest struct {
	Page int
	Size int
}

const (
	// DefaultPageSize применяется, если размер страницы не задан.
	DefaultPageSize = 10
	// MaxPageSize ограничивает размер страницы сверху.
	MaxPageSize = 1000
)

// validate проверяет вход целиком и возвращает позиции для агрегата.
// Все найденные проблемы собираются в одну ValidationError.
func (in OrderInput) validate() ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(in.Items))
	var missingPrices []error
	for idx, item := range in.Items {
		if !item.UnitPrice.Valid {
			missingPrices = append(missingPrices, fmt.Errorf("items[%d]: %w", idx, domain.ErrItemPriceRequired))
		}
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Decimal,
		})
	}

	var problems []error
	if err := domain.ValidateOrderInput(in.CustomerID, items); err != nil {
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			return nil, err
		}
		problems = append(problems, validation.Problems...)
	}
	problems = append(problems, missingPrices...)

	if len(problems) > 0 {
		return nil, domain.NewValidationError(problems...)
	}
	return items, nil
}

func (r PageRequest) normalize() (PageRequest, error) {
	if r.Size == 0 {
		r.Size = DefaultPageSize
	}

	var problems []error
	if r.Page < 0 {
		problems = append(problems, domain.ErrPageInvalid)
	}
	if r.Size < 1 || r.Size > MaxPageSize {
		problems = append(problems, domain.ErrPageSizeInvalid)
	}
	if len(problems) > 0 {
		return r, domain.NewValidationError(problems...)
	}
	return r, nil
}

func validateID(id int64) error {
	if id <= 0 {
		return domain.NewValidationError(domain.ErrOrderIDInvalid)
	}
	return nil
}
