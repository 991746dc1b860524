package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusNew: заказ только что создан.
	OrderStatusNew OrderStatus = "NEW"
	// OrderStatusPaid: заказ оплачен.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusShipped: заказ отгружен.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusCanceled: заказ отменён.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusPaid, OrderStatusShipped, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

const (
	// MaxPriceScale ограничивает число знаков после запятой в цене позиции.
	MaxPriceScale = 16
	// MaxPriceIntegerDigits ограничивает число знаков целой части цены позиции.
	MaxPriceIntegerDigits = 15
)

// OrderItem представляет одну позицию заказа.
// Позиция не живёт отдельно от заказа: при замене списка позиций старые уничтожаются.
type OrderItem struct {
	// ProductID хранит внешний идентификатор товара.
	ProductID string
	// Quantity задаёт количество единиц товара.
	Quantity int32
	// UnitPrice хранит цену за единицу с фиксированной точкой.
	UnitPrice decimal.Decimal
}

// Subtotal возвращает UnitPrice * Quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt32(i.Quantity))
}

// Order агрегирует состояние заказа и его позиции.
//
// Поле TotalAmount не задаётся снаружи: оно пересчитывается в NewOrder и Replace.
type Order struct {
	ID          int64
	CustomerID  string
	Status      OrderStatus
	Items       []OrderItem
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOrder собирает новый заказ в статусе NEW. ID назначается хранилищем.
func NewOrder(customerID string, items []OrderItem, now time.Time) (Order, error) {
	if err := ValidateOrderInput(customerID, items); err != nil {
		return Order{}, err
	}

	now = NormalizeTime(now)
	order := Order{
		CustomerID: strings.TrimSpace(customerID),
		Status:     OrderStatusNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	order.setItems(items)
	return order, nil
}

// Replace полностью заменяет клиента и позиции заказа.
// CreatedAt, Status и ID не меняются; UpdatedAt строго растёт.
func (o *Order) Replace(customerID string, items []OrderItem, now time.Time) error {
	if err := ValidateOrderInput(customerID, items); err != nil {
		return err
	}

	now = NormalizeTime(now)
	if !now.After(o.UpdatedAt) {
		now = o.UpdatedAt.Add(time.Microsecond)
	}

	o.CustomerID = strings.TrimSpace(customerID)
	o.Items = nil
	o.setItems(items)
	o.UpdatedAt = now
	return nil
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	if o.Items != nil {
		dst.Items = make([]OrderItem, len(o.Items))
		copy(dst.Items, o.Items)
	}
	return dst
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	errs := validateInput(o.CustomerID, o.Items)

	if !o.Status.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrStatusInvalid, o.Status))
	}
	if !o.UpdatedAt.IsZero() && o.UpdatedAt.Before(o.CreatedAt) {
		errs = append(errs, ErrTimestampsInvalid)
	}

	// Сверяем сумму заказа с суммой позиций: quantity * unitPrice.
	if !o.TotalAmount.Equal(SumItems(o.Items)) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// SumItems считает точную сумму позиций.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ValidateOrderInput проверяет входные данные для создания/обновления заказа.
func ValidateOrderInput(customerID string, items []OrderItem) error {
	if errs := validateInput(customerID, items); len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

// NormalizeTime приводит время к UTC с микросекундной точностью (как в PostgreSQL).
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func validateInput(customerID string, items []OrderItem) []error {
	var errs []error

	if strings.TrimSpace(customerID) == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	for idx, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			errs = append(errs, fmt.Errorf("items[%d]: %w", idx, ErrItemProductRequired))
		}
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("items[%d]: %w", idx, ErrItemQtyInvalid))
		}
		switch {
		case item.UnitPrice.IsNegative():
			errs = append(errs, fmt.Errorf("items[%d]: %w", idx, ErrItemPriceInvalid))
		case !priceInRange(item.UnitPrice):
			errs = append(errs, fmt.Errorf("items[%d]: %w", idx, ErrItemPriceOutOfRange))
		}
	}

	return errs
}

// priceInRange проверяет масштаб цены по экспоненте и коэффициенту,
// не переводя значение в строку и не масштабируя его.
func priceInRange(price decimal.Decimal) bool {
	exp := int64(price.Exponent())
	if exp < -MaxPriceScale || exp > MaxPriceIntegerDigits {
		return false
	}
	// 2^104 > 10^31: коэффициент длиннее 31 цифры заведомо вне диапазона.
	if price.Coefficient().BitLen() > 104 {
		return false
	}
	if price.IsZero() {
		return true
	}
	return int64(price.NumDigits())+exp <= MaxPriceIntegerDigits
}

func (o *Order) setItems(items []OrderItem) {
	o.Items = make([]OrderItem, 0, len(items))
	for _, item := range items {
		o.Items = append(o.Items, OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	o.TotalAmount = SumItems(o.Items)
}
