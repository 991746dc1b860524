package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation служит общим признаком ошибки валидации входных данных.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customerId is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора товара.
	ErrItemProductRequired = errors.New("item productId is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка отсутствующей цены позиции.
	ErrItemPriceRequired = errors.New("item unitPrice is required")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item unitPrice must be non-negative")
	// Ошибка, если у цены слишком много знаков после запятой или слишком большая целая часть.
	ErrItemPriceOutOfRange = errors.New("item unitPrice must have at most 16 fractional and 15 integer digits")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка неизвестного статуса заказа.
	ErrStatusInvalid = errors.New("order status is invalid")
	// Ошибка, если updatedAt раньше createdAt.
	ErrTimestampsInvalid = errors.New("order updatedAt precedes createdAt")
	// Ошибка некорректного номера страницы.
	ErrPageInvalid = errors.New("page must be greater than or equal to zero")
	// Ошибка некорректного размера страницы.
	ErrPageSizeInvalid = errors.New("size must be between 1 and 1000")
	// Ошибка некорректного идентификатора заказа.
	ErrOrderIDInvalid = errors.New("order id must be a positive integer")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOutboxPublish оборачивает ошибку публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError собирает все найденные проблемы входных данных.
type ValidationError struct {
	Problems []error
}

// NewValidationError создаёт ошибку валидации из списка проблем.
func NewValidationError(problems ...error) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	messages := make([]string, 0, len(e.Problems))
	for _, problem := range e.Problems {
		messages = append(messages, problem.Error())
	}
	return ErrValidation.Error() + ": " + strings.Join(messages, "; ")
}

// Is позволяет проверять любую ValidationError через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap отдаёт отдельные проблемы для errors.Is по конкретной причине.
func (e *ValidationError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.Problems
}

// Details возвращает тексты проблем для ответа клиенту.
func (e *ValidationError) Details() []string {
	if e == nil {
		return nil
	}
	details := make([]string, 0, len(e.Problems))
	for _, problem := range e.Problems {
		details = append(details, problem.Error())
	}
	return details
}

// IsValidation проверяет, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound проверяет, что заказ не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
