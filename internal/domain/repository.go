package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
//
// Заказ сохраняется вместе с позициями как единый агрегат: родительская запись
// и все дочерние позиции пишутся атомарно.
type OrderRepository interface {
	// Create сохраняет новый заказ и возвращает его с назначенным ID.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id int64) (Order, error)
	// List возвращает страницу заказов по возрастанию ID и общее количество заказов.
	List(ctx context.Context, offset, limit int) ([]Order, int, error)
	// Save перезаписывает заказ и полностью заменяет его позиции.
	Save(ctx context.Context, order Order) error
	// Delete удаляет заказ вместе с позициями. Отсутствие заказа не считается ошибкой.
	Delete(ctx context.Context, id int64) (bool, error)
}
