package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

// orderRepositoryInMemory реализует OrderRepository в памяти.
// Заказ хранится целиком вместе с позициями, наружу отдаются только копии.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[int64]domain.Order),
	}
}

// Create назначает заказу следующий ID и сохраняет его.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	order.ID = r.nextID
	r.items[order.ID] = order.Clone()
	return order.Clone(), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id int64) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List возвращает страницу заказов по возрастанию ID.
func (r *orderRepositoryInMemory) List(ctx context.Context, offset, limit int) ([]domain.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []domain.Order{}, total, nil
	}

	end := offset + limit
	if end > total {
		end = total
	}

	result := make([]domain.Order, 0, end-offset)
	for _, id := range ids[offset:end] {
		result = append(result, r.items[id].Clone())
	}
	return result, total, nil
}

// Save перезаписывает существующий заказ; позиции заменяются целиком.
func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.items[order.ID] = order.Clone()
	return nil
}

// Delete удаляет заказ и сообщает, существовал ли он.
func (r *orderRepositoryInMemory) Delete(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
