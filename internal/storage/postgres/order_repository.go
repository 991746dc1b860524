package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

const orderColumns = `id, customer_id, status, total_amount, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create вставляет заказ и его позиции в одной транзакции; ID назначает BIGSERIAL.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (customer_id, status, total_amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`,
			order.CustomerID, string(order.Status), order.TotalAmount.String(),
			order.CreatedAt, order.UpdatedAt,
		).Scan(&order.ID); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		return insertItems(ctx, tx, order.ID, order.Items)
	})
	if err != nil {
		return domain.Order{}, err
	}

	return order.Clone(), nil
}

// Get читает заказ и его позиции в одной read-only транзакции,
// чтобы сумма заказа всегда соответствовала прочитанным позициям.
func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var order domain.Order
	err := inReadTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		order, err = scanOrder(tx.QueryRowContext(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE id = $1
		`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("select order: %w", err)
		}

		itemsByOrder, err := loadItems(ctx, tx, `
			SELECT order_id, product_id, quantity, unit_price
			FROM order_items
			WHERE order_id = $1
			ORDER BY position ASC
		`, id)
		if err != nil {
			return err
		}
		order.Items = itemsByOrder[order.ID]
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// List возвращает страницу заказов по возрастанию ID и общее количество заказов.
// Счётчик, строки заказов и позиции читаются с одного снимка.
func (r *orderRepository) List(ctx context.Context, offset, limit int) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		orders []domain.Order
		total  int
	)
	err := inReadTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		orders, total, err = listPage(ctx, tx, offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func listPage(ctx context.Context, q queryer, offset, limit int) ([]domain.Order, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	if total == 0 || offset >= total || limit <= 0 {
		return []domain.Order{}, total, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, total, nil
	}

	itemsByOrder, err := loadItems(ctx, q, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id BETWEEN $1 AND $2
		ORDER BY order_id ASC, position ASC
	`, orders[0].ID, orders[len(orders)-1].ID)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = itemsByOrder[orders[i].ID]
	}

	return orders, total, nil
}

// Save обновляет родительскую запись и полностью заменяет позиции в одной транзакции.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET customer_id = $1,
			    status = $2,
			    total_amount = $3,
			    updated_at = $4
			WHERE id = $5
		`,
			order.CustomerID, string(order.Status), order.TotalAmount.String(),
			order.UpdatedAt, order.ID,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrOrderNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}

		return insertItems(ctx, tx, order.ID, order.Items)
	})
}

// Delete удаляет заказ; позиции удаляются каскадно.
func (r *orderRepository) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID int64, items []domain.OrderItem) error {
	for position, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`,
			orderID, position, item.ProductID, item.Quantity, item.UnitPrice.String(),
		); err != nil {
			return fmt.Errorf("insert order item %d: %w", position, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		total  string
	)
	if err := row.Scan(&order.ID, &order.CustomerID, &status, &total, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}

	amount, err := decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse total_amount %q: %w", total, err)
	}

	order.Status = domain.OrderStatus(status)
	order.TotalAmount = amount
	order.CreatedAt = domain.NormalizeTime(order.CreatedAt)
	order.UpdatedAt = domain.NormalizeTime(order.UpdatedAt)
	return order, nil
}

func loadItems(ctx context.Context, q queryer, query string, args ...any) (map[int64][]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]domain.OrderItem)
	for rows.Next() {
		var (
			orderID int64
			item    domain.OrderItem
			price   string
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit_price %q: %w", price, err)
		}
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
