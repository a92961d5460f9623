package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// OrderStore implements domain.OrderStore.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderCols = `id, position_id, token_id, side, price, size, filled_size,
	status, created_at, filled_at, cancelled_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, status string
	err := row.Scan(
		&o.ID, &o.PositionID, &o.TokenID, &side, &o.Price, &o.Size, &o.FilledSize,
		&status, &o.CreatedAt, &o.FilledAt, &o.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a new order record.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, position_id, token_id, side, price, size, filled_size,
			status, created_at, filled_at, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		o.ID, o.PositionID, o.TokenID, string(o.Side), o.Price, o.Size, o.FilledSize,
		string(o.Status), o.CreatedAt, o.FilledAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus records a venue-reported status change. Fill and cancel
// timestamps are stamped when the corresponding terminal status arrives.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, filledSize float64) error {
	const query = `
		UPDATE orders SET
			status       = $2,
			filled_size  = $3,
			filled_at    = CASE WHEN $2 = 'filled' THEN NOW() ELSE filled_at END,
			cancelled_at = CASE WHEN $2 IN ('cancelled', 'rejected') THEN NOW() ELSE cancelled_at END
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), filledSize)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Get fetches one order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByPosition returns all orders placed for one position.
func (s *OrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE position_id = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", positionID, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list orders for %s: %w", positionID, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", positionID, err)
	}
	return out, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
