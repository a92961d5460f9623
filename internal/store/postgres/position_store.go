package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, tracked_market_id, condition_id, token_id, side,
	entry_price, current_price, size, cost, unrealized_pnl, realized_pnl,
	status, opened_at, closed_at, exit_price`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	err := row.Scan(
		&p.ID, &p.TrackedMarketID, &p.ConditionID, &p.TokenID, &side,
		&p.EntryPrice, &p.CurrentPrice, &p.Size, &p.Cost,
		&p.UnrealizedPnL, &p.RealizedPnL,
		&status, &p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, tracked_market_id, condition_id, token_id, side,
			entry_price, current_price, size, cost, unrealized_pnl, realized_pnl,
			status, opened_at, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, NOW()
		)`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TrackedMarketID, p.ConditionID, p.TokenID, string(p.Side),
		p.EntryPrice, p.CurrentPrice, p.Size, p.Cost, p.UnrealizedPnL, p.RealizedPnL,
		string(p.Status), p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			entry_price    = $2,
			current_price  = $3,
			size           = $4,
			cost           = $5,
			unrealized_pnl = $6,
			realized_pnl   = $7,
			status         = $8,
			closed_at      = $9,
			exit_price     = $10,
			updated_at     = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.EntryPrice, p.CurrentPrice, p.Size, p.Cost,
		p.UnrealizedPnL, p.RealizedPnL, string(p.Status), p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// Get fetches one position by id.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every position that has not reached its terminal state.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + `
		FROM positions WHERE status != 'closed' ORDER BY opened_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return out, nil
}

// ListByTrackedMarket returns all positions ever taken on one tracked market.
func (s *PositionStore) ListByTrackedMarket(ctx context.Context, trackedMarketID string) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + `
		FROM positions WHERE tracked_market_id = $1 ORDER BY opened_at`
	rows, err := s.pool.Query(ctx, query, trackedMarketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", trackedMarketID, err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", trackedMarketID, err)
	}
	return out, nil
}

// ListClosedBefore returns closed positions whose close time is before cutoff,
// for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + `
		FROM positions WHERE status = 'closed' AND closed_at < $1 ORDER BY closed_at`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	return out, nil
}

// RealizedPnLSince sums realized P&L over positions closed at or after since.
func (s *PositionStore) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM positions WHERE status = 'closed' AND closed_at >= $1`
	var pnl float64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&pnl); err != nil {
		return 0, fmt.Errorf("postgres: realized pnl since %s: %w", since.Format(time.RFC3339), err)
	}
	return pnl, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
