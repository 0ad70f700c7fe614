package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"archivegate/internal/privacy/ledger/models"
)

// PostgresStore serializes reservations per account by locking the account
// row (SELECT ... FOR UPDATE) inside the reserving transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Reserve(ctx context.Context, alloc models.Allocation, policy models.Policy) (spent float64, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin reserve: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO privacy_budget_accounts (requester_id, dataset_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		alloc.RequesterID, alloc.DatasetID); err != nil {
		return 0, fmt.Errorf("ensure budget account: %w", err)
	}
	if _, err = tx.Exec(ctx, `
		SELECT 1 FROM privacy_budget_accounts
		WHERE requester_id = $1 AND dataset_id = $2 FOR UPDATE`,
		alloc.RequesterID, alloc.DatasetID); err != nil {
		return 0, fmt.Errorf("lock budget account: %w", err)
	}

	if cutoff := policy.Cutoff(alloc.ReservedAt); !cutoff.IsZero() {
		if _, err = tx.Exec(ctx, `
			DELETE FROM privacy_budget_reservations
			WHERE requester_id = $1 AND dataset_id = $2 AND reserved_at <= $3`,
			alloc.RequesterID, alloc.DatasetID, cutoff); err != nil {
			return 0, fmt.Errorf("expire budget reservations: %w", err)
		}
	}

	var exists bool
	if err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(epsilon), 0), COALESCE(bool_or(id = $3), false)
		FROM privacy_budget_reservations
		WHERE requester_id = $1 AND dataset_id = $2`,
		alloc.RequesterID, alloc.DatasetID, alloc.ID).Scan(&spent, &exists); err != nil {
		return 0, fmt.Errorf("sum budget reservations: %w", err)
	}
	if exists {
		return spent, tx.Commit(ctx)
	}
	if !models.Fits(spent, alloc.Epsilon, policy.EpsilonCap) {
		err = fmt.Errorf("spent %.6f + %.6f > cap %.6f: %w", spent, alloc.Epsilon, policy.EpsilonCap, models.ErrExceeded)
		return spent, err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO privacy_budget_reservations (id, requester_id, dataset_id, epsilon, reserved_at)
		VALUES ($1, $2, $3, $4, $5)`,
		alloc.ID, alloc.RequesterID, alloc.DatasetID, alloc.Epsilon, alloc.ReservedAt); err != nil {
		return 0, fmt.Errorf("insert budget reservation: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reserve: %w", err)
	}
	return spent + alloc.Epsilon, nil
}

func (s *PostgresStore) Release(ctx context.Context, alloc models.Allocation) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM privacy_budget_reservations WHERE id = $1`, alloc.ID)
	if err != nil {
		return false, fmt.Errorf("release budget: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Spent(ctx context.Context, key models.Key, policy models.Policy, now time.Time) (float64, error) {
	var spent float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(epsilon), 0) FROM privacy_budget_reservations
		WHERE requester_id = $1 AND dataset_id = $2 AND reserved_at > $3`,
		key.RequesterID, key.DatasetID, policy.Cutoff(now)).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("read budget: %w", err)
	}
	return spent, nil
}
