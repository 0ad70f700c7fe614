package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	audit "archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/sentinel"
	txcontext "archivegate/pkg/platform/tx"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store implements audit.Store on the audit_entries table. The primary key on
// id makes a racing second writer fail instead of forking the chain.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const columns = `id, ts, action, actor, query_descriptor, rule_set_version, epsilon_consumed,
	outcome, stage, severity, reason, request_id, prev_hash, hash`

func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	return txcontext.Run(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var head sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT max(id) FROM audit_entries`).Scan(&head); err != nil {
			return fmt.Errorf("read audit head: %w", err)
		}
		if uint64(head.Int64)+1 != uint64(e.ID) {
			return fmt.Errorf("entry %d does not follow head %d: %w", e.ID, head.Int64, sentinel.ErrConflict)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_entries (`+columns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			int64(e.ID), e.Timestamp, string(e.Action), e.Actor, e.QueryDescriptor, e.RuleSetVersion,
			e.EpsilonConsumed, string(e.Outcome), e.Stage, string(e.Severity), e.Reason, e.RequestID,
			e.PrevHash, e.Hash,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return fmt.Errorf("entry %d already exists: %w", e.ID, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}

func (s *Store) Head(ctx context.Context) (audit.Entry, bool, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+columns+` FROM audit_entries ORDER BY id DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, false, nil
	}
	if err != nil {
		return audit.Entry{}, false, fmt.Errorf("read audit head: %w", err)
	}
	return e, true, nil
}

func (s *Store) List(ctx context.Context, from audit.EntryID, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+columns+` FROM audit_entries WHERE id >= $1 ORDER BY id ASC LIMIT $2`,
		int64(from), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (audit.Entry, error) {
	var (
		e                         audit.Entry
		id                        int64
		action, outcome, severity string
	)
	err := row.Scan(&id, &e.Timestamp, &action, &e.Actor, &e.QueryDescriptor, &e.RuleSetVersion,
		&e.EpsilonConsumed, &outcome, &e.Stage, &severity, &e.Reason, &e.RequestID,
		&e.PrevHash, &e.Hash)
	if err != nil {
		return audit.Entry{}, err
	}
	e.ID = audit.EntryID(id)
	e.Timestamp = e.Timestamp.UTC()
	e.Action = audit.Action(action)
	e.Outcome = audit.Outcome(outcome)
	e.Severity = audit.Severity(severity)
	return e, nil
}
