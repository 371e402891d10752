package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

// Prepend stores payload as the newest entry of log and drops everything
// beyond limit. An entry with the same id is replaced and moved to the front.
func (s *Store) Prepend(ctx context.Context, log, id string, payload []byte, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("history limit must be > 0")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prepend tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := s.sql.Delete("history_entries").Where(sq.Eq{"log": log, "id": id})
	if err := execTx(ctx, tx, del); err != nil {
		return fmt.Errorf("delete previous entry: %w", err)
	}

	maxQ := s.sql.Select("COALESCE(MAX(seq), 0)").From("history_entries").Where(sq.Eq{"log": log})
	sqlStr, args, err := maxQ.ToSql()
	if err != nil {
		return fmt.Errorf("build max seq query: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&seq); err != nil {
		return fmt.Errorf("read max seq: %w", err)
	}

	ins := s.sql.Insert("history_entries").
		Columns("log", "id", "seq", "payload").
		Values(log, id, seq+1, string(payload))
	if err := execTx(ctx, tx, ins); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	trim := s.sql.Delete("history_entries").
		Where(sq.Eq{"log": log}).
		Where(sq.Expr("seq <= (SELECT seq FROM history_entries WHERE log = ? ORDER BY seq DESC LIMIT 1 OFFSET ?)", log, limit))
	if err := execTx(ctx, tx, trim); err != nil {
		return fmt.Errorf("trim log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prepend tx: %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, log, id string) (bool, error) {
	q := s.sql.Delete("history_entries").Where(sq.Eq{"log": log, "id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build remove entry query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("remove entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove entry rows: %w", err)
	}
	return n > 0, nil
}

// List returns payloads newest first.
func (s *Store) List(ctx context.Context, log string) ([][]byte, error) {
	entries, err := s.ListEntries(ctx, log)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Payload)
	}
	return out, nil
}

func (s *Store) ListEntries(ctx context.Context, log string) ([]HistoryEntry, error) {
	q := s.sql.Select("log", "id", "seq", "payload", "created_at").
		From("history_entries").
		Where(sq.Eq{"log": log}).
		OrderBy("seq DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list entries query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		var payload string
		if err := rows.Scan(&e.Log, &e.ID, &e.Seq, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context, log string) error {
	q := s.sql.Delete("history_entries").Where(sq.Eq{"log": log})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build clear log query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("clear log: %w", err)
	}
	return nil
}

func execTx(ctx context.Context, tx *sql.Tx, q sq.Sqlizer) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}
