package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// PutProviderKey stores an already encrypted API key for providerID.
func (s *Store) PutProviderKey(ctx context.Context, providerID, encAPIKey string) error {
	q := s.sql.Insert("provider_keys").
		Columns("provider_id", "enc_api_key", "updated_at").
		Values(providerID, encAPIKey, nowExpr(s.driver)).
		Suffix("ON CONFLICT(provider_id) DO UPDATE SET enc_api_key=excluded.enc_api_key, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build provider key upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert provider key: %w", err)
	}
	return nil
}

func (s *Store) GetProviderKey(ctx context.Context, providerID string) (string, error) {
	q := s.sql.Select("enc_api_key").From("provider_keys").Where(sq.Eq{"provider_id": providerID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build provider key query: %w", err)
	}
	var enc string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&enc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get provider key: %w", err)
	}
	return enc, nil
}

func (s *Store) DeleteProviderKey(ctx context.Context, providerID string) error {
	q := s.sql.Delete("provider_keys").Where(sq.Eq{"provider_id": providerID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete provider key query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete provider key: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListProviderKeys(ctx context.Context) ([]ProviderKey, error) {
	q := s.sql.Select("provider_id", "enc_api_key", "updated_at").
		From("provider_keys").
		OrderBy("provider_id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list provider keys query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list provider keys: %w", err)
	}
	defer rows.Close()

	out := make([]ProviderKey, 0)
	for rows.Next() {
		var k ProviderKey
		if err := rows.Scan(&k.ProviderID, &k.EncAPIKey, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider key row: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider key rows: %w", err)
	}
	return out, nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
