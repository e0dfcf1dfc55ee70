package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
// The suppressions table carries a unique constraint on email; concurrent
// adds for the same address resolve to one row via ON CONFLICT.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// Upsert inserts or updates an entry. (xmax = 0) in RETURNING tells an insert
// from an update, so concurrent adds of a new address report exactly one
// insert without a separate existence check.
func (r *SuppressionRepo) Upsert(ctx context.Context, e *domain.SuppressionEntry) (*domain.SuppressionEntry, bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("marshal metadata: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO suppressions (id, email, type, source, reason, metadata, suppressed_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (email) DO UPDATE SET
			reason = EXCLUDED.reason,
			metadata = EXCLUDED.metadata,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING id, email, type, source, reason, metadata, suppressed_at, last_seen_at, (xmax = 0) AS inserted
	`, e.ID, e.Email, e.Type, e.Source, e.Reason, meta, e.SuppressedAt)

	var stored domain.SuppressionEntry
	var rawMeta []byte
	var reason sql.NullString
	var inserted bool
	if err := row.Scan(&stored.ID, &stored.Email, &stored.Type, &stored.Source,
		&reason, &rawMeta, &stored.SuppressedAt, &stored.LastSeenAt, &inserted); err != nil {
		return nil, false, fmt.Errorf("upsert suppression: %w", err)
	}
	stored.Reason = reason.String
	if len(rawMeta) > 0 && string(rawMeta) != "null" {
		if err := json.Unmarshal(rawMeta, &stored.Metadata); err != nil {
			return nil, false, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &stored, inserted, nil
}

func (r *SuppressionRepo) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppressions WHERE email = $1)`,
		email,
	).Scan(&exists)
	return exists, err
}

func (r *SuppressionRepo) Get(ctx context.Context, email string) (*domain.SuppressionEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, type, source, reason, metadata, suppressed_at, last_seen_at
		FROM suppressions WHERE email = $1
	`, email)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, suppression.ErrNotFound
	}
	return e, err
}

func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM suppressions WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where += fmt.Sprintf(" AND suppressed_at >= $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM suppressions "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT id, email, type, source, reason, metadata, suppressed_at, last_seen_at
		FROM suppressions %s
		ORDER BY suppressed_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) Stats(ctx context.Context) (*suppression.Stats, error) {
	st := &suppression.Stats{
		ByType:   make(map[string]int),
		BySource: make(map[string]int),
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppressions`).Scan(&st.Total); err != nil {
		return nil, fmt.Errorf("stats total: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM suppressions GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		st.ByType[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM suppressions GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("stats by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, err
		}
		st.BySource[src] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -7)
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppressions WHERE suppressed_at >= $1`, cutoff,
	).Scan(&st.Last7Days); err != nil {
		return nil, fmt.Errorf("stats last 7 days: %w", err)
	}

	return st, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.SuppressionEntry, error) {
	var e domain.SuppressionEntry
	var meta []byte
	var reason sql.NullString
	if err := row.Scan(&e.ID, &e.Email, &e.Type, &e.Source, &reason, &meta, &e.SuppressedAt, &e.LastSeenAt); err != nil {
		return nil, err
	}
	e.Reason = reason.String
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. Upsert paths treat this as "already exists, proceed as update".
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
