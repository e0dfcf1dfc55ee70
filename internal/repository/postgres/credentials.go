package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/bounce-monitor/internal/credentials"
	"github.com/ignite/bounce-monitor/internal/domain"
)

// CredentialRepo implements credentials.Repository against PostgreSQL.
// bounce_credentials carries a unique constraint on (user_id, domain).
type CredentialRepo struct{ db *sql.DB }

// NewCredentialRepo creates a Postgres-backed credential repository.
func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{db: db} }

const credentialColumns = `id, user_id, domain, protocol, host, port, username, secret_encrypted,
	encryption, is_default, is_active, last_checked_at, processed_count, last_error, created_at, updated_at`

// Create inserts the credential. When IsDefault is set, the user's previous
// default is demoted inside the same transaction, so there is never a moment
// with two defaults.
func (r *CredentialRepo) Create(ctx context.Context, c *domain.BounceCredential) (*domain.BounceCredential, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create credential: %w", err)
	}
	defer tx.Rollback()

	if c.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bounce_credentials SET is_default = FALSE, updated_at = $1 WHERE user_id = $2 AND is_default = TRUE`,
			now, c.UserID,
		); err != nil {
			return nil, fmt.Errorf("demote previous default: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bounce_credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, 0, '', $12, $13)
	`, c.ID, c.UserID, c.Domain, c.Protocol, c.Host, c.Port, c.Username, c.SecretEncrypted,
		c.Encryption, c.IsDefault, c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, credentials.ErrDuplicate
		}
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create credential: %w", err)
	}
	return c, nil
}

func (r *CredentialRepo) Get(ctx context.Context, id string) (*domain.BounceCredential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM bounce_credentials WHERE id = $1`, id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	return c, err
}

func (r *CredentialRepo) ListActive(ctx context.Context) ([]domain.BounceCredential, error) {
	return r.list(ctx,
		`SELECT `+credentialColumns+` FROM bounce_credentials WHERE is_active = TRUE ORDER BY user_id, domain`)
}

func (r *CredentialRepo) ListByUser(ctx context.Context, userID string) ([]domain.BounceCredential, error) {
	return r.list(ctx,
		`SELECT `+credentialColumns+` FROM bounce_credentials WHERE user_id = $1 ORDER BY domain`, userID)
}

func (r *CredentialRepo) list(ctx context.Context, query string, args ...interface{}) ([]domain.BounceCredential, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []domain.BounceCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CredentialRepo) Update(ctx context.Context, c *domain.BounceCredential) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE bounce_credentials SET
			protocol = $1, host = $2, port = $3, username = $4, secret_encrypted = $5,
			encryption = $6, is_active = $7, updated_at = $8
		WHERE id = $9
	`, c.Protocol, c.Host, c.Port, c.Username, c.SecretEncrypted,
		c.Encryption, c.IsActive, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

func (r *CredentialRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bounce_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

func (r *CredentialRepo) RecordCheck(ctx context.Context, id string, processed int, checkedAt time.Time, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bounce_credentials SET
			processed_count = processed_count + $1,
			last_checked_at = $2,
			last_error = $3,
			updated_at = $2
		WHERE id = $4
	`, processed, checkedAt, lastErr, id)
	if err != nil {
		return fmt.Errorf("record credential check: %w", err)
	}
	return nil
}

func scanCredential(row rowScanner) (*domain.BounceCredential, error) {
	var c domain.BounceCredential
	var lastChecked sql.NullTime
	var lastError sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Domain, &c.Protocol, &c.Host, &c.Port, &c.Username,
		&c.SecretEncrypted, &c.Encryption, &c.IsDefault, &c.IsActive,
		&lastChecked, &c.ProcessedCount, &lastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		c.LastCheckedAt = &lastChecked.Time
	}
	c.LastError = lastError.String
	return &c, nil
}
