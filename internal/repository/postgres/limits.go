package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/training"
)

// ErrSenderNotFound means no limit state exists for the sender.
var ErrSenderNotFound = errors.New("sender limit state not found")

// LimitRepo implements training.LimitStore against PostgreSQL. Training
// state is a JSONB column on the row, so policies can evolve their
// bookkeeping without schema changes.
type LimitRepo struct{ db *sql.DB }

// NewLimitRepo creates a Postgres-backed sender limit store.
func NewLimitRepo(db *sql.DB) *LimitRepo { return &LimitRepo{db: db} }

const limitColumns = `sender_id, user_id, domain, daily_limit, current_daily_sent,
	last_reset_date, reputation_score, last_training_at, training_data, updated_at`

func (r *LimitRepo) Get(ctx context.Context, senderID string) (*domain.SenderLimitState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+limitColumns+` FROM sender_limits WHERE sender_id = $1`, senderID)
	st, err := scanLimit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSenderNotFound
	}
	return st, err
}

func (r *LimitRepo) List(ctx context.Context, scope training.Scope) ([]domain.SenderLimitState, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if scope.SenderID != "" {
		args = append(args, scope.SenderID)
		where += fmt.Sprintf(" AND sender_id = $%d", len(args))
	}
	if scope.UserID != "" {
		args = append(args, scope.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if scope.Domain != "" {
		args = append(args, scope.Domain)
		where += fmt.Sprintf(" AND domain = $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+limitColumns+` FROM sender_limits `+where+` ORDER BY sender_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sender limits: %w", err)
	}
	defer rows.Close()

	var out []domain.SenderLimitState
	for rows.Next() {
		st, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sender limit: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (r *LimitRepo) Update(ctx context.Context, st *domain.SenderLimitState) error {
	data, err := json.Marshal(st.TrainingData)
	if err != nil {
		return fmt.Errorf("marshal training data: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sender_limits SET
			daily_limit = $1, current_daily_sent = $2, last_reset_date = $3,
			reputation_score = $4, last_training_at = $5, training_data = $6, updated_at = $7
		WHERE sender_id = $8
	`, st.DailyLimit, st.CurrentDailySent, st.LastResetDate,
		st.ReputationScore, st.LastTrainingAt, data, st.UpdatedAt, st.SenderID)
	if err != nil {
		return fmt.Errorf("update sender limit: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSenderNotFound
	}
	return nil
}

// RollDay resets the daily counter for every sender that has not been reset
// on or after day. The WHERE clause keys the reset on last_reset_date, so
// the statement is idempotent within a day.
func (r *LimitRepo) RollDay(ctx context.Context, day time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sender_limits SET
			current_daily_sent = 0,
			last_reset_date = $1,
			updated_at = NOW()
		WHERE last_reset_date < $1
	`, day.UTC().Truncate(24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("roll daily counters: %w", err)
	}
	return res.RowsAffected()
}

func scanLimit(row rowScanner) (*domain.SenderLimitState, error) {
	var st domain.SenderLimitState
	var lastTraining sql.NullTime
	var data []byte
	err := row.Scan(&st.SenderID, &st.UserID, &st.Domain, &st.DailyLimit, &st.CurrentDailySent,
		&st.LastResetDate, &st.ReputationScore, &lastTraining, &data, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastTraining.Valid {
		st.LastTrainingAt = &lastTraining.Time
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &st.TrainingData); err != nil {
			return nil, fmt.Errorf("unmarshal training data: %w", err)
		}
	}
	return &st, nil
}
