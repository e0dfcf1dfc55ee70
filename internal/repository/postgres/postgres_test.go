package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ignite/bounce-monitor/internal/credentials"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/reputation"
	"github.com/ignite/bounce-monitor/internal/suppression"
	"github.com/ignite/bounce-monitor/internal/training"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestSuppressionUpsert_InsertAndConflictUpdate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	now := time.Now().UTC()
	cols := []string{"id", "email", "type", "source", "reason", "metadata", "suppressed_at", "last_seen_at", "inserted"}
	mock.ExpectQuery("INSERT INTO suppressions").
		WithArgs(sqlmock.AnyArg(), "a@example.com", "bounce", "mailbox", "550 gone", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("id-1", "a@example.com", "bounce", "mailbox", "550 gone", []byte(`{}`), now, now, true))

	got, inserted, err := repo.Upsert(context.Background(), &domain.SuppressionEntry{
		Email:        "a@example.com",
		Type:         domain.SuppressionBounce,
		Source:       domain.SourceMailbox,
		Reason:       "550 gone",
		SuppressedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.ID != "id-1" || got.Email != "a@example.com" {
		t.Errorf("upsert returned %+v", got)
	}
	if !inserted {
		t.Error("fresh row not reported as inserted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// The conflict path reports inserted=false, driven by (xmax = 0) in the
// RETURNING clause rather than a separate existence check.
func TestSuppressionUpsert_ConflictReportsNotInserted(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	now := time.Now().UTC()
	cols := []string{"id", "email", "type", "source", "reason", "metadata", "suppressed_at", "last_seen_at", "inserted"}
	mock.ExpectQuery(`INSERT INTO suppressions(.+)xmax = 0`).
		WithArgs(sqlmock.AnyArg(), "a@example.com", "bounce", "mailbox", "retry", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("id-1", "a@example.com", "bounce", "mailbox", "retry", []byte(`{}`), now.Add(-time.Hour), now, false))

	_, inserted, err := repo.Upsert(context.Background(), &domain.SuppressionEntry{
		Email:        "a@example.com",
		Type:         domain.SuppressionBounce,
		Source:       domain.SourceMailbox,
		Reason:       "retry",
		SuppressedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if inserted {
		t.Error("updated row reported as inserted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSuppressionGet_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM suppressions WHERE email").
		WithArgs("missing@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing@example.com")
	if !errors.Is(err, suppression.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSuppressionRemove_ZeroRowsIsNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	mock.ExpectExec("DELETE FROM suppressions").
		WithArgs("missing@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Remove(context.Background(), "missing@example.com"); !errors.Is(err, suppression.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCredentialCreate_DemotesPreviousDefaultInTx(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCredentialRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bounce_credentials SET is_default = FALSE").
		WithArgs(sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bounce_credentials").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := repo.Create(context.Background(), &domain.BounceCredential{
		UserID:     "u1",
		Domain:     "example.com",
		Protocol:   domain.ProtocolIMAP,
		Host:       "mail.example.com",
		Port:       993,
		Username:   "bounces@example.com",
		Encryption: domain.EncryptionSSL,
		IsDefault:  true,
		IsActive:   true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("demotion did not run inside the transaction: %v", err)
	}
}

func TestCredentialCreate_NonDefaultSkipsDemotion(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCredentialRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bounce_credentials").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := repo.Create(context.Background(), &domain.BounceCredential{
		UserID: "u1", Domain: "example.com", Protocol: domain.ProtocolIMAP,
		Host: "mail.example.com", Port: 993, Username: "b@example.com",
		Encryption: domain.EncryptionSSL,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCredentialCreate_DuplicateConstraint(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCredentialRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bounce_credentials").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), &domain.BounceCredential{
		UserID: "u1", Domain: "example.com", Protocol: domain.ProtocolIMAP,
		Host: "mail.example.com", Port: 993, Username: "b@example.com",
		Encryption: domain.EncryptionSSL,
	})
	if !errors.Is(err, credentials.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestLimitRollDay_KeyedByResetDate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewLimitRepo(db)

	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE sender_limits SET").
		WithArgs(day).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RollDay(context.Background(), day.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("RollDay: %v", err)
	}
	if n != 3 {
		t.Errorf("reset %d rows, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLimitList_ScopeBuildsWhereClause(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewLimitRepo(db)

	cols := []string{"sender_id", "user_id", "domain", "daily_limit", "current_daily_sent",
		"last_reset_date", "reputation_score", "last_training_at", "training_data", "updated_at"}
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM sender_limits WHERE 1=1 AND user_id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s1", "u1", "gmail.com", 50, 10, now, 75.0, nil, []byte(`{"total_sent":42}`), now))

	out, err := repo.List(context.Background(), training.Scope{UserID: "u1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 1 || out[0].TrainingData.TotalSent != 42 {
		t.Errorf("list = %+v", out)
	}
}

func TestLimitGet_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewLimitRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM sender_limits WHERE sender_id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "ghost"); !errors.Is(err, ErrSenderNotFound) {
		t.Errorf("err = %v, want ErrSenderNotFound", err)
	}
}

func TestReputationAttachEvidence_WritesKindColumn(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewReputationRepo(db)

	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	payload := []byte(`{"events":3}`)

	mock.ExpectExec(`INSERT INTO reputation_snapshots(.+)fbl_data`).
		WithArgs(sqlmock.AnyArg(), "gmail.com", day, payload).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AttachEvidence(context.Background(), "gmail.com", day.Add(13*time.Hour),
		reputation.EvidenceFBL, payload)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}

	if err := repo.AttachEvidence(context.Background(), "gmail.com", day,
		reputation.EvidenceKind("bogus"), payload); err == nil {
		t.Error("unknown evidence kind accepted")
	}
}

// Re-analysis writes nil evidence fields; the upsert must keep evidence
// attached earlier instead of nulling it out.
func TestReputationUpsertSnapshot_PreservesEvidence(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewReputationRepo(db)

	mock.ExpectExec(`INSERT INTO reputation_snapshots(.+)fbl_data = COALESCE(.+)diagnostic_data = COALESCE`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertSnapshot(context.Background(), &domain.DomainReputationSnapshot{
		Domain: "gmail.com",
		Date:   time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("UpsertSnapshot: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestReputationAddCounts_TruncatesDate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewReputationRepo(db)

	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO domain_delivery_stats").
		WithArgs("gmail.com", day, int64(100), int64(95), int64(5), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AddCounts(context.Background(), "gmail.com", day.Add(13*time.Hour),
		reputation.WindowCounts{Sent: 100, Delivered: 95, Bounced: 5})
	if err != nil {
		t.Fatalf("AddCounts: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
