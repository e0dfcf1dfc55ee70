package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/reputation"
)

// ReputationRepo implements reputation.Store against PostgreSQL. Daily
// delivery counts and reputation snapshots are both keyed (domain, date), so
// re-running analysis for a date overwrites rather than accumulates.
type ReputationRepo struct{ db *sql.DB }

// NewReputationRepo creates a Postgres-backed reputation store.
func NewReputationRepo(db *sql.DB) *ReputationRepo { return &ReputationRepo{db: db} }

// AddCounts accumulates delivery counts for a domain on one calendar day.
// Repeated ingestion runs for the same file segment add up; the snapshot
// layer above is what stays idempotent per date.
func (r *ReputationRepo) AddCounts(ctx context.Context, domainName string, date time.Time, c reputation.WindowCounts) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO domain_delivery_stats (domain, date, sent, delivered, bounced, complained)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain, date) DO UPDATE SET
			sent = domain_delivery_stats.sent + EXCLUDED.sent,
			delivered = domain_delivery_stats.delivered + EXCLUDED.delivered,
			bounced = domain_delivery_stats.bounced + EXCLUDED.bounced,
			complained = domain_delivery_stats.complained + EXCLUDED.complained
	`, domainName, date.UTC().Truncate(24*time.Hour), c.Sent, c.Delivered, c.Bounced, c.Complained)
	if err != nil {
		return fmt.Errorf("add delivery counts: %w", err)
	}
	return nil
}

// WindowCounts sums delivery counts for a domain over [since, now].
func (r *ReputationRepo) WindowCounts(ctx context.Context, domainName string, since time.Time) (reputation.WindowCounts, error) {
	var c reputation.WindowCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(sent), 0), COALESCE(SUM(delivered), 0),
		       COALESCE(SUM(bounced), 0), COALESCE(SUM(complained), 0)
		FROM domain_delivery_stats
		WHERE domain = $1 AND date >= $2
	`, domainName, since.UTC().Truncate(24*time.Hour)).Scan(&c.Sent, &c.Delivered, &c.Bounced, &c.Complained)
	if err != nil {
		return c, fmt.Errorf("window counts: %w", err)
	}
	return c, nil
}

// UpsertSnapshot writes a snapshot for (domain, date). The unique constraint
// makes re-analysis deterministic: same inputs, same row.
func (r *ReputationRepo) UpsertSnapshot(ctx context.Context, s *domain.DomainReputationSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reputation_snapshots
			(id, domain, date, reputation_score, risk_level, bounce_rate, complaint_rate, delivery_rate,
			 total_sent, total_bounced, total_complained, total_delivered, fbl_data, diagnostic_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (domain, date) DO UPDATE SET
			reputation_score = EXCLUDED.reputation_score,
			risk_level = EXCLUDED.risk_level,
			bounce_rate = EXCLUDED.bounce_rate,
			complaint_rate = EXCLUDED.complaint_rate,
			delivery_rate = EXCLUDED.delivery_rate,
			total_sent = EXCLUDED.total_sent,
			total_bounced = EXCLUDED.total_bounced,
			total_complained = EXCLUDED.total_complained,
			total_delivered = EXCLUDED.total_delivered,
			fbl_data = COALESCE(EXCLUDED.fbl_data, reputation_snapshots.fbl_data),
			diagnostic_data = COALESCE(EXCLUDED.diagnostic_data, reputation_snapshots.diagnostic_data)
	`, s.ID, s.Domain, s.Date.UTC().Truncate(24*time.Hour), s.ReputationScore, s.RiskLevel,
		s.BounceRate, s.ComplaintRate, s.DeliveryRate,
		s.TotalSent, s.TotalBounced, s.TotalComplained, s.TotalDelivered,
		s.FBLData, s.DiagnosticData)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// AttachEvidence writes an fbl_data or diagnostic_data payload for
// (domain, date). The row is created if analysis has not run for that day
// yet; a later UpsertSnapshot fills the scores in without clearing evidence.
func (r *ReputationRepo) AttachEvidence(ctx context.Context, domainName string, date time.Time, kind reputation.EvidenceKind, payload []byte) error {
	var col string
	switch kind {
	case reputation.EvidenceFBL:
		col = "fbl_data"
	case reputation.EvidenceDiagnostic:
		col = "diagnostic_data"
	default:
		return fmt.Errorf("unknown evidence kind %q", kind)
	}

	// col comes from the closed switch above, never from the caller.
	query := fmt.Sprintf(`
		INSERT INTO reputation_snapshots (id, domain, date, %s)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain, date) DO UPDATE SET %s = EXCLUDED.%s
	`, col, col, col)
	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), domainName, date.UTC().Truncate(24*time.Hour), payload)
	if err != nil {
		return fmt.Errorf("attach %s evidence: %w", kind, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a domain, or nil.
func (r *ReputationRepo) LatestSnapshot(ctx context.Context, domainName string) (*domain.DomainReputationSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, domain, date, reputation_score, risk_level, bounce_rate, complaint_rate, delivery_rate,
		       total_sent, total_bounced, total_complained, total_delivered, created_at
		FROM reputation_snapshots
		WHERE domain = $1
		ORDER BY date DESC
		LIMIT 1
	`, domainName)

	var s domain.DomainReputationSnapshot
	err := row.Scan(&s.ID, &s.Domain, &s.Date, &s.ReputationScore, &s.RiskLevel,
		&s.BounceRate, &s.ComplaintRate, &s.DeliveryRate,
		&s.TotalSent, &s.TotalBounced, &s.TotalComplained, &s.TotalDelivered, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &s, nil
}

// Domains lists every domain that has delivery stats, for the sweep.
func (r *ReputationRepo) Domains(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT domain FROM domain_delivery_stats ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
