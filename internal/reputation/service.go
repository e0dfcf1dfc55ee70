package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
)

// Store is the persistence contract for delivery counts and snapshots.
type Store interface {
	// AddCounts accumulates delivery counts for (domain, date).
	AddCounts(ctx context.Context, domainName string, date time.Time, c WindowCounts) error

	// WindowCounts sums counts for a domain since the given day.
	WindowCounts(ctx context.Context, domainName string, since time.Time) (WindowCounts, error)

	// UpsertSnapshot writes a snapshot keyed (domain, date).
	UpsertSnapshot(ctx context.Context, s *domain.DomainReputationSnapshot) error

	// LatestSnapshot returns the most recent snapshot for a domain, or nil.
	LatestSnapshot(ctx context.Context, domainName string) (*domain.DomainReputationSnapshot, error)

	// Domains lists every domain with delivery stats.
	Domains(ctx context.Context) ([]string, error)

	// AttachEvidence stores a raw payload summary next to the snapshot
	// keyed (domain, date), creating the row if analysis has not run yet.
	AttachEvidence(ctx context.Context, domainName string, date time.Time, kind EvidenceKind, payload []byte) error
}

// EvidenceKind names the payload summaries stored alongside a snapshot.
type EvidenceKind string

const (
	EvidenceFBL        EvidenceKind = "fbl"
	EvidenceDiagnostic EvidenceKind = "diagnostic"
)

// Service recomputes reputation snapshots. Analyze is idempotent per
// (domain, date): the snapshot row is overwritten from the same window,
// never accumulated.
type Service struct {
	store Store
	cfg   Config
}

// NewService creates a reputation service.
func NewService(store Store, cfg Config) *Service {
	if cfg.WindowDays <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{store: store, cfg: cfg}
}

// RecordCounts feeds parsed accounting aggregates into the store.
func (s *Service) RecordCounts(ctx context.Context, domainName string, date time.Time, c WindowCounts) error {
	return s.store.AddCounts(ctx, domainName, date, c)
}

// Analyze recomputes the snapshot for a domain on the given calendar day
// from the rolling window ending that day.
func (s *Service) Analyze(ctx context.Context, domainName string, date time.Time) (*domain.DomainReputationSnapshot, error) {
	date = date.UTC().Truncate(24 * time.Hour)
	since := date.AddDate(0, 0, -s.cfg.WindowDays+1)

	counts, err := s.store.WindowCounts(ctx, domainName, since)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", domainName, err)
	}

	score := Score(s.cfg, counts)
	rates := ComputeRates(counts)
	snap := &domain.DomainReputationSnapshot{
		Domain:          domainName,
		Date:            date,
		ReputationScore: score,
		RiskLevel:       RiskFor(s.cfg, score),
		BounceRate:      rates.BounceRate,
		ComplaintRate:   rates.ComplaintRate,
		DeliveryRate:    rates.DeliveryRate,
		TotalSent:       counts.Sent,
		TotalBounced:    counts.Bounced,
		TotalComplained: counts.Complained,
		TotalDelivered:  counts.Delivered,
	}

	if err := s.store.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", domainName, err)
	}

	logger.Debug("reputation snapshot written",
		"domain", domainName, "score", fmt.Sprintf("%.1f", score), "risk", string(snap.RiskLevel))
	return snap, nil
}

// AttachEvidence records a summary of the raw FBL or diagnostic payloads
// behind a domain's snapshot day, so a bad score can be traced back to the
// inputs that produced it.
func (s *Service) AttachEvidence(ctx context.Context, domainName string, date time.Time, kind EvidenceKind, payload []byte) error {
	switch kind {
	case EvidenceFBL, EvidenceDiagnostic:
	default:
		return fmt.Errorf("unknown evidence kind %q", kind)
	}
	date = date.UTC().Truncate(24 * time.Hour)
	return s.store.AttachEvidence(ctx, domainName, date, kind, payload)
}

// CurrentScore returns the latest snapshot score for a domain, or the
// neutral default when the domain has no history.
func (s *Service) CurrentScore(ctx context.Context, domainName string) (float64, error) {
	snap, err := s.store.LatestSnapshot(ctx, domainName)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return s.cfg.NeutralScore, nil
	}
	return snap.ReputationScore, nil
}

// Domains exposes the store's domain listing for the monitoring sweep.
func (s *Service) Domains(ctx context.Context) ([]string, error) {
	return s.store.Domains(ctx)
}
