// Package suppression implements the registry of addresses that must never
// be sent to again. Adds are idempotent upserts keyed on the lower-cased
// address; lookups are cached for the hot send-path.
package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
)

// Cache is the hot-path lookup cache in front of the repository. Entries
// carry a short TTL and are invalidated explicitly on add/remove.
type Cache interface {
	Get(ctx context.Context, email string) (suppressed bool, hit bool)
	Set(ctx context.Context, email string, suppressed bool)
	Invalidate(ctx context.Context, email string)
}

// Service implements suppression business logic. Safe for concurrent use.
type Service struct {
	repo  Repository
	cache Cache // optional
}

// NewService creates a suppression service backed by the given repository.
// cache may be nil; lookups then always hit the repository.
func NewService(repo Repository, cache Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Normalize lower-cases and trims an address. Applied before every lookup
// and insert so "Foo@Bar.com" and "foo@bar.com" are the same entry.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Add puts an address on the registry. Idempotent: a second add for the same
// address updates reason/metadata/last_seen_at on the existing row and never
// double-counts in statistics.
func (s *Service) Add(ctx context.Context, email string, typ domain.SuppressionType, source domain.EventSource, reason string, metadata map[string]string) (*domain.SuppressionEntry, error) {
	stored, _, err := s.add(ctx, email, typ, source, reason, metadata)
	return stored, err
}

func (s *Service) add(ctx context.Context, email string, typ domain.SuppressionType, source domain.EventSource, reason string, metadata map[string]string) (*domain.SuppressionEntry, bool, error) {
	email = Normalize(email)
	if email == "" {
		return nil, false, fmt.Errorf("email is required")
	}

	now := time.Now().UTC()
	entry := &domain.SuppressionEntry{
		Email:        email,
		Type:         typ,
		Source:       source,
		Reason:       reason,
		Metadata:     metadata,
		SuppressedAt: now,
		LastSeenAt:   now,
	}

	stored, inserted, err := s.repo.Upsert(ctx, entry)
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, email, true)
	}
	return stored, inserted, nil
}

// AddEvent records a telemetry event on the registry using the type derived
// from its kind. Events that do not suppress (soft bounces) are ignored and
// reported as unchanged. changed comes from the upsert itself, so two
// concurrent events for one new address report exactly one change.
func (s *Service) AddEvent(ctx context.Context, ev domain.BounceEvent) (changed bool, err error) {
	if !ev.Suppresses() {
		return false, nil
	}
	_, inserted, err := s.add(ctx, ev.Address, domain.TypeForKind(ev.Kind), ev.Source, ev.Reason, nil)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// IsSuppressed checks whether an address is blocked from sending. This is
// the hot send-path call, so cache hits short-circuit the repository.
func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	email = Normalize(email)

	if s.cache != nil {
		if suppressed, hit := s.cache.Get(ctx, email); hit {
			return suppressed, nil
		}
	}

	suppressed, err := s.repo.Exists(ctx, email)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, email, suppressed)
	}
	return suppressed, nil
}

// Remove deletes an entry (administrative override). The removal is logged;
// callers get ErrNotFound when the address was never suppressed.
func (s *Service) Remove(ctx context.Context, email string) error {
	email = Normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if err := s.repo.Remove(ctx, email); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, email)
	}
	logger.Warn("suppression entry removed by operator", "email", email)
	return nil
}

// List returns registry entries matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.SuppressionEntry, int, error) {
	return s.repo.List(ctx, f)
}

// GetStats returns aggregate registry counts.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}
