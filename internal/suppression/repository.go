package suppression

import (
	"context"
	"time"

	"github.com/ignite/bounce-monitor/internal/domain"
)

// Repository defines the data access contract for the suppression registry.
type Repository interface {
	// Upsert inserts the entry or, when the email already exists, updates
	// reason/metadata/last_seen_at in place and returns the stored row.
	// inserted reports whether a new row was created, decided by the
	// database in the same statement so concurrent adds for one address
	// see exactly one insert.
	Upsert(ctx context.Context, e *domain.SuppressionEntry) (stored *domain.SuppressionEntry, inserted bool, err error)

	// Exists returns true if the email is on the registry.
	Exists(ctx context.Context, email string) (bool, error)

	// Get returns the entry for an email, or ErrNotFound.
	Get(ctx context.Context, email string) (*domain.SuppressionEntry, error)

	// Remove hard-deletes an entry (administrative override). Returns
	// ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, email string) error

	// List returns entries matching the filter, newest first, plus the
	// total matching count.
	List(ctx context.Context, f ListFilter) ([]domain.SuppressionEntry, int, error)

	// Stats returns aggregate counts for the registry.
	Stats(ctx context.Context) (*Stats, error)
}

// ListFilter controls filtering and pagination for registry listings.
type ListFilter struct {
	Type   domain.SuppressionType
	Source domain.EventSource
	Since  time.Time
	Limit  int
	Offset int
}

// Stats holds aggregate registry counts.
type Stats struct {
	Total     int            `json:"total"`
	ByType    map[string]int `json:"by_type"`
	BySource  map[string]int `json:"by_source"`
	Last7Days int            `json:"last_7_days"`
}
