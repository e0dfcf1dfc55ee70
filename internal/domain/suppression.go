package domain

import "time"

// SuppressionType enumerates why an address was suppressed.
type SuppressionType string

const (
	SuppressionBounce      SuppressionType = "bounce"
	SuppressionComplaint   SuppressionType = "complaint"
	SuppressionUnsubscribe SuppressionType = "unsubscribe"
	SuppressionFBL         SuppressionType = "fbl"
	SuppressionManual      SuppressionType = "manual"
)

// SuppressionEntry is a single row in the suppression registry. Email is the
// natural key: a second event for an already-suppressed address updates
// LastSeenAt and metadata, never a second row.
type SuppressionEntry struct {
	ID           string            `json:"id" db:"id"`
	Email        string            `json:"email" db:"email"`
	Type         SuppressionType   `json:"type" db:"type"`
	Source       EventSource       `json:"source" db:"source"`
	Reason       string            `json:"reason,omitempty" db:"reason"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
	SuppressedAt time.Time         `json:"suppressed_at" db:"suppressed_at"`
	LastSeenAt   time.Time         `json:"last_seen_at" db:"last_seen_at"`
}

// TypeForKind maps a telemetry event kind to the suppression type recorded
// on the registry row.
func TypeForKind(k BounceKind) SuppressionType {
	switch k {
	case KindComplaint:
		return SuppressionComplaint
	case KindUnsubscribe:
		return SuppressionUnsubscribe
	default:
		return SuppressionBounce
	}
}
