package domain

import "time"

// BounceKind classifies a delivery-telemetry event.
type BounceKind string

const (
	KindHard        BounceKind = "hard"
	KindSoft        BounceKind = "soft"
	KindComplaint   BounceKind = "complaint"
	KindUnsubscribe BounceKind = "unsubscribe"
	KindOther       BounceKind = "other"
)

// EventSource indicates where a telemetry signal originated.
type EventSource string

const (
	SourceMailbox      EventSource = "mailbox"
	SourceAccounting   EventSource = "mta-accounting"
	SourceDiagnostic   EventSource = "mta-diagnostic"
	SourceFBL          EventSource = "fbl"
	SourceManualImport EventSource = "manual-import"
	SourceWebhook      EventSource = "webhook"
)

// BounceEvent is a normalized telemetry record produced by one of the bounce
// parsers. Events are immutable after creation: each is consumed exactly once
// by the suppression registry and the reputation scorer.
type BounceEvent struct {
	Address    string      `json:"address"`
	Kind       BounceKind  `json:"kind"`
	Source     EventSource `json:"source"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	RawPayload []byte      `json:"-"`
}

// Suppresses reports whether this event should land the address on the
// suppression list. Soft bounces and accounting rows feed the scorer only.
func (e BounceEvent) Suppresses() bool {
	switch e.Kind {
	case KindHard, KindComplaint, KindUnsubscribe:
		return true
	}
	return false
}
