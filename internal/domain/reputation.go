package domain

import "time"

// RiskLevel buckets a reputation score into operator-facing bands.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DomainReputationSnapshot captures a sending domain's delivery health for one
// calendar day. Snapshots are unique per (domain, date) and append-only;
// re-running analysis for the same date overwrites the row deterministically.
type DomainReputationSnapshot struct {
	ID              string    `json:"id" db:"id"`
	Domain          string    `json:"domain" db:"domain"`
	Date            time.Time `json:"date" db:"date"`
	ReputationScore float64   `json:"reputation_score" db:"reputation_score"`
	RiskLevel       RiskLevel `json:"risk_level" db:"risk_level"`
	BounceRate      float64   `json:"bounce_rate" db:"bounce_rate"`
	ComplaintRate   float64   `json:"complaint_rate" db:"complaint_rate"`
	DeliveryRate    float64   `json:"delivery_rate" db:"delivery_rate"`
	TotalSent       int64     `json:"total_sent" db:"total_sent"`
	TotalBounced    int64     `json:"total_bounced" db:"total_bounced"`
	TotalComplained int64     `json:"total_complained" db:"total_complained"`
	TotalDelivered  int64     `json:"total_delivered" db:"total_delivered"`
	FBLData         []byte    `json:"fbl_data,omitempty" db:"fbl_data"`
	DiagnosticData  []byte    `json:"diagnostic_data,omitempty" db:"diagnostic_data"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
