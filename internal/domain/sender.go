package domain

import "time"

// TrainingPolicy selects how sender limits are adjusted. The policy is a
// system-wide configuration choice, not per-tenant.
type TrainingPolicy string

const (
	PolicyAutomatic TrainingPolicy = "automatic"
	PolicyManual    TrainingPolicy = "manual"
)

// TrainingData holds policy-specific training state serialized as JSON on the
// sender row.
type TrainingData struct {
	RampStartDate  *time.Time `json:"ramp_start_date,omitempty"`
	LastIncreaseAt *time.Time `json:"last_increase_at,omitempty"`
	TotalSent      int64      `json:"total_sent,omitempty"`
}

// SenderLimitState is the per-sender sending cap owned by the training
// controller. DailyLimit is enforced by the send path; CurrentDailySent is
// reset once per UTC day keyed by LastResetDate.
type SenderLimitState struct {
	SenderID         string       `json:"sender_id" db:"sender_id"`
	UserID           string       `json:"user_id" db:"user_id"`
	Domain           string       `json:"domain" db:"domain"`
	DailyLimit       int          `json:"daily_limit" db:"daily_limit"`
	CurrentDailySent int          `json:"current_daily_sent" db:"current_daily_sent"`
	LastResetDate    time.Time    `json:"last_reset_date" db:"last_reset_date"`
	ReputationScore  float64      `json:"reputation_score" db:"reputation_score"`
	LastTrainingAt   *time.Time   `json:"last_training_at,omitempty" db:"last_training_at"`
	TrainingData     TrainingData `json:"training_data" db:"training_data"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}
