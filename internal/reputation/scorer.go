// Package reputation derives bounded per-domain health scores from rolling
// delivery counts and persists them as daily snapshots.
package reputation

import (
	"github.com/ignite/bounce-monitor/internal/domain"
)

// WindowCounts are aggregate delivery outcomes over the scoring window.
type WindowCounts struct {
	Sent       int64 `json:"sent"`
	Delivered  int64 `json:"delivered"`
	Bounced    int64 `json:"bounced"`
	Complained int64 `json:"complained"`
}

// Config holds scoring parameters. Risk bands are configuration, not
// algorithm constants.
type Config struct {
	WindowDays      int
	LowRiskScore    float64 // score >= this is low risk
	MediumRiskScore float64 // score >= this is medium risk
	NeutralScore    float64 // assigned when there is no send history yet
}

// DefaultConfig mirrors the config-file defaults.
func DefaultConfig() Config {
	return Config{WindowDays: 7, LowRiskScore: 80, MediumRiskScore: 50, NeutralScore: 75}
}

// Rates are the percentages derived from counts. They are never settable
// independently of the counts they come from.
type Rates struct {
	BounceRate    float64
	ComplaintRate float64
	DeliveryRate  float64
}

// ComputeRates derives percentage rates from counts. Zero sends yields zero
// rates, never a division fault.
func ComputeRates(c WindowCounts) Rates {
	if c.Sent == 0 {
		return Rates{}
	}
	return Rates{
		BounceRate:    float64(c.Bounced) / float64(c.Sent) * 100,
		ComplaintRate: float64(c.Complained) / float64(c.Sent) * 100,
		DeliveryRate:  float64(c.Delivered) / float64(c.Sent) * 100,
	}
}

// Score maps counts to a reputation score in [0, 100]. The score is
// monotonic: non-increasing in bounce and complaint rate, non-decreasing in
// delivery rate. Bounces are weighted lightly against delivery, complaints
// heavily: one complaint costs what twenty clean deliveries earn back.
func Score(cfg Config, c WindowCounts) float64 {
	if c.Sent == 0 {
		return clamp(cfg.NeutralScore)
	}
	r := ComputeRates(c)
	score := r.DeliveryRate - r.BounceRate*2 - r.ComplaintRate*20
	return clamp(score)
}

// RiskFor buckets a score using the configured bands.
func RiskFor(cfg Config, score float64) domain.RiskLevel {
	switch {
	case score >= cfg.LowRiskScore:
		return domain.RiskLow
	case score >= cfg.MediumRiskScore:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
