// Package training adjusts per-sender daily sending limits. Two policies
// exist: automatic limits derived from domain reputation, and a manual ramp
// that raises the limit on a fixed cadence regardless of score.
package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
)

// Scope restricts a training run. Zero value means system-wide.
type Scope struct {
	SenderID string
	UserID   string
	Domain   string
}

// LimitStore is the persistence contract for sender limit state.
type LimitStore interface {
	Get(ctx context.Context, senderID string) (*domain.SenderLimitState, error)
	List(ctx context.Context, scope Scope) ([]domain.SenderLimitState, error)
	Update(ctx context.Context, st *domain.SenderLimitState) error

	// RollDay zeroes CurrentDailySent for rows whose LastResetDate is
	// before the given day and returns how many rows changed. Rows already
	// reset for the day are untouched, so repeated calls are harmless.
	RollDay(ctx context.Context, day time.Time) (int64, error)
}

// ScoreSource supplies the current reputation score for a domain.
type ScoreSource interface {
	CurrentScore(ctx context.Context, domainName string) (float64, error)
}

// SenderError records one sender that could not be trained. A failed sender
// never aborts the run.
type SenderError struct {
	SenderID string `json:"sender_id"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// Change describes one intended or applied limit adjustment.
type Change struct {
	SenderID string `json:"sender_id"`
	OldLimit int    `json:"old_limit"`
	NewLimit int    `json:"new_limit"`
	Reason   string `json:"reason"`
}

// Result summarizes a training run.
type Result struct {
	SendersProcessed int           `json:"senders_processed"`
	SendersUpdated   int           `json:"senders_updated"`
	Changes          []Change      `json:"changes,omitempty"`
	Errors           []SenderError `json:"errors,omitempty"`
	DryRun           bool          `json:"dry_run"`
}

// Controller runs the configured training policy over sender limit state.
type Controller struct {
	store  LimitStore
	scores ScoreSource
	cfg    config.TrainingConfig
	now    func() time.Time
}

// NewController creates a training controller. scores may be nil when the
// policy is manual.
func NewController(store LimitStore, scores ScoreSource, cfg config.TrainingConfig) *Controller {
	return &Controller{store: store, scores: scores, cfg: cfg, now: time.Now}
}

// Run trains every sender in scope. With dryRun set, intended changes are
// reported but nothing is persisted.
func (c *Controller) Run(ctx context.Context, scope Scope, dryRun bool) (*Result, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("training config: %w", err)
	}
	if domain.TrainingPolicy(c.cfg.Policy) == domain.PolicyAutomatic && c.scores == nil {
		return nil, fmt.Errorf("automatic policy requires a reputation source")
	}

	senders, err := c.store.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list senders: %w", err)
	}

	res := &Result{DryRun: dryRun}
	for i := range senders {
		st := &senders[i]
		res.SendersProcessed++

		newLimit, reason, err := c.target(ctx, st)
		if err != nil {
			res.Errors = append(res.Errors, SenderError{SenderID: st.SenderID, Err: err, Message: err.Error()})
			logger.Warn("training failed for sender", "sender_id", st.SenderID, "error", err.Error())
			continue
		}
		if newLimit == st.DailyLimit {
			continue
		}

		res.Changes = append(res.Changes, Change{
			SenderID: st.SenderID,
			OldLimit: st.DailyLimit,
			NewLimit: newLimit,
			Reason:   reason,
		})
		if dryRun {
			res.SendersUpdated++
			continue
		}

		now := c.now().UTC()
		st.DailyLimit = newLimit
		st.LastTrainingAt = &now
		if st.TrainingData.RampStartDate == nil {
			st.TrainingData.RampStartDate = &now
		}
		st.UpdatedAt = now
		if err := c.store.Update(ctx, st); err != nil {
			res.Errors = append(res.Errors, SenderError{SenderID: st.SenderID, Err: err, Message: err.Error()})
			continue
		}
		res.SendersUpdated++
		logger.Info("sender limit trained",
			"sender_id", st.SenderID, "old_limit", res.Changes[len(res.Changes)-1].OldLimit,
			"new_limit", newLimit, "reason", reason)
	}
	return res, nil
}

// TrainSender trains a single sender by id.
func (c *Controller) TrainSender(ctx context.Context, senderID string, dryRun bool) (*Result, error) {
	return c.Run(ctx, Scope{SenderID: senderID}, dryRun)
}

// target computes the limit the sender should have under the active policy.
// A sender that is not due yet keeps its current limit.
func (c *Controller) target(ctx context.Context, st *domain.SenderLimitState) (int, string, error) {
	switch domain.TrainingPolicy(c.cfg.Policy) {
	case domain.PolicyManual:
		return c.manualTarget(st), "manual ramp", nil
	case domain.PolicyAutomatic:
		return c.automaticTarget(ctx, st)
	default:
		return 0, "", fmt.Errorf("unknown policy %q", c.cfg.Policy)
	}
}

// manualTarget implements the fixed ramp: start at StartLimit, then every
// IntervalDays raise the limit by IncreasePercentage, clamped to MaxLimit.
// Not being due yet is a no-op, not an error.
func (c *Controller) manualTarget(st *domain.SenderLimitState) int {
	if st.DailyLimit <= 0 {
		return c.clampLimit(c.cfg.StartLimit)
	}
	last := st.LastTrainingAt
	if last == nil {
		last = st.TrainingData.RampStartDate
	}
	if last == nil {
		// Untracked sender entering the ramp: pin to the start limit.
		if st.DailyLimit < c.cfg.StartLimit {
			return c.clampLimit(c.cfg.StartLimit)
		}
		return st.DailyLimit
	}

	interval := time.Duration(c.cfg.IntervalDays) * 24 * time.Hour
	if c.now().UTC().Sub(last.UTC()) < interval {
		return st.DailyLimit
	}

	next := int(math.Round(float64(st.DailyLimit) * (1 + c.cfg.IncreasePercentage/100)))
	if next <= st.DailyLimit {
		next = st.DailyLimit + 1
	}
	return c.clampLimit(next)
}

// automaticTarget keeps DefaultLimit until the sender has real volume, then
// scales the limit linearly with the domain's reputation score.
func (c *Controller) automaticTarget(ctx context.Context, st *domain.SenderLimitState) (int, string, error) {
	if st.TrainingData.TotalSent < c.cfg.MinSentThreshold {
		return c.clampLimit(c.cfg.DefaultLimit), "below volume threshold", nil
	}

	score, err := c.scores.CurrentScore(ctx, st.Domain)
	if err != nil {
		return 0, "", fmt.Errorf("reputation for %s: %w", st.Domain, err)
	}
	span := float64(c.cfg.MaxLimit - c.cfg.MinLimit)
	limit := c.cfg.MinLimit + int(math.Round(span*score/100))
	return c.clampLimit(limit), fmt.Sprintf("reputation %.1f", score), nil
}

func (c *Controller) clampLimit(limit int) int {
	if limit < c.cfg.MinLimit {
		return c.cfg.MinLimit
	}
	if limit > c.cfg.MaxLimit {
		return c.cfg.MaxLimit
	}
	return limit
}

// RollDay resets CurrentDailySent for every sender whose counter belongs to a
// previous day. Keyed by LastResetDate, so calling it twice on the same day
// changes nothing the second time.
func (c *Controller) RollDay(ctx context.Context) (int64, error) {
	day := c.now().UTC().Truncate(24 * time.Hour)
	n, err := c.store.RollDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("roll day: %w", err)
	}
	if n > 0 {
		logger.Info("daily send counters reset", "senders", fmt.Sprintf("%d", n), "day", day.Format("2006-01-02"))
	}
	return n, nil
}
