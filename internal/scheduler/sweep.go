package scheduler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ignite/bounce-monitor/internal/pkg/logger"
)

// Entity statuses reported by a sweep.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusLocked    = "locked"
	StatusFailed    = "failed"
)

// EntityResult is the outcome of one entity in a sweep.
type EntityResult struct {
	Domain      string  `json:"domain"`
	HealthScore float64 `json:"health_score"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
}

// SweepResult aggregates a monitoring pass.
type SweepResult struct {
	TotalDomains            int            `json:"total_domains"`
	DomainsNeedingAttention int            `json:"domains_needing_attention"`
	LastRun                 time.Time      `json:"last_run"`
	Entities                []EntityResult `json:"entities"`
}

// MonitorFunc performs the actual per-entity work (ingestion plus reputation
// recompute) and returns the resulting health score.
type MonitorFunc func(ctx context.Context, entity string) (float64, error)

// DomainSource lists the entities a sweep should consider.
type DomainSource interface {
	Domains(ctx context.Context) ([]string, error)
}

// Sweep runs the scheduler over every known entity. Not-due entities are
// skipped unless force is set; locked entities are always skipped. One failed
// entity never stops the sweep. attentionScore is the health score below
// which an entity counts as needing attention.
func (s *Scheduler) Sweep(ctx context.Context, src DomainSource, run MonitorFunc, attentionScore float64, force bool) (*SweepResult, error) {
	entities, err := src.Domains(ctx)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{TotalDomains: len(entities), LastRun: s.now().UTC()}
	for _, entity := range entities {
		res.Entities = append(res.Entities, s.runOne(ctx, entity, run, attentionScore, force))
	}
	for _, e := range res.Entities {
		if e.Status == StatusProcessed && e.HealthScore < attentionScore {
			res.DomainsNeedingAttention++
		}
	}
	logger.Info("monitoring sweep finished",
		"domains", strconv.Itoa(res.TotalDomains), "attention", strconv.Itoa(res.DomainsNeedingAttention))
	return res, nil
}

func (s *Scheduler) runOne(ctx context.Context, entity string, run MonitorFunc, attentionScore float64, force bool) EntityResult {
	if !force {
		due, err := s.IsDue(ctx, entity)
		if err != nil {
			return EntityResult{Domain: entity, Status: StatusFailed, Error: err.Error()}
		}
		if !due {
			return EntityResult{Domain: entity, Status: StatusSkipped}
		}
	}

	lock, err := s.AcquireLock(ctx, entity)
	if errors.Is(err, ErrAlreadyLocked) {
		return EntityResult{Domain: entity, Status: StatusLocked}
	}
	if err != nil {
		return EntityResult{Domain: entity, Status: StatusFailed, Error: err.Error()}
	}
	defer func() {
		if err := s.Release(ctx, lock); err != nil {
			logger.Warn("lock release failed", "entity", entity, "error", err.Error())
		}
	}()

	score, err := run(ctx, entity)
	if err != nil {
		logger.Error("entity monitoring failed", "entity", entity, "error", err.Error())
		return EntityResult{Domain: entity, Status: StatusFailed, Error: err.Error()}
	}
	if err := s.MarkRun(ctx, entity); err != nil {
		logger.Warn("could not record run time", "entity", entity, "error", err.Error())
	}
	return EntityResult{Domain: entity, HealthScore: score, Status: StatusProcessed}
}
