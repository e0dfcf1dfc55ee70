// Package commands is the operator surface: typed entry points for the
// actions an on-call engineer runs by hand or from cron, with no flag
// parsing of their own.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/credentials"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/ingest"
	"github.com/ignite/bounce-monitor/internal/parser"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
	"github.com/ignite/bounce-monitor/internal/reputation"
	"github.com/ignite/bounce-monitor/internal/scheduler"
	"github.com/ignite/bounce-monitor/internal/suppression"
	"github.com/ignite/bounce-monitor/internal/training"
)

// Commands bundles the services the operator actions drive.
type Commands struct {
	cfg       *config.Config
	creds     *credentials.Service
	processor *ingest.Processor
	registry  *suppression.Service
	scores    *reputation.Service
	trainer   *training.Controller
	sched     *scheduler.Scheduler
}

// New wires the command layer.
func New(cfg *config.Config, creds *credentials.Service, processor *ingest.Processor,
	registry *suppression.Service, scores *reputation.Service,
	trainer *training.Controller, sched *scheduler.Scheduler) *Commands {
	return &Commands{
		cfg:       cfg,
		creds:     creds,
		processor: processor,
		registry:  registry,
		scores:    scores,
		trainer:   trainer,
		sched:     sched,
	}
}

// BounceOptions narrows a bounce-processing run. Zero value processes every
// active credential.
type BounceOptions struct {
	CredentialID string
	Domain       string
	// TestOnly verifies connectivity without touching any messages.
	TestOnly bool
}

// ProcessBounces polls bounce mailboxes. With TestOnly it dials each selected
// credential and reports connectivity, messages untouched.
func (c *Commands) ProcessBounces(ctx context.Context, opts BounceOptions) (*ingest.BatchResult, error) {
	creds, err := c.selectCredentials(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no credentials match the selection")
	}

	batch := &ingest.BatchResult{}
	for i := range creds {
		cred := &creds[i]
		if opts.TestOnly {
			res := ingest.CredentialResult{CredentialID: cred.ID, UserID: cred.UserID, Domain: cred.Domain}
			if err := c.processor.TestConnection(ctx, cred); err != nil {
				res.Error = err.Error()
			}
			batch.Credentials = append(batch.Credentials, res)
			continue
		}
		// The run lock keeps a second worker replica from draining the
		// same mailbox concurrently; a locked credential is skipped, not
		// failed, and the next poll picks it up.
		lock, err := c.sched.AcquireLock(ctx, credentialEntity(cred.ID))
		if err != nil {
			res := ingest.CredentialResult{CredentialID: cred.ID, UserID: cred.UserID, Domain: cred.Domain}
			if errors.Is(err, scheduler.ErrAlreadyLocked) {
				res.Skipped = true
				logger.Debug("credential locked by another run", "credential_id", cred.ID)
			} else {
				res.Error = err.Error()
			}
			batch.Credentials = append(batch.Credentials, res)
			continue
		}

		res := c.processor.ProcessCredential(ctx, cred)
		if relErr := c.sched.Release(ctx, lock); relErr != nil {
			logger.Warn("credential lock release failed", "credential_id", cred.ID, "error", relErr.Error())
		}
		batch.Credentials = append(batch.Credentials, res)
		batch.TotalProcessed += res.Processed
		batch.TotalSuppressed += res.Suppressed
	}
	return batch, nil
}

func credentialEntity(id string) string { return "credential:" + id }

func (c *Commands) selectCredentials(ctx context.Context, opts BounceOptions) ([]domain.BounceCredential, error) {
	if opts.CredentialID != "" {
		cred, err := c.creds.Get(ctx, opts.CredentialID)
		if err != nil {
			return nil, err
		}
		return []domain.BounceCredential{*cred}, nil
	}
	all, err := c.creds.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Domain == "" {
		return all, nil
	}
	var out []domain.BounceCredential
	for _, cred := range all {
		if cred.Domain == opts.Domain {
			out = append(out, cred)
		}
	}
	return out, nil
}

// ProcessTelemetryFile runs one MTA flat file through its parser and into
// the registry and scorer.
func (c *Commands) ProcessTelemetryFile(ctx context.Context, path string, kind parser.Kind) (*parser.Result, error) {
	res, err := c.processor.ProcessFile(ctx, path, kind)
	if err != nil {
		return res, err
	}
	logger.Info("telemetry file processed",
		"path", path, "kind", string(kind),
		"processed", fmt.Sprintf("%d", res.Processed),
		"added", fmt.Sprintf("%d", res.Added),
		"skipped", fmt.Sprintf("%d", res.Skipped))
	return res, nil
}

// ExportResult describes a finished suppression export.
type ExportResult struct {
	Path  string             `json:"path"`
	Lines int                `json:"lines"`
	Stats *suppression.Stats `json:"stats"`
}

// ExportSuppressions writes the registry to a delimited file in the
// configured export directory. typ filters to one suppression type; empty
// exports everything.
func (c *Commands) ExportSuppressions(ctx context.Context, typ domain.SuppressionType) (*ExportResult, error) {
	path, written, stats, err := c.registry.ExportToFile(ctx, c.cfg.Export.Dir, typ, c.cfg.Export.Delimiter)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Path: path, Lines: written, Stats: stats}, nil
}

// RunTraining runs the sender-limit training policy over the scope.
func (c *Commands) RunTraining(ctx context.Context, scope training.Scope, dryRun bool) (*training.Result, error) {
	return c.trainer.Run(ctx, scope, dryRun)
}

// Monitor runs the scheduled sweep: per due domain, recompute the
// reputation snapshot. force bypasses the due check.
func (c *Commands) Monitor(ctx context.Context, force bool) (*scheduler.SweepResult, error) {
	run := func(ctx context.Context, entity string) (float64, error) {
		snap, err := c.scores.Analyze(ctx, entity, time.Now().UTC())
		if err != nil {
			return 0, err
		}
		return snap.ReputationScore, nil
	}
	return c.sched.Sweep(ctx, c.scores, run, c.cfg.Reputation.MediumRiskScore, force)
}

// ClearMonitorState forgets a domain's run history so the next sweep picks
// it up immediately. Empty domain clears every known domain.
func (c *Commands) ClearMonitorState(ctx context.Context, domainName string) error {
	if domainName != "" {
		return c.sched.Clear(ctx, domainName)
	}
	all, err := c.scores.Domains(ctx)
	if err != nil {
		return err
	}
	for _, d := range all {
		if err := c.sched.Clear(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
