// Package ingest orchestrates the feedback loop: it drains bounce mailboxes
// per credential, routes MTA flat files through the parsers and feeds the
// results into the suppression registry and the reputation scorer.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ignite/bounce-monitor/internal/credentials"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/mailbox"
	"github.com/ignite/bounce-monitor/internal/parser"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
	"github.com/ignite/bounce-monitor/internal/reputation"
	"github.com/ignite/bounce-monitor/internal/suppression"
)

// CredentialResult is the outcome of polling one mailbox credential.
type CredentialResult struct {
	CredentialID string `json:"credential_id"`
	UserID       string `json:"user_id"`
	Domain       string `json:"domain,omitempty"`
	Processed    int    `json:"processed"`
	Suppressed   int    `json:"suppressed"`
	Moved        int    `json:"moved"`
	// Skipped marks a credential left alone because another worker holds
	// its run lock.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResult aggregates one polling pass over all active credentials.
type BatchResult struct {
	Credentials     []CredentialResult `json:"credentials"`
	TotalProcessed  int                `json:"total_processed"`
	TotalSuppressed int                `json:"total_suppressed"`
}

// Processor wires mailbox polling and file ingestion into the registry and
// the scorer.
type Processor struct {
	creds    *credentials.Service
	client   mailbox.Client
	registry *suppression.Service
	scores   *reputation.Service
	msgs     *parser.MailboxParser
	now      func() time.Time
}

// NewProcessor creates an ingestion processor.
func NewProcessor(creds *credentials.Service, client mailbox.Client, registry *suppression.Service, scores *reputation.Service) *Processor {
	return &Processor{
		creds:    creds,
		client:   client,
		registry: registry,
		scores:   scores,
		msgs:     parser.NewMailboxParser(),
		now:      time.Now,
	}
}

// ProcessAll polls every active credential. One broken credential is recorded
// on its row and in the result, and never aborts the batch.
func (p *Processor) ProcessAll(ctx context.Context) (*BatchResult, error) {
	creds, err := p.creds.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	batch := &BatchResult{}
	for i := range creds {
		res := p.ProcessCredential(ctx, &creds[i])
		batch.Credentials = append(batch.Credentials, res)
		batch.TotalProcessed += res.Processed
		batch.TotalSuppressed += res.Suppressed
	}
	return batch, nil
}

// ProcessCredential drains one mailbox: connect, list, fetch, parse, persist,
// then move. A message is only moved out of the inbox after its event has
// been durably recorded, so a crash re-processes rather than loses it.
func (p *Processor) ProcessCredential(ctx context.Context, cred *domain.BounceCredential) CredentialResult {
	res := CredentialResult{CredentialID: cred.ID, UserID: cred.UserID, Domain: cred.Domain}

	fail := func(err error) CredentialResult {
		res.Error = err.Error()
		if recErr := p.creds.RecordCheck(ctx, cred.ID, res.Processed, err.Error()); recErr != nil {
			logger.Error("could not record credential failure", "credential_id", cred.ID, "error", recErr.Error())
		}
		logger.Warn("mailbox poll failed", "credential_id", cred.ID, "host", cred.Host, "error", err.Error())
		return res
	}

	password, err := p.creds.Password(cred)
	if err != nil {
		return fail(fmt.Errorf("open credential secret: %w", err))
	}

	conn, err := p.client.Connect(ctx, cred, password)
	if err != nil {
		return fail(err)
	}
	defer conn.Close(ctx)

	ids, err := conn.List(ctx)
	if err != nil {
		return fail(fmt.Errorf("list messages: %w", err))
	}

	for _, id := range ids {
		raw, err := conn.Fetch(ctx, id)
		if err != nil {
			logger.Warn("message fetch failed", "credential_id", cred.ID, "message", fmt.Sprintf("%d", id), "error", err.Error())
			continue
		}
		res.Processed++

		ev, err := p.msgs.Parse(raw)
		if err != nil {
			logger.Debug("unparseable message left in inbox", "credential_id", cred.ID, "error", err.Error())
			continue
		}

		if ev != nil {
			if err := p.recordEvent(ctx, *ev); err != nil {
				// Not durable yet; leave the message for the next run.
				logger.Error("event persist failed", "address", ev.Address, "error", err.Error())
				continue
			}
			if ev.Suppresses() {
				res.Suppressed++
			}
		}

		// Move failures are logged and retried next run, never fatal.
		if err := conn.MoveProcessed(ctx, id); err != nil {
			logger.Warn("could not move processed message", "credential_id", cred.ID, "error", err.Error())
		} else {
			res.Moved++
		}
	}

	if err := p.creds.RecordCheck(ctx, cred.ID, res.Processed, ""); err != nil {
		logger.Error("could not record credential check", "credential_id", cred.ID, "error", err.Error())
	}
	return res
}

// recordEvent persists one telemetry event into the registry and the scorer.
func (p *Processor) recordEvent(ctx context.Context, ev domain.BounceEvent) error {
	if _, err := p.registry.AddEvent(ctx, ev); err != nil {
		return err
	}

	d := parser.DomainOf(ev.Address)
	if d == "" || p.scores == nil {
		return nil
	}
	var c reputation.WindowCounts
	switch ev.Kind {
	case domain.KindHard, domain.KindSoft:
		c.Bounced = 1
	case domain.KindComplaint:
		c.Complained = 1
	default:
		return nil
	}
	if err := p.scores.RecordCounts(ctx, d, ev.OccurredAt, c); err != nil {
		// The suppression write already landed; scoring catches up later.
		logger.Warn("delivery count update failed", "domain", d, "error", err.Error())
	}
	return nil
}

// TestConnection dials the credential and disconnects without touching any
// messages. Failures come back as *mailbox.ConnectionError with hints.
func (p *Processor) TestConnection(ctx context.Context, cred *domain.BounceCredential) error {
	password, err := p.creds.Password(cred)
	if err != nil {
		return fmt.Errorf("open credential secret: %w", err)
	}
	conn, err := p.client.Connect(ctx, cred, password)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// ProcessFile routes one MTA flat file through the matching parser and feeds
// the registry and the scorer.
func (p *Processor) ProcessFile(ctx context.Context, path string, kind parser.Kind) (*parser.Result, error) {
	switch kind {
	case parser.KindAccounting:
		records, res, err := parser.NewAccountingParser().ParseFile(path)
		if err != nil {
			return &res, err
		}
		day := p.now().UTC()
		for d, counts := range parser.AggregateByDomain(records) {
			err := p.scores.RecordCounts(ctx, d, day, reputation.WindowCounts{
				Sent:       counts.Sent,
				Delivered:  counts.Delivered,
				Bounced:    counts.Bounced,
				Complained: counts.Complained,
			})
			if err != nil {
				return &res, fmt.Errorf("record counts for %s: %w", d, err)
			}
		}
		return &res, nil

	case parser.KindDiagnostic:
		events, res, err := parser.NewDiagnosticParser().ParseFile(path)
		if err != nil {
			return &res, err
		}
		p.recordEvents(ctx, events, &res)
		p.attachEvidence(ctx, events, reputation.EvidenceDiagnostic)
		return &res, nil

	case parser.KindFBL:
		events, res, err := parser.NewFBLParser().ParseFile(path)
		if err != nil {
			return &res, err
		}
		p.recordEvents(ctx, events, &res)
		p.attachEvidence(ctx, events, reputation.EvidenceFBL)
		return &res, nil

	default:
		return nil, fmt.Errorf("no file parser for kind %q", kind)
	}
}

// ProcessReader is ProcessFile for already-open input, used by the webhook
// receiver and tests.
func (p *Processor) ProcessReader(ctx context.Context, r io.Reader, kind parser.Kind) (*parser.Result, error) {
	switch kind {
	case parser.KindDiagnostic:
		events, res, err := parser.NewDiagnosticParser().ParseReader(r)
		if err != nil {
			return &res, err
		}
		p.recordEvents(ctx, events, &res)
		p.attachEvidence(ctx, events, reputation.EvidenceDiagnostic)
		return &res, nil
	case parser.KindFBL:
		events, res, err := parser.NewFBLParser().ParseReader(r)
		if err != nil {
			return &res, err
		}
		p.recordEvents(ctx, events, &res)
		p.attachEvidence(ctx, events, reputation.EvidenceFBL)
		return &res, nil
	default:
		return nil, fmt.Errorf("no stream parser for kind %q", kind)
	}
}

// recordEvents persists each parsed event. A failed persist lands in the
// result's error list and the rest of the file is still processed.
func (p *Processor) recordEvents(ctx context.Context, events []domain.BounceEvent, res *parser.Result) {
	for _, ev := range events {
		if err := p.recordEvent(ctx, ev); err != nil {
			logger.Error("event persist failed", "address", ev.Address, "error", err.Error())
			res.Errors = append(res.Errors, parser.RowError{
				Raw: ev.Address,
				Err: fmt.Sprintf("persist: %v", err),
			})
		}
	}
}

// evidenceSummary is the per-domain payload stored next to the day's
// reputation snapshot.
type evidenceSummary struct {
	Events  int      `json:"events"`
	Reasons []string `json:"reasons,omitempty"`
}

const maxEvidenceReasons = 5

// attachEvidence summarizes the run's events per recipient domain and stores
// the summaries alongside the day's snapshots. Failures are logged only;
// evidence never blocks ingestion.
func (p *Processor) attachEvidence(ctx context.Context, events []domain.BounceEvent, kind reputation.EvidenceKind) {
	if p.scores == nil || len(events) == 0 {
		return
	}

	byDomain := make(map[string]*evidenceSummary)
	for _, ev := range events {
		d := parser.DomainOf(ev.Address)
		if d == "" {
			continue
		}
		s := byDomain[d]
		if s == nil {
			s = &evidenceSummary{}
			byDomain[d] = s
		}
		s.Events++
		if ev.Reason != "" && len(s.Reasons) < maxEvidenceReasons {
			s.Reasons = append(s.Reasons, ev.Reason)
		}
	}

	day := p.now().UTC()
	for d, s := range byDomain {
		payload, err := json.Marshal(s)
		if err != nil {
			continue
		}
		if err := p.scores.AttachEvidence(ctx, d, day, kind, payload); err != nil {
			logger.Warn("evidence attach failed", "domain", d, "kind", string(kind), "error", err.Error())
		}
	}
}
