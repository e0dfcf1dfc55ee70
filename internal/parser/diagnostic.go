package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ignite/bounce-monitor/internal/domain"
)

// DiagnosticParser reads MTA diagnostic files: one record per failed delivery
// with a DSN status code and reason text, comma-separated:
//
//	timeLogged,rcpt,dsnStatus,category,reason...
//
// Every parsed row becomes one BounceEvent classified hard, soft, block or
// spam from the status code and category.
type DiagnosticParser struct{}

// NewDiagnosticParser returns a parser for MTA diagnostic files.
func NewDiagnosticParser() *DiagnosticParser {
	return &DiagnosticParser{}
}

// ParseFile reads a diagnostic file from disk.
func (p *DiagnosticParser) ParseFile(path string) ([]domain.BounceEvent, Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Result{}, fmt.Errorf("cannot open diagnostic file %s: %w", path, err)
	}
	defer f.Close()
	return p.ParseReader(f)
}

// ParseReader reads diagnostic records from any io.Reader.
func (p *DiagnosticParser) ParseReader(r io.Reader) ([]domain.BounceEvent, Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var events []domain.BounceEvent
	var res Result
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		res.Processed++
		ev, err := p.parseLine(line)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, RowError{Line: lineNum, Raw: line, Err: err.Error()})
			continue
		}
		res.Added++
		events = append(events, ev)
	}

	if err := scanner.Err(); err != nil {
		return events, res, fmt.Errorf("error reading diagnostic data: %w", err)
	}
	return events, res, nil
}

func (p *DiagnosticParser) parseLine(line string) (domain.BounceEvent, error) {
	fields := strings.SplitN(line, ",", 5)
	if len(fields) < 3 {
		return domain.BounceEvent{}, fmt.Errorf("too few fields: %d", len(fields))
	}

	addr := ExtractAddress(fields[1])
	if addr == "" {
		return domain.BounceEvent{}, fmt.Errorf("no recipient address")
	}

	ts, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(fields[0]))
	if err != nil {
		ts = time.Now().UTC()
	}

	status := strings.TrimSpace(fields[2])
	category := ""
	if len(fields) > 3 {
		category = strings.TrimSpace(fields[3])
	}
	reason := status
	if len(fields) > 4 {
		reason = strings.TrimSpace(fields[4])
	}

	return domain.BounceEvent{
		Address:    addr,
		Kind:       classifyDSN(status, category),
		Source:     domain.SourceDiagnostic,
		Reason:     reason,
		OccurredAt: ts,
		RawPayload: []byte(line),
	}, nil
}

// classifyDSN maps a DSN status plus MTA bounce category onto an event kind.
// The category wins when present; the status class decides otherwise.
func classifyDSN(status, category string) domain.BounceKind {
	switch strings.ToLower(category) {
	case "bad-mailbox", "bad-domain", "inactive-mailbox", "hard":
		return domain.KindHard
	case "spam-related", "policy-related", "complaint", "spam":
		return domain.KindComplaint
	case "quota-issues", "no-answer-from-host", "routing-errors", "soft", "block":
		return domain.KindSoft
	}

	switch {
	case strings.HasPrefix(status, "5"):
		return domain.KindHard
	case strings.HasPrefix(status, "4"):
		return domain.KindSoft
	}
	return domain.KindOther
}
