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

// FBLParser reads feedback-loop files: one complaint per line, loosely CSV
// shaped as address[,reason[,date]]. A header row is detected heuristically
// and skipped. Every parsed row becomes a complaint event whether or not the
// address is already suppressed — the registry dedupes downstream.
type FBLParser struct{}

// NewFBLParser returns a parser for FBL complaint files.
func NewFBLParser() *FBLParser {
	return &FBLParser{}
}

// ParseFile reads an FBL file from disk.
func (p *FBLParser) ParseFile(path string) ([]domain.BounceEvent, Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Result{}, fmt.Errorf("cannot open fbl file %s: %w", path, err)
	}
	defer f.Close()
	return p.ParseReader(f)
}

// ParseReader reads complaint rows from any io.Reader.
func (p *FBLParser) ParseReader(r io.Reader) ([]domain.BounceEvent, Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var events []domain.BounceEvent
	var res Result
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if lineNum == 1 && isHeaderLine(line) {
			continue
		}

		res.Processed++
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			res.Skipped++
			res.Errors = append(res.Errors, RowError{Line: lineNum, Raw: line, Err: "empty row"})
			continue
		}

		cols := strings.Split(trimmed, ",")
		addr := ExtractAddress(cols[0])
		if addr == "" {
			// Some providers quote or pad the address column; fall back to
			// scanning the whole row before giving up.
			addr = ExtractAddress(trimmed)
		}
		if addr == "" {
			res.Skipped++
			res.Errors = append(res.Errors, RowError{Line: lineNum, Raw: line, Err: "no parseable address"})
			continue
		}

		reason := "fbl complaint"
		if len(cols) > 1 && strings.TrimSpace(cols[1]) != "" {
			reason = strings.TrimSpace(cols[1])
		}

		ts := time.Now().UTC()
		if len(cols) > 2 {
			if parsed, err := parseFBLDate(strings.TrimSpace(cols[2])); err == nil {
				ts = parsed
			}
		}

		res.Added++
		events = append(events, domain.BounceEvent{
			Address:    addr,
			Kind:       domain.KindComplaint,
			Source:     domain.SourceFBL,
			Reason:     reason,
			OccurredAt: ts,
			RawPayload: []byte(line),
		})
	}

	if err := scanner.Err(); err != nil {
		return events, res, fmt.Errorf("error reading fbl data: %w", err)
	}
	return events, res, nil
}

// isHeaderLine reports whether a first row looks like a column header rather
// than data: it names an email/address column but carries no actual address.
func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, "email") && !strings.Contains(lower, "address") {
		return false
	}
	return ExtractAddress(line) == ""
}

var fblDateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
}

func parseFBLDate(s string) (time.Time, error) {
	for _, layout := range fblDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
