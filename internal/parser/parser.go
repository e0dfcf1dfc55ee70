// Package parser turns raw telemetry inputs into normalized BounceEvents.
//
// Four parsers cover the four raw shapes this subsystem consumes: fetched
// mailbox messages (DSN/NDR), MTA accounting files, MTA diagnostic files and
// feedback-loop (FBL) files. Each parser is a pure mapping from one record to
// zero-or-one event; idempotency against already-suppressed addresses is the
// registry's job, never the parser's.
package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects one of the closed set of parsers. Callers know the source of
// their input, so dispatch is by tag rather than runtime type inspection.
type Kind string

const (
	KindMailbox    Kind = "mailbox"
	KindAccounting Kind = "accounting"
	KindDiagnostic Kind = "diagnostic"
	KindFBL        Kind = "fbl"
)

// RowError records one bad row without aborting the file.
type RowError struct {
	Line int    `json:"line"`
	Raw  string `json:"raw"`
	Err  string `json:"error"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Err)
}

// Result carries per-run counters. Processed counts rows inspected (header
// rows excluded), Added counts rows that produced an event, Skipped counts
// malformed or unparseable rows.
type Result struct {
	Processed int        `json:"processed"`
	Added     int        `json:"added"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors,omitempty"`
}

var addressRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractAddress pulls the first email address out of a free-form string,
// normalized to lower case. Returns "" when no address is present; a parser
// must never guess an address it cannot find.
func ExtractAddress(s string) string {
	m := addressRegex.FindString(s)
	return strings.ToLower(m)
}

// DomainOf returns the lower-cased domain part of an address, or "".
func DomainOf(address string) string {
	if idx := strings.LastIndex(address, "@"); idx >= 0 {
		return strings.ToLower(address[idx+1:])
	}
	return ""
}
