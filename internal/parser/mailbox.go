package parser

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/ignite/bounce-monitor/internal/domain"
)

// MailboxParser inspects a fetched mailbox message for delivery-status
// indicators and produces zero-or-one BounceEvent.
//
// Detection order:
//  1. message/delivery-status part (RFC 3464 DSN) — authoritative
//  2. X-Failed-Recipients header (exim-style NDR)
//  3. body failure patterns next to an extractable address
//
// An unparseable message yields no event. The parser never guesses an
// address it cannot find.
type MailboxParser struct{}

// NewMailboxParser returns a parser for raw mailbox messages.
func NewMailboxParser() *MailboxParser {
	return &MailboxParser{}
}

// Parse examines one raw RFC 5322 message. A nil event with nil error means
// the message is not a recognizable bounce; the caller counts it skipped.
func (p *MailboxParser) Parse(raw []byte) (*domain.BounceEvent, error) {
	m, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	occurred := time.Now().UTC()
	if d := m.Header.Get("Date"); d != "" {
		if ts, err := mail.ParseDate(d); err == nil {
			occurred = ts.UTC()
		}
	}

	// Unsubscribe requests arrive in the same mailbox on some providers.
	if subj := m.Header.Get("Subject"); strings.Contains(strings.ToLower(subj), "unsubscribe") {
		if addr := senderAddress(m.Header.Get("From")); addr != "" {
			return &domain.BounceEvent{
				Address:    addr,
				Kind:       domain.KindUnsubscribe,
				Source:     domain.SourceMailbox,
				Reason:     "unsubscribe request",
				OccurredAt: occurred,
				RawPayload: raw,
			}, nil
		}
	}

	if ev := p.parseDeliveryStatus(m, raw, occurred); ev != nil {
		return ev, nil
	}

	if failed := m.Header.Get("X-Failed-Recipients"); failed != "" {
		if addr := ExtractAddress(failed); addr != "" {
			body := readBody(m)
			return &domain.BounceEvent{
				Address:    addr,
				Kind:       classifyText(body),
				Source:     domain.SourceMailbox,
				Reason:     firstFailureLine(body),
				OccurredAt: occurred,
				RawPayload: raw,
			}, nil
		}
	}

	return p.parseBodyHeuristic(m, raw, occurred), nil
}

// parseDeliveryStatus walks MIME parts looking for message/delivery-status.
func (p *MailboxParser) parseDeliveryStatus(m *message.Entity, raw []byte, occurred time.Time) *domain.BounceEvent {
	mr := m.MultipartReader()
	if mr == nil {
		return nil
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil
		}

		ct, _, _ := part.Header.ContentType()
		switch {
		case ct == "message/delivery-status":
			body, _ := io.ReadAll(part.Body)
			recipient, status, diag := parseDSNFields(string(body))
			if recipient == "" {
				return nil
			}
			reason := diag
			if reason == "" {
				reason = status
			}
			return &domain.BounceEvent{
				Address:    recipient,
				Kind:       classifyStatus(status, diag),
				Source:     domain.SourceMailbox,
				Reason:     reason,
				OccurredAt: occurred,
				RawPayload: raw,
			}
		case strings.HasPrefix(ct, "multipart/"):
			if ev := p.parseDeliveryStatus(part, raw, occurred); ev != nil {
				return ev
			}
		}
	}
}

// parseBodyHeuristic handles plain-text NDRs from older MTAs: a failure
// phrase and an address on or near the same line.
func (p *MailboxParser) parseBodyHeuristic(m *message.Entity, raw []byte, occurred time.Time) *domain.BounceEvent {
	body := readBody(m)
	if body == "" {
		return nil
	}

	lower := strings.ToLower(body)
	if !strings.Contains(lower, "delivery") && !strings.Contains(lower, "returned to sender") &&
		!strings.Contains(lower, "undeliver") && !strings.Contains(lower, "failure notice") {
		return nil
	}

	for _, line := range strings.Split(body, "\n") {
		ll := strings.ToLower(line)
		if !containsFailurePhrase(ll) {
			continue
		}
		if addr := ExtractAddress(line); addr != "" {
			return &domain.BounceEvent{
				Address:    addr,
				Kind:       classifyText(ll),
				Source:     domain.SourceMailbox,
				Reason:     strings.TrimSpace(line),
				OccurredAt: occurred,
				RawPayload: raw,
			}
		}
	}
	return nil
}

// parseDSNFields reads the per-recipient fields of a delivery-status part.
func parseDSNFields(body string) (recipient, status, diag string) {
	for _, line := range strings.Split(body, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToLower(parts[0]))
		val := strings.TrimSpace(parts[1])
		switch key {
		case "final-recipient", "original-recipient":
			// "rfc822; user@example.com"
			if addr := ExtractAddress(val); addr != "" && recipient == "" {
				recipient = addr
			}
		case "status":
			status = val
		case "diagnostic-code":
			diag = val
		}
	}
	return
}

// classifyStatus maps a DSN status (and diagnostic text) onto hard vs soft.
func classifyStatus(status, diag string) domain.BounceKind {
	switch {
	case strings.HasPrefix(status, "5"):
		return domain.KindHard
	case strings.HasPrefix(status, "4"):
		return domain.KindSoft
	}
	return classifyText(strings.ToLower(diag))
}

var hardPhrases = []string{
	"user unknown", "no such user", "does not exist", "invalid recipient",
	"unknown recipient", "mailbox unavailable", "mailbox not found",
	"address rejected", "account disabled", "recipient not found",
}

var softPhrases = []string{
	"quota", "mailbox full", "temporar", "try again", "deferred",
	"timed out", "connection refused", "greylist",
}

func classifyText(lower string) domain.BounceKind {
	for _, p := range hardPhrases {
		if strings.Contains(lower, p) {
			return domain.KindHard
		}
	}
	for _, p := range softPhrases {
		if strings.Contains(lower, p) {
			return domain.KindSoft
		}
	}
	return domain.KindOther
}

func containsFailurePhrase(lower string) bool {
	for _, p := range hardPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range softPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func firstFailureLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if containsFailurePhrase(strings.ToLower(line)) {
			return strings.TrimSpace(line)
		}
	}
	return "delivery failure"
}

func readBody(m *message.Entity) string {
	if mr := m.MultipartReader(); mr != nil {
		var sb strings.Builder
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			ct, _, _ := part.Header.ContentType()
			if ct == "" || strings.HasPrefix(ct, "text/") {
				b, _ := io.ReadAll(part.Body)
				sb.Write(b)
				sb.WriteByte('\n')
			}
		}
		return sb.String()
	}
	b, _ := io.ReadAll(m.Body)
	return string(b)
}

func senderAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return ExtractAddress(from)
}
