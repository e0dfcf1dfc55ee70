// Package mailbox opens IMAP and POP3 sessions against bounce mailboxes and
// exposes them behind one connection interface, so ingestion does not care
// which protocol a credential speaks.
package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/domain"
)

// Conn is an open session with one bounce mailbox. Message ids are only
// valid for the lifetime of the session.
type Conn interface {
	// List returns the ids of messages available for processing, capped
	// by the configured batch size.
	List(ctx context.Context) ([]uint32, error)

	// Fetch returns the full raw message.
	Fetch(ctx context.Context, id uint32) ([]byte, error)

	// MoveProcessed takes the message out of the inbox. IMAP moves it to
	// the processed folder; POP3 has no folders, so it deletes.
	MoveProcessed(ctx context.Context, id uint32) error

	Close(ctx context.Context) error
}

// Client dials bounce mailboxes.
type Client interface {
	Connect(ctx context.Context, cred *domain.BounceCredential, password string) (Conn, error)
}

// NewClient returns a client dispatching on the credential's protocol.
func NewClient(cfg config.MailboxConfig) Client {
	return &client{cfg: cfg}
}

type client struct {
	cfg config.MailboxConfig
}

func (c *client) Connect(ctx context.Context, cred *domain.BounceCredential, password string) (Conn, error) {
	switch cred.Protocol {
	case domain.ProtocolIMAP:
		return dialIMAP(ctx, c.cfg, cred, password)
	case domain.ProtocolPOP3:
		return dialPOP3(ctx, c.cfg, cred, password)
	default:
		return nil, fmt.Errorf("unsupported mailbox protocol %q", cred.Protocol)
	}
}

// ConnectionError wraps a mailbox failure with enough structure for the
// connection-test command to tell the operator what to check.
type ConnectionError struct {
	Op    string
	Host  string
	Port  int
	Err   error
	Hints []string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// connErr builds a ConnectionError with hints derived from the failure text
// and the credential's settings.
func connErr(op string, cred *domain.BounceCredential, err error) *ConnectionError {
	return &ConnectionError{
		Op:    op,
		Host:  cred.Host,
		Port:  cred.Port,
		Err:   err,
		Hints: hintsFor(op, cred, err),
	}
}

func hintsFor(op string, cred *domain.BounceCredential, err error) []string {
	var hints []string
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "auth") ||
		strings.Contains(msg, "login") || strings.Contains(msg, "password") ||
		strings.Contains(msg, "credentials"):
		hints = append(hints,
			"verify the username and password",
			"some providers require an app-specific password instead of the account password")
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate") ||
		strings.Contains(msg, "handshake"):
		hints = append(hints,
			fmt.Sprintf("encryption is set to %q; check it matches the server on port %d", cred.Encryption, cred.Port))
		if cred.Encryption == domain.EncryptionSSL && cred.Protocol == domain.ProtocolIMAP && cred.Port == 143 {
			hints = append(hints, "port 143 usually expects STARTTLS, not implicit SSL (try port 993)")
		}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		hints = append(hints,
			"the server did not answer in time; check the host, port and any firewall between the worker and the mail server")
	case strings.Contains(msg, "refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unreachable"):
		hints = append(hints,
			fmt.Sprintf("nothing is listening at %s; check the hostname and port", cred.Addr()))
	}

	if op == "select" {
		hints = append(hints, "the INBOX folder may be named differently on this server")
	}
	return hints
}
