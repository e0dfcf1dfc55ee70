package mailbox

import (
	"context"
	"fmt"

	"github.com/knadh/go-pop3"

	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/domain"
)

// pop3Conn is an authenticated POP3 session. POP3 has no folders, so
// MoveProcessed deletes; the server drops deleted messages at Quit.
type pop3Conn struct {
	conn        *pop3.Conn
	maxMessages int
}

func dialPOP3(_ context.Context, cfg config.MailboxConfig, cred *domain.BounceCredential, password string) (Conn, error) {
	p := pop3.New(pop3.Opt{
		Host:        cred.Host,
		Port:        cred.Port,
		TLSEnabled:  cred.Encryption == domain.EncryptionSSL || cred.Encryption == domain.EncryptionTLS,
		DialTimeout: cfg.Timeout(),
	})

	conn, err := p.NewConn()
	if err != nil {
		return nil, connErr("dial", cred, err)
	}
	if err := conn.Auth(cred.Username, password); err != nil {
		conn.Quit()
		return nil, connErr("login", cred, err)
	}

	return &pop3Conn{conn: conn, maxMessages: cfg.MaxMessages}, nil
}

func (c *pop3Conn) List(_ context.Context) ([]uint32, error) {
	count, _, err := c.conn.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat mailbox: %w", err)
	}
	if c.maxMessages > 0 && count > c.maxMessages {
		count = c.maxMessages
	}
	ids := make([]uint32, 0, count)
	for i := 1; i <= count; i++ {
		ids = append(ids, uint32(i))
	}
	return ids, nil
}

func (c *pop3Conn) Fetch(_ context.Context, id uint32) ([]byte, error) {
	buf, err := c.conn.RetrRaw(int(id))
	if err != nil {
		return nil, fmt.Errorf("retrieve message %d: %w", id, err)
	}
	return buf.Bytes(), nil
}

func (c *pop3Conn) MoveProcessed(_ context.Context, id uint32) error {
	if err := c.conn.Dele(int(id)); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

func (c *pop3Conn) Close(_ context.Context) error {
	return c.conn.Quit()
}
