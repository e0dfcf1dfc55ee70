package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
)

// imapConn is an authenticated IMAP session with INBOX selected.
type imapConn struct {
	client          *imapclient.Client
	processedFolder string
	maxMessages     int
	folderReady     bool
}

func dialIMAP(_ context.Context, cfg config.MailboxConfig, cred *domain.BounceCredential, password string) (Conn, error) {
	c, err := dialIMAPClient(cfg, cred)
	if err != nil {
		return nil, connErr("dial", cred, err)
	}

	if err := c.Login(cred.Username, password).Wait(); err != nil {
		c.Close()
		return nil, connErr("login", cred, err)
	}
	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		c.Close()
		return nil, connErr("select", cred, err)
	}

	return &imapConn{
		client:          c,
		processedFolder: cfg.ProcessedFolder,
		maxMessages:     cfg.MaxMessages,
	}, nil
}

// dialIMAPClient opens the transport with the configured timeout applied to
// the dial (and TLS handshake, for implicit SSL).
func dialIMAPClient(cfg config.MailboxConfig, cred *domain.BounceCredential) (*imapclient.Client, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout()}

	switch cred.Encryption {
	case domain.EncryptionSSL:
		conn, err := tls.DialWithDialer(dialer, "tcp", cred.Addr(), &tls.Config{ServerName: cred.Host})
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, &imapclient.Options{}), nil
	case domain.EncryptionTLS:
		conn, err := dialer.Dial("tcp", cred.Addr())
		if err != nil {
			return nil, err
		}
		c, err := imapclient.NewStartTLS(conn, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: cred.Host},
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		return c, nil
	default:
		conn, err := dialer.Dial("tcp", cred.Addr())
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, &imapclient.Options{}), nil
	}
}

func (c *imapConn) List(_ context.Context) ([]uint32, error) {
	sel, err := c.client.Select("INBOX", nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}
	return listSeqNums(int(sel.NumMessages), c.maxMessages), nil
}

// listSeqNums returns the sequence numbers of the oldest messages in the
// batch, highest first. Moving a message expunges it, which renumbers every
// message above it down by one, so the caller must never hold an unvisited
// number above the one it moves.
func listSeqNums(total, max int) []uint32 {
	n := total
	if max > 0 && n > max {
		n = max
	}
	ids := make([]uint32, 0, n)
	for i := n; i >= 1; i-- {
		ids = append(ids, uint32(i))
	}
	return ids
}

func (c *imapConn) Fetch(_ context.Context, id uint32) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	}
	msgs, err := c.client.Fetch(imap.SeqSetNum(id), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", id, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("fetch message %d: no data returned", id)
	}
	body := msgs[0].FindBodySection(section)
	if body == nil {
		return nil, fmt.Errorf("fetch message %d: server returned no body section", id)
	}
	return body, nil
}

func (c *imapConn) MoveProcessed(_ context.Context, id uint32) error {
	if !c.folderReady {
		// Creating an existing folder fails on most servers; that is fine.
		if err := c.client.Create(c.processedFolder, nil).Wait(); err != nil {
			logger.Debug("processed folder create skipped", "folder", c.processedFolder, "error", err.Error())
		}
		c.folderReady = true
	}

	if _, err := c.client.Move(imap.SeqSetNum(id), c.processedFolder).Wait(); err != nil {
		return fmt.Errorf("move message %d to %s: %w", id, c.processedFolder, err)
	}
	return nil
}

func (c *imapConn) Close(_ context.Context) error {
	if err := c.client.Logout().Wait(); err != nil {
		return c.client.Close()
	}
	return c.client.Close()
}
