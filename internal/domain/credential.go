package domain

import (
	"net"
	"strconv"
	"time"
)

// MailboxProtocol selects the polling protocol for a bounce mailbox.
type MailboxProtocol string

const (
	ProtocolIMAP MailboxProtocol = "imap"
	ProtocolPOP3 MailboxProtocol = "pop3"
)

// MailboxEncryption selects transport security for the mailbox connection.
type MailboxEncryption string

const (
	EncryptionSSL  MailboxEncryption = "ssl" // implicit TLS on connect
	EncryptionTLS  MailboxEncryption = "tls" // STARTTLS upgrade
	EncryptionNone MailboxEncryption = "none"
)

// BounceCredential is a connection profile for polling a bounce mailbox.
// At most one credential exists per (user, domain); a credential with an
// empty Domain is the user's default/fallback, and at most one of those may
// have IsDefault set.
type BounceCredential struct {
	ID              string            `json:"id" db:"id"`
	UserID          string            `json:"user_id" db:"user_id"`
	Domain          string            `json:"domain,omitempty" db:"domain"`
	Protocol        MailboxProtocol   `json:"protocol" db:"protocol"`
	Host            string            `json:"host" db:"host"`
	Port            int               `json:"port" db:"port"`
	Username        string            `json:"username" db:"username"`
	SecretEncrypted string            `json:"-" db:"secret_encrypted"`
	Encryption      MailboxEncryption `json:"encryption" db:"encryption"`
	IsDefault       bool              `json:"is_default" db:"is_default"`
	IsActive        bool              `json:"is_active" db:"is_active"`
	LastCheckedAt   *time.Time        `json:"last_checked_at,omitempty" db:"last_checked_at"`
	ProcessedCount  int64             `json:"processed_count" db:"processed_count"`
	LastError       string            `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// Addr returns the host:port dial address for the credential.
func (c BounceCredential) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
