package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/bounce-monitor/internal/domain"
)

var (
	// ErrNotFound means the credential does not exist.
	ErrNotFound = errors.New("credential not found")

	// ErrDuplicate means a credential for the same (user, domain) already
	// exists.
	ErrDuplicate = errors.New("credential already exists for this user and domain")
)

// Repository is the persistence contract for bounce credentials.
type Repository interface {
	// Create inserts a credential. When the credential is marked default,
	// any previous default for the user is demoted in the same
	// transaction. A (user, domain) conflict returns ErrDuplicate.
	Create(ctx context.Context, c *domain.BounceCredential) (*domain.BounceCredential, error)

	Get(ctx context.Context, id string) (*domain.BounceCredential, error)
	ListActive(ctx context.Context) ([]domain.BounceCredential, error)
	ListByUser(ctx context.Context, userID string) ([]domain.BounceCredential, error)
	Update(ctx context.Context, c *domain.BounceCredential) error
	Delete(ctx context.Context, id string) error

	// RecordCheck updates the polling bookkeeping after a run: bumps
	// ProcessedCount by processed, sets LastCheckedAt, and stores
	// lastErr (empty clears a previous error).
	RecordCheck(ctx context.Context, id string, processed int, checkedAt time.Time, lastErr string) error
}

// Service couples the repository with the secret cipher.
type Service struct {
	repo   Repository
	cipher *Cipher
}

// NewService creates a credential service.
func NewService(repo Repository, cipher *Cipher) *Service {
	return &Service{repo: repo, cipher: cipher}
}

// Create validates, seals the password and inserts the credential.
func (s *Service) Create(ctx context.Context, c *domain.BounceCredential, password string) (*domain.BounceCredential, error) {
	if err := validate(c, password); err != nil {
		return nil, err
	}
	sealed, err := s.cipher.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("seal credential secret: %w", err)
	}
	c.SecretEncrypted = sealed
	c.IsActive = true
	return s.repo.Create(ctx, c)
}

// Password opens the credential's sealed secret.
func (s *Service) Password(c *domain.BounceCredential) (string, error) {
	return s.cipher.Decrypt(c.SecretEncrypted)
}

// Get returns one credential by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.BounceCredential, error) {
	return s.repo.Get(ctx, id)
}

// ListActive returns every active credential, the polling work list.
func (s *Service) ListActive(ctx context.Context) ([]domain.BounceCredential, error) {
	return s.repo.ListActive(ctx)
}

// ListByUser returns a user's credentials.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.BounceCredential, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Delete removes a credential.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// RecordCheck stores the outcome of one polling run.
func (s *Service) RecordCheck(ctx context.Context, id string, processed int, lastErr string) error {
	return s.repo.RecordCheck(ctx, id, processed, time.Now().UTC(), lastErr)
}

func validate(c *domain.BounceCredential, password string) error {
	switch {
	case c.UserID == "":
		return errors.New("user id is required")
	case c.Host == "" || c.Port <= 0:
		return errors.New("host and port are required")
	case strings.TrimSpace(c.Username) == "":
		return errors.New("username is required")
	case password == "":
		return errors.New("password is required")
	}
	switch c.Protocol {
	case domain.ProtocolIMAP, domain.ProtocolPOP3:
	default:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	switch c.Encryption {
	case domain.EncryptionSSL, domain.EncryptionTLS, domain.EncryptionNone:
	default:
		return fmt.Errorf("unsupported encryption %q", c.Encryption)
	}
	return nil
}
