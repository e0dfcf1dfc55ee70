package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ignite/bounce-monitor/internal/credentials"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/mailbox"
	"github.com/ignite/bounce-monitor/internal/parser"
	"github.com/ignite/bounce-monitor/internal/reputation"
	"github.com/ignite/bounce-monitor/internal/suppression"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

const dsnBounce = `From: MAILER-DAEMON@mx.example.net
To: news@sender.io
Subject: Undelivered Mail Returned to Sender
Content-Type: multipart/report; report-type=delivery-status; boundary="BOUND"

--BOUND
Content-Type: message/delivery-status

Final-Recipient: rfc822; gone.user@example.com
Action: failed
Status: 5.1.1
Diagnostic-Code: smtp; 550 5.1.1 mailbox does not exist

--BOUND--
`

const ordinaryMail = `From: friend@example.com
To: news@sender.io
Subject: Lunch tomorrow?
Content-Type: text/plain

See you at noon.
`

func crlf(s string) []byte { return []byte(strings.ReplaceAll(s, "\n", "\r\n")) }

// --- fakes ---------------------------------------------------------------

type memSuppRepo struct {
	entries map[string]*domain.SuppressionEntry
	failOn  string
}

func newMemSuppRepo() *memSuppRepo {
	return &memSuppRepo{entries: make(map[string]*domain.SuppressionEntry)}
}

func (m *memSuppRepo) Upsert(_ context.Context, e *domain.SuppressionEntry) (*domain.SuppressionEntry, bool, error) {
	if e.Email == m.failOn {
		return nil, false, errors.New("database unavailable")
	}
	if cur, ok := m.entries[e.Email]; ok {
		cur.Reason = e.Reason
		cur.LastSeenAt = e.LastSeenAt
		return cur, false, nil
	}
	cp := *e
	cp.ID = "id-" + e.Email
	m.entries[e.Email] = &cp
	return &cp, true, nil
}

func (m *memSuppRepo) Exists(_ context.Context, email string) (bool, error) {
	_, ok := m.entries[email]
	return ok, nil
}

func (m *memSuppRepo) Get(_ context.Context, email string) (*domain.SuppressionEntry, error) {
	e, ok := m.entries[email]
	if !ok {
		return nil, suppression.ErrNotFound
	}
	return e, nil
}

func (m *memSuppRepo) Remove(_ context.Context, email string) error {
	if _, ok := m.entries[email]; !ok {
		return suppression.ErrNotFound
	}
	delete(m.entries, email)
	return nil
}

func (m *memSuppRepo) List(_ context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	var out []domain.SuppressionEntry
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, len(out), nil
}

func (m *memSuppRepo) Stats(_ context.Context) (*suppression.Stats, error) {
	return &suppression.Stats{Total: len(m.entries)}, nil
}

type memCredRepo struct {
	creds  map[string]*domain.BounceCredential
	checks map[string]string // id -> last error recorded
}

func newMemCredRepo(creds ...*domain.BounceCredential) *memCredRepo {
	m := &memCredRepo{creds: make(map[string]*domain.BounceCredential), checks: make(map[string]string)}
	for _, c := range creds {
		m.creds[c.ID] = c
	}
	return m
}

func (m *memCredRepo) Create(_ context.Context, c *domain.BounceCredential) (*domain.BounceCredential, error) {
	m.creds[c.ID] = c
	return c, nil
}

func (m *memCredRepo) Get(_ context.Context, id string) (*domain.BounceCredential, error) {
	c, ok := m.creds[id]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return c, nil
}

func (m *memCredRepo) ListActive(_ context.Context) ([]domain.BounceCredential, error) {
	var out []domain.BounceCredential
	for _, c := range m.creds {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCredRepo) ListByUser(_ context.Context, userID string) ([]domain.BounceCredential, error) {
	var out []domain.BounceCredential
	for _, c := range m.creds {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCredRepo) Update(_ context.Context, c *domain.BounceCredential) error { return nil }
func (m *memCredRepo) Delete(_ context.Context, id string) error                  { return nil }

func (m *memCredRepo) RecordCheck(_ context.Context, id string, processed int, checkedAt time.Time, lastErr string) error {
	m.checks[id] = lastErr
	if c, ok := m.creds[id]; ok {
		c.ProcessedCount += int64(processed)
		c.LastError = lastErr
		c.LastCheckedAt = &checkedAt
	}
	return nil
}

type fakeConn struct {
	messages map[uint32][]byte
	moved    []uint32
	moveErr  error
}

func (f *fakeConn) List(context.Context) ([]uint32, error) {
	var ids []uint32
	for id := range f.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeConn) Fetch(_ context.Context, id uint32) ([]byte, error) {
	raw, ok := f.messages[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return raw, nil
}

func (f *fakeConn) MoveProcessed(_ context.Context, id uint32) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moved = append(f.moved, id)
	return nil
}

func (f *fakeConn) Close(context.Context) error { return nil }

// seqConn models IMAP sequence-number semantics: a move expunges the message
// and renumbers every later message down by one. List hands out the numbers
// highest first, like the real client.
type seqConn struct {
	msgs  [][]byte
	moved int
}

func (s *seqConn) List(context.Context) ([]uint32, error) {
	ids := make([]uint32, 0, len(s.msgs))
	for i := len(s.msgs); i >= 1; i-- {
		ids = append(ids, uint32(i))
	}
	return ids, nil
}

func (s *seqConn) Fetch(_ context.Context, id uint32) ([]byte, error) {
	if id == 0 || int(id) > len(s.msgs) {
		return nil, fmt.Errorf("no message %d", id)
	}
	return s.msgs[id-1], nil
}

func (s *seqConn) MoveProcessed(_ context.Context, id uint32) error {
	if id == 0 || int(id) > len(s.msgs) {
		return fmt.Errorf("no message %d", id)
	}
	s.msgs = append(s.msgs[:id-1], s.msgs[id:]...)
	s.moved++
	return nil
}

func (s *seqConn) Close(context.Context) error { return nil }

type seqClient struct{ conn *seqConn }

func (c *seqClient) Connect(context.Context, *domain.BounceCredential, string) (mailbox.Conn, error) {
	return c.conn, nil
}

type fakeClient struct {
	conns   map[string]*fakeConn // credential id -> session
	dialErr map[string]error
}

func (f *fakeClient) Connect(_ context.Context, cred *domain.BounceCredential, _ string) (mailbox.Conn, error) {
	if err := f.dialErr[cred.ID]; err != nil {
		return nil, err
	}
	return f.conns[cred.ID], nil
}

// --- helpers -------------------------------------------------------------

func testProcessor(t *testing.T, client mailbox.Client, credRepo *memCredRepo, suppRepo *memSuppRepo) (*Processor, *reputationRecorder) {
	t.Helper()
	cipher, err := credentials.NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	scores := newReputationRecorder()
	p := NewProcessor(
		credentials.NewService(credRepo, cipher),
		client,
		suppression.NewService(suppRepo, nil),
		reputation.NewService(scores, reputation.DefaultConfig()),
	)
	return p, scores
}

// reputationRecorder is a reputation.Store that remembers AddCounts and
// AttachEvidence calls.
type reputationRecorder struct {
	counts   map[string]reputation.WindowCounts
	evidence map[string]map[reputation.EvidenceKind][]byte
}

func newReputationRecorder() *reputationRecorder {
	return &reputationRecorder{
		counts:   make(map[string]reputation.WindowCounts),
		evidence: make(map[string]map[reputation.EvidenceKind][]byte),
	}
}

func (r *reputationRecorder) AddCounts(_ context.Context, d string, _ time.Time, c reputation.WindowCounts) error {
	cur := r.counts[d]
	cur.Sent += c.Sent
	cur.Delivered += c.Delivered
	cur.Bounced += c.Bounced
	cur.Complained += c.Complained
	r.counts[d] = cur
	return nil
}

func (r *reputationRecorder) WindowCounts(_ context.Context, d string, _ time.Time) (reputation.WindowCounts, error) {
	return r.counts[d], nil
}

func (r *reputationRecorder) UpsertSnapshot(context.Context, *domain.DomainReputationSnapshot) error {
	return nil
}

func (r *reputationRecorder) LatestSnapshot(context.Context, string) (*domain.DomainReputationSnapshot, error) {
	return nil, nil
}

func (r *reputationRecorder) Domains(context.Context) ([]string, error) { return nil, nil }

func (r *reputationRecorder) AttachEvidence(_ context.Context, d string, _ time.Time, kind reputation.EvidenceKind, payload []byte) error {
	if r.evidence[d] == nil {
		r.evidence[d] = make(map[reputation.EvidenceKind][]byte)
	}
	r.evidence[d][kind] = payload
	return nil
}

func sealedCred(t *testing.T, id string) *domain.BounceCredential {
	t.Helper()
	cipher, _ := credentials.NewCipher(testKey)
	sealed, err := cipher.Encrypt("pw")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return &domain.BounceCredential{
		ID:              id,
		UserID:          "u1",
		Domain:          "example.com",
		Protocol:        domain.ProtocolIMAP,
		Host:            "mail.example.com",
		Port:            993,
		Username:        "bounces@example.com",
		SecretEncrypted: sealed,
		Encryption:      domain.EncryptionSSL,
		IsActive:        true,
	}
}

// --- tests ---------------------------------------------------------------

func TestProcessCredential_SuppressesAndMoves(t *testing.T) {
	cred := sealedCred(t, "c1")
	conn := &fakeConn{messages: map[uint32][]byte{
		1: crlf(dsnBounce),
		2: crlf(ordinaryMail),
	}}
	client := &fakeClient{conns: map[string]*fakeConn{"c1": conn}}
	credRepo := newMemCredRepo(cred)
	suppRepo := newMemSuppRepo()
	p, scores := testProcessor(t, client, credRepo, suppRepo)

	res := p.ProcessCredential(context.Background(), cred)
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Processed != 2 || res.Suppressed != 1 {
		t.Errorf("processed=%d suppressed=%d, want 2 and 1", res.Processed, res.Suppressed)
	}
	if _, ok := suppRepo.entries["gone.user@example.com"]; !ok {
		t.Error("hard bounce not suppressed")
	}
	if len(conn.moved) != 2 {
		t.Errorf("moved %d messages, want 2", len(conn.moved))
	}
	if scores.counts["example.com"].Bounced != 1 {
		t.Errorf("bounce not counted for domain: %+v", scores.counts)
	}
	if cred.ProcessedCount != 2 || cred.LastError != "" {
		t.Errorf("bookkeeping: count=%d lastErr=%q", cred.ProcessedCount, cred.LastError)
	}
}

func TestProcessCredential_MovesDoNotSkipRenumberedMessages(t *testing.T) {
	cred := sealedCred(t, "c1")
	conn := &seqConn{msgs: [][]byte{
		crlf(dsnBounce),
		crlf(ordinaryMail),
		crlf(dsnBounce),
		crlf(ordinaryMail),
	}}
	p, _ := testProcessor(t, &seqClient{conn: conn}, newMemCredRepo(cred), newMemSuppRepo())

	res := p.ProcessCredential(context.Background(), cred)
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Processed != 4 {
		t.Errorf("processed = %d, want 4 (every message despite expunge renumbering)", res.Processed)
	}
	if conn.moved != 4 || len(conn.msgs) != 0 {
		t.Errorf("moved=%d remaining=%d, want the inbox fully drained", conn.moved, len(conn.msgs))
	}
}

func TestProcessCredential_PersistFailureLeavesMessage(t *testing.T) {
	cred := sealedCred(t, "c1")
	conn := &fakeConn{messages: map[uint32][]byte{1: crlf(dsnBounce)}}
	client := &fakeClient{conns: map[string]*fakeConn{"c1": conn}}
	suppRepo := newMemSuppRepo()
	suppRepo.failOn = "gone.user@example.com"
	p, _ := testProcessor(t, client, newMemCredRepo(cred), suppRepo)

	res := p.ProcessCredential(context.Background(), cred)
	if res.Suppressed != 0 {
		t.Errorf("suppressed = %d, want 0", res.Suppressed)
	}
	if len(conn.moved) != 0 {
		t.Error("message moved before its event was durably recorded")
	}
}

func TestProcessCredential_MoveFailureIsNotFatal(t *testing.T) {
	cred := sealedCred(t, "c1")
	conn := &fakeConn{
		messages: map[uint32][]byte{1: crlf(dsnBounce)},
		moveErr:  errors.New("folder is read-only"),
	}
	client := &fakeClient{conns: map[string]*fakeConn{"c1": conn}}
	suppRepo := newMemSuppRepo()
	p, _ := testProcessor(t, client, newMemCredRepo(cred), suppRepo)

	res := p.ProcessCredential(context.Background(), cred)
	if res.Error != "" {
		t.Errorf("move failure became fatal: %s", res.Error)
	}
	if res.Suppressed != 1 {
		t.Errorf("suppressed = %d, want 1", res.Suppressed)
	}
}

func TestProcessAll_BadCredentialDoesNotAbortBatch(t *testing.T) {
	good := sealedCred(t, "good")
	bad := sealedCred(t, "bad")
	conn := &fakeConn{messages: map[uint32][]byte{1: crlf(dsnBounce)}}
	client := &fakeClient{
		conns:   map[string]*fakeConn{"good": conn},
		dialErr: map[string]error{"bad": errors.New("connection refused")},
	}
	credRepo := newMemCredRepo(good, bad)
	p, _ := testProcessor(t, client, credRepo, newMemSuppRepo())

	batch, err := p.ProcessAll(context.Background())
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if len(batch.Credentials) != 2 {
		t.Fatalf("credentials = %d, want 2", len(batch.Credentials))
	}
	if batch.TotalSuppressed != 1 {
		t.Errorf("total suppressed = %d, want 1", batch.TotalSuppressed)
	}
	if credRepo.checks["bad"] == "" {
		t.Error("failing credential's error not recorded on its row")
	}
	if credRepo.checks["good"] != "" {
		t.Errorf("healthy credential has error recorded: %q", credRepo.checks["good"])
	}
}

func TestTestConnection_ReturnsHints(t *testing.T) {
	cred := sealedCred(t, "c1")
	cerr := &mailbox.ConnectionError{
		Op: "login", Host: cred.Host, Port: cred.Port,
		Err:   errors.New("authentication failed"),
		Hints: []string{"verify the username and password"},
	}
	client := &fakeClient{dialErr: map[string]error{"c1": cerr}}
	p, _ := testProcessor(t, client, newMemCredRepo(cred), newMemSuppRepo())

	err := p.TestConnection(context.Background(), cred)
	var got *mailbox.ConnectionError
	if !errors.As(err, &got) {
		t.Fatalf("err = %v, want *mailbox.ConnectionError", err)
	}
	if len(got.Hints) == 0 {
		t.Error("connection test lost the hints")
	}
}

func TestProcessReader_FBLFeedsRegistryAndScorer(t *testing.T) {
	input := "email,subject\n" +
		"spam.victim@gmail.com,promo blast\n" +
		"other@aol.com,promo blast\n"
	suppRepo := newMemSuppRepo()
	p, scores := testProcessor(t, &fakeClient{}, newMemCredRepo(), suppRepo)

	res, err := p.ProcessReader(context.Background(), strings.NewReader(input), parser.KindFBL)
	if err != nil {
		t.Fatalf("ProcessReader: %v", err)
	}
	if res.Added != 2 {
		t.Errorf("added = %d, want 2", res.Added)
	}
	if _, ok := suppRepo.entries["spam.victim@gmail.com"]; !ok {
		t.Error("complaint not suppressed")
	}
	if scores.counts["gmail.com"].Complained != 1 || scores.counts["aol.com"].Complained != 1 {
		t.Errorf("complaint counts wrong: %+v", scores.counts)
	}

	payload, ok := scores.evidence["gmail.com"][reputation.EvidenceFBL]
	if !ok {
		t.Fatalf("no fbl evidence attached for gmail.com: %+v", scores.evidence)
	}
	var summary struct {
		Events int `json:"events"`
	}
	if err := json.Unmarshal(payload, &summary); err != nil {
		t.Fatalf("evidence payload is not JSON: %v", err)
	}
	if summary.Events != 1 {
		t.Errorf("evidence events = %d, want 1", summary.Events)
	}
}

func TestProcessReader_PersistFailureDoesNotDropRemainingEvents(t *testing.T) {
	input := "email,subject\n" +
		"first@gmail.com,promo blast\n" +
		"broken@gmail.com,promo blast\n" +
		"last@aol.com,promo blast\n"
	suppRepo := newMemSuppRepo()
	suppRepo.failOn = "broken@gmail.com"
	p, _ := testProcessor(t, &fakeClient{}, newMemCredRepo(), suppRepo)

	res, err := p.ProcessReader(context.Background(), strings.NewReader(input), parser.KindFBL)
	if err != nil {
		t.Fatalf("ProcessReader: %v", err)
	}
	for _, addr := range []string{"first@gmail.com", "last@aol.com"} {
		if _, ok := suppRepo.entries[addr]; !ok {
			t.Errorf("%s not suppressed; events after a persist failure must still land", addr)
		}
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %d, want 1 for the failing address", len(res.Errors))
	}
	if !strings.Contains(res.Errors[0].Err, "persist") {
		t.Errorf("error %q does not name the persist failure", res.Errors[0].Err)
	}
}
