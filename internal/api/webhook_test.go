package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/suppression"
)

type memRepo struct {
	entries map[string]*domain.SuppressionEntry
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[string]*domain.SuppressionEntry)}
}

func (m *memRepo) Upsert(_ context.Context, e *domain.SuppressionEntry) (*domain.SuppressionEntry, bool, error) {
	if cur, ok := m.entries[e.Email]; ok {
		cur.LastSeenAt = e.LastSeenAt
		return cur, false, nil
	}
	cp := *e
	cp.ID = "id-" + e.Email
	m.entries[e.Email] = &cp
	return &cp, true, nil
}

func (m *memRepo) Exists(_ context.Context, email string) (bool, error) {
	_, ok := m.entries[email]
	return ok, nil
}

func (m *memRepo) Get(_ context.Context, email string) (*domain.SuppressionEntry, error) {
	e, ok := m.entries[email]
	if !ok {
		return nil, suppression.ErrNotFound
	}
	return e, nil
}

func (m *memRepo) Remove(_ context.Context, email string) error {
	if _, ok := m.entries[email]; !ok {
		return suppression.ErrNotFound
	}
	delete(m.entries, email)
	return nil
}

func (m *memRepo) List(_ context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	var out []domain.SuppressionEntry
	for _, e := range m.entries {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, len(out), nil
}

func (m *memRepo) Stats(_ context.Context) (*suppression.Stats, error) {
	return &suppression.Stats{Total: len(m.entries)}, nil
}

func testServer(t *testing.T) (*Server, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	svc := suppression.NewService(repo, nil)
	return NewServer(config.ServerConfig{Host: "localhost", Port: 0}, svc), repo
}

func TestWebhook_JSONComplaint(t *testing.T) {
	srv, repo := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/fbl",
		strings.NewReader(`{"email":"Angry.User@Example.com","domain":"example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	e, ok := repo.entries["angry.user@example.com"]
	if !ok {
		t.Fatal("complaint not stored under normalized address")
	}
	if e.Type != domain.SuppressionComplaint || e.Source != domain.SourceWebhook {
		t.Errorf("stored entry = %+v", e)
	}
}

func TestWebhook_FeedbackReportBody(t *testing.T) {
	srv, repo := testServer(t)

	body := "Feedback-Type: abuse\nOriginal-Rcpt-To: victim@example.net\nReported-Domain: example.net\n"
	req := httptest.NewRequest(http.MethodPost, "/webhooks/fbl", strings.NewReader(body))
	req.Header.Set("Content-Type", "message/feedback-report")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := repo.entries["victim@example.net"]; !ok {
		t.Error("feedback-report recipient not suppressed")
	}
}

func TestWebhook_ARFMultipart(t *testing.T) {
	srv, repo := testServer(t)

	body := strings.Join([]string{
		"--frontier",
		"Content-Type: text/plain",
		"",
		"This is an email abuse report.",
		"--frontier",
		"Content-Type: message/feedback-report",
		"",
		"Feedback-Type: abuse",
		"Original-Rcpt-To: complainer@yahoo.com",
		"Reported-Domain: sender.io",
		"--frontier--",
		"",
	}, "\r\n")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/fbl", strings.NewReader(body))
	req.Header.Set("Content-Type", `multipart/report; report-type=feedback-report; boundary=frontier`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	e, ok := repo.entries["complainer@yahoo.com"]
	if !ok {
		t.Fatal("ARF recipient not suppressed")
	}
	if e.Metadata["reported_domain"] != "sender.io" {
		t.Errorf("metadata = %+v", e.Metadata)
	}
}

func TestWebhook_EmptyBodyRejected(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/fbl", strings.NewReader(""))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv, repo := testServer(t)
	repo.entries["blocked@example.com"] = &domain.SuppressionEntry{
		Email: "blocked@example.com", Type: domain.SuppressionBounce,
	}

	req := httptest.NewRequest(http.MethodGet, "/suppressions/check?email=Blocked@Example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"suppressed":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRemoveEndpoint_NotFound(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/suppressions/ghost@example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
