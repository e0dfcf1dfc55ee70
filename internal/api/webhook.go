package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/mail"
	"strings"

	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
	"github.com/ignite/bounce-monitor/internal/suppression"
)

const maxWebhookBody = 2 * 1024 * 1024

// WebhookHandler receives feedback-loop complaints pushed over HTTP and
// lands them on the suppression registry.
//
// Supports:
//   - ARF multipart/report (RFC 5965) - Yahoo, Outlook, AOL
//   - JSON webhook (ESP complaint events)
//   - bare message/feedback-report bodies
//   - plain POST with just an email address
type WebhookHandler struct {
	registry *suppression.Service
}

// NewWebhookHandler creates the complaint webhook handler.
func NewWebhookHandler(registry *suppression.Service) *WebhookHandler {
	return &WebhookHandler{registry: registry}
}

// HandleComplaint processes one pushed complaint report.
func (h *WebhookHandler) HandleComplaint(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, "bad content-type", http.StatusBadRequest)
		return
	}

	var recipient, reportedDomain string
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		recipient, reportedDomain = parseARFMultipart(body, params["boundary"])
	case mediaType == "application/json":
		recipient, reportedDomain = parseJSONWebhook(body)
	case mediaType == "message/feedback-report":
		recipient, reportedDomain = parseFeedbackReport(body)
	default:
		recipient = strings.TrimSpace(string(body))
	}

	if recipient == "" {
		http.Error(w, "no recipient found", http.StatusBadRequest)
		return
	}

	meta := map[string]string{}
	if reportedDomain != "" {
		meta["reported_domain"] = reportedDomain
	}
	_, err = h.registry.Add(r.Context(), recipient,
		domain.SuppressionComplaint, domain.SourceWebhook, "fbl webhook complaint", meta)
	if err != nil {
		logger.Error("webhook complaint not recorded", "error", err.Error())
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}

	logger.Info("webhook complaint suppressed", "email", recipient, "reported_domain", reportedDomain)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "processed", "email": suppression.Normalize(recipient)})
}

func parseARFMultipart(body []byte, boundary string) (recipient, reportedDomain string) {
	if boundary == "" {
		return "", ""
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		ct := part.Header.Get("Content-Type")
		partBody, _ := io.ReadAll(part)

		switch {
		case strings.Contains(ct, "message/feedback-report"):
			recipient, reportedDomain = parseFeedbackReport(partBody)
		case strings.Contains(ct, "message/rfc822"):
			if recipient != "" {
				continue
			}
			msg, err := mail.ReadMessage(bytes.NewReader(partBody))
			if err != nil {
				continue
			}
			if to := msg.Header.Get("To"); to != "" {
				if addr, _ := mail.ParseAddress(to); addr != nil {
					recipient = addr.Address
				}
			}
		}
	}
	return
}

func parseFeedbackReport(body []byte) (recipient, reportedDomain string) {
	for _, line := range strings.Split(string(body), "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToLower(parts[0]))
		val := strings.TrimSpace(parts[1])
		switch key {
		case "original-rcpt-to":
			recipient = val
		case "removal-recipient":
			if recipient == "" {
				recipient = val
			}
		case "reported-domain":
			reportedDomain = val
		}
	}
	return
}

func parseJSONWebhook(body []byte) (recipient, reportedDomain string) {
	var payload struct {
		Email     string `json:"email"`
		Recipient string `json:"recipient"`
		Domain    string `json:"domain"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	recipient = payload.Email
	if recipient == "" {
		recipient = payload.Recipient
	}
	return recipient, payload.Domain
}
