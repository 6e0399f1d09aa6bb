package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// maxWebhookBody caps inbound payloads at 64 KiB.
const maxWebhookBody = 64 << 10

// webhookPayload is the inbound message envelope.
type webhookPayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	TenantID  string `json:"tenant_id,omitempty"`
}

// webhookHandler accepts one inbound message, verifies its signature when a
// secret is configured, deduplicates by message id, and hands it to the
// engine asynchronously.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSON(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	if s.opts.WebhookSecret != "" {
		if !verifySignature(raw, r.Header.Get(SignatureHeader), s.opts.WebhookSecret) {
			slog.Warn("Server.webhookHandler: signature verification failed", "remote", r.RemoteAddr)
			s.metrics.rejectedInbound.Inc()
			writeJSON(w, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
	}

	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSON(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if p.MessageID == "" || p.From == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("message_id and from are required"))
		return
	}

	fresh, err := s.store.RecordInbound(p.MessageID, p.From)
	if err != nil {
		slog.Error("Server.webhookHandler: dedup check failed", "error", err, "message_id", p.MessageID)
		writeJSON(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}
	if !fresh {
		slog.Debug("Server.webhookHandler: duplicate delivery ignored", "message_id", p.MessageID)
		s.metrics.duplicateInbound.Inc()
		writeJSON(w, http.StatusOK, models.Ignored("Duplicate message"))
		return
	}

	go s.handleInbound(context.Background(), p.MessageID, p.From, p.Body, p.TenantID)
	writeJSON(w, http.StatusAccepted, models.Success(map[string]string{"message_id": p.MessageID}))
}

// dispatch runs the dedup gate and engine for a transport-delivered message.
func (s *Server) dispatch(ctx context.Context, messageID, from, body, tenantID string) {
	fresh, err := s.store.RecordInbound(messageID, from)
	if err != nil {
		slog.Error("Server.dispatch: dedup check failed", "error", err, "message_id", messageID)
		return
	}
	if !fresh {
		s.metrics.duplicateInbound.Inc()
		return
	}
	go s.handleInbound(ctx, messageID, from, body, tenantID)
}

// handleInbound invokes the engine with a bounded timeout and stamps the
// message processed on success.
func (s *Server) handleInbound(ctx context.Context, messageID, from, body, tenantID string) {
	s.metrics.inboundMessages.Inc()
	timer := s.metrics.handleDuration
	start := nowFunc()

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	err := s.engine.HandleMessage(hctx, models.IncomingMessage{
		MessageID: messageID,
		From:      from,
		Body:      body,
		TenantID:  tenantID,
	})
	timer.Observe(nowFunc().Sub(start).Seconds())
	if err != nil {
		slog.Error("Server.handleInbound: engine failed", "error", err, "message_id", messageID)
		s.metrics.handleFailures.Inc()
		return
	}
	if err := s.store.MarkProcessed(messageID); err != nil {
		slog.Warn("Server.handleInbound: failed to mark processed", "error", err, "message_id", messageID)
	}
}

// verifySignature checks a hex HMAC-SHA256 over body in constant time.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
