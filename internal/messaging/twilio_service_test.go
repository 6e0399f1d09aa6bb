package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/twiliowhatsapp"
	"github.com/BTreeMap/CareLedger/internal/whatsapp"
)

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "+15551234567" {
		t.Errorf("recipient not canonicalized: %q", mock.SentMessages[0].To)
	}

	if err := svc.SendMessage(context.Background(), "abc", "hello"); err == nil {
		t.Error("expected validation error for non-numeric recipient")
	}
}

func TestTwilioServiceSendInteractiveAndResolve(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	in := models.Interactive{
		Body: "Log today's session?",
		Options: []models.InteractiveOption{
			{ID: "attended", Label: "Attended"},
			{ID: "missed", Label: "Missed"},
		},
	}
	if err := svc.SendInteractive(context.Background(), "+15551234567", in); err != nil {
		t.Fatalf("SendInteractive: %v", err)
	}
	if len(mock.SentMessages) != 1 || !strings.Contains(mock.SentMessages[0].Body, "2. Missed") {
		t.Fatalf("rendered prompt wrong: %+v", mock.SentMessages)
	}

	id, ok := svc.ResolveOption("+15551234567", "2")
	if !ok || id != "missed" {
		t.Errorf("ResolveOption = %q, %v; want missed, true", id, ok)
	}
}

func TestTwilioServiceStopBlocksSends(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped after Stop, got %v", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "yes")
	form.Set("MessageSid", "SM123")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	select {
	case msg := <-svc.Responses():
		if msg.From != "+15551234567" || msg.Body != "yes" || msg.MessageID != "SM123" {
			t.Errorf("unexpected message %+v", msg)
		}
	default:
		t.Fatal("no message emitted")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWhatsAppServiceWithMockClient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	in := models.Interactive{
		Body:    "How did it go?",
		Options: []models.InteractiveOption{{ID: "mood:good", Label: "Good"}},
	}
	if err := svc.SendInteractive(context.Background(), "+15551234567", in); err != nil {
		t.Fatalf("SendInteractive: %v", err)
	}
	if id, ok := svc.ResolveOption("+15551234567", "1"); !ok || id != "mood:good" {
		t.Errorf("ResolveOption = %q, %v", id, ok)
	}

	if err := svc.SendDocument(context.Background(), "+15551234567", "report.pdf", "application/pdf", []byte("%PDF")); err != nil {
		t.Fatalf("SendDocument: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
