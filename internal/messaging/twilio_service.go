package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages arrive via webhook rather than a live connection, so
// Start is a no-op and the webhook handler feeds the responses channel.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	options   *optionTracker
	responses chan models.IncomingMessage
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService wrapping the given Sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		options:   newOptionTracker(),
		responses: make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio (inbound arrives via webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends a plain text message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessage(ctx, canonicalTo, body)
}

// SendInteractive renders the prompt with numbered options (the Twilio Go SDK
// has no WhatsApp button support) and records the mapping for ResolveOption.
func (s *TwilioService) SendInteractive(ctx context.Context, to string, in models.Interactive) error {
	if err := s.SendMessage(ctx, to, renderInteractive(in)); err != nil {
		return err
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	s.options.record(canonicalTo, in.Options)
	return nil
}

// SendDocument is unsupported over the Twilio text API; the document is
// replaced by a short notice so the flow still completes.
func (s *TwilioService) SendDocument(ctx context.Context, to, filename, mimeType string, data []byte) error {
	slog.Warn("TwilioService SendDocument unsupported, sending notice instead", "to", to, "filename", filename)
	return s.SendMessage(ctx, to, fmt.Sprintf("A file (%s) was generated but cannot be delivered on this channel.", filename))
}

// ResolveOption maps a reply against the recipient's last interactive prompt.
func (s *TwilioService) ResolveOption(from, reply string) (string, bool) {
	return s.options.resolve(from, reply)
}

// Responses returns the channel of incoming messages.
func (s *TwilioService) Responses() <-chan models.IncomingMessage {
	return s.responses
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// WebhookHandler handles inbound Twilio webhook requests, parsing the form
// payload and emitting it on the responses channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService failed to parse webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	messageID := r.FormValue("MessageSid")

	if from == "" || body == "" {
		slog.Warn("TwilioService webhook missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("TwilioService webhook invalid sender", "error", err, "from", from)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	s.emit(models.IncomingMessage{
		MessageID: messageID,
		From:      canonical,
		Body:      body,
		Time:      time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// emit pushes an incoming message onto the responses channel without blocking.
func (s *TwilioService) emit(msg models.IncomingMessage) {
	if s.isStopped() {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.responses <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", msg.From)
	}
}

var _ Service = (*TwilioService)(nil)
