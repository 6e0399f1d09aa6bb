package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // access to the underlying client for event handling
	options   *optionTracker
	responses chan models.IncomingMessage
	done      chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		options:   newOptionTracker(),
		responses: make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}

	// A full Client gives us event handling; anything else is a mock.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.responses)
	return nil
}

// SendMessage sends a plain text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendInteractive renders the prompt with numbered options and records the
// mapping so a numbered reply can be resolved later.
func (s *WhatsAppService) SendInteractive(ctx context.Context, to string, in models.Interactive) error {
	if err := s.client.SendMessage(ctx, to, renderInteractive(in)); err != nil {
		slog.Error("WhatsAppService SendInteractive error", "error", err, "to", to)
		return err
	}
	s.options.record(to, in.Options)
	return nil
}

// SendDocument sends a file attachment.
func (s *WhatsAppService) SendDocument(ctx context.Context, to, filename, mimeType string, data []byte) error {
	slog.Debug("WhatsAppService SendDocument invoked", "to", to, "filename", filename, "size", len(data))
	if err := s.client.SendDocument(ctx, to, filename, mimeType, data); err != nil {
		slog.Error("WhatsAppService SendDocument error", "error", err, "to", to)
		return err
	}
	return nil
}

// ResolveOption maps a reply against the recipient's last interactive prompt.
func (s *WhatsAppService) ResolveOption(from, reply string) (string, bool) {
	return s.options.resolve(from, reply)
}

// Responses returns a channel of incoming messages.
func (s *WhatsAppService) Responses() <-chan models.IncomingMessage {
	return s.responses
}

// handleEvents registers a Whatsmeow event handler feeding the responses channel.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})

	slog.Debug("WhatsAppService event handler registered")
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage extracts text from an incoming message and forwards it.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	incoming := models.IncomingMessage{
		MessageID: evt.Info.ID,
		From:      fromNumber,
		Body:      messageText,
		Time:      evt.Info.Timestamp.Unix(),
	}

	select {
	case s.responses <- incoming:
		slog.Debug("WhatsAppService incoming message forwarded", "from", incoming.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", incoming.From)
	}
}

var _ Service = (*WhatsAppService)(nil)
