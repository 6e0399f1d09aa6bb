// Package messaging provides pluggable message transports for CareLedger.
//
// A Service sends outbound text, interactive prompts and documents, and
// surfaces inbound messages on a channel. Implementations exist for a live
// WhatsApp connection (whatsmeow) and for the Twilio WhatsApp Business API.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// Channel tuning shared by all transports.
const (
	// DefaultChannelBufferSize defines the buffer size for the responses channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel sends
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendInteractive sends a prompt with selectable options. Transports
	// without native buttons render numbered options as text; the numbered
	// reply is resolved back to an option id via ResolveOption.
	SendInteractive(ctx context.Context, to string, in models.Interactive) error

	// SendDocument sends a file attachment (reports, data exports).
	SendDocument(ctx context.Context, to, filename, mimeType string, data []byte) error

	// ResolveOption maps an inbound reply against the options most recently
	// sent to the recipient. Returns the option id and true on a match.
	ResolveOption(from, reply string) (string, bool)

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming messages.
	Responses() <-chan models.IncomingMessage
}

// canonicalizePhone strips everything but digits and returns the number in
// +E.164-ish form. Numbers under 6 digits are rejected.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := phoneNumberRegex.ReplaceAllString(recipient, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", digits)
	}
	return "+" + digits, nil
}
