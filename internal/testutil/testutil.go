// Package testutil provides common test utilities and helpers for CareLedger tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// RecordingMessenger implements messaging.Service for tests: it records all
// outbound traffic and resolves numbered replies against the last
// interactive prompt per recipient, like the real services.
type RecordingMessenger struct {
	mu           sync.Mutex
	Texts        []SentText
	Interactives []SentInteractive
	Documents    []SentDocument
	pending      map[string][]models.InteractiveOption
	responses    chan models.IncomingMessage
}

// SentText is one recorded text message.
type SentText struct {
	To   string
	Body string
}

// SentInteractive is one recorded interactive prompt.
type SentInteractive struct {
	To     string
	Prompt models.Interactive
}

// SentDocument is one recorded document.
type SentDocument struct {
	To       string
	Filename string
	MimeType string
	Data     []byte
}

// NewRecordingMessenger creates an empty recorder.
func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{
		pending:   map[string][]models.InteractiveOption{},
		responses: make(chan models.IncomingMessage, 16),
	}
}

// ValidateAndCanonicalizeRecipient strips non-digits and prefixes "+".
func (m *RecordingMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	var digits strings.Builder
	for _, c := range recipient {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() < 6 {
		return "", errors.New("invalid recipient")
	}
	return "+" + digits.String(), nil
}

// SendMessage records a text send.
func (m *RecordingMessenger) SendMessage(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, SentText{To: to, Body: body})
	return nil
}

// SendInteractive records the prompt and arms option resolution for it.
func (m *RecordingMessenger) SendInteractive(_ context.Context, to string, prompt models.Interactive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Interactives = append(m.Interactives, SentInteractive{To: to, Prompt: prompt})
	m.pending[to] = prompt.Options
	return nil
}

// SendDocument records a document send.
func (m *RecordingMessenger) SendDocument(_ context.Context, to, filename, mimeType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents = append(m.Documents, SentDocument{To: to, Filename: filename, MimeType: mimeType, Data: data})
	return nil
}

// ResolveOption maps a numbered/id/label reply to the pending option id.
func (m *RecordingMessenger) ResolveOption(from, reply string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts, ok := m.pending[from]
	if !ok {
		return "", false
	}
	reply = strings.TrimSpace(reply)
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(opts) {
		delete(m.pending, from)
		return opts[n-1].ID, true
	}
	for _, o := range opts {
		if o.ID == reply || strings.EqualFold(o.Label, reply) {
			delete(m.pending, from)
			return o.ID, true
		}
	}
	return "", false
}

// Start is a no-op.
func (m *RecordingMessenger) Start(context.Context) error { return nil }

// Stop is a no-op.
func (m *RecordingMessenger) Stop() error { return nil }

// Responses returns the injectable inbound channel.
func (m *RecordingMessenger) Responses() <-chan models.IncomingMessage { return m.responses }

// Inject delivers a message as if the transport received it.
func (m *RecordingMessenger) Inject(msg models.IncomingMessage) {
	m.responses <- msg
}

// LastText returns the most recent text body, failing the test when none
// was sent.
func (m *RecordingMessenger) LastText(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Texts) == 0 {
		t.Fatal("no text messages sent")
	}
	return m.Texts[len(m.Texts)-1].Body
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
