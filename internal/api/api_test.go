package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/CareLedger/internal/flow"
	"github.com/BTreeMap/CareLedger/internal/ledger"
	"github.com/BTreeMap/CareLedger/internal/store"
	"github.com/BTreeMap/CareLedger/internal/testutil"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore, *testutil.RecordingMessenger) {
	t.Helper()
	st := store.NewInMemoryStore()
	led := ledger.New(st)
	msg := testutil.NewRecordingMessenger()
	engine := flow.NewEngine(st, led, msg)
	return NewServer(st, led, engine, msg, opts...), st, msg
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// waitForUser polls until the engine has created the user row.
func waitForUser(t *testing.T, st *store.InMemoryStore, phone string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		u, err := st.GetUser("", phone)
		if err != nil {
			t.Fatal(err)
		}
		if u != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never created", phone)
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "healthy")
}

func TestHealthHandlerMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "health POST")
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	s, _, _ := newTestServer(t)
	body := testutil.MustMarshalJSON(t, map[string]string{"body": "hi"})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing fields")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestWebhookRejectsBadJSON(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("{not json"))))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad json")
}

func TestWebhookSignatureVerification(t *testing.T) {
	const secret = "test-secret"
	s, _, _ := newTestServer(t, WithWebhookSecret(secret))
	body := testutil.MustMarshalJSON(t, map[string]string{
		"message_id": "msg-1", "from": "+15551230001", "body": "summary",
	})

	// Unsigned request is refused.
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "unsigned")

	// Wrong signature is refused.
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(body, "wrong"))
	s.routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "bad signature")

	// Correct signature is accepted.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(body, secret))
	s.routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "valid signature")
}

func TestWebhookDispatchesToEngine(t *testing.T) {
	s, st, msg := newTestServer(t)
	body := testutil.MustMarshalJSON(t, map[string]string{
		"message_id": "msg-1", "from": "+15551230001", "body": "hello",
	})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "webhook")

	waitForUser(t, st, "+15551230001")

	// An unknown message is answered with the menu.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(msg.Interactives) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine never replied")
}

func TestWebhookDeduplicates(t *testing.T) {
	s, _, _ := newTestServer(t)
	body := testutil.MustMarshalJSON(t, map[string]string{
		"message_id": "msg-dup", "from": "+15551230001", "body": "hello",
	})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "first delivery")

	rr = httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "duplicate delivery")
	testutil.AssertJSONResponse(t, rr, "ignored")
}

func TestRemindersRunHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reminders/run", nil))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "reminders run")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing result: %v", resp)
	}
	if sent, ok := result["sent"].(float64); !ok || sent != 0 {
		t.Errorf("sent = %v, want 0", result["sent"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	if !verifySignature(body, sign(body, "s3cret"), "s3cret") {
		t.Error("valid signature rejected")
	}
	if verifySignature(body, sign(body, "other"), "s3cret") {
		t.Error("invalid signature accepted")
	}
	if verifySignature(body, "", "s3cret") {
		t.Error("empty signature accepted")
	}
}
