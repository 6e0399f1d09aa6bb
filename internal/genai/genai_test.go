package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(_ context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func TestSummarize_Success(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "  Reminders arrive too late in the evening.  "}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := &Client{chat: mock}

	out, err := client.Summarize(context.Background(), "honestly the reminders come way too late, we are already asleep")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Reminders arrive too late in the evening." {
		t.Errorf("unexpected summary: %q", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system+user messages, got %d", len(mock.params.Messages))
	}
}

func TestSummarize_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Summarize(context.Background(), "some feedback")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestSummarize_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.Summarize(context.Background(), "some feedback")
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("expected no-choices error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	client, err := NewClient(WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("NewClient with explicit key: %v", err)
	}
	if client == nil {
		t.Fatal("expected client, got nil")
	}
}
