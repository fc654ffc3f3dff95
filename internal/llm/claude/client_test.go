package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linnemanlabs/avwatch/internal/rewrite"
)

func TestComplete_SendsPromptAndJoinsText(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-test" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [
				{"type": "text", "text": "✈️ first "},
				{"type": "text", "text": "second"}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk-test", Model: "claude-test", BaseURL: srv.URL})
	text, err := c.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "✈️ first second" {
		t.Errorf("text = %q", text)
	}

	if got["model"] != "claude-test" {
		t.Errorf("model = %v", got["model"])
	}
	if got["temperature"] != 0.2 {
		t.Errorf("temperature = %v", got["temperature"])
	}
	system, _ := got["system"].([]any)
	if len(system) != 1 || system[0].(map[string]any)["text"] != "system prompt" {
		t.Errorf("system = %v", got["system"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["role"] != "user" {
		t.Errorf("messages = %v", got["messages"])
	}
}

func TestComplete_PaymentRequired(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"billing_error","message":"credit balance too low"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL}).Complete(context.Background(), "s", "u")
	if !errors.Is(err, rewrite.ErrPaymentRequired) {
		t.Fatalf("err = %v, want ErrPaymentRequired", err)
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL}).Complete(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, rewrite.ErrPaymentRequired) {
		t.Error("500 reported as payment required")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New(Config{}).Name(); got != "claude" {
		t.Errorf("Name = %q", got)
	}
}
