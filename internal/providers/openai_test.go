package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func newOpenAIServer(t *testing.T, content string, payload *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if payload != nil {
			if err := json.Unmarshal(body, payload); err != nil {
				t.Errorf("unmarshal body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion(content))
	}))
}

func TestOpenAIEscalator_Escalate(t *testing.T) {
	t.Run("structured lines", func(t *testing.T) {
		var payload map[string]any
		server := newOpenAIServer(t, `{"lines": ["Chapter One", "It was a dark night."]}`, &payload)
		defer server.Close()

		esc, err := NewOpenAIEscalator(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		result, err := esc.Escalate(context.Background(), fusion.EscalationRequest{PageID: "p7", ImageRef: writeTestImage(t)})
		if err != nil {
			t.Fatalf("Escalate() error = %v", err)
		}
		if !result.Success || len(result.Lines) != 2 || result.Lines[1].Text != "It was a dark night." {
			t.Errorf("result = %+v", result)
		}

		if got, _ := payload["model"].(string); got != openAIDefaultModel {
			t.Errorf("model = %q", got)
		}
		rf, _ := payload["response_format"].(map[string]any)
		if rf["type"] != "json_schema" {
			t.Errorf("response_format = %v", payload["response_format"])
		}
		raw, _ := json.Marshal(payload["messages"])
		if !strings.Contains(string(raw), "data:image/png;base64,") {
			t.Error("image not sent")
		}
	})

	t.Run("reply violating schema", func(t *testing.T) {
		server := newOpenAIServer(t, `{"text": "Chapter One"}`, nil)
		defer server.Close()

		esc, err := NewOpenAIEscalator(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		result, err := esc.Escalate(context.Background(), fusion.EscalationRequest{ImageRef: writeTestImage(t)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success || !strings.Contains(result.Message, "schema") {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
		}))
		defer server.Close()

		esc, err := NewOpenAIEscalator(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		_, err = esc.Escalate(context.Background(), fusion.EscalationRequest{ImageRef: writeTestImage(t)})
		if _, ok := IsRateLimitError(err); !ok {
			t.Fatalf("expected RateLimitError, got %T: %v", err, err)
		}
	})
}
