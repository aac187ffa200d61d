package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PipeOpsHQ/sai/llm"
	"github.com/PipeOpsHQ/sai/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := New(context.Background(), "test-key",
		WithModel("gemini-test"),
		WithBaseURL(ts.URL+"/"),
		WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), "  "); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestClientGenerate_RoundTrip(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "hello there"}]}}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 3, "totalTokenCount": 7}
		}`))
	})

	resp, err := client.Generate(context.Background(), types.Request{
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "hi"},
			{Role: types.RoleAssistant, Content: "hey"},
			{Role: types.RoleUser, Content: "how are you"},
		},
		Generation: types.GenerationConfig{Temperature: 0.7, MaxOutputTokens: 1000, TopP: 0.8, TopK: 10},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != "hello there" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if resp.TotalTokens() != 7 {
		t.Fatalf("unexpected usage: %#v", resp.Usage)
	}

	contents, _ := captured["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %#v", captured["contents"])
	}
	second, _ := contents[1].(map[string]any)
	if second["role"] != "model" {
		t.Fatalf("assistant turn should map to model role, got %#v", second["role"])
	}
	cfg, _ := captured["generationConfig"].(map[string]any)
	if cfg["maxOutputTokens"] != float64(1000) || cfg["topK"] != float64(10) {
		t.Fatalf("unexpected generation config: %#v", cfg)
	}
}

func TestClientGenerate_NoCandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": []}`))
	})

	_, err := client.Generate(context.Background(), types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestClientGenerate_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`))
	})

	_, err := client.Generate(context.Background(), types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	var te *llm.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %T %v", err, err)
	}
	if te.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status code: %d", te.StatusCode)
	}
}

func TestToGeminiContents_SkipsUnknownRoles(t *testing.T) {
	contents := toGeminiContents([]types.Message{
		{Role: types.RoleUser, Content: "a"},
		{Role: types.Role("system"), Content: "ignored"},
	})
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
}
