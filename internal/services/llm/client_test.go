package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sentinel/internal/services/llm"
)

func completionServer(t *testing.T, contents ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		content := contents[len(contents)-1]
		if n <= len(contents) {
			content = contents[n-1]
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message":       map[string]any{"content": content},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func fastClient(url string, opts ...llm.Option) *llm.Client {
	opts = append([]llm.Option{llm.WithRetryBackoff(time.Millisecond, 2*time.Millisecond)}, opts...)
	return llm.NewClient(llm.Config{APIKey: "test", BaseURL: url, Model: "demo-model"}, opts...)
}

func TestClientHealthCheck(t *testing.T) {
	server, _ := completionServer(t, `{"ok":true}`)

	if err := fastClient(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckCodeFence(t *testing.T) {
	server, _ := completionServer(t, "```json\n{\"ok\":true}\n```")

	if err := fastClient(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckUnauthorizedDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	err := fastClient(server.URL).HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected health check to fail")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt for 401, got %d", calls.Load())
	}
}

func TestClientClassifyContent(t *testing.T) {
	server, _ := completionServer(t, "Here you go:\n{\"confidence\":1.7,\"categories\":[\" Weapons \",\"\"],\"reason\":\" sells knives \"}")

	verdict, err := fastClient(server.URL).ClassifyContent(context.Background(), "Combat knife, unregistered")
	if err != nil {
		t.Fatalf("ClassifyContent returned error: %v", err)
	}
	if verdict.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", verdict.Confidence)
	}
	if len(verdict.Categories) != 1 || verdict.Categories[0] != "weapons" {
		t.Fatalf("unexpected categories %v", verdict.Categories)
	}
	if verdict.Reason != "sells knives" || verdict.Raw == "" {
		t.Fatalf("unexpected verdict %#v", verdict)
	}
}

func TestClientClassifyContentRequiresText(t *testing.T) {
	client := llm.NewClient(llm.Config{APIKey: "test", BaseURL: "http://127.0.0.1:1"})
	if _, err := client.ClassifyContent(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	server, calls := completionServer(t, "", "", `{"confidence":0.1,"categories":[],"reason":"fine"}`)

	verdict, err := fastClient(server.URL, llm.WithRetryMaxAttempts(5)).ClassifyContent(context.Background(), "Hand-woven basket")
	if err != nil {
		t.Fatalf("ClassifyContent returned error: %v", err)
	}
	if verdict.Confidence != 0.1 {
		t.Fatalf("expected confidence 0.1, got %v", verdict.Confidence)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClientEmptyContentExhaustsAttempts(t *testing.T) {
	server, calls := completionServer(t, "")

	_, err := fastClient(server.URL, llm.WithRetryMaxAttempts(2)).ClassifyContent(context.Background(), "Clay pot")
	if err == nil {
		t.Fatal("expected classify to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "failed after 2 attempts") {
		t.Fatalf("unexpected error %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"ok":true}`}}},
		})
	}))
	defer server.Close()

	start := time.Now()
	if err := fastClient(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Fatalf("expected Retry-After to be capped by max delay, took %s", elapsed)
	}
}

func TestDecodeLLMJSONToleratesFences(t *testing.T) {
	var out struct {
		Confidence float64 `json:"confidence"`
	}
	if err := llm.DecodeLLMJSON("```json\n{\"confidence\":0.4}\n```", &out); err != nil {
		t.Fatalf("DecodeLLMJSON failed: %v", err)
	}
	if out.Confidence != 0.4 {
		t.Fatalf("expected 0.4, got %v", out.Confidence)
	}
	if err := llm.DecodeLLMJSON("not json", &out); err == nil {
		t.Fatal("expected error for non-json payload")
	}
}

type countingTransport struct {
	calls atomic.Int32
	base  http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.base.RoundTrip(req)
}

func TestClientUsesProvidedHTTPClient(t *testing.T) {
	server, calls := completionServer(t, `{"ok":true}`)
	transport := &countingTransport{base: server.Client().Transport}

	client := fastClient(server.URL, llm.WithHTTPClient(&http.Client{Transport: transport}))
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if transport.calls.Load() != 1 || calls.Load() != 1 {
		t.Fatalf("expected one request through the provided client, got transport=%d server=%d", transport.calls.Load(), calls.Load())
	}
}
