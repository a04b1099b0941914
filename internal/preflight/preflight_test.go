package preflight_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sentinel/internal/config"
	"sentinel/internal/preflight"
	"sentinel/internal/testsupport"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := preflight.CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := preflight.CheckFreeSpace("disk", dir, 0); !result.Passed {
		t.Fatalf("expected pass with no minimum, got: %s", result.Detail)
	}
	result := preflight.CheckFreeSpace("disk", dir, 1<<40)
	if result.Passed || !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected failure for an impossible minimum, got %#v", result)
	}
	if result := preflight.CheckFreeSpace("disk", filepath.Join(dir, "missing"), 0); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckStore(t *testing.T) {
	if result := preflight.CheckStore(context.Background(), pinger{}); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	result := preflight.CheckStore(context.Background(), pinger{err: errors.New("connection refused")})
	if result.Passed || result.Detail != "connection refused" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestCheckContentModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{
				"finish_reason": "stop",
				"message":       map[string]any{"content": `{"ok":true}`},
			}},
		})
	}))
	defer srv.Close()

	cfg := config.ContentScoring{ModelBaseURL: srv.URL, ModelName: "moderation", ModelAPIKey: "good-key"}
	if result := preflight.CheckContentModel(context.Background(), cfg); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	cfg.ModelAPIKey = "bad-key"
	if result := preflight.CheckContentModel(context.Background(), cfg); result.Passed {
		t.Fatal("expected failure for bad key")
	}
	cfg.ModelAPIKey = ""
	if result := preflight.CheckContentModel(context.Background(), cfg); result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result for missing key: %#v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := preflight.RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_TestConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	results := preflight.RunAll(context.Background(), cfg, pinger{})
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if !strings.Contains(strings.Join(names, ","), "Store") {
		t.Fatalf("expected store check, got %v", names)
	}
	if failed := preflight.Failed(results); len(failed) != 0 {
		t.Fatalf("expected no failures, got %#v", failed)
	}
}

func TestRunAll_ReportsMissingDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := preflight.RunAll(context.Background(), cfg, nil)
	if len(preflight.Failed(results)) == 0 {
		t.Fatal("expected failures before directories exist")
	}
	for _, r := range results {
		if r.Name == "Store" || r.Name == "Content model" {
			t.Fatalf("unexpected check %q", r.Name)
		}
	}
}
