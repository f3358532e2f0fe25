package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func candidateBody(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
}

func TestGenerate_Success(t *testing.T) {
	var gotPath string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		respond(w, http.StatusOK, candidateBody("a reply"))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	got, err := c.Generate(context.Background(), "model-a", []Content{TextContent("User: hi")})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "a reply" {
		t.Fatalf("reply = %q", got)
	}
	if gotPath != "/models/model-a:generateContent" {
		t.Fatalf("path = %q", gotPath)
	}
	if _, ok := gotReq["contents"]; !ok {
		t.Fatalf("request missing contents: %v", gotReq)
	}
}

func TestGenerate_EmptyCandidatesIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	got, err := c.Generate(context.Background(), "model-a", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "" {
		t.Fatalf("reply = %q, want empty", got)
	}
}

func TestGenerate_429IsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "Quota exceeded"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	_, err := c.Generate(context.Background(), "model-a", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsRateLimited(err) {
		t.Fatalf("429 not classified as rate limited: %v", err)
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 429 {
		t.Fatalf("unexpected error shape: %v", err)
	}
}

func TestGenerate_QuotaWordingIsRateLimited(t *testing.T) {
	// Some quota failures arrive as 403 with a quota message.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusForbidden, map[string]any{
			"error": map[string]any{"code": 403, "status": "PERMISSION_DENIED", "message": "Daily quota exhausted for this project"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	_, err := c.Generate(context.Background(), "model-a", nil)
	if !IsRateLimited(err) {
		t.Fatalf("quota message not classified as rate limited: %v", err)
	}
}

func TestGenerate_OtherFailureIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": 400, "status": "INVALID_ARGUMENT", "message": "Unknown model"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	_, err := c.Generate(context.Background(), "model-a", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsRateLimited(err) {
		t.Fatalf("terminal failure misclassified as rate limited: %v", err)
	}
	if !strings.Contains(err.Error(), "Unknown model") {
		t.Fatalf("error message lost: %v", err)
	}
}

func TestGenerate_UndecodableErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream blew up"))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	_, err := c.Generate(context.Background(), "model-a", nil)
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 503 {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerate_ContextDeadlineSurfaces(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, "test-key")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "model-a", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestGenerate_InputValidation(t *testing.T) {
	c := New("http://127.0.0.1:0", "")
	if _, err := c.Generate(context.Background(), "model-a", nil); err == nil {
		t.Fatalf("expected error with empty api key")
	}
	c = New("http://127.0.0.1:0", "key")
	if _, err := c.Generate(context.Background(), " ", nil); err == nil {
		t.Fatalf("expected error with empty model")
	}
}

func TestIsRateLimited_NonUpstreamError(t *testing.T) {
	if IsRateLimited(errors.New("plain")) {
		t.Fatalf("plain error classified as rate limited")
	}
	if IsRateLimited(nil) {
		t.Fatalf("nil classified as rate limited")
	}
}
