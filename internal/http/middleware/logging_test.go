package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// newWebhookRouter mirrors this service's surface: the event webhook, the
// health probe, and nothing else.
func newWebhookRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger())
	r.Use(Recovery())
	r.POST("/slack/events", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func hit(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	r := newWebhookRouter()

	w := hit(r, http.MethodGet, "/health")
	if got := w.Header().Get(requestIDHeader); got == "" {
		t.Fatalf("no %s header generated", requestIDHeader)
	}
}

func TestRequestID_IncomingHeaderPropagates(t *testing.T) {
	r := newWebhookRouter()

	// Canonical and lowercase spellings both reach the same header.
	for _, name := range []string{requestIDHeader, strings.ToLower(requestIDHeader)} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(name, "slack-retry-42")
		r.ServeHTTP(w, req)
		if got := w.Header().Get(requestIDHeader); got != "slack-retry-42" {
			t.Fatalf("header %q: response id = %q, want slack-retry-42", name, got)
		}
	}
}

func TestLogger_LevelFollowsOutcome(t *testing.T) {
	buf := captureLogs(t)
	r := newWebhookRouter()

	// A handler that records a Gin error must log at error level even with a
	// 4xx status.
	r.POST("/slack/bad", func(c *gin.Context) {
		_ = c.Error(errors.New("signature mismatch"))
		c.Status(http.StatusBadRequest)
	})

	if w := hit(r, http.MethodPost, "/slack/events"); w.Code != http.StatusOK {
		t.Fatalf("POST /slack/events -> %d", w.Code)
	}
	if w := hit(r, http.MethodGet, "/no-such-route"); w.Code != http.StatusNotFound {
		t.Fatalf("GET /no-such-route -> %d", w.Code)
	}
	if w := hit(r, http.MethodPost, "/slack/bad"); w.Code != http.StatusBadRequest {
		t.Fatalf("POST /slack/bad -> %d", w.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"info"`) || !strings.Contains(logs, `"path":"/slack/events"`) {
		t.Fatalf("missing info log for the webhook route:\n%s", logs)
	}
	// 404s carry the raw URL path since no route matched.
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"path":"/no-such-route"`) {
		t.Fatalf("missing warn log with raw path:\n%s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, "signature mismatch") {
		t.Fatalf("missing error log for the failed route:\n%s", logs)
	}
}

func TestLogger_NeverLogsRequestBody(t *testing.T) {
	buf := captureLogs(t)
	r := newWebhookRouter()

	const payload = `{"event":{"text":"<@UBOT> a private question"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	logs := buf.String()
	if strings.Contains(logs, "private question") {
		t.Fatalf("webhook payload leaked into the access log:\n%s", logs)
	}
	if !strings.Contains(logs, `"bytes_in":`) {
		t.Fatalf("expected the payload size to be logged:\n%s", logs)
	}
}

func TestRecovery_PanicBecomesJSON500(t *testing.T) {
	buf := captureLogs(t)
	r := newWebhookRouter()
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := hit(r, http.MethodGet, "/boom")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["message"] != "internal server error" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged:\n%s", buf.String())
	}
}

func TestRecovery_PanicAfterWriteSkipsEnvelope(t *testing.T) {
	buf := captureLogs(t)
	r := newWebhookRouter()
	r.GET("/boom-late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late kaboom")
	})

	w := hit(r, http.MethodGet, "/boom-late")
	// The 200 and partial body are already on the wire; Recovery must not
	// append the JSON envelope on top of them.
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("error envelope written after a flushed body: %q", w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged:\n%s", buf.String())
	}
}

func TestLoggerFrom_RequestScopedAndFallback(t *testing.T) {
	// With Logger() installed the returned logger carries request fields.
	buf := captureLogs(t)
	r := newWebhookRouter()
	r.GET("/scoped", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("from handler")
		c.Status(http.StatusOK)
	})
	hit(r, http.MethodGet, "/scoped")
	out := buf.String()
	if !strings.Contains(out, `"message":"from handler"`) || !strings.Contains(out, `"request_id"`) {
		t.Fatalf("request-scoped logger missing fields:\n%s", out)
	}

	// Without Logger() the fallback logger still works, just unscoped.
	buf2 := captureLogs(t)
	gin.SetMode(gin.TestMode)
	bare := gin.New()
	bare.GET("/scoped", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("fallback")
		c.Status(http.StatusOK)
	})
	hit(bare, http.MethodGet, "/scoped")
	out2 := buf2.String()
	if !strings.Contains(out2, `"message":"fallback"`) {
		t.Fatalf("fallback logger lost the event:\n%s", out2)
	}
	if strings.Contains(out2, `"request_id"`) {
		t.Fatalf("fallback logger should not carry request fields:\n%s", out2)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("token=abc", 20); got != "token=abc" {
		t.Fatalf("short input changed: %q", got)
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("max<=0 should disable truncation, got %q", got)
	}
}

func TestAsString(t *testing.T) {
	if asString("rid-1") != "rid-1" {
		t.Fatalf("string value lost")
	}
	if asString(42) != "" || asString(nil) != "" {
		t.Fatalf("non-strings must map to empty")
	}
}
