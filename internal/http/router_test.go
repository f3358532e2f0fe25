package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mizuki-dev/slack-relay-bot/internal/config"
	"github.com/mizuki-dev/slack-relay-bot/internal/cryptobox"
	"github.com/mizuki-dev/slack-relay-bot/internal/domain"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Turn{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	codec, err := cryptobox.New(key)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	cfg := config.Config{
		RateRPS:       1000,
		RateBurst:     1000,
		HistoryLimit:  10,
		MaxMessageLen: 4000,
		DedupCapacity: 100,
		Slack: config.SlackConfig{
			BotToken: "xoxb-test",
			BotID:    "B_SELF",
			APIBase:  "http://127.0.0.1:0",
		},
		Gemini: config.GeminiConfig{
			APIKey:  "test-key",
			APIBase: "http://127.0.0.1:0",
			Model:   config.DefaultModel,
			Timeout: time.Second,
		},
		OTEL: config.OTELConfig{ServiceName: "relay-test"},
	}

	r := gin.New()
	RegisterRoutes(r, db, codec, cfg)
	return r
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /health -> %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestRouter_MetricsExposed(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics -> %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition output")
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope -> %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["code"] != "not_found" {
		t.Fatalf("body = %v", body)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/slack/events", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /slack/events -> %d", w.Code)
	}
}

func TestRouter_EventsEndpointHandshake(t *testing.T) {
	r := newTestRouter(t)

	payload := `{"type":"url_verification","challenge":"c-777"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("POST /slack/events -> %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "c-777") {
		t.Fatalf("challenge not echoed: %s", w.Body.String())
	}
}

func TestRouter_RequestIDHeaderSet(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID header missing")
	}
}
