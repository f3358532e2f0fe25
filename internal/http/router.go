// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, and rate
// limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/mizuki-dev/slack-relay-bot/internal/config"
	"github.com/mizuki-dev/slack-relay-bot/internal/cryptobox"
	"github.com/mizuki-dev/slack-relay-bot/internal/dedup"
	"github.com/mizuki-dev/slack-relay-bot/internal/gemini"
	"github.com/mizuki-dev/slack-relay-bot/internal/http/handlers"
	"github.com/mizuki-dev/slack-relay-bot/internal/http/middleware"
	"github.com/mizuki-dev/slack-relay-bot/internal/services"
	"github.com/mizuki-dev/slack-relay-bot/internal/slack"
	"github.com/mizuki-dev/slack-relay-bot/internal/store"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, then builds the mention pipeline from cfg and mounts the webhook.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per source IP)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, codec *cryptobox.Codec, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging (payloads never logged)
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB); event payloads are far smaller
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per source IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(rl.Handler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: pipeline ← store/clients/config
	sc := slack.New(cfg.Slack.APIBase, cfg.Slack.BotToken)
	if cfg.Slack.BotID != "" {
		sc.SetBotID(cfg.Slack.BotID)
	}
	gc := gemini.New(cfg.Gemini.APIBase, cfg.Gemini.APIKey)

	svc := &services.MentionService{
		Store:           store.New(db, codec),
		Sender:          sc,
		Completer:       gc,
		Models:          cfg.Gemini.CandidateModels(),
		Timeout:         cfg.Gemini.Timeout,
		HistoryLimit:    cfg.HistoryLimit,
		MaxMessageRunes: cfg.MaxMessageLen,
		SystemPrompt:    cfg.SystemPrompt,
	}

	h := &handlers.EventHandler{
		Gate:     dedup.NewGate(cfg.DedupCapacity),
		Mentions: svc,
		Identity: sc,
	}
	r.POST("/slack/events", h.Receive)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
