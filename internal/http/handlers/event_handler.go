// Package handlers – EventHandler
//
// This file implements the webhook endpoint that receives event callbacks
// from the chat platform. The platform retries any delivery that is not
// acknowledged within a few seconds, so the handler acknowledges immediately
// and runs the mention pipeline in the background; the reply arrives in the
// thread asynchronously.
//
// Filtering happens here, before the pipeline: URL verification handshakes
// are echoed, duplicate deliveries are dropped through the dedup gate, the
// bot's own messages are ignored to prevent reply loops, and edits and
// non-mention events are skipped.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mizuki-dev/slack-relay-bot/internal/dedup"
	"github.com/mizuki-dev/slack-relay-bot/internal/services"
)

// MentionHandler is the pipeline contract required by EventHandler.
type MentionHandler interface {
	HandleMention(ctx context.Context, m services.Mention) error
}

// BotIdentity resolves this bot's own identity for loop prevention.
type BotIdentity interface {
	BotID(ctx context.Context) string
}

// EventHandler terminates the events webhook.
type EventHandler struct {
	Gate     *dedup.Gate
	Mentions MentionHandler
	Identity BotIdentity

	// Background schedules post-acknowledgement work. Nil means a plain
	// goroutine; tests inject a synchronous runner.
	Background func(fn func())
}

// eventEnvelope is the outer webhook payload.
type eventEnvelope struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge"`
	EventID   string      `json:"event_id"`
	Event     *innerEvent `json:"event"`
}

// innerEvent is the wrapped platform event. Only the fields the pipeline
// needs are decoded.
type innerEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	EventTS  string `json:"event_ts"`
	ThreadTS string `json:"thread_ts"`
}

// dedupKey identifies one logical event across redeliveries. Retries of the
// same event reuse its event_ts, so that is the admission key; older payload
// shapes without event_ts fall back to the message ts.
func (e eventEnvelope) dedupKey() string {
	if e.Event == nil {
		return ""
	}
	if e.Event.EventTS != "" {
		return e.Event.EventTS
	}
	return e.Event.TS
}

// Receive handles POST /slack/events.
//
// A well-formed delivery is always acknowledged with 200 before any work
// happens; returning an error status would only trigger sender retries for
// failures the retry cannot fix.
func (h *EventHandler) Receive(c *gin.Context) {
	var env eventEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid event payload")
		return
	}

	// Endpoint ownership handshake: echo the challenge back.
	if env.Type == "url_verification" {
		ok(c, http.StatusOK, gin.H{"challenge": env.Challenge})
		return
	}

	ok(c, http.StatusOK, gin.H{"ok": true})

	if env.Event == nil {
		return
	}
	if !h.Gate.Admit(env.dedupKey()) {
		log.Debug().Str("event_id", env.EventID).Msg("duplicate delivery dropped")
		return
	}

	ev := *env.Event
	h.background(func() { h.process(ev) })
}

// process applies the event-level filters and runs the pipeline. It executes
// after the HTTP response has been written, so it carries its own context.
func (h *EventHandler) process(ev innerEvent) {
	ctx := context.Background()

	if ev.BotID != "" && ev.BotID == h.Identity.BotID(ctx) {
		return
	}
	if ev.Subtype == "message_changed" {
		return
	}
	if ev.Type != "app_mention" {
		return
	}

	m := services.Mention{
		ChannelID: ev.Channel,
		ThreadTS:  ev.ThreadTS,
		MessageTS: ev.TS,
		UserID:    ev.User,
		Text:      ev.Text,
	}
	if err := h.Mentions.HandleMention(ctx, m); err != nil {
		log.Error().Err(err).
			Str("channel_id", m.ChannelID).
			Str("thread_ts", m.ThreadKey()).
			Msg("mention pipeline failed")
	}
}

func (h *EventHandler) background(fn func()) {
	if h.Background != nil {
		h.Background(fn)
		return
	}
	go fn()
}
