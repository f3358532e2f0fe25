// Package services – MentionService
//
// This file implements MentionService, the application-level component that
// turns an incoming channel mention into a threaded reply. It strips the
// mention markup, persists the user's turn, assembles the recent thread
// transcript, runs the completion with a per-attempt deadline and quota
// fallback across candidate models, posts the reply, and persists the bot's
// turn keyed by the platform-assigned timestamp.
//
// Failure policy: a deadline expiry is terminal for the whole mention (no
// further models are tried); a quota rejection moves on to the next candidate
// model; any other upstream failure is terminal. In every failure case the
// service posts a short notice to the thread on a best-effort basis so the
// user is never left waiting silently.
//
// Observability: HandleMention is OpenTelemetry-instrumented; spans include
// the channel and thread identifiers but never message content.

package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mizuki-dev/slack-relay-bot/internal/domain"
	"github.com/mizuki-dev/slack-relay-bot/internal/gemini"
	"github.com/mizuki-dev/slack-relay-bot/internal/store"
)

// User-facing notices posted to the thread. Kept short and actionable; the
// underlying error detail goes to the log, not the channel.
const (
	guidanceText  = "Hi! Mention me together with a question and I'll answer in this thread."
	tooLongText   = "Sorry, that message is too long for me to process. Please shorten it and try again."
	timeoutText   = "Sorry, the reply took too long to generate. Please try again."
	busyText      = "I'm handling a lot of requests right now. Please try again in a minute."
	upstreamText  = "Sorry, something went wrong while generating a reply. Please try again later."
	noReplyText   = "(no response)"
	DefaultPrompt = "You are a helpful assistant replying inside a chat thread. Answer concisely."
)

// mentionTagRE matches platform mention markup like <@U12345> or <@W999|alias>.
var mentionTagRE = regexp.MustCompile(`<@[^>]+>\s*`)

// stripBotMention removes the first mention tag, which addresses this bot.
// Later tags refer to other users and stay part of the message.
func stripBotMention(s string) string {
	if loc := mentionTagRE.FindStringIndex(s); loc != nil {
		return s[:loc[0]] + s[loc[1]:]
	}
	return s
}

// ConversationStore is the persistence contract required by MentionService.
type ConversationStore interface {
	// Save persists one turn; writes with an already-seen message timestamp
	// overwrite the stored turn.
	Save(ctx context.Context, m store.Message) error

	// Latest returns up to limit turns of the thread in chronological order,
	// excluding excludeTS. It never fails; unreadable state yields fewer turns.
	Latest(ctx context.Context, channelID, threadTS string, limit int, excludeTS string) []store.Message
}

// Sender posts a message to a channel thread and returns the assigned
// message timestamp.
type Sender interface {
	Send(ctx context.Context, channelID, threadTS, text string) (string, error)
}

// Completer runs one completion attempt against a named model.
type Completer interface {
	Generate(ctx context.Context, model string, contents []gemini.Content) (string, error)
}

// Mention is one inbound mention event after transport-level filtering.
type Mention struct {
	ChannelID string
	ThreadTS  string // empty when the mention starts a new thread
	MessageTS string
	UserID    string
	Text      string // raw text, mention markup still present
}

// ThreadKey returns the timestamp the conversation is stored and replied
// under: the parent thread when the mention is a threaded reply, otherwise
// the mention's own timestamp, which roots a new thread.
func (m Mention) ThreadKey() string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.MessageTS
}

// MentionService coordinates persistence, completion, and reply delivery for
// one mention at a time. It is stateless and safe for concurrent use.
type MentionService struct {
	Store     ConversationStore
	Sender    Sender
	Completer Completer

	// Models is the ordered candidate list; the first entry is the primary
	// model, the rest are quota fallbacks.
	Models []string

	// Timeout bounds each completion attempt.
	Timeout time.Duration

	// HistoryLimit caps how many prior turns are included in the transcript.
	HistoryLimit int

	// MaxMessageRunes bounds the accepted mention length; longer input is
	// rejected with a user-facing notice. The outbound reply is clipped to
	// the same bound. Zero disables both.
	MaxMessageRunes int

	// SystemPrompt precedes the transcript; DefaultPrompt when empty.
	SystemPrompt string
}

// HandleMention runs the full pipeline for one mention. The returned error is
// for the caller's log; every failure path has already posted a user-facing
// notice to the thread by the time it returns.
func (s *MentionService) HandleMention(ctx context.Context, m Mention) error {
	tr := otel.Tracer("services/MentionService")
	ctx, span := tr.Start(ctx, "HandleMention",
		trace.WithAttributes(
			attribute.String("channel.id", m.ChannelID),
			attribute.String("thread.ts", m.ThreadKey()),
		),
	)
	defer span.End()

	if m.ChannelID == "" || m.MessageTS == "" {
		// Nowhere to reply to; nothing to do but record the malformed event.
		mentionOutcomes.WithLabelValues(outcomeRejected).Inc()
		log.Warn().Str("channel_id", m.ChannelID).Msg("mention missing required fields")
		return nil
	}

	text := strings.TrimSpace(stripBotMention(m.Text))
	if m.UserID == "" || text == "" {
		// Nothing to answer and nothing worth persisting.
		mentionOutcomes.WithLabelValues(outcomeRejected).Inc()
		s.notify(ctx, m, guidanceText)
		return nil
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		mentionOutcomes.WithLabelValues(outcomeRejected).Inc()
		s.notify(ctx, m, tooLongText)
		return nil
	}

	thread := m.ThreadKey()
	userID := m.UserID
	if err := s.Store.Save(ctx, store.Message{
		ChannelID: m.ChannelID,
		ThreadTS:  thread,
		MessageTS: m.MessageTS,
		UserID:    &userID,
		Role:      domain.RoleUser,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		// The reply can still be produced from the live mention text, so a
		// persistence failure degrades history rather than aborting.
		log.Error().Err(err).
			Str("channel_id", m.ChannelID).
			Str("thread_ts", thread).
			Msg("persist user turn failed")
	}

	history := s.Store.Latest(ctx, m.ChannelID, thread, s.HistoryLimit, m.MessageTS)
	contents := s.buildContents(history, text)

	reply, err := s.complete(ctx, contents)
	if err != nil {
		switch {
		case errors.Is(err, ErrUpstreamTimeout):
			mentionOutcomes.WithLabelValues(outcomeTimeout).Inc()
			s.notify(ctx, m, timeoutText)
		case errors.Is(err, ErrModelsExhausted):
			mentionOutcomes.WithLabelValues(outcomeRateLimited).Inc()
			s.notify(ctx, m, busyText)
		default:
			mentionOutcomes.WithLabelValues(outcomeUpstreamError).Inc()
			s.notify(ctx, m, upstreamText)
		}
		return err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = noReplyText
	}
	reply = clipRunes(reply, s.MaxMessageRunes)

	botTS, err := s.Sender.Send(ctx, m.ChannelID, thread, reply)
	if err != nil {
		mentionOutcomes.WithLabelValues(outcomeSendFailed).Inc()
		log.Error().Err(err).
			Str("channel_id", m.ChannelID).
			Str("thread_ts", thread).
			Msg("post reply failed")
		// One best-effort notice; delivery may still work when the reply
		// itself was the problem (e.g. rejected for length).
		s.notify(ctx, m, upstreamText)
		return err
	}
	if botTS == "" {
		botTS = fallbackTS(time.Now())
	}

	if err := s.Store.Save(ctx, store.Message{
		ChannelID: m.ChannelID,
		ThreadTS:  thread,
		MessageTS: botTS,
		Role:      domain.RoleBot,
		Text:      reply,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Error().Err(err).
			Str("channel_id", m.ChannelID).
			Str("thread_ts", thread).
			Msg("persist bot turn failed")
	}

	mentionOutcomes.WithLabelValues(outcomeReplied).Inc()
	return nil
}

// complete walks the candidate models in order. Each attempt gets its own
// deadline; quota rejections fall through to the next model, everything else
// is terminal.
func (s *MentionService) complete(ctx context.Context, contents []gemini.Content) (string, error) {
	if len(s.Models) == 0 {
		return "", fmt.Errorf("%w: no candidate models configured", ErrUpstreamFailed)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	for _, model := range s.Models {
		reply, err := s.attempt(ctx, model, timeout, contents)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Str("model", model).Dur("timeout", timeout).Msg("completion timed out")
			return "", fmt.Errorf("%w: model %s after %s", ErrUpstreamTimeout, model, timeout)
		}
		if gemini.IsRateLimited(err) {
			log.Warn().Err(err).Str("model", model).Msg("model rate limited, trying next candidate")
			continue
		}
		return "", fmt.Errorf("%w: model %s: %v", ErrUpstreamFailed, model, err)
	}
	return "", ErrModelsExhausted
}

func (s *MentionService) attempt(ctx context.Context, model string, timeout time.Duration, contents []gemini.Content) (string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.Completer.Generate(actx, model, contents)
	completionLat.WithLabelValues(model).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		completionAttempts.WithLabelValues(model, "ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		completionAttempts.WithLabelValues(model, "timeout").Inc()
	case gemini.IsRateLimited(err):
		completionAttempts.WithLabelValues(model, "rate_limited").Inc()
	default:
		completionAttempts.WithLabelValues(model, "error").Inc()
	}
	return reply, err
}

// buildContents renders the system prompt, the prior thread turns, and the
// current mention into a single transcript block.
func (s *MentionService) buildContents(history []store.Message, current string) []gemini.Content {
	prompt := s.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n")
	for _, h := range history {
		b.WriteString("\n")
		b.WriteString(roleLabel(h.Role))
		b.WriteString(": ")
		b.WriteString(h.Text)
	}
	b.WriteString("\n")
	b.WriteString(roleLabel(domain.RoleUser))
	b.WriteString(": ")
	b.WriteString(current)

	return []gemini.Content{gemini.TextContent(b.String())}
}

// notify posts a short notice to the thread, swallowing delivery failures.
func (s *MentionService) notify(ctx context.Context, m Mention, text string) {
	if _, err := s.Sender.Send(ctx, m.ChannelID, m.ThreadKey(), text); err != nil {
		log.Warn().Err(err).
			Str("channel_id", m.ChannelID).
			Str("thread_ts", m.ThreadKey()).
			Msg("post notice failed")
	}
}

func roleLabel(role string) string {
	if role == domain.RoleBot {
		return "Bot"
	}
	return "User"
}

// clipRunes truncates s to max runes; max <= 0 disables clipping.
func clipRunes(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// fallbackTS formats a wall-clock instant the way the chat platform formats
// message timestamps, for the rare success response that omits ts.
func fallbackTS(t time.Time) string {
	return fmt.Sprintf("%.6f", float64(t.UnixNano())/1e9)
}
