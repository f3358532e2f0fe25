// Package store implements the conversation store: a durable append/query
// layer over encrypted turn rows. It owns the AAD contract — every row is
// sealed and opened with the exact channel|thread|message identity tuple —
// so callers only ever see plaintext turns.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/mizuki-dev/slack-relay-bot/internal/cryptobox"
	"github.com/mizuki-dev/slack-relay-bot/internal/domain"
	"github.com/mizuki-dev/slack-relay-bot/internal/repo"
)

// DecryptionFailedText replaces the text of a turn whose record no longer
// authenticates. The row is surfaced rather than dropped so one corrupt
// record cannot erase the rest of a thread's context.
const DecryptionFailedText = "[decryption_failed]"

// Message is a plaintext view of one conversational turn.
type Message struct {
	ChannelID string
	ThreadTS  string
	MessageTS string
	UserID    *string
	Role      string
	Text      string
	CreatedAt time.Time
}

// Store persists and replays conversation turns, encrypting on the way in
// and decrypting on the way out.
type Store struct {
	DB    *gorm.DB
	Codec *cryptobox.Codec
}

// New constructs a Store over the given database handle and codec.
func New(db *gorm.DB, codec *cryptobox.Codec) *Store {
	return &Store{DB: db, Codec: codec}
}

// aadFor builds the additional authenticated data binding a record to its
// owning turn. The format must stay byte-stable across versions: changing it
// invalidates every stored record.
func aadFor(channelID, threadTS, messageTS string) []byte {
	return []byte(channelID + "|" + threadTS + "|" + messageTS)
}

// Save encrypts m's text bound to its identity tuple and idempotently
// upserts the row keyed by MessageTS. Re-saving the same MessageTS
// overwrites in place; it never creates a duplicate row.
func (s *Store) Save(ctx context.Context, m Message) error {
	rec, err := s.Codec.Encrypt(m.Text, aadFor(m.ChannelID, m.ThreadTS, m.MessageTS))
	if err != nil {
		return err
	}

	turn := &domain.Turn{
		ChannelID:     m.ChannelID,
		ThreadTS:      m.ThreadTS,
		MessageTS:     m.MessageTS,
		UserID:        m.UserID,
		Role:          m.Role,
		Ciphertext:    rec.Ciphertext,
		Nonce:         rec.Nonce,
		AuthTag:       rec.AuthTag,
		SchemeVersion: rec.Version,
		CreatedAt:     m.CreatedAt,
	}
	return repo.UpsertTurn(ctx, s.DB, turn)
}

// Latest returns up to limit turns for the thread, oldest to newest, with
// excludeTS left out. Rows that fail authentication come back with
// DecryptionFailedText and their role preserved. A total retrieval failure
// yields an empty slice: degraded context beats a failed reply, so the
// caller never sees an error from this method.
func (s *Store) Latest(ctx context.Context, channelID, threadTS string, limit int, excludeTS string) []Message {
	tr := otel.Tracer("store/Store")
	ctx, span := tr.Start(ctx, "Latest",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.String("thread.ts", threadTS),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	rows, err := repo.LatestTurns(ctx, s.DB, channelID, threadTS, limit, excludeTS)
	if err != nil {
		log.Error().Err(err).
			Str("channel_id", channelID).
			Str("thread_ts", threadTS).
			Msg("latest turns query failed; continuing without history")
		return []Message{}
	}

	// At debug level, record the full thread size next to the window that was
	// returned, so truncated context is visible when diagnosing replies.
	if dbg := log.Debug(); dbg.Enabled() {
		if total, cerr := repo.CountTurns(ctx, s.DB, channelID, threadTS); cerr == nil {
			span.SetAttributes(attribute.Int64("thread.turns_total", total))
			dbg.Str("channel_id", channelID).
				Str("thread_ts", threadTS).
				Int64("turns_total", total).
				Int("returned", len(rows)).
				Msg("thread history loaded")
		} else {
			dbg.Discard()
		}
	}

	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		msg := Message{
			ChannelID: r.ChannelID,
			ThreadTS:  r.ThreadTS,
			MessageTS: r.MessageTS,
			UserID:    r.UserID,
			Role:      r.Role,
			CreatedAt: r.CreatedAt,
		}

		rec := cryptobox.Record{
			Ciphertext: r.Ciphertext,
			Nonce:      r.Nonce,
			AuthTag:    r.AuthTag,
			Version:    r.SchemeVersion,
		}
		text, err := s.Codec.Decrypt(rec, aadFor(r.ChannelID, r.ThreadTS, r.MessageTS))
		if err != nil {
			log.Error().Err(err).
				Str("message_ts", r.MessageTS).
				Msg("turn failed decryption; surfacing sentinel")
			msg.Text = DecryptionFailedText
		} else {
			msg.Text = text
		}
		out = append(out, msg)
	}
	return out
}
