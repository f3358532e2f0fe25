// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Turn model:
// an idempotent upsert keyed by message_ts and the ordered range query the
// completion pipeline uses to rebuild thread context.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mizuki-dev/slack-relay-bot/internal/domain"
)

// turnConflictColumns are the columns rewritten when a turn with the same
// message_ts is saved again. Identity columns (channel, thread, message_ts)
// and created_at keep their original values so ordering is stable.
var turnConflictColumns = []string{
	"user_id", "role", "ciphertext", "nonce", "auth_tag", "scheme_version", "updated_at",
}

// UpsertTurn inserts t or, when a row with the same message_ts already
// exists, overwrites it in place. The conflict resolution happens inside the
// database, so two racing saves of the same message_ts converge to last
// write wins without ever duplicating the row.
func UpsertTurn(ctx context.Context, db *gorm.DB, t *domain.Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_ts"}},
			DoUpdates: clause.AssignmentColumns(turnConflictColumns),
		}).
		Create(t).Error
}

// LatestTurns returns up to limit turns for the given thread, oldest to
// newest, so the result can be fed directly as chronological context.
// When excludeTS is non-empty that message is left out, which keeps a
// not-yet-answered mention from echoing into its own history.
func LatestTurns(ctx context.Context, db *gorm.DB, channelID, threadTS string, limit int, excludeTS string) ([]domain.Turn, error) {
	q := db.WithContext(ctx).
		Where("channel_id = ? AND thread_ts = ?", channelID, threadTS)
	if excludeTS != "" {
		q = q.Where("message_ts <> ?", excludeTS)
	}

	// Fetch the newest N, then flip to chronological order.
	var out []domain.Turn
	err := q.Order("created_at DESC, message_ts DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountTurns returns how many turns the thread holds in total, regardless of
// any retrieval window. It uses a raw COUNT so a missing table surfaces as an
// error.
func CountTurns(ctx context.Context, db *gorm.DB, channelID, threadTS string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM turns WHERE channel_id = ? AND thread_ts = ?", channelID, threadTS).
		Scan(&total).Error
	return total, err
}
