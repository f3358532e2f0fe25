// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and store layers.
package domain

import "time"

// Roles a conversation turn can carry.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Turn represents one conversational utterance within a Slack thread,
// persisted with its text encrypted at rest. The plaintext never touches
// this struct: the store layer seals it into Ciphertext before a Turn is
// built, binding the AEAD tag to (channel_id, thread_ts, message_ts) so a
// ciphertext lifted from one thread cannot be replayed into another.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ChannelID / ThreadTS: locate the conversation thread; ThreadTS is the
//     anchoring timestamp of the thread's originating message.
//   - MessageTS: platform-assigned message timestamp, unique per turn and
//     the durability key — re-saving the same MessageTS overwrites in place.
//   - UserID: author of the turn; nil for bot turns.
//   - Role: "user" or "bot" (enforced by DB constraint).
//   - Ciphertext / Nonce / AuthTag / SchemeVersion: the encrypted record.
//   - CreatedAt: server-assigned, orders the thread range query.
type Turn struct {
	ID        string  `json:"id"         gorm:"type:char(36);primaryKey"`
	ChannelID string  `json:"channel_id" gorm:"type:varchar(32);not null;index:idx_thread_turns,priority:1"`
	ThreadTS  string  `json:"thread_ts"  gorm:"type:varchar(32);not null;index:idx_thread_turns,priority:2"`
	MessageTS string  `json:"message_ts" gorm:"type:varchar(32);not null;uniqueIndex:ux_turn_message_ts"`
	UserID    *string `json:"user_id,omitempty" gorm:"type:varchar(32)"`
	Role      string  `json:"role"       gorm:"type:varchar(8);not null;check:role IN ('user','bot')"`

	Ciphertext    []byte `json:"-" gorm:"type:blob;not null"`
	Nonce         []byte `json:"-" gorm:"type:blob;not null"`
	AuthTag       []byte `json:"-" gorm:"type:blob;not null"`
	SchemeVersion int    `json:"-" gorm:"type:INTEGER;not null;default:1"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_thread_turns,priority:3"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Turn.
func (Turn) TableName() string { return "turns" }
