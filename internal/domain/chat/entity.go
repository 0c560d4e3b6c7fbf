package chat

import (
	"time"

	"github.com/aport/chat-api/internal/docstore"
)

// Collection names are the de facto persisted schema shared with existing
// clients; field names below must match it exactly.
const (
	MessagesCollection  = "messages"
	ReactionsCollection = "reactions"
	BansCollection      = "disabled_users"
	TypingCollection    = "typing"
)

// ReactionType is one of the six supported reactions.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionHeart ReactionType = "heart"
	ReactionHaha  ReactionType = "haha"
	ReactionSad   ReactionType = "sad"
	ReactionAngry ReactionType = "angry"
	ReactionFire  ReactionType = "fire"
)

// Valid reports whether the reaction type is one of the supported six.
func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionHeart, ReactionHaha, ReactionSad, ReactionAngry, ReactionFire:
		return true
	}
	return false
}

// Message is a stored chat message. Consecutive sends by the same author
// within one calendar minute collapse into a single message.
type Message struct {
	ID         string
	Text       string
	AuthorID   string
	AuthorName string
	Timestamp  time.Time
}

// MessageFromDocument maps a messages document onto the entity.
func MessageFromDocument(d *docstore.Document) *Message {
	ts, _ := docstore.FieldTime(d, "timestamp")
	return &Message{
		ID:         d.ID,
		Text:       docstore.FieldString(d, "text"),
		AuthorID:   docstore.FieldString(d, "userId"),
		AuthorName: docstore.FieldString(d, "displayName"),
		Timestamp:  ts,
	}
}

// Reaction is one user's reaction of one type on one message. At most one
// exists per (message, user, type); its presence is the toggle latch.
type Reaction struct {
	ID          string
	MessageID   string
	UserID      string
	DisplayName string
	Type        ReactionType
	Timestamp   time.Time
}

// ReactionFromDocument maps a reactions document onto the entity.
func ReactionFromDocument(d *docstore.Document) *Reaction {
	ts, _ := docstore.FieldTime(d, "timestamp")
	return &Reaction{
		ID:          d.ID,
		MessageID:   docstore.FieldString(d, "messageId"),
		UserID:      docstore.FieldString(d, "userId"),
		DisplayName: docstore.FieldString(d, "displayName"),
		Type:        ReactionType(docstore.FieldString(d, "type")),
		Timestamp:   ts,
	}
}

// BanRecord is the per-user suspension record, keyed by user id. A record
// past banStart+duration is logically expired even while is_disabled still
// reads true; the ledger clears the flag lazily on the next check.
type BanRecord struct {
	UserID             string
	DisplayName        string
	IsDisabled         bool
	BanStartTime       time.Time
	BanDurationSeconds int64
	Reason             string
}

// BanRecordFromDocument maps a disabled_users document onto the entity.
func BanRecordFromDocument(d *docstore.Document) *BanRecord {
	start, _ := docstore.FieldTime(d, "ban_start_time")
	duration, _ := docstore.FieldInt(d, "ban_duration_seconds")
	return &BanRecord{
		UserID:             d.ID,
		DisplayName:        docstore.FieldString(d, "displayName"),
		IsDisabled:         docstore.FieldBool(d, "is_disabled"),
		BanStartTime:       start,
		BanDurationSeconds: duration,
		Reason:             docstore.FieldString(d, "ban_reason"),
	}
}

// TypingState is a user's own typing flag, keyed by user id.
type TypingState struct {
	UserID   string
	IsTyping bool
}

// TypingStateFromDocument maps a typing document onto the entity.
func TypingStateFromDocument(d *docstore.Document) *TypingState {
	return &TypingState{
		UserID:   d.ID,
		IsTyping: docstore.FieldBool(d, "isTyping"),
	}
}
