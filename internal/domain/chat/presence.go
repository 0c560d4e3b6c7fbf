package chat

import (
	"context"

	"github.com/aport/chat-api/internal/docstore"
)

// Presence publishes a user's own typing flag and derives the "anyone else
// typing" aggregate from typing-collection snapshots.
//
// There is no server-side expiry: a session that dies without clearing its
// flag stays "typing" until it reconnects. Known liveness gap.
type Presence struct {
	store docstore.Store
}

// NewPresence creates the tracker over the given store.
func NewPresence(store docstore.Store) *Presence {
	return &Presence{store: store}
}

// SetTyping upserts the caller's own typing document. It never touches
// another user's document.
func (p *Presence) SetTyping(ctx context.Context, userID string, typing bool) error {
	fields := map[string]interface{}{"isTyping": typing}
	return p.store.Upsert(ctx, TypingCollection, userID, fields, false)
}

// OthersTyping reports whether any user other than selfID currently has
// isTyping set in the snapshot.
func OthersTyping(docs []docstore.Document, selfID string) bool {
	for i := range docs {
		state := TypingStateFromDocument(&docs[i])
		if state.UserID != selfID && state.IsTyping {
			return true
		}
	}
	return false
}
