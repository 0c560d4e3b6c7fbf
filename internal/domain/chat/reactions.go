package chat

import (
	"context"
	"sort"

	"github.com/aport/chat-api/internal/docstore"
)

// ReactionGroup is the aggregate for one reaction type on one message.
// DisplayNames follow reaction creation order.
type ReactionGroup struct {
	Count        int      `json:"count"`
	DisplayNames []string `json:"display_names"`
}

// Reactions toggles per-user reactions and aggregates grouped counts.
type Reactions struct {
	store docstore.Store
}

// NewReactions creates the aggregator over the given store.
func NewReactions(store docstore.Store) *Reactions {
	return &Reactions{store: store}
}

// Toggle flips the (message, user, type) reaction: removes it when present,
// creates it otherwise. Two identical calls in a row restore the original
// state. Returns whether a reaction exists after the call.
func (r *Reactions) Toggle(ctx context.Context, messageID, userID, displayName string, typ ReactionType) (added bool, err error) {
	if !typ.Valid() {
		return false, ErrInvalidReaction
	}

	existing, err := r.store.Query(ctx, docstore.Query{
		Collection: ReactionsCollection,
		Filters: []docstore.Filter{
			{Field: "messageId", Op: "==", Value: messageID},
			{Field: "userId", Op: "==", Value: userID},
			{Field: "type", Op: "==", Value: string(typ)},
		},
	})
	if err != nil {
		return false, err
	}

	if len(existing) > 0 {
		return false, r.store.Delete(ctx, ReactionsCollection, existing[0].ID)
	}

	if displayName == "" {
		displayName = "Anonymous"
	}
	_, err = r.store.Insert(ctx, ReactionsCollection, map[string]interface{}{
		"messageId":   messageID,
		"userId":      userID,
		"displayName": displayName,
		"type":        string(typ),
		"timestamp":   docstore.ServerTimestamp,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Counts queries the message's reactions and groups them by type.
func (r *Reactions) Counts(ctx context.Context, messageID string) (map[ReactionType]ReactionGroup, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: ReactionsCollection,
		Filters:    []docstore.Filter{{Field: "messageId", Op: "==", Value: messageID}},
		OrderBy:    "timestamp",
	})
	if err != nil {
		return nil, err
	}
	return GroupCounts(docs, messageID), nil
}

// GroupCounts aggregates a reactions snapshot for one message. Also used
// by sessions to recompute counts on every snapshot delivery without a
// store round trip.
func GroupCounts(docs []docstore.Document, messageID string) map[ReactionType]ReactionGroup {
	reactions := make([]*Reaction, 0, len(docs))
	for i := range docs {
		rec := ReactionFromDocument(&docs[i])
		if rec.MessageID == messageID {
			reactions = append(reactions, rec)
		}
	}
	sort.SliceStable(reactions, func(i, j int) bool {
		return reactions[i].Timestamp.Before(reactions[j].Timestamp)
	})

	grouped := make(map[ReactionType]ReactionGroup)
	for _, rec := range reactions {
		name := rec.DisplayName
		if name == "" {
			name = rec.UserID
		}
		group := grouped[rec.Type]
		group.Count++
		group.DisplayNames = append(group.DisplayNames, name)
		grouped[rec.Type] = group
	}
	return grouped
}
