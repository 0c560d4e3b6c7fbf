package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aport/chat-api/internal/docstore"
	"github.com/aport/chat-api/internal/docstore/memstore"
)

func TestToggleIsAnIdempotentPair(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := NewReactions(store)

	added, err := r.Toggle(ctx, "m1", "u1", "Uma", ReactionLike)
	require.NoError(t, err)
	assert.True(t, added)

	counts, err := r.Counts(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[ReactionLike].Count)

	added, err = r.Toggle(ctx, "m1", "u1", "Uma", ReactionLike)
	require.NoError(t, err)
	assert.False(t, added)

	counts, err = r.Counts(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, counts, "second toggle must restore the original state")
}

func TestToggleAllowsDifferentTypesPerUser(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := NewReactions(store)

	for _, typ := range []ReactionType{ReactionLike, ReactionHeart, ReactionFire} {
		_, err := r.Toggle(ctx, "m1", "u1", "Uma", typ)
		require.NoError(t, err)
	}

	counts, err := r.Counts(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, counts, 3)
	for typ, group := range counts {
		assert.Equal(t, 1, group.Count, "type %s", typ)
		assert.Equal(t, []string{"Uma"}, group.DisplayNames)
	}
}

func TestToggleRejectsUnknownType(t *testing.T) {
	r := NewReactions(memstore.New())
	_, err := r.Toggle(context.Background(), "m1", "u1", "Uma", ReactionType("thumbsdown"))
	assert.ErrorIs(t, err, ErrInvalidReaction)
}

func TestGroupCountsOrderAndScope(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New(memstore.WithClock(clock.Now))
	r := NewReactions(store)

	for _, reaction := range []struct {
		user, name string
		typ        ReactionType
	}{
		{"u1", "Uma", ReactionLike},
		{"u2", "Bob", ReactionLike},
		{"u3", "Cyd", ReactionHeart},
	} {
		_, err := r.Toggle(ctx, "m1", reaction.user, reaction.name, reaction.typ)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	// A reaction on another message never leaks into m1's counts.
	_, err := r.Toggle(ctx, "m2", "u4", "Dee", ReactionLike)
	require.NoError(t, err)

	docs, err := store.Query(ctx, docstore.Query{Collection: ReactionsCollection})
	require.NoError(t, err)
	counts := GroupCounts(docs, "m1")

	require.Len(t, counts, 2)
	assert.Equal(t, 2, counts[ReactionLike].Count)
	assert.Equal(t, []string{"Uma", "Bob"}, counts[ReactionLike].DisplayNames,
		"display names must follow creation order")
	assert.Equal(t, []string{"Cyd"}, counts[ReactionHeart].DisplayNames)
}

func TestGroupCountsFallsBackToUserID(t *testing.T) {
	docs := []docstore.Document{{
		ID: "r1",
		Fields: map[string]interface{}{
			"messageId": "m1",
			"userId":    "u9",
			"type":      "like",
		},
	}}
	counts := GroupCounts(docs, "m1")
	assert.Equal(t, []string{"u9"}, counts[ReactionLike].DisplayNames)
}
