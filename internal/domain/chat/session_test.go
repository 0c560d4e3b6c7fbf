package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aport/chat-api/internal/docstore"
	"github.com/aport/chat-api/internal/identity"
)

// waitUpdateMatch reads updates until one of the wanted type satisfies the
// predicate. Intermediate snapshots may deliver stale derived state, so
// matching on type alone is not enough here.
func waitUpdateMatch(t *testing.T, sess *Session, updateType string, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-sess.Updates():
			if !ok {
				t.Fatalf("updates channel closed while waiting for %q", updateType)
			}
			if u.Type == updateType && match(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching %q update", updateType)
		}
	}
}

func TestSessionPublishesPresenceForOthers(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, identity.Static{ID: "self", Name: "Sam"})
	sess := openSession(t, svc)

	// The session's own flag never counts.
	require.NoError(t, sess.SetTyping(ctx, true))
	u := waitUpdate(t, sess, UpdatePresence)
	assert.False(t, u.AnyoneTyping)

	p := NewPresence(store)
	require.NoError(t, p.SetTyping(ctx, "other", true))
	waitUpdateMatch(t, sess, UpdatePresence, func(u Update) bool { return u.AnyoneTyping })

	require.NoError(t, p.SetTyping(ctx, "other", false))
	waitUpdateMatch(t, sess, UpdatePresence, func(u Update) bool { return !u.AnyoneTyping })
}

func TestSessionPublishesOwnBanStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t, identity.Static{ID: "self", Name: "Sam"})
	sess := openSession(t, svc)

	require.NoError(t, svc.Ledger().Apply(ctx, "self", "Sam", "Spamming", 30*time.Second))
	u := waitUpdateMatch(t, sess, UpdateBanStatus, func(u Update) bool { return u.Ban.Banned })
	assert.Equal(t, "Spamming", u.Ban.Reason)
	require.NotNil(t, u.Ban.EndsAt)
	assert.True(t, u.Ban.EndsAt.Equal(clock.Now().Add(30*time.Second)))

	// Another user's ban is not this session's ban.
	require.NoError(t, svc.Ledger().Apply(ctx, "someone-else", "Eve", "Spamming", time.Hour))
	u = waitUpdate(t, sess, UpdateBanStatus)
	assert.True(t, u.Ban.Banned, "own ban still in force")
}

func TestSessionObservesBanExpiryViaLazyCleanup(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t, identity.Static{ID: "self", Name: "Sam"})
	sess := openSession(t, svc)

	require.NoError(t, svc.Ledger().Apply(ctx, "self", "Sam", "Spamming", 30*time.Second))
	waitUpdateMatch(t, sess, UpdateBanStatus, func(u Update) bool { return u.Ban.Banned })

	// Nothing fires at the deadline; the next status check performs the
	// cleanup write, and that write's snapshot carries the cleared state.
	clock.Advance(31 * time.Second)
	status, err := svc.BanStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Banned)

	waitUpdateMatch(t, sess, UpdateBanStatus, func(u Update) bool { return !u.Ban.Banned })
}

func TestFreshBanSilencesTypingFlag(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, identity.Static{ID: "self", Name: "Sam"})
	sess := openSession(t, svc)

	require.NoError(t, sess.SetTyping(ctx, true))
	require.NoError(t, svc.Ledger().Apply(ctx, "self", "Sam", "Spamming", time.Hour))
	waitUpdateMatch(t, sess, UpdateBanStatus, func(u Update) bool { return u.Ban.Banned })

	require.Eventually(t, func() bool {
		doc, err := store.Get(ctx, TypingCollection, "self")
		return err == nil && !docstore.FieldBool(doc, "isTyping")
	}, 2*time.Second, 10*time.Millisecond, "a fresh ban must clear the typing flag")
}

func TestSessionPushesWatchedReactionCounts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, identity.Static{ID: "self", Name: "Sam"})
	sess := openSession(t, svc)

	receipt, err := sess.TrySend(ctx, "react to this")
	require.NoError(t, err)

	sess.WatchReactions(receipt.MessageID)
	// Initial snapshot: no reactions yet.
	u := waitUpdate(t, sess, UpdateReactionCounts)
	assert.Equal(t, receipt.MessageID, u.MessageID)
	assert.Empty(t, u.Counts)

	added, err := sess.ToggleReaction(ctx, receipt.MessageID, ReactionHeart)
	require.NoError(t, err)
	assert.True(t, added)

	u = waitUpdateMatch(t, sess, UpdateReactionCounts, func(u Update) bool {
		return u.MessageID == receipt.MessageID && u.Counts[ReactionHeart].Count == 1
	})
	assert.Equal(t, []string{"Sam"}, u.Counts[ReactionHeart].DisplayNames)

	_, err = sess.ToggleReaction(ctx, receipt.MessageID, ReactionHeart)
	require.NoError(t, err)
	waitUpdateMatch(t, sess, UpdateReactionCounts, func(u Update) bool {
		return u.MessageID == receipt.MessageID && len(u.Counts) == 0
	})
}

func TestWatchReactionsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, identity.Static{ID: "self", Name: "Sam"})
	sess := openSession(t, svc)

	receipt, err := sess.TrySend(ctx, "hi")
	require.NoError(t, err)

	sess.WatchReactions(receipt.MessageID)
	sess.WatchReactions(receipt.MessageID)

	_, err = sess.ToggleReaction(ctx, receipt.MessageID, ReactionLike)
	require.NoError(t, err)
	waitUpdateMatch(t, sess, UpdateReactionCounts, func(u Update) bool {
		return u.Counts[ReactionLike].Count == 1
	})
}

func TestCloseClearsTypingAndEndsUpdates(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, identity.Static{ID: "self", Name: "Sam"})
	sess, err := svc.NewSession(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.SetTyping(ctx, true))

	sess.Close(ctx)
	sess.Close(ctx) // second close is a no-op

	doc, err := store.Get(ctx, TypingCollection, "self")
	require.NoError(t, err)
	assert.False(t, docstore.FieldBool(doc, "isTyping"), "close must clear the typing flag")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sess.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel not closed after session close")
		}
	}
}
