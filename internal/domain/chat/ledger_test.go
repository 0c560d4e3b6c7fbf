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

func TestBanLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New(memstore.WithClock(clock.Now))
	ledger := NewBanLedger(store, clock.Now)

	// Clear before any record exists.
	status, err := ledger.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Banned)

	require.NoError(t, ledger.Apply(ctx, "u1", "Uma", "Spamming", 30*time.Second))

	start := clock.Now()
	wantEnd := start.Add(30 * time.Second)

	// Banned strictly before the end time.
	for _, offset := range []time.Duration{0, time.Second, 29 * time.Second} {
		clock.Set(start.Add(offset))
		status, err = ledger.Status(ctx, "u1")
		require.NoError(t, err)
		require.True(t, status.Banned, "offset %v", offset)
		assert.Equal(t, "Spamming", status.Reason)
		require.NotNil(t, status.EndsAt)
		assert.True(t, status.EndsAt.Equal(wantEnd))
	}

	// Clear at exactly the end time, and the expired flag gets cleaned up.
	clock.Set(wantEnd)
	status, err = ledger.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Banned)

	doc, err := store.Get(ctx, BansCollection, "u1")
	require.NoError(t, err)
	assert.False(t, docstore.FieldBool(doc, "is_disabled"), "lazy cleanup should clear is_disabled")
	assert.Equal(t, "Uma", docstore.FieldString(doc, "displayName"), "cleanup must not clobber other fields")
	assert.Equal(t, "Spamming", docstore.FieldString(doc, "ban_reason"))
}

func TestBanLedgerExpiryObservedNotScheduled(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New(memstore.WithClock(clock.Now))
	ledger := NewBanLedger(store, clock.Now)

	require.NoError(t, ledger.Apply(ctx, "u1", "Uma", "Spamming", 30*time.Second))
	clock.Advance(31 * time.Second)

	// No check has run yet, so the stored flag still reads true.
	doc, err := store.Get(ctx, BansCollection, "u1")
	require.NoError(t, err)
	assert.True(t, docstore.FieldBool(doc, "is_disabled"))

	status, err := ledger.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Banned)

	doc, err = store.Get(ctx, BansCollection, "u1")
	require.NoError(t, err)
	assert.False(t, docstore.FieldBool(doc, "is_disabled"))
}

func TestBanLedgerFailsOpenOnReadError(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	store := memstore.New(memstore.WithClock(clock.Now))
	ledger := NewBanLedger(store, clock.Now)
	require.NoError(t, ledger.Apply(ctx, "u1", "Uma", "Spamming", time.Hour))

	broken := NewBanLedger(&flakyStore{Store: store, failGet: true}, clock.Now)
	status, err := broken.Status(ctx, "u1")
	assert.Error(t, err)
	assert.False(t, status.Banned, "read errors must fail open")
}

func TestBanLedgerApplyMergesFields(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	store := memstore.New(memstore.WithClock(clock.Now))
	ledger := NewBanLedger(store, clock.Now)

	// An administrative note on the record survives a later Apply.
	require.NoError(t, store.Upsert(ctx, BansCollection, "u1",
		map[string]interface{}{"admin_note": "second strike"}, true))
	require.NoError(t, ledger.Apply(ctx, "u1", "Uma", "Spamming", 30*time.Second))

	doc, err := store.Get(ctx, BansCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "second strike", docstore.FieldString(doc, "admin_note"))
	assert.True(t, docstore.FieldBool(doc, "is_disabled"))
}

func TestStatusFromRecordDefaults(t *testing.T) {
	now := time.Now()

	assert.False(t, StatusFromRecord(nil, now).Banned)
	assert.False(t, StatusFromRecord(&BanRecord{IsDisabled: false}, now).Banned)
	// Disabled without valid ban data means not banned.
	assert.False(t, StatusFromRecord(&BanRecord{IsDisabled: true}, now).Banned)
	assert.False(t, StatusFromRecord(&BanRecord{
		IsDisabled:   true,
		BanStartTime: now,
	}, now).Banned)

	status := StatusFromRecord(&BanRecord{
		IsDisabled:         true,
		BanStartTime:       now,
		BanDurationSeconds: 30,
	}, now)
	assert.True(t, status.Banned)
	assert.Equal(t, defaultBanReason, status.Reason)
}
