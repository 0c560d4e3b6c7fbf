package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aport/chat-api/internal/docstore"
)

const defaultBanReason = "No specific reason provided."

// BanStatus is the computed suspension state for a user.
type BanStatus struct {
	Banned bool
	Reason string
	EndsAt *time.Time
}

// BanLedger owns the disabled_users records: it applies bans, computes
// whether a user is currently banned and clears expired bans lazily on the
// next check. There is no background timer; expiry is observed, never
// scheduled.
//
// The expiry-cleanup write and a concurrent Apply from another session are
// not mutually excluded; last write wins at the store. Accepted race.
type BanLedger struct {
	store docstore.Store
	now   func() time.Time
}

// NewBanLedger creates a ledger over the given store.
func NewBanLedger(store docstore.Store, now func() time.Time) *BanLedger {
	if now == nil {
		now = time.Now
	}
	return &BanLedger{store: store, now: now}
}

// Status reads the user's ban record and computes the current state.
// Read failures fail open: a transient store error must not lock out a
// legitimate user, so the user is reported as not banned and the error is
// returned alongside for the caller's logging.
func (l *BanLedger) Status(ctx context.Context, userID string) (BanStatus, error) {
	doc, err := l.store.Get(ctx, BansCollection, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return BanStatus{}, nil
		}
		log.Warn().Err(err).Str("user_id", userID).Msg("Ban status read failed, failing open")
		return BanStatus{}, err
	}

	rec := BanRecordFromDocument(doc)
	status := StatusFromRecord(rec, l.now())

	if !status.Banned && rec.IsDisabled {
		// Ban has expired; clear the flag opportunistically.
		cleanup := map[string]interface{}{"is_disabled": false}
		if err := l.store.Upsert(ctx, BansCollection, userID, cleanup, true); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to clear expired ban")
		} else {
			log.Info().Str("user_id", userID).Msg("Expired ban cleared")
		}
	}

	return status, nil
}

// Apply upserts the user's ban record with a store-assigned start time.
// Merge semantics keep fields this write does not mention, so concurrent
// writers never truncate each other's data.
func (l *BanLedger) Apply(ctx context.Context, userID, displayName, reason string, duration time.Duration) error {
	if displayName == "" {
		displayName = "Anonymous"
	}
	fields := map[string]interface{}{
		"displayName":          displayName,
		"is_disabled":          true,
		"ban_start_time":       docstore.ServerTimestamp,
		"ban_duration_seconds": int64(duration / time.Second),
		"ban_reason":           reason,
	}
	if err := l.store.Upsert(ctx, BansCollection, userID, fields, true); err != nil {
		return err
	}

	log.Warn().
		Str("user_id", userID).
		Str("reason", reason).
		Dur("duration", duration).
		Msg("User banned")
	return nil
}

// StatusFromRecord computes the ban state for a record at the given time.
// A user is banned strictly before banStart+duration and clear at or after
// it. Exported so snapshot consumers can recompute without a store read.
func StatusFromRecord(rec *BanRecord, now time.Time) BanStatus {
	if rec == nil || !rec.IsDisabled || rec.BanStartTime.IsZero() || rec.BanDurationSeconds <= 0 {
		return BanStatus{}
	}

	endsAt := rec.BanStartTime.Add(time.Duration(rec.BanDurationSeconds) * time.Second)
	if !endsAt.After(now) {
		return BanStatus{}
	}

	reason := rec.Reason
	if reason == "" {
		reason = defaultBanReason
	}
	return BanStatus{Banned: true, Reason: reason, EndsAt: &endsAt}
}
