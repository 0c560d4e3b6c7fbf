package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aport/chat-api/internal/docstore"
)

// Coalescer decides, for each admitted send, whether to append to the most
// recent message or insert a new one. Rapid same-author chatter inside one
// calendar minute collapses into a single stored message; ordering across
// authors is untouched.
//
// The "last message" read races with other senders: two near-simultaneous
// sends may both read the same tail and one append can clobber the other.
// Accepted, given the advisory nature of the feature.
type Coalescer struct {
	store docstore.Store
	now   func() time.Time
}

// NewCoalescer creates a coalescer over the given store.
func NewCoalescer(store docstore.Store, now func() time.Time) *Coalescer {
	if now == nil {
		now = time.Now
	}
	return &Coalescer{store: store, now: now}
}

// Submit stores the text, merging into the newest message when it has the
// same author and falls in the same wall-clock minute. If the tail read
// fails the send degrades to a plain insert; a message is never dropped.
func (c *Coalescer) Submit(ctx context.Context, authorID, authorName, text string) (messageID string, coalesced bool, err error) {
	docs, err := c.store.Query(ctx, docstore.Query{
		Collection: MessagesCollection,
		OrderBy:    "timestamp",
		Desc:       true,
		Limit:      1,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Last-message read failed, inserting instead of coalescing")
		docs = nil
	}

	if len(docs) > 0 {
		last := MessageFromDocument(&docs[0])
		if last.AuthorID == authorID && sameCalendarMinute(last.Timestamp, c.now()) {
			fields := map[string]interface{}{
				"text":      last.Text + "\n" + text,
				"timestamp": docstore.ServerTimestamp,
			}
			if err := c.store.Upsert(ctx, MessagesCollection, last.ID, fields, true); err != nil {
				return "", false, err
			}
			return last.ID, true, nil
		}
	}

	id, err := c.store.Insert(ctx, MessagesCollection, map[string]interface{}{
		"text":        text,
		"userId":      authorID,
		"displayName": authorName,
		"timestamp":   docstore.ServerTimestamp,
	})
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

// sameCalendarMinute compares wall-clock minute buckets, not elapsed time:
// sends fifty seconds apart inside one minute merge, sends one second
// apart straddling :59/:00 do not.
func sameCalendarMinute(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() &&
		a.Month() == b.Month() &&
		a.Day() == b.Day() &&
		a.Hour() == b.Hour() &&
		a.Minute() == b.Minute()
}
