package chat

import (
	"context"
	"expvar"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aport/chat-api/internal/docstore"
	"github.com/aport/chat-api/internal/identity"
)

const spamBanReason = "Spamming"

var (
	messagesSentTotal      = expvar.NewInt("chat_messages_sent_total")
	messagesCoalescedTotal = expvar.NewInt("chat_messages_coalesced_total")
	sendsRejectedTotal     = expvar.NewInt("chat_sends_rejected_total")
	bansAppliedTotal       = expvar.NewInt("chat_bans_applied_total")
	reactionsToggledTotal  = expvar.NewInt("chat_reactions_toggled_total")
)

// Service wires the moderation pipeline: every send attempt runs
// ban-check, then burst-check, then either ban-apply-and-abort or the
// coalescing write. Reactions and presence are independent side channels
// that never gate sending.
type Service struct {
	store     docstore.Store
	ident     identity.Provider
	ledger    *BanLedger
	coalescer *Coalescer
	reactions *Reactions
	presence  *Presence

	burstLimit  int
	burstWindow time.Duration
	banDuration time.Duration
	now         func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the service clock. Tests use this together with the
// store's clock to drive ban expiry and minute boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBurstPolicy overrides the spam-guard thresholds.
func WithBurstPolicy(limit int, window, banDuration time.Duration) Option {
	return func(s *Service) {
		s.burstLimit = limit
		s.burstWindow = window
		s.banDuration = banDuration
	}
}

// NewService creates the chat service. Store and identity are injected so
// tests can substitute doubles for both.
func NewService(store docstore.Store, ident identity.Provider, opts ...Option) *Service {
	s := &Service{
		store:       store,
		ident:       ident,
		burstLimit:  DefaultBurstLimit,
		burstWindow: DefaultBurstWindow,
		banDuration: 30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = NewBanLedger(store, s.now)
	s.coalescer = NewCoalescer(store, s.now)
	s.reactions = NewReactions(store)
	s.presence = NewPresence(store)
	return s
}

// Ledger exposes the ban ledger for administrative overrides.
func (s *Service) Ledger() *BanLedger { return s.ledger }

// SendReceipt reports the outcome of an admitted send.
type SendReceipt struct {
	MessageID string
	Coalesced bool
}

// trySend runs the pipeline for one session's send attempt. The window
// belongs to the calling session; two sessions of the same user keep
// independent windows.
func (s *Service) trySend(ctx context.Context, window *BurstDetector, userID, displayName, text string) (*SendReceipt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	// Ban check first. A read failure fails open; the ledger logged it.
	status, _ := s.ledger.Status(ctx, userID)
	if status.Banned {
		sendsRejectedTotal.Add(1)
		s.clearTyping(ctx, userID)
		return nil, &BanError{Reason: status.Reason, EndsAt: *status.EndsAt}
	}

	now := s.now()
	flagged, span := window.RecordAttempt(now)
	if flagged {
		log.Warn().
			Str("user_id", userID).
			Dur("window_span", span).
			Msg("Burst detected")

		// Deny-by-default: the send aborts even if persisting the ban
		// record fails.
		if err := s.ledger.Apply(ctx, userID, displayName, spamBanReason, s.banDuration); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to persist ban record")
		} else {
			bansAppliedTotal.Add(1)
		}
		window.Reset()
		sendsRejectedTotal.Add(1)
		s.clearTyping(ctx, userID)
		return nil, &BanError{Reason: spamBanReason, EndsAt: now.Add(s.banDuration)}
	}

	id, coalesced, err := s.coalescer.Submit(ctx, userID, displayName, text)
	if err != nil {
		sendsRejectedTotal.Add(1)
		return nil, err
	}

	messagesSentTotal.Add(1)
	if coalesced {
		messagesCoalescedTotal.Add(1)
	}
	s.clearTyping(ctx, userID)
	return &SendReceipt{MessageID: id, Coalesced: coalesced}, nil
}

func (s *Service) clearTyping(ctx context.Context, userID string) {
	if err := s.presence.SetTyping(ctx, userID, false); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to clear typing flag")
	}
}

// ToggleReaction flips the caller's reaction of the given type.
func (s *Service) ToggleReaction(ctx context.Context, messageID string, typ ReactionType) (added bool, err error) {
	userID, ok := s.ident.UserID(ctx)
	if !ok {
		return false, ErrNotAuthenticated
	}
	added, err = s.reactions.Toggle(ctx, messageID, userID, s.ident.DisplayName(ctx), typ)
	if err == nil {
		reactionsToggledTotal.Add(1)
	}
	return added, err
}

// ReactionCounts returns the grouped reaction aggregate for a message.
func (s *Service) ReactionCounts(ctx context.Context, messageID string) (map[ReactionType]ReactionGroup, error) {
	return s.reactions.Counts(ctx, messageID)
}

// SetTyping publishes the caller's typing flag.
func (s *Service) SetTyping(ctx context.Context, typing bool) error {
	userID, ok := s.ident.UserID(ctx)
	if !ok {
		return ErrNotAuthenticated
	}
	return s.presence.SetTyping(ctx, userID, typing)
}

// BanStatus reports the caller's current suspension state.
func (s *Service) BanStatus(ctx context.Context) (BanStatus, error) {
	userID, ok := s.ident.UserID(ctx)
	if !ok {
		return BanStatus{}, ErrNotAuthenticated
	}
	status, err := s.ledger.Status(ctx, userID)
	if err != nil {
		// Fail open; surfaced for the handler's log only.
		return status, nil
	}
	return status, nil
}

// RecentMessages lists stored messages, newest first.
func (s *Service) RecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	docs, err := s.store.Query(ctx, docstore.Query{
		Collection: MessagesCollection,
		OrderBy:    "timestamp",
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	messages := make([]*Message, 0, len(docs))
	for i := range docs {
		messages = append(messages, MessageFromDocument(&docs[i]))
	}
	return messages, nil
}
