package chat

import (
	"context"
	"expvar"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aport/chat-api/internal/docstore"
)

var (
	sessionUpdatesDroppedTotal = expvar.NewInt("chat_session_updates_dropped_total")
	sessionsOpenGauge          = expvar.NewInt("chat_sessions_open")
)

// Update types pushed to session observers.
const (
	UpdateBanStatus      = "ban_status"
	UpdatePresence       = "presence"
	UpdateReactionCounts = "reaction_counts"
)

// Update is a piece of derived state recomputed from a store snapshot.
type Update struct {
	Type         string
	Ban          *BanStatus
	AnyoneTyping bool
	MessageID    string
	Counts       map[ReactionType]ReactionGroup
}

type sessionEvent struct {
	collection string
	docs       []docstore.Document
	watch      string // message id to start watching, when set
}

// Session is one connected client. It owns that client's burst window and
// turns raw store snapshots into derived updates (ban status, presence
// aggregate, grouped reaction counts) inside a single consumer loop, so
// recomputation order is explicit. Discarded on disconnect; nothing about
// the window survives the session.
type Session struct {
	svc         *Service
	userID      string
	displayName string
	window      *BurstDetector

	events  chan sessionEvent
	updates chan Update
	done    chan struct{}

	mu   sync.Mutex
	subs []docstore.Subscription

	closeOnce sync.Once

	// loop-owned state, touched only by run()
	watched       map[string]struct{}
	lastReactions []docstore.Document
	reactionsLive bool
	lastBanned    bool
}

// NewSession opens a session for the authenticated caller and starts its
// snapshot consumer loop.
func (s *Service) NewSession(ctx context.Context) (*Session, error) {
	userID, ok := s.ident.UserID(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	sess := &Session{
		svc:         s,
		userID:      userID,
		displayName: s.ident.DisplayName(ctx),
		window:      NewBurstDetector(s.burstLimit, s.burstWindow),
		events:      make(chan sessionEvent, 16),
		updates:     make(chan Update, 32),
		done:        make(chan struct{}),
		watched:     make(map[string]struct{}),
	}

	for _, collection := range []string{TypingCollection, BansCollection} {
		sub, err := s.store.Subscribe(ctx, collection)
		if err != nil {
			sess.closeSubs()
			return nil, err
		}
		sess.addSub(sub)
		go sess.forward(collection, sub)
	}

	go sess.run()
	sessionsOpenGauge.Add(1)
	return sess, nil
}

// UserID returns the session owner's id.
func (s *Session) UserID() string { return s.userID }

// Updates delivers derived-state updates. Closed when the session ends.
func (s *Session) Updates() <-chan Update { return s.updates }

// TrySend runs the moderation pipeline against this session's window.
func (s *Session) TrySend(ctx context.Context, text string) (*SendReceipt, error) {
	return s.svc.trySend(ctx, s.window, s.userID, s.displayName, text)
}

// SetTyping publishes the session owner's typing flag.
func (s *Session) SetTyping(ctx context.Context, typing bool) error {
	return s.svc.presence.SetTyping(ctx, s.userID, typing)
}

// ToggleReaction flips the session owner's reaction on a message.
func (s *Session) ToggleReaction(ctx context.Context, messageID string, typ ReactionType) (bool, error) {
	added, err := s.svc.reactions.Toggle(ctx, messageID, s.userID, s.displayName, typ)
	if err == nil {
		reactionsToggledTotal.Add(1)
	}
	return added, err
}

// WatchReactions asks the session to push grouped counts for a message on
// every reactions snapshot from now on.
func (s *Session) WatchReactions(messageID string) {
	select {
	case s.events <- sessionEvent{watch: messageID}:
	case <-s.done:
	}
}

// Close ends the session. The typing flag is cleared before subscriptions
// are torn down, so a closing session can never be left looking
// perpetually "typing" by the teardown itself.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		if err := s.svc.presence.SetTyping(ctx, s.userID, false); err != nil {
			log.Warn().Err(err).Str("user_id", s.userID).Msg("Failed to clear typing on session close")
		}
		close(s.done)
		s.closeSubs()
		sessionsOpenGauge.Add(-1)
	})
}

func (s *Session) addSub(sub docstore.Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

func (s *Session) closeSubs() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// forward pumps one subscription's snapshots into the session loop.
func (s *Session) forward(collection string, sub docstore.Subscription) {
	for {
		select {
		case <-s.done:
			return
		case docs, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			select {
			case s.events <- sessionEvent{collection: collection, docs: docs}:
			case <-s.done:
				return
			}
		}
	}
}

// run is the single consumer loop: every snapshot recomputes the derived
// state it affects and publishes the result.
func (s *Session) run() {
	defer close(s.updates)
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev sessionEvent) {
	if ev.watch != "" {
		s.handleWatch(ev.watch)
		return
	}

	switch ev.collection {
	case TypingCollection:
		s.publish(Update{
			Type:         UpdatePresence,
			AnyoneTyping: OthersTyping(ev.docs, s.userID),
		})

	case BansCollection:
		var rec *BanRecord
		for i := range ev.docs {
			if ev.docs[i].ID == s.userID {
				rec = BanRecordFromDocument(&ev.docs[i])
				break
			}
		}
		status := StatusFromRecord(rec, s.svc.now())
		if status.Banned && !s.lastBanned {
			// A freshly observed ban silences the user's typing flag and
			// clears the window.
			s.svc.clearTyping(context.Background(), s.userID)
			s.window.Reset()
		}
		s.lastBanned = status.Banned
		s.publish(Update{Type: UpdateBanStatus, Ban: &status})

	case ReactionsCollection:
		s.lastReactions = ev.docs
		for messageID := range s.watched {
			s.publish(Update{
				Type:      UpdateReactionCounts,
				MessageID: messageID,
				Counts:    GroupCounts(ev.docs, messageID),
			})
		}
	}
}

func (s *Session) handleWatch(messageID string) {
	if _, ok := s.watched[messageID]; ok {
		return
	}
	s.watched[messageID] = struct{}{}

	if !s.reactionsLive {
		// Session-scoped subscription; torn down with the session.
		sub, err := s.svc.store.Subscribe(context.Background(), ReactionsCollection)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to subscribe to reactions")
			return
		}
		s.reactionsLive = true
		s.addSub(sub)
		go s.forward(ReactionsCollection, sub)
		return // the initial snapshot delivers the first counts
	}

	s.publish(Update{
		Type:      UpdateReactionCounts,
		MessageID: messageID,
		Counts:    GroupCounts(s.lastReactions, messageID),
	})
}

// publish hands an update to the observer without blocking the loop; a
// stalled consumer loses updates rather than stalling snapshot handling.
func (s *Session) publish(u Update) {
	select {
	case s.updates <- u:
	default:
		sessionUpdatesDroppedTotal.Add(1)
	}
}
