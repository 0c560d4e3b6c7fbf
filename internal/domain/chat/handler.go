package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aport/chat-api/internal/pkg/response"
	"github.com/aport/chat-api/internal/pkg/validator"
)

// WebSocket constants
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Handler handles chat HTTP and WebSocket requests
type Handler struct {
	service  *Service
	upgrader websocket.Upgrader
}

// NewHandler creates chat handler
func NewHandler(service *Service, allowedOrigins []string) *Handler {
	return &Handler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// Messages handles GET /chat/messages
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.service.RecentMessages(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list messages")
		response.InternalError(w)
		return
	}

	out := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, MessageResponseFromEntity(m))
	}
	response.OK(w, out)
}

// ToggleReaction handles POST /chat/messages/{id}/reactions
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	var req ToggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	added, err := h.service.ToggleReaction(r.Context(), messageID, ReactionType(req.Type))
	if err != nil {
		switch err {
		case ErrNotAuthenticated:
			response.Unauthorized(w, "Not authenticated")
		case ErrInvalidReaction:
			response.BadRequest(w, "Unknown reaction type")
		default:
			log.Error().Err(err).Str("message_id", messageID).Msg("Failed to toggle reaction")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]bool{"added": added})
}

// ReactionCounts handles GET /chat/messages/{id}/reactions
func (h *Handler) ReactionCounts(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	groups, err := h.service.ReactionCounts(r.Context(), messageID)
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to read reactions")
		response.InternalError(w)
		return
	}
	response.OK(w, ReactionCountsFromGroups(groups))
}

// SetTyping handles PUT /chat/typing
func (h *Handler) SetTyping(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if err := h.service.SetTyping(r.Context(), req.IsTyping); err != nil {
		switch err {
		case ErrNotAuthenticated:
			response.Unauthorized(w, "Not authenticated")
		default:
			log.Error().Err(err).Msg("Failed to set typing flag")
			response.InternalError(w)
		}
		return
	}
	response.NoContent(w)
}

// BanStatus handles GET /chat/ban
func (h *Handler) BanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.BanStatus(r.Context())
	if err != nil {
		switch err {
		case ErrNotAuthenticated:
			response.Unauthorized(w, "Not authenticated")
		default:
			response.InternalError(w)
		}
		return
	}
	response.OK(w, BanStatusResponseFromStatus(status))
}

// WebSocket handles GET /ws: one connection is one session. Client events
// drive sends, typing, and reaction toggles; derived state is pushed back.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.NewSession(r.Context())
	if err != nil {
		if err == ErrNotAuthenticated {
			response.Unauthorized(w, "Not authenticated")
			return
		}
		log.Error().Err(err).Msg("Failed to open chat session")
		response.InternalError(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Close(r.Context())
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	log.Info().Str("user_id", sess.UserID()).Msg("Chat session opened")

	out := make(chan *ServerEvent, 32)
	go h.writePump(conn, sess, out)
	h.readPump(r.Context(), conn, sess, out)
}

// readPump consumes client events until the connection drops. Runs on the
// request goroutine; closing it tears the session down.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sess *Session, out chan<- *ServerEvent) {
	defer func() {
		// The request context is already dying when the connection
		// drops; the final clear-typing write gets its own deadline.
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sess.Close(closeCtx)
		conn.Close()
		close(out)
		log.Info().Str("user_id", sess.UserID()).Msg("Chat session closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev ClientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user_id", sess.UserID()).Msg("WebSocket read error")
			}
			return
		}

		switch ev.Type {
		case ClientEventSend:
			out <- sendResultEvent(sess.TrySend(ctx, ev.Text))

		case ClientEventTyping:
			if err := sess.SetTyping(ctx, ev.IsTyping); err != nil {
				log.Warn().Err(err).Str("user_id", sess.UserID()).Msg("Failed to set typing flag")
			}

		case ClientEventWatchReactions:
			if ev.MessageID != "" {
				sess.WatchReactions(ev.MessageID)
			}

		case ClientEventToggleReaction:
			added, err := sess.ToggleReaction(ctx, ev.MessageID, ReactionType(ev.ReactionType))
			result := &ServerEvent{Type: ServerEventReactionResult, MessageID: ev.MessageID}
			if err != nil {
				result.OK = boolPtr(false)
				result.Message = err.Error()
			} else {
				result.OK = boolPtr(true)
				result.Added = boolPtr(added)
			}
			out <- result

		default:
			out <- &ServerEvent{Type: ServerEventError, Message: "unknown event type"}
		}
	}
}

// writePump owns all writes to the connection: handler replies, session
// updates, and keepalive pings.
func (h *Handler) writePump(conn *websocket.Conn, sess *Session, out <-chan *ServerEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-out:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case u, ok := <-sess.Updates():
			if !ok {
				return
			}
			ev := ServerEventFromUpdate(u)
			if ev == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendResultEvent maps a pipeline outcome onto the wire shape. Rejections
// travel as result values, never as dropped connections.
func sendResultEvent(receipt *SendReceipt, err error) *ServerEvent {
	if err == nil {
		return &ServerEvent{
			Type:      ServerEventSendResult,
			OK:        boolPtr(true),
			MessageID: receipt.MessageID,
			Coalesced: receipt.Coalesced,
		}
	}

	ev := &ServerEvent{Type: ServerEventSendResult, OK: boolPtr(false)}
	if banErr, ok := AsBanError(err); ok {
		if banErr.Reason == spamBanReason {
			ev.Rejected = RejectedRateLimited
		} else {
			ev.Rejected = RejectedBanned
		}
		bannedUntil := banErr.EndsAt.Format(time.RFC3339)
		ev.BannedUntil = &bannedUntil
		ev.Reason = banErr.Reason
		return ev
	}
	switch err {
	case ErrEmptyMessage:
		ev.Rejected = RejectedEmptyMessage
	case ErrNotAuthenticated:
		ev.Rejected = "not_authenticated"
	default:
		ev.Rejected = RejectedStoreError
		ev.Message = err.Error()
	}
	return ev
}
