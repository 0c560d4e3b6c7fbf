package chat

import "time"

// TypingRequest for PUT /chat/typing
type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// ToggleReactionRequest for POST /chat/messages/{id}/reactions
type ToggleReactionRequest struct {
	Type string `json:"type" validate:"required,reaction"`
}

// MessageResponse represents a message in the API
type MessageResponse struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Timestamp   string `json:"timestamp"`
}

// MessageResponseFromEntity converts entity to response
func MessageResponseFromEntity(m *Message) *MessageResponse {
	return &MessageResponse{
		ID:          m.ID,
		Text:        m.Text,
		UserID:      m.AuthorID,
		DisplayName: m.AuthorName,
		Timestamp:   m.Timestamp.Format(time.RFC3339),
	}
}

// BanStatusResponse represents ban status in the API
type BanStatusResponse struct {
	Banned bool    `json:"banned"`
	Reason string  `json:"reason,omitempty"`
	EndsAt *string `json:"ends_at,omitempty"`
}

// BanStatusResponseFromStatus converts the computed status to a response
func BanStatusResponseFromStatus(status BanStatus) *BanStatusResponse {
	resp := &BanStatusResponse{Banned: status.Banned, Reason: status.Reason}
	if status.EndsAt != nil {
		endsAt := status.EndsAt.Format(time.RFC3339)
		resp.EndsAt = &endsAt
	}
	return resp
}

// ReactionCountsResponse maps reaction type to its aggregate
type ReactionCountsResponse map[string]ReactionGroup

// ReactionCountsFromGroups converts the grouped aggregate to a response
func ReactionCountsFromGroups(groups map[ReactionType]ReactionGroup) ReactionCountsResponse {
	resp := make(ReactionCountsResponse, len(groups))
	for typ, group := range groups {
		resp[string(typ)] = group
	}
	return resp
}

// Client-to-server WebSocket event types
const (
	ClientEventSend           = "send"
	ClientEventTyping         = "typing"
	ClientEventWatchReactions = "watch_reactions"
	ClientEventToggleReaction = "toggle_reaction"
)

// Server-to-client WebSocket event types
const (
	ServerEventSendResult     = "send_result"
	ServerEventReactionResult = "reaction_result"
	ServerEventBanStatus      = "ban_status"
	ServerEventPresence       = "presence"
	ServerEventReactionCounts = "reaction_counts"
	ServerEventError          = "error"
)

// Send rejection reasons surfaced over the wire
const (
	RejectedBanned       = "banned"
	RejectedRateLimited  = "rate_limited"
	RejectedEmptyMessage = "empty_message"
	RejectedStoreError   = "store_error"
)

// ClientEvent is a message from the client over the WebSocket
type ClientEvent struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	IsTyping     bool   `json:"is_typing,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	ReactionType string `json:"reaction_type,omitempty"`
}

// ServerEvent is a message to the client over the WebSocket
type ServerEvent struct {
	Type         string                 `json:"type"`
	OK           *bool                  `json:"ok,omitempty"`
	MessageID    string                 `json:"message_id,omitempty"`
	Coalesced    bool                   `json:"coalesced,omitempty"`
	Added        *bool                  `json:"added,omitempty"`
	Rejected     string                 `json:"rejected,omitempty"`
	BannedUntil  *string                `json:"banned_until,omitempty"`
	Banned       *bool                  `json:"banned,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	EndsAt       *string                `json:"ends_at,omitempty"`
	AnyoneTyping *bool                  `json:"anyone_typing,omitempty"`
	Counts       ReactionCountsResponse `json:"counts,omitempty"`
	Message      string                 `json:"message,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// ServerEventFromUpdate converts a session update to a wire event
func ServerEventFromUpdate(u Update) *ServerEvent {
	switch u.Type {
	case UpdateBanStatus:
		ev := &ServerEvent{Type: ServerEventBanStatus, Banned: boolPtr(u.Ban.Banned), Reason: u.Ban.Reason}
		if u.Ban.EndsAt != nil {
			endsAt := u.Ban.EndsAt.Format(time.RFC3339)
			ev.EndsAt = &endsAt
		}
		return ev
	case UpdatePresence:
		return &ServerEvent{Type: ServerEventPresence, AnyoneTyping: boolPtr(u.AnyoneTyping)}
	case UpdateReactionCounts:
		return &ServerEvent{
			Type:      ServerEventReactionCounts,
			MessageID: u.MessageID,
			Counts:    ReactionCountsFromGroups(u.Counts),
		}
	}
	return nil
}
