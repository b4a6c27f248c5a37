// Package event is the wire vocabulary shared by the server router and the
// client reconciler.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/model"
)

type Type string

const (
	MessageCreated   Type = "message.created"
	MessageEdited    Type = "message.edited"
	MessageDeleted   Type = "message.deleted"
	MessageRestored  Type = "message.restored"
	MessageSeenBatch Type = "message.seenBatch"
	ReactionChanged  Type = "reaction.changed"
	PinChanged       Type = "pin.changed"
	PresenceUpdated  Type = "presence.updated"
	Error            Type = "error"
	// Ack answers a ws command of the sending session only.
	Ack Type = "ack"
)

type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

// PinAction values are part of the established client protocol.
type PinAction string

const (
	PinPinned   PinAction = "fijado"
	PinUnpinned PinAction = "desfijado"
)

type UnpinReason string

const (
	ReasonExplicit UnpinReason = "explicit"
	ReasonExpired  UnpinReason = "expired"
	ReasonReplaced UnpinReason = "replaced"
)

// Envelope is one event delivered to a session. Conversation is empty for
// presence and error events.
type Envelope struct {
	ID           string                `json:"id"`
	Type         Type                  `json:"type"`
	Room         string                `json:"room,omitempty"`
	Conversation model.ConversationRef `json:"conversation"`
	Payload      json.RawMessage       `json:"payload"`
	EmittedAt    time.Time             `json:"emitted_at"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type MessageEditedPayload struct {
	MessageID int64     `json:"message_id"`
	Body      string    `json:"body"`
	EditCount int       `json:"edit_count"`
	EditedAt  time.Time `json:"edited_at"`
}

// MessageStatePayload carries message.deleted and message.restored.
type MessageStatePayload struct {
	MessageID int64 `json:"message_id"`
	Deleted   bool  `json:"deleted"`
}

type SeenBatchPayload struct {
	ReaderID      string  `json:"reader_id"`
	UpToMessageID int64   `json:"up_to_message_id"`
	MessageIDs    []int64 `json:"message_ids"`
}

type ReactionPayload struct {
	Action    ReactionAction    `json:"action"`
	MessageID int64             `json:"message_id"`
	UserID    string            `json:"user_id"`
	Emoji     string            `json:"emoji"`
	Actor     *model.UserPublic `json:"actor,omitempty"`
}

type PinPayload struct {
	Action    PinAction         `json:"action"`
	MessageID int64             `json:"message_id"`
	PinnedBy  string            `json:"pinned_by,omitempty"`
	PinnedAt  *time.Time        `json:"pinned_at,omitempty"`
	Duration  model.PinDuration `json:"duration,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Reason    UnpinReason       `json:"reason,omitempty"`
	Actor     string            `json:"actor,omitempty"`
}

// PinnedPayload builds the "fijado" payload for p.
func PinnedPayload(p model.Pin) PinPayload {
	pinnedAt, expiresAt := p.PinnedAt, p.ExpiresAt
	return PinPayload{
		Action:    PinPinned,
		MessageID: p.MessageID,
		PinnedBy:  p.PinnedBy,
		PinnedAt:  &pinnedAt,
		Duration:  p.Duration,
		ExpiresAt: &expiresAt,
	}
}

// UnpinnedPayload builds the "desfijado" payload for p.
func UnpinnedPayload(p model.Pin, reason UnpinReason, actor string) PinPayload {
	return PinPayload{Action: PinUnpinned, MessageID: p.MessageID, Reason: reason, Actor: actor}
}

type PresencePayload struct {
	Users map[string]model.Presence `json:"users"`
}

type AckPayload struct {
	Command string `json:"command"`
	RefID   string `json:"ref_id,omitempty"`
	Result  any    `json:"result,omitempty"`
}

type ErrorPayload struct {
	Command string      `json:"command,omitempty"`
	RefID   string      `json:"ref_id,omitempty"`
	Error   string      `json:"error"`
	Pins    []model.Pin `json:"pins,omitempty"`
}

// New builds an envelope with a fresh id. Room is filled in by the router.
func New(t Type, conv model.ConversationRef, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("event %s marshal: %w", t, err)
	}
	return Envelope{
		ID:           uuid.NewString(),
		Type:         t,
		Conversation: conv,
		Payload:      raw,
		EmittedAt:    time.Now().UTC(),
	}, nil
}
