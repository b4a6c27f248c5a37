package ws

import (
	"github.com/chatsync/internal/model"
)

// CommandType: команды клиента по WebSocket; те же операции, что и REST.
type CommandType string

const (
	CmdSendMessage    CommandType = "message.send"
	CmdEditMessage    CommandType = "message.edit"
	CmdDeleteMessage  CommandType = "message.delete"
	CmdUndoDelete     CommandType = "message.undo"
	CmdMarkSeen       CommandType = "message.seen"
	CmdToggleReaction CommandType = "reaction.toggle"
	CmdPin            CommandType = "pin.request"
	CmdReplacePin     CommandType = "pin.replace"
	CmdUnpin          CommandType = "pin.unpin"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type CommandType `json:"type"`
	// RefID is echoed in the ack or error so the client can resolve its pending action.
	RefID        string                `json:"ref_id,omitempty"`
	Conversation model.ConversationRef `json:"conversation"`

	Body        string             `json:"body,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`

	// For edit/delete/undo/react/pin
	MessageID    int64 `json:"message_id,omitempty"`
	OldMessageID int64 `json:"old_message_id,omitempty"`

	Emoji    string `json:"emoji,omitempty"`
	Duration string `json:"duration,omitempty"`
	UpTo     int64  `json:"up_to_message_id,omitempty"`
}
