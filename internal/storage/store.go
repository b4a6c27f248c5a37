// Package storage declares the persistence contracts of the sync engine.
// Implementations: repository (Postgres), memory (single instance, tests, -memory),
// redis (presence and the sweeper lease for multi-instance deployments).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chatsync/internal/model"
)

var ErrNotFound = errors.New("not found")

// Mutation is applied to the current, locked state of a message. Returning an error
// aborts the update; a non-nil history entry is appended in the same critical section.
type Mutation func(m *model.Message) (*model.EditHistoryEntry, error)

type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	// UpdateMessage serialises mutations per message and returns the stored result.
	UpdateMessage(ctx context.Context, id int64, fn Mutation) (*model.Message, error)
	// MarkSeen flags unseen messages addressed to readerID with id <= upTo and
	// returns the ids that changed, ascending.
	MarkSeen(ctx context.Context, conv model.ConversationRef, readerID string, upTo int64) ([]int64, error)
	History(ctx context.Context, messageID int64) ([]model.EditHistoryEntry, error)
	// ListMessages returns up to limit messages older than before (0 = newest), newest first.
	ListMessages(ctx context.Context, conv model.ConversationRef, before int64, limit int) ([]model.Message, error)
}

type ReactionStore interface {
	// ToggleReaction removes the tuple if present, inserts it otherwise.
	ToggleReaction(ctx context.Context, r model.Reaction) (added bool, err error)
	ReactionsFor(ctx context.Context, messageID int64) ([]model.Reaction, error)
}

type PinStore interface {
	// PinMessage inserts p unless the conversation already holds capacity active pins.
	// It reports pinned=false together with the active pins (oldest first) when full.
	// Re-pinning an active pin refreshes it and never consumes capacity.
	PinMessage(ctx context.Context, p model.Pin, capacity int, now time.Time) (pinned bool, active []model.Pin, err error)
	// ReplacePin removes oldID and inserts p in one critical section.
	ReplacePin(ctx context.Context, oldID int64, p model.Pin, now time.Time) (*model.Pin, error)
	// UnpinMessage removes an active pin; an expired one is ErrNotFound and left to the sweeper.
	UnpinMessage(ctx context.Context, conv model.ConversationRef, messageID int64, now time.Time) (*model.Pin, error)
	ActivePins(ctx context.Context, conv model.ConversationRef, now time.Time) ([]model.Pin, error)
	// DeleteExpired removes every pin with expires_at <= now and returns them.
	DeleteExpired(ctx context.Context, now time.Time) ([]model.Pin, error)
}

// PresenceStore keeps last known presence per user.
type PresenceStore interface {
	SetPresence(ctx context.Context, p model.Presence) error
	GetPresence(ctx context.Context, userID string) (*model.Presence, error)
	AllPresence(ctx context.Context) (map[string]model.Presence, error)
}

// Locker grants short leases so a singleton job runs on one instance only.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Directory resolves the external collaborators: group membership and profiles.
type Directory interface {
	RoomsFor(ctx context.Context, userID string) ([]string, error)
	IsParticipant(ctx context.Context, conv model.ConversationRef, userID string) (bool, error)
	Profile(ctx context.Context, userID string) (*model.UserPublic, error)
}

// DirectoryAdmin maintains the directory through the admin endpoints.
type DirectoryAdmin interface {
	Directory
	Upsert(ctx context.Context, u model.UserPublic) error
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}
