package model

import "time"

// DefaultEditWindow is how long after creation the sender may still edit a message.
const DefaultEditWindow = 15 * time.Minute

type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID           int64           `json:"id"`
	Conversation ConversationRef `json:"conversation"`
	SenderID     string          `json:"sender_id"`
	Body         string          `json:"body"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Edited       bool            `json:"edited"`
	EditCount    int             `json:"edit_count"`
	Deleted      bool            `json:"deleted"`
	Seen         bool            `json:"seen"`
	Pinned       bool            `json:"pinned"`
	PinExpiresAt *time.Time      `json:"pin_expires_at,omitempty"`
	Sender       *UserPublic     `json:"sender,omitempty"`
	Reactions    []Reaction      `json:"reactions,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		c.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.PinExpiresAt != nil {
		t := *m.PinExpiresAt
		c.PinExpiresAt = &t
	}
	return &c
}

// EditableAt reports whether an edit window of the given length is still open at now.
// The boundary itself is still editable.
func (m *Message) EditableAt(now time.Time, window time.Duration) bool {
	return now.Sub(m.CreatedAt) <= window
}

type EditHistoryEntry struct {
	MessageID int64     `json:"message_id"`
	PriorBody string    `json:"prior_body"`
	EditedAt  time.Time `json:"edited_at"`
}

type Reaction struct {
	MessageID int64     `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionKey identifies a reaction tuple.
type ReactionKey struct {
	MessageID int64
	UserID    string
	Emoji     string
}

func (r Reaction) Key() ReactionKey {
	return ReactionKey{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
}

// ReactionGroup is aggregated reaction info for display.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// GroupReactions folds reactions into per-emoji groups in first-seen order.
func GroupReactions(rs []Reaction) []ReactionGroup {
	idx := make(map[string]int, 4)
	groups := make([]ReactionGroup, 0, 4)
	for _, r := range rs {
		i, ok := idx[r.Emoji]
		if !ok {
			i = len(groups)
			idx[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}
