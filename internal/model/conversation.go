package model

import (
	"errors"
	"strings"
)

type ConversationKind string

const (
	ConversationPrivate ConversationKind = "dm"
	ConversationGroup   ConversationKind = "group"
)

var ErrInvalidConversation = errors.New("invalid conversation ref")

// ConversationRef addresses a conversation: an unordered user pair or a group.
// Private refs are canonicalised so that UserA < UserB.
type ConversationRef struct {
	Kind    ConversationKind `json:"kind"`
	UserA   string           `json:"user_a,omitempty"`
	UserB   string           `json:"user_b,omitempty"`
	GroupID string           `json:"group_id,omitempty"`
}

func PrivateConversation(a, b string) ConversationRef {
	if b < a {
		a, b = b, a
	}
	return ConversationRef{Kind: ConversationPrivate, UserA: a, UserB: b}
}

func GroupConversation(groupID string) ConversationRef {
	return ConversationRef{Kind: ConversationGroup, GroupID: groupID}
}

// Key is the canonical string form: "dm:<a>:<b>" or "group:<id>".
func (c ConversationRef) Key() string {
	switch c.Kind {
	case ConversationPrivate:
		return "dm:" + c.UserA + ":" + c.UserB
	case ConversationGroup:
		return "group:" + c.GroupID
	}
	return ""
}

func (c ConversationRef) String() string { return c.Key() }

func (c ConversationRef) IsZero() bool { return c.Kind == "" }

// Has reports whether userID is one side of a private conversation.
func (c ConversationRef) Has(userID string) bool {
	return c.Kind == ConversationPrivate && (c.UserA == userID || c.UserB == userID)
}

// ParseConversation parses the Key form back into a ref.
func ParseConversation(s string) (ConversationRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	switch {
	case len(parts) == 3 && parts[0] == string(ConversationPrivate):
		if parts[1] == "" || parts[2] == "" || parts[1] == parts[2] {
			return ConversationRef{}, ErrInvalidConversation
		}
		return PrivateConversation(parts[1], parts[2]), nil
	case len(parts) == 2 && parts[0] == string(ConversationGroup):
		if parts[1] == "" {
			return ConversationRef{}, ErrInvalidConversation
		}
		return GroupConversation(parts[1]), nil
	}
	return ConversationRef{}, ErrInvalidConversation
}

func (c ConversationRef) MarshalText() ([]byte, error) {
	return []byte(c.Key()), nil
}

func (c *ConversationRef) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = ConversationRef{}
		return nil
	}
	ref, err := ParseConversation(string(b))
	if err != nil {
		return err
	}
	*c = ref
	return nil
}
