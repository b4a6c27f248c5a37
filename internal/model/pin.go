package model

import (
	"fmt"
	"time"
)

// MaxActivePins is the number of pins a conversation may hold at once.
const MaxActivePins = 3

// PinDuration is one of the three allowed pin lifetimes.
type PinDuration string

const (
	PinDay   PinDuration = "24h"
	PinWeek  PinDuration = "7d"
	PinMonth PinDuration = "30d"
)

func (d PinDuration) Valid() bool {
	switch d {
	case PinDay, PinWeek, PinMonth:
		return true
	}
	return false
}

func (d PinDuration) Duration() time.Duration {
	switch d {
	case PinDay:
		return 24 * time.Hour
	case PinWeek:
		return 7 * 24 * time.Hour
	case PinMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// ParsePinDuration accepts the canonical names and the equivalent hour forms.
func ParsePinDuration(s string) (PinDuration, error) {
	switch s {
	case "24h", "1d":
		return PinDay, nil
	case "7d", "168h":
		return PinWeek, nil
	case "30d", "720h":
		return PinMonth, nil
	}
	return "", fmt.Errorf("pin duration %q: must be one of 24h, 7d, 30d", s)
}

type Pin struct {
	Conversation ConversationRef `json:"conversation"`
	MessageID    int64           `json:"message_id"`
	PinnedBy     string          `json:"pinned_by"`
	PinnedAt     time.Time       `json:"pinned_at"`
	Duration     PinDuration     `json:"duration"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Message      *Message        `json:"message,omitempty"`
}

// ActiveAt reports whether the pin has not yet expired at now.
func (p Pin) ActiveAt(now time.Time) bool {
	return p.ExpiresAt.After(now)
}
