package model

import "time"

type PresenceStatus string

const (
	StatusOnline       PresenceStatus = "online"
	StatusDisconnected PresenceStatus = "desconectado"
)

// Presence is the last known connection state of a user. Entries are never removed.
type Presence struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"socket_id"`
	Status    PresenceStatus `json:"status"`
	LastSeen  time.Time      `json:"last_seen"`
}
