// Package presence tracks which live sessions belong to which user and which
// rooms, and keeps last known presence in a PresenceStore.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Session is one live transport connection.
type Session interface {
	ID() string
	UserID() string
	// Deliver queues ev without blocking and reports whether it was accepted.
	Deliver(ev event.Envelope) bool
}

// RoomLookup supplies group memberships at registration time.
type RoomLookup interface {
	RoomsFor(ctx context.Context, userID string) ([]string, error)
}

func PersonalRoom(userID string) string { return "user:" + userID }

func GroupRoom(groupID string) string { return model.GroupConversation(groupID).Key() }

// ConversationRooms lists the rooms a conversation's events go to.
func ConversationRooms(conv model.ConversationRef) []string {
	switch conv.Kind {
	case model.ConversationPrivate:
		return []string{PersonalRoom(conv.UserA), PersonalRoom(conv.UserB)}
	case model.ConversationGroup:
		return []string{GroupRoom(conv.GroupID)}
	}
	return nil
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	byUser   map[string]map[string]Session
	rooms    map[string]map[string]Session
	joined   map[string][]string

	store  storage.PresenceStore
	lookup RoomLookup
	now    func() time.Time
}

func NewRegistry(store storage.PresenceStore, lookup RoomLookup) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		byUser:   make(map[string]map[string]Session),
		rooms:    make(map[string]map[string]Session),
		joined:   make(map[string][]string),
		store:    store,
		lookup:   lookup,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source (tests).
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Register binds s to userID, joins the personal room and every group room.
// A failed membership lookup is logged; the personal room is joined regardless.
func (r *Registry) Register(ctx context.Context, userID string, s Session) error {
	rooms := []string{PersonalRoom(userID)}
	if r.lookup != nil {
		groups, err := r.lookup.RoomsFor(ctx, userID)
		if err != nil {
			logger.Errorf("presence rooms lookup user=%s: %v", userID, err)
		}
		for _, g := range groups {
			rooms = append(rooms, GroupRoom(g))
		}
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]Session)
	}
	r.byUser[userID][s.ID()] = s
	for _, room := range rooms {
		r.joinLocked(room, s)
	}
	total := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsActive.Set(float64(total))

	if err := r.store.SetPresence(ctx, model.Presence{
		UserID:    userID,
		SessionID: s.ID(),
		Status:    model.StatusOnline,
		LastSeen:  r.now(),
	}); err != nil {
		logger.Errorf("presence set online user=%s: %v", userID, err)
	}
	r.broadcastSnapshot(ctx)
	return nil
}

func (r *Registry) joinLocked(room string, s Session) {
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]Session)
	}
	if _, ok := r.rooms[room][s.ID()]; ok {
		return
	}
	r.rooms[room][s.ID()] = s
	r.joined[s.ID()] = append(r.joined[s.ID()], room)
}

// JoinRoom adds every live session of userID to room (membership granted after connect).
func (r *Registry) JoinRoom(userID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byUser[userID] {
		r.joinLocked(room, s)
	}
}

// LeaveRoom removes every live session of userID from room.
func (r *Registry) LeaveRoom(userID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.byUser[userID] {
		delete(r.rooms[room], id)
		joined := r.joined[id][:0]
		for _, j := range r.joined[id] {
			if j != room {
				joined = append(joined, j)
			}
		}
		r.joined[id] = joined
	}
	if len(r.rooms[room]) == 0 {
		delete(r.rooms, room)
	}
}

// OnDisconnect drops s. The user turns desconectado when the last session goes.
func (r *Registry) OnDisconnect(ctx context.Context, s Session) error {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID()]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, s.ID())
	for _, room := range r.joined[s.ID()] {
		delete(r.rooms[room], s.ID())
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.joined, s.ID())
	userID := s.UserID()
	var remaining Session
	delete(r.byUser[userID], s.ID())
	for _, other := range r.byUser[userID] {
		remaining = other
		break
	}
	if remaining == nil {
		delete(r.byUser, userID)
	}
	total := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsActive.Set(float64(total))

	if remaining != nil {
		if err := r.store.SetPresence(ctx, model.Presence{
			UserID:    userID,
			SessionID: remaining.ID(),
			Status:    model.StatusOnline,
			LastSeen:  r.now(),
		}); err != nil {
			logger.Errorf("presence rebind user=%s: %v", userID, err)
		}
		return nil
	}

	if err := r.store.SetPresence(ctx, model.Presence{
		UserID:    userID,
		SessionID: s.ID(),
		Status:    model.StatusDisconnected,
		LastSeen:  r.now(),
	}); err != nil {
		logger.Errorf("presence set offline user=%s: %v", userID, err)
	}
	r.broadcastSnapshot(ctx)
	return nil
}

// SessionsFor returns the live sessions of a user, zero or more.
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSessions(r.byUser[userID])
}

func (r *Registry) SessionsInRoom(room string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSessions(r.rooms[room])
}

// RoomsOf lists the rooms a session has joined.
func (r *Registry) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.joined[sessionID]...)
}

func (r *Registry) Snapshot(ctx context.Context) (map[string]model.Presence, error) {
	return r.store.AllPresence(ctx)
}

func (r *Registry) all() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSessions(r.sessions)
}

func (r *Registry) broadcastSnapshot(ctx context.Context) {
	users, err := r.store.AllPresence(ctx)
	if err != nil {
		logger.Errorf("presence snapshot: %v", err)
		return
	}
	ev, err := event.New(event.PresenceUpdated, model.ConversationRef{}, event.PresencePayload{Users: users})
	if err != nil {
		logger.Errorf("presence broadcast: %v", err)
		return
	}
	metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	for _, s := range r.all() {
		if s.Deliver(ev) {
			metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
		} else {
			metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

func sortedSessions(m map[string]Session) []Session {
	out := make([]Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
