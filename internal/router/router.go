// Package router delivers domain events to the sessions of a conversation's rooms.
//
// Delivery is at-most-once and fire-and-forget: nothing is persisted or retried.
// A session that misses an event reconciles by re-reading the store.
package router

import (
	"context"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
)

// Rooms resolves a room to its live sessions.
type Rooms interface {
	SessionsInRoom(room string) []presence.Session
}

type Router struct {
	rooms Rooms
}

func New(rooms Rooms) *Router {
	return &Router{rooms: rooms}
}

// Emit sends one event to every session subscribed to conv. It only fails when
// the payload cannot be encoded; undelivered sessions are counted, not reported.
func (r *Router) Emit(ctx context.Context, conv model.ConversationRef, t event.Type, payload any) error {
	ev, err := event.New(t, conv, payload)
	if err != nil {
		return err
	}
	metrics.EventsEmitted.WithLabelValues(string(t)).Inc()
	r.deliver(presence.ConversationRooms(conv), ev)
	return nil
}

// EmitToRoom sends an event to a single room, e.g. a group announcement.
func (r *Router) EmitToRoom(ctx context.Context, room string, t event.Type, payload any) error {
	ev, err := event.New(t, model.ConversationRef{}, payload)
	if err != nil {
		return err
	}
	metrics.EventsEmitted.WithLabelValues(string(t)).Inc()
	r.deliver([]string{room}, ev)
	return nil
}

func (r *Router) deliver(rooms []string, ev event.Envelope) {
	sent := make(map[string]struct{}, 4)
	for _, room := range rooms {
		ev.Room = room
		for _, s := range r.rooms.SessionsInRoom(room) {
			if _, dup := sent[s.ID()]; dup {
				continue
			}
			sent[s.ID()] = struct{}{}
			if s.Deliver(ev) {
				metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
				continue
			}
			metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
			logger.Debugf("router drop type=%s room=%s session=%s", ev.Type, room, s.ID())
		}
	}
}
