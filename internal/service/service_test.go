package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage/memory"
)

type emitted struct {
	Conv    model.ConversationRef
	Type    event.Type
	Payload any
}

type recordingEmitter struct {
	mu  sync.Mutex
	out []emitted
}

func (r *recordingEmitter) Emit(ctx context.Context, conv model.ConversationRef, t event.Type, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, emitted{Conv: conv, Type: t, Payload: payload})
	return nil
}

func (r *recordingEmitter) OfType(t event.Type) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []emitted
	for _, e := range r.out {
		if e.Type == t {
			res = append(res, e)
		}
	}
	return res
}

func (r *recordingEmitter) All() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.out...)
}

func (r *recordingEmitter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     *memory.Store
	dir       *memory.Directory
	events    *recordingEmitter
	clock     *clock
	messages  *MessageService
	reactions *ReactionService
	pins      *PinService
	opts      Options
}

var (
	dmAB  = model.PrivateConversation("alice", "bob")
	group = model.GroupConversation("g1")
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	dir := memory.NewDirectory()
	dir.AddUser(model.UserPublic{ID: "alice", Username: "alice"})
	dir.AddUser(model.UserPublic{ID: "bob", Username: "bob"})
	dir.AddUser(model.UserPublic{ID: "carol", Username: "carol"})
	dir.AddGroupMember("g1", "alice")
	dir.AddGroupMember("g1", "bob")
	dir.AddGroupMember("g1", "carol")

	c := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	store.WithClock(c.Now)
	events := &recordingEmitter{}
	deps := Deps{Messages: store, Reactions: store, Pins: store, Directory: dir, Events: events}
	opts := Options{Now: c.Now}
	return &fixture{
		store:     store,
		dir:       dir,
		events:    events,
		clock:     c,
		messages:  NewMessageService(deps, opts),
		reactions: NewReactionService(deps, opts),
		pins:      NewPinService(deps, opts),
		opts:      opts,
	}
}

func (f *fixture) send(t *testing.T, conv model.ConversationRef, from, body string) *model.Message {
	t.Helper()
	m, err := f.messages.Append(context.Background(), conv, from, body, nil)
	require.NoError(t, err)
	return m
}
