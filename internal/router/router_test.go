package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/presence/presencetest"
	"github.com/chatsync/internal/storage/memory"
)

func setup(t *testing.T) (*Router, map[string]*presencetest.Recorder) {
	t.Helper()
	dir := memory.NewDirectory()
	dir.AddGroupMember("g1", "alice")
	dir.AddGroupMember("g1", "carol")
	reg := presence.NewRegistry(memory.NewPresence(), dir)

	sessions := map[string]*presencetest.Recorder{
		"alice": presencetest.NewRecorder("s-alice", "alice"),
		"bob":   presencetest.NewRecorder("s-bob", "bob"),
		"carol": presencetest.NewRecorder("s-carol", "carol"),
	}
	for user, s := range sessions {
		require.NoError(t, reg.Register(context.Background(), user, s))
	}
	for _, s := range sessions {
		s.Reset()
	}
	return New(reg), sessions
}

func TestPrivateEventsReachBothParticipantsOnly(t *testing.T) {
	r, sessions := setup(t)
	conv := model.PrivateConversation("alice", "bob")

	require.NoError(t, r.Emit(context.Background(), conv, event.MessageDeleted, event.MessageStatePayload{MessageID: 7, Deleted: true}))

	for _, user := range []string{"alice", "bob"} {
		evs := sessions[user].OfType(event.MessageDeleted)
		require.Len(t, evs, 1, user)
		assert.Equal(t, conv, evs[0].Conversation)
		assert.Equal(t, "user:"+user, evs[0].Room)
	}
	assert.Empty(t, sessions["carol"].Events())
}

func TestGroupEventsReachGroupRoom(t *testing.T) {
	r, sessions := setup(t)
	conv := model.GroupConversation("g1")

	require.NoError(t, r.Emit(context.Background(), conv, event.MessageCreated, model.Message{ID: 1, Conversation: conv}))

	assert.Len(t, sessions["alice"].Events(), 1)
	assert.Len(t, sessions["carol"].Events(), 1)
	assert.Empty(t, sessions["bob"].Events())
}

func TestEmitWithNoSubscribersIsNotAnError(t *testing.T) {
	r, _ := setup(t)
	err := r.Emit(context.Background(), model.PrivateConversation("x", "y"), event.MessageCreated, struct{}{})
	assert.NoError(t, err)
}

func TestFullSessionDropsWithoutBlockingOthers(t *testing.T) {
	reg := presence.NewRegistry(memory.NewPresence(), nil)
	full := presencetest.NewBounded("s1", "alice", 0)
	ok := presencetest.NewRecorder("s2", "bob")
	require.NoError(t, reg.Register(context.Background(), "alice", full))
	require.NoError(t, reg.Register(context.Background(), "bob", ok))
	ok.Reset()

	r := New(reg)
	require.NoError(t, r.Emit(context.Background(), model.PrivateConversation("alice", "bob"), event.MessageEdited, event.MessageEditedPayload{MessageID: 1}))

	assert.Empty(t, full.Events())
	assert.Len(t, ok.Events(), 1)
}

func TestEmitRejectsUnencodablePayload(t *testing.T) {
	r, _ := setup(t)
	err := r.Emit(context.Background(), model.GroupConversation("g1"), event.MessageCreated, make(chan int))
	assert.Error(t, err)
}
