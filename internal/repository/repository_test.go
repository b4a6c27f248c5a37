package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/migrations"
)

// Тесты ходят в настоящий Postgres: CHATSYNC_TEST_DATABASE_URL=postgres://... go test ./internal/repository/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("CHATSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHATSYNC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool, migrations.Files))
	_, err = pool.Exec(ctx, `TRUNCATE pinned_messages, message_reactions, message_edit_history, messages, group_members, users RESTART IDENTITY`)
	require.NoError(t, err)
	return pool
}

var dmAB = model.PrivateConversation("alice", "bob")

func createMessage(t *testing.T, repo *MessageRepository, conv model.ConversationRef, sender, body string) *model.Message {
	t.Helper()
	m := &model.Message{Conversation: conv, SenderID: sender, Body: body, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateMessage(context.Background(), m))
	require.NotZero(t, m.ID)
	return m
}

func TestMessageLifecycle(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewMessageRepository(pool)

	m := createMessage(t, repo, dmAB, "alice", "v1")

	updated, err := repo.UpdateMessage(ctx, m.ID, func(cur *model.Message) (*model.EditHistoryEntry, error) {
		entry := &model.EditHistoryEntry{MessageID: cur.ID, PriorBody: cur.Body, EditedAt: time.Now().UTC()}
		cur.Body, cur.Edited = "v2", true
		cur.EditCount++
		return entry, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Body)
	assert.Equal(t, 1, updated.EditCount)

	history, err := repo.History(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "v1", history[0].PriorBody)

	_, err = repo.GetMessage(ctx, 424242)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

var errDeleted = errors.New("deleted")

func TestConcurrentUpdatesAreSerialisedByRowLock(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewMessageRepository(pool)
	m := createMessage(t, repo, dmAB, "alice", "v0")

	edit := func(body string) storage.Mutation {
		return func(cur *model.Message) (*model.EditHistoryEntry, error) {
			if cur.Deleted {
				return nil, errDeleted
			}
			entry := &model.EditHistoryEntry{MessageID: cur.ID, PriorBody: cur.Body, EditedAt: time.Now().UTC()}
			cur.Body, cur.Edited = body, true
			cur.EditCount++
			return entry, nil
		}
	}

	const editors = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = map[string]bool{}
		start    = make(chan struct{})
	)
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			body := fmt.Sprintf("e%d", i)
			if _, err := repo.UpdateMessage(ctx, m.ID, edit(body)); err != nil {
				assert.ErrorIs(t, err, errDeleted)
				return
			}
			mu.Lock()
			accepted[body] = true
			mu.Unlock()
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, err := repo.UpdateMessage(ctx, m.ID, func(cur *model.Message) (*model.EditHistoryEntry, error) {
			cur.Deleted = true
			return nil, nil
		})
		assert.NoError(t, err)
	}()
	close(start)
	wg.Wait()

	final, err := repo.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, final.Deleted)
	assert.Equal(t, len(accepted), final.EditCount)

	history, err := repo.History(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, final.EditCount)
	if len(history) == 0 {
		assert.Equal(t, "v0", final.Body)
		return
	}
	assert.Equal(t, "v0", history[0].PriorBody)
	seen := map[string]bool{final.Body: true}
	for _, h := range history[1:] {
		seen[h.PriorBody] = true
	}
	assert.Equal(t, accepted, seen)
}

func TestMarkSeenAndList(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewMessageRepository(pool)

	a1 := createMessage(t, repo, dmAB, "alice", "1")
	createMessage(t, repo, dmAB, "bob", "2")
	a3 := createMessage(t, repo, dmAB, "alice", "3")

	ids, err := repo.MarkSeen(ctx, dmAB, "bob", a3.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1.ID, a3.ID}, ids)

	ids, err = repo.MarkSeen(ctx, dmAB, "bob", a3.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	page, err := repo.ListMessages(ctx, dmAB, a3.ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Greater(t, page[0].ID, page[1].ID)
}

func TestToggleReaction(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	m := createMessage(t, NewMessageRepository(pool), dmAB, "alice", "x")
	repo := NewReactionRepository(pool)

	r := model.Reaction{MessageID: m.ID, UserID: "bob", Emoji: "👍", CreatedAt: time.Now().UTC()}
	added, err := repo.ToggleReaction(ctx, r)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.ToggleReaction(ctx, r)
	require.NoError(t, err)
	assert.False(t, added)

	rs, err := repo.ReactionsFor(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestPinCapacityUnderContention(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	msgs := NewMessageRepository(pool)
	pins := NewPinnedRepository(pool)
	now := time.Now().UTC()

	var ids []int64
	for i := 0; i < 8; i++ {
		ids = append(ids, createMessage(t, msgs, dmAB, "alice", "m").ID)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		pinned int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			p := model.Pin{Conversation: dmAB, MessageID: id, PinnedBy: "alice", PinnedAt: now, Duration: model.PinDay, ExpiresAt: now.Add(24 * time.Hour)}
			ok, _, err := pins.PinMessage(ctx, p, model.MaxActivePins, now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				pinned++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, model.MaxActivePins, pinned)

	active, err := pins.ActivePins(ctx, dmAB, now)
	require.NoError(t, err)
	assert.Len(t, active, model.MaxActivePins)

	expired, err := pins.DeleteExpired(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Len(t, expired, model.MaxActivePins)
}

func TestExpiredPinIsNotHydratedNorUnpinned(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	msgs := NewMessageRepository(pool)
	pins := NewPinnedRepository(pool)
	m := createMessage(t, msgs, dmAB, "alice", "m")

	past := time.Now().UTC().Add(-48 * time.Hour)
	p := model.Pin{Conversation: dmAB, MessageID: m.ID, PinnedBy: "alice", PinnedAt: past, Duration: model.PinDay, ExpiresAt: past.Add(24 * time.Hour)}
	ok, _, err := pins.PinMessage(ctx, p, model.MaxActivePins, past)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := msgs.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
	assert.Nil(t, got.PinExpiresAt)

	_, err = pins.UnpinMessage(ctx, dmAB, m.ID, time.Now().UTC())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	expired, err := pins.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, model.PinDay, expired[0].Duration)
}

func TestDirectory(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	dir := NewDirectory(pool)

	require.NoError(t, dir.Upsert(ctx, model.UserPublic{ID: "alice", Username: "Alice"}))
	require.NoError(t, dir.AddMember(ctx, "g1", "alice"))
	rooms, err := dir.RoomsFor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, rooms)

	ok, err := dir.IsParticipant(ctx, model.GroupConversation("g1"), "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, dir.RemoveMember(ctx, "g1", "alice"))
	ok, err = dir.IsParticipant(ctx, model.GroupConversation("g1"), "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := dir.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Username)
}
