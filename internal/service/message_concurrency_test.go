package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/event"
)

func TestConcurrentEditsAndDeleteAreSerialised(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, dmAB, "alice", "v0")

	const editors = 24
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
			if _, err := f.messages.Edit(ctx, m.ID, "alice", body); err != nil {
				assert.ErrorIs(t, err, ErrAlreadyDeleted)
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
		_, err := f.messages.SoftDelete(ctx, m.ID, "alice")
		assert.NoError(t, err)
	}()
	close(start)
	wg.Wait()

	final, err := f.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, final.Deleted)
	assert.Equal(t, len(accepted), final.EditCount)

	hist, err := f.messages.History(ctx, m.ID, "alice")
	require.NoError(t, err)
	require.Len(t, hist, final.EditCount)
	if len(hist) == 0 {
		assert.Equal(t, "v0", final.Body)
		return
	}

	// Каждая принятая правка видна ровно одному преемнику: потерянных обновлений нет.
	assert.Equal(t, "v0", hist[0].PriorBody)
	seen := map[string]bool{final.Body: true}
	for _, h := range hist[1:] {
		assert.False(t, seen[h.PriorBody], "body %q replaced twice", h.PriorBody)
		seen[h.PriorBody] = true
	}
	assert.Equal(t, accepted, seen)

	_, err = f.messages.Edit(ctx, m.ID, "alice", "late")
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestConcurrentDeleteUndoAlternate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, dmAB, "alice", "body")

	const workers = 16
	var (
		wg                sync.WaitGroup
		mu                sync.Mutex
		deletes, restores int
		start             = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(undo bool) {
			defer wg.Done()
			<-start
			var err error
			if undo {
				_, err = f.messages.UndoDelete(ctx, m.ID, "alice")
				if err != nil {
					assert.ErrorIs(t, err, ErrNotDeleted)
					return
				}
				mu.Lock()
				restores++
				mu.Unlock()
				return
			}
			_, err = f.messages.SoftDelete(ctx, m.ID, "alice")
			if err != nil {
				assert.ErrorIs(t, err, ErrAlreadyDeleted)
				return
			}
			mu.Lock()
			deletes++
			mu.Unlock()
		}(i%2 == 1)
	}
	close(start)
	wg.Wait()

	// начинали с живого сообщения, поэтому удаления и восстановления чередуются
	final, err := f.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, deletes, 1)
	assert.Contains(t, []int{restores, restores + 1}, deletes)
	assert.Equal(t, deletes > restores, final.Deleted)
	assert.Equal(t, "body", final.Body)
	assert.Len(t, f.events.OfType(event.MessageDeleted), deletes)
	assert.Len(t, f.events.OfType(event.MessageRestored), restores)
}
