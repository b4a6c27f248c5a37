package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage/memory"
)

func TestRequestPinUpToCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, f.send(t, group, "alice", "m").ID)
		f.clock.Advance(time.Second)
	}
	f.events.Reset()

	for _, id := range ids[:3] {
		p, err := f.pins.RequestPin(ctx, group, id, "bob", model.PinDay)
		require.NoError(t, err)
		assert.Equal(t, p.PinnedAt.Add(24*time.Hour), p.ExpiresAt)
		f.clock.Advance(time.Second)
	}

	_, err := f.pins.RequestPin(ctx, group, ids[3], "bob", model.PinWeek)
	require.ErrorIs(t, err, ErrPinCapacityReached)
	var capErr *PinCapacityError
	require.True(t, errors.As(err, &capErr))
	require.Len(t, capErr.Pins, 3)
	assert.Equal(t, ids[0], capErr.Pins[0].MessageID, "oldest first")

	active, err := f.pins.ActivePins(ctx, group, "alice")
	require.NoError(t, err)
	assert.Len(t, active, 3)
	assert.Len(t, f.events.OfType(event.PinChanged), 3)
}

func TestRequestPinRefreshDoesNotConsumeCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, dmAB, "alice", "m")

	_, err := f.pins.RequestPin(ctx, dmAB, m.ID, "alice", model.PinDay)
	require.NoError(t, err)
	again, err := f.pins.RequestPin(ctx, dmAB, m.ID, "bob", model.PinMonth)
	require.NoError(t, err)
	assert.Equal(t, model.PinMonth, again.Duration)

	active, err := f.pins.ActivePins(ctx, dmAB, "alice")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "bob", active[0].PinnedBy)
	require.NotNil(t, active[0].Message)
	assert.True(t, active[0].Message.Pinned)
}

func TestRequestPinRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, dmAB, "alice", "m")
	other := f.send(t, group, "alice", "g")

	_, err := f.pins.RequestPin(ctx, dmAB, m.ID, "alice", model.PinDuration("1h"))
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = f.pins.RequestPin(ctx, dmAB, m.ID, "carol", model.PinDay)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.pins.RequestPin(ctx, dmAB, other.ID, "alice", model.PinDay)
	assert.ErrorIs(t, err, ErrNotFound, "message of another conversation")

	_, err = f.messages.SoftDelete(ctx, m.ID, "alice")
	require.NoError(t, err)
	_, err = f.pins.RequestPin(ctx, dmAB, m.ID, "alice", model.PinDay)
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestConcurrentRequestPinNeverExceedsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 12
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = f.send(t, group, "alice", "m").ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.pins.RequestPin(ctx, group, id, "bob", model.PinDay)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrPinCapacityReached):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, model.MaxActivePins, ok)
	assert.Equal(t, n-model.MaxActivePins, full)
	active, err := f.pins.ActivePins(ctx, group, "alice")
	require.NoError(t, err)
	assert.Len(t, active, model.MaxActivePins)
}

func TestReplacePinScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.send(t, group, "alice", "A")
	b := f.send(t, group, "alice", "B")
	c := f.send(t, group, "alice", "C")
	d := f.send(t, group, "alice", "D")
	for _, m := range []*model.Message{a, b, c} {
		_, err := f.pins.RequestPin(ctx, group, m.ID, "alice", model.PinDay)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	f.events.Reset()

	_, err := f.pins.RequestPin(ctx, group, d.ID, "bob", model.PinWeek)
	require.ErrorIs(t, err, ErrPinCapacityReached)
	assert.Empty(t, f.events.All())

	p, err := f.pins.ReplacePin(ctx, group, a.ID, d.ID, "bob", model.PinWeek)
	require.NoError(t, err)
	assert.Equal(t, d.ID, p.MessageID)

	active, err := f.pins.ActivePins(ctx, group, "alice")
	require.NoError(t, err)
	var got []int64
	for _, p := range active {
		got = append(got, p.MessageID)
	}
	assert.ElementsMatch(t, []int64{b.ID, c.ID, d.ID}, got)

	evs := f.events.OfType(event.PinChanged)
	require.Len(t, evs, 2)
	first := evs[0].Payload.(event.PinPayload)
	second := evs[1].Payload.(event.PinPayload)
	assert.Equal(t, event.PinUnpinned, first.Action)
	assert.Equal(t, a.ID, first.MessageID)
	assert.Equal(t, event.ReasonReplaced, first.Reason)
	assert.Equal(t, event.PinPinned, second.Action)
	assert.Equal(t, d.ID, second.MessageID)
}

func TestReplacePinUnknownOldLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.send(t, dmAB, "alice", "A")
	b := f.send(t, dmAB, "alice", "B")

	_, err := f.pins.ReplacePin(ctx, dmAB, a.ID, b.ID, "alice", model.PinDay)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.pins.ReplacePin(ctx, dmAB, a.ID, a.ID, "alice", model.PinDay)
	assert.ErrorIs(t, err, ErrInvalidInput)

	active, err := f.pins.ActivePins(ctx, dmAB, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, f.events.OfType(event.PinChanged))
}

func TestUnpin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, dmAB, "alice", "A")
	_, err := f.pins.RequestPin(ctx, dmAB, m.ID, "alice", model.PinDay)
	require.NoError(t, err)
	f.events.Reset()

	require.NoError(t, f.pins.Unpin(ctx, dmAB, m.ID, "bob"))
	assert.ErrorIs(t, f.pins.Unpin(ctx, dmAB, m.ID, "bob"), ErrNotFound)

	evs := f.events.OfType(event.PinChanged)
	require.Len(t, evs, 1)
	p := evs[0].Payload.(event.PinPayload)
	assert.Equal(t, event.PinUnpinned, p.Action)
	assert.Equal(t, event.ReasonExplicit, p.Reason)
	assert.Equal(t, "bob", p.Actor)

	got, err := f.messages.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
}

func TestSoftDeleteKeepsPin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, dmAB, "alice", "A")
	_, err := f.pins.RequestPin(ctx, dmAB, m.ID, "alice", model.PinDay)
	require.NoError(t, err)

	_, err = f.messages.SoftDelete(ctx, m.ID, "alice")
	require.NoError(t, err)

	active, err := f.pins.ActivePins(ctx, dmAB, "alice")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestExpiredPinFreesCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, f.send(t, group, "alice", "m").ID)
	}
	_, err := f.pins.RequestPin(ctx, group, ids[0], "alice", model.PinDay)
	require.NoError(t, err)
	for _, id := range ids[1:3] {
		_, err := f.pins.RequestPin(ctx, group, id, "alice", model.PinWeek)
		require.NoError(t, err)
	}

	f.clock.Advance(24 * time.Hour)
	_, err = f.pins.RequestPin(ctx, group, ids[3], "alice", model.PinDay)
	assert.NoError(t, err, "a pin at its expiry instant no longer counts")
}

func TestExpiredUnsweptPinReadsAsUnpinned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, dmAB, "alice", "A")
	_, err := f.pins.RequestPin(ctx, dmAB, m.ID, "alice", model.PinDay)
	require.NoError(t, err)

	got, err := f.messages.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)

	f.clock.Advance(24*time.Hour + time.Minute)
	f.events.Reset()

	got, err = f.messages.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned, "message and pin list must agree before the sweep")
	assert.Nil(t, got.PinExpiresAt)
	active, err := f.pins.ActivePins(ctx, dmAB, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, f.pins.Unpin(ctx, dmAB, m.ID, "alice"), ErrNotFound)
	assert.Empty(t, f.events.OfType(event.PinChanged), "explicit unpin of an expired pin emits nothing")

	sw, err := NewSweeper(f.store, memory.NewLocker(), f.events, "", f.opts)
	require.NoError(t, err)
	n, _, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	evs := f.events.OfType(event.PinChanged)
	require.Len(t, evs, 1)
	assert.Equal(t, event.ReasonExpired, evs[0].Payload.(event.PinPayload).Reason)
}
