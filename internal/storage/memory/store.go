// Package memory: хранилище в памяти процесса: для тестов и режима -memory
// (один инстанс, без Postgres/Redis). Реализует те же интерфейсы, что и repository.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type Store struct {
	mu        sync.RWMutex
	nextID    int64
	messages  map[int64]*model.Message
	byConv    map[string][]int64
	history   map[int64][]model.EditHistoryEntry
	reactions map[int64][]model.Reaction
	pins      map[string]map[int64]model.Pin

	msgLocks  *keyLock
	convLocks *keyLock
	now       func() time.Time
}

var (
	_ storage.MessageStore  = (*Store)(nil)
	_ storage.ReactionStore = (*Store)(nil)
	_ storage.PinStore      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		messages:  make(map[int64]*model.Message),
		byConv:    make(map[string][]int64),
		history:   make(map[int64][]model.EditHistoryEntry),
		reactions: make(map[int64][]model.Reaction),
		pins:      make(map[string]map[int64]model.Pin),
		msgLocks:  newKeyLock(),
		convLocks: newKeyLock(),
		now:       time.Now,
	}
}

// WithClock задаёт часы, по которым истёкшие, но ещё не выметенные закрепления не считаются активными.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	stored := m.Clone()
	stored.Pinned, stored.PinExpiresAt, stored.Reactions, stored.Sender = false, nil, nil, nil
	s.messages[m.ID] = stored
	key := m.Conversation.Key()
	s.byConv[key] = append(s.byConv[key], m.ID)
	return nil
}

// hydrate copies the stored message and fills pin state. Caller holds s.mu.
func (s *Store) hydrate(m *model.Message) *model.Message {
	out := m.Clone()
	if p, ok := s.pins[m.Conversation.Key()][m.ID]; ok && p.ActiveAt(s.now()) {
		out.Pinned = true
		exp := p.ExpiresAt
		out.PinExpiresAt = &exp
	}
	return out
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.hydrate(m), nil
}

func (s *Store) UpdateMessage(ctx context.Context, id int64, fn storage.Mutation) (*model.Message, error) {
	unlock := s.msgLocks.Lock(strconv.FormatInt(id, 10))
	defer unlock()

	current, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, err := fn(current)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.messages[id]
	// Only the fields a mutation owns; seen and pin state have their own writers.
	stored.Body = current.Body
	stored.Edited = current.Edited
	stored.EditCount = current.EditCount
	stored.Deleted = current.Deleted
	if entry != nil {
		s.history[id] = append(s.history[id], *entry)
	}
	return s.hydrate(stored), nil
}

func (s *Store) MarkSeen(ctx context.Context, conv model.ConversationRef, readerID string, upTo int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []int64
	for _, id := range s.byConv[conv.Key()] {
		if id > upTo {
			break
		}
		m := s.messages[id]
		if m.SenderID == readerID || m.Seen {
			continue
		}
		m.Seen = true
		changed = append(changed, id)
	}
	return changed, nil
}

func (s *Store) History(ctx context.Context, messageID int64) ([]model.EditHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.messages[messageID]; !ok {
		return nil, storage.ErrNotFound
	}
	return append([]model.EditHistoryEntry{}, s.history[messageID]...), nil
}

func (s *Store) ListMessages(ctx context.Context, conv model.ConversationRef, before int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[conv.Key()]
	out := make([]model.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if before > 0 && ids[i] >= before {
			continue
		}
		out = append(out, *s.hydrate(s.messages[ids[i]]))
	}
	return out, nil
}

func (s *Store) ToggleReaction(ctx context.Context, r model.Reaction) (bool, error) {
	unlock := s.msgLocks.Lock("r:" + strconv.FormatInt(r.MessageID, 10))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[r.MessageID]; !ok {
		return false, storage.ErrNotFound
	}
	list := s.reactions[r.MessageID]
	for i, existing := range list {
		if existing.Key() == r.Key() {
			s.reactions[r.MessageID] = append(list[:i:i], list[i+1:]...)
			return false, nil
		}
	}
	s.reactions[r.MessageID] = append(list, r)
	return true, nil
}

func (s *Store) ReactionsFor(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Reaction{}, s.reactions[messageID]...), nil
}

// activeLocked returns active pins of a conversation oldest first. Caller holds s.mu.
func (s *Store) activeLocked(key string, now time.Time) []model.Pin {
	out := make([]model.Pin, 0, len(s.pins[key]))
	for _, p := range s.pins[key] {
		if p.ActiveAt(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PinnedAt.Equal(out[j].PinnedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].PinnedAt.Before(out[j].PinnedAt)
	})
	return out
}

func (s *Store) putPinLocked(p model.Pin) {
	key := p.Conversation.Key()
	if s.pins[key] == nil {
		s.pins[key] = make(map[int64]model.Pin)
	}
	p.Message = nil
	s.pins[key][p.MessageID] = p
}

func (s *Store) PinMessage(ctx context.Context, p model.Pin, capacity int, now time.Time) (bool, []model.Pin, error) {
	key := p.Conversation.Key()
	unlock := s.convLocks.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[p.MessageID]; !ok {
		return false, nil, storage.ErrNotFound
	}
	active := s.activeLocked(key, now)
	refresh := false
	for _, a := range active {
		if a.MessageID == p.MessageID {
			refresh = true
			break
		}
	}
	if !refresh && len(active) >= capacity {
		return false, active, nil
	}
	s.putPinLocked(p)
	return true, s.activeLocked(key, now), nil
}

func (s *Store) ReplacePin(ctx context.Context, oldID int64, p model.Pin, now time.Time) (*model.Pin, error) {
	key := p.Conversation.Key()
	unlock := s.convLocks.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[p.MessageID]; !ok {
		return nil, storage.ErrNotFound
	}
	old, ok := s.pins[key][oldID]
	if !ok || !old.ActiveAt(now) {
		return nil, storage.ErrNotFound
	}
	delete(s.pins[key], oldID)
	s.putPinLocked(p)
	return &old, nil
}

func (s *Store) UnpinMessage(ctx context.Context, conv model.ConversationRef, messageID int64, now time.Time) (*model.Pin, error) {
	key := conv.Key()
	unlock := s.convLocks.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[key][messageID]
	if !ok || !p.ActiveAt(now) {
		// истёкшее закрепление снимает свипер с reason=expired
		return nil, storage.ErrNotFound
	}
	delete(s.pins[key], messageID)
	return &p, nil
}

func (s *Store) ActivePins(ctx context.Context, conv model.ConversationRef, now time.Time) ([]model.Pin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pins := s.activeLocked(conv.Key(), now)
	for i := range pins {
		if m, ok := s.messages[pins[i].MessageID]; ok {
			pins[i].Message = s.hydrate(m)
		}
	}
	return pins, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) ([]model.Pin, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.pins))
	for key := range s.pins {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	var removed []model.Pin
	for _, key := range keys {
		removed = append(removed, s.deleteExpiredIn(key, now)...)
	}
	return removed, nil
}

func (s *Store) deleteExpiredIn(key string, now time.Time) []model.Pin {
	unlock := s.convLocks.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []model.Pin
	for id, p := range s.pins[key] {
		if !p.ActiveAt(now) {
			removed = append(removed, p)
			delete(s.pins[key], id)
		}
	}
	if len(s.pins[key]) == 0 {
		delete(s.pins, key)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].MessageID < removed[j].MessageID })
	return removed
}
