package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Presence хранит последнее известное состояние пользователей в памяти процесса.
type Presence struct {
	mu    sync.RWMutex
	users map[string]model.Presence
}

var _ storage.PresenceStore = (*Presence)(nil)

func NewPresence() *Presence {
	return &Presence{users: make(map[string]model.Presence)}
}

func (p *Presence) SetPresence(ctx context.Context, pr model.Presence) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[pr.UserID] = pr
	return nil
}

func (p *Presence) GetPresence(ctx context.Context, userID string) (*model.Presence, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pr, ok := p.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &pr, nil
}

func (p *Presence) AllPresence(ctx context.Context) (map[string]model.Presence, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]model.Presence, len(p.users))
	for k, v := range p.users {
		out[k] = v
	}
	return out, nil
}

// Locker: аренды в пределах одного процесса (для -memory и тестов).
type Locker struct {
	mu     sync.Mutex
	leases map[string]time.Time
}

var _ storage.Locker = (*Locker)(nil)

func NewLocker() *Locker {
	return &Locker{leases: make(map[string]time.Time)}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if exp, ok := l.leases[key]; ok && exp.After(now) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.leases[key] = exp
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.leases[key].Equal(exp) {
			delete(l.leases, key)
		}
	}, true, nil
}
