package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Directory: статический справочник пользователей и групп (для -memory и тестов).
type Directory struct {
	mu       sync.RWMutex
	profiles map[string]model.UserPublic
	groups   map[string]map[string]struct{}
}

var _ storage.DirectoryAdmin = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		profiles: make(map[string]model.UserPublic),
		groups:   make(map[string]map[string]struct{}),
	}
}

func (d *Directory) AddUser(u model.UserPublic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[u.ID] = u
}

func (d *Directory) AddGroupMember(groupID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.groups[groupID] == nil {
		d.groups[groupID] = make(map[string]struct{})
	}
	d.groups[groupID][userID] = struct{}{}
}

func (d *Directory) RoomsFor(ctx context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for gid, members := range d.groups {
		if _, ok := members[userID]; ok {
			out = append(out, gid)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *Directory) IsParticipant(ctx context.Context, conv model.ConversationRef, userID string) (bool, error) {
	switch conv.Kind {
	case model.ConversationPrivate:
		return conv.Has(userID), nil
	case model.ConversationGroup:
		d.mu.RLock()
		defer d.mu.RUnlock()
		_, ok := d.groups[conv.GroupID][userID]
		return ok, nil
	}
	return false, nil
}

func (d *Directory) Profile(ctx context.Context, userID string) (*model.UserPublic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (d *Directory) Upsert(ctx context.Context, u model.UserPublic) error {
	d.AddUser(u)
	return nil
}

func (d *Directory) AddMember(ctx context.Context, groupID, userID string) error {
	d.AddGroupMember(groupID, userID)
	return nil
}

func (d *Directory) RemoveMember(ctx context.Context, groupID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups[groupID], userID)
	if len(d.groups[groupID]) == 0 {
		delete(d.groups, groupID)
	}
	return nil
}
