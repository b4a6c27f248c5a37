// Package reconciler is the client side of the sync engine: a per-conversation
// view that applies user actions optimistically, lets server events win per
// field, and rolls rejected actions back to their pre-action value.
package reconciler

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
)

var (
	ErrUnknownMessage = errors.New("message not in view")
	ErrUnknownToken   = errors.New("unknown pending token")
)

// Token identifies one optimistic action until the server confirms or rejects it.
type Token string

type fieldKind uint8

const (
	fieldBody fieldKind = iota + 1
	fieldDeleted
	fieldPin
	fieldReaction
)

type fieldKey struct {
	messageID int64
	kind      fieldKind
	user      string
	emoji     string
}

// snapshot is the value of one field; only the part matching the kind is used.
type snapshot struct {
	body      string
	edited    bool
	editCount int
	deleted   bool
	pin       *model.Pin
	present   bool
}

type pending struct {
	token  Token
	prior  map[fieldKey]snapshot
	fields []fieldKey
}

type View struct {
	mu       sync.Mutex
	conv     model.ConversationRef
	viewerID string
	rooms    map[string]struct{}

	messages  map[int64]*model.Message
	reactions map[int64]map[model.ReactionKey]model.Reaction
	pins      map[int64]model.Pin

	// owner is the latest unresolved optimistic writer of a field.
	owner   map[fieldKey]Token
	pending map[Token]*pending
	seq     uint64
}

func NewView(conv model.ConversationRef, viewerID string) *View {
	rooms := make(map[string]struct{}, 2)
	for _, r := range presence.ConversationRooms(conv) {
		rooms[r] = struct{}{}
	}
	return &View{
		conv:      conv,
		viewerID:  viewerID,
		rooms:     rooms,
		messages:  make(map[int64]*model.Message),
		reactions: make(map[int64]map[model.ReactionKey]model.Reaction),
		pins:      make(map[int64]model.Pin),
		owner:     make(map[fieldKey]Token),
		pending:   make(map[Token]*pending),
	}
}

func (v *View) Conversation() model.ConversationRef { return v.conv }

// Hydrate replaces confirmed state with an authoritative read (page + pins).
// Unresolved optimistic actions are dropped: the read already reflects them or not.
func (v *View) Hydrate(msgs []model.Message, pins []model.Pin) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = make(map[int64]*model.Message, len(msgs))
	v.reactions = make(map[int64]map[model.ReactionKey]model.Reaction)
	v.pins = make(map[int64]model.Pin, len(pins))
	v.owner = make(map[fieldKey]Token)
	v.pending = make(map[Token]*pending)
	for i := range msgs {
		m := msgs[i].Clone()
		for _, r := range m.Reactions {
			v.putReaction(r)
		}
		m.Reactions = nil
		v.messages[m.ID] = m
	}
	for _, p := range pins {
		p.Message = nil
		v.pins[p.MessageID] = p
	}
}

// ---- local reads ----

// Message returns the visible state of one message with its reactions.
func (v *View) Message(id int64) (model.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.messages[id]
	if !ok {
		return model.Message{}, false
	}
	return v.render(m), true
}

// Messages returns visible messages oldest first.
func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]int64, 0, len(v.messages))
	for id := range v.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.render(v.messages[id]))
	}
	return out
}

// Pins returns visible pins oldest first.
func (v *View) Pins() []model.Pin {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Pin, 0, len(v.pins))
	for _, p := range v.pins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PinnedAt.Equal(out[j].PinnedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].PinnedAt.Before(out[j].PinnedAt)
	})
	return out
}

// Pending is the number of unresolved optimistic actions.
func (v *View) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

func (v *View) render(m *model.Message) model.Message {
	out := *m.Clone()
	if p, ok := v.pins[m.ID]; ok {
		out.Pinned = true
		exp := p.ExpiresAt
		out.PinExpiresAt = &exp
	} else {
		out.Pinned, out.PinExpiresAt = false, nil
	}
	rs := make([]model.Reaction, 0, len(v.reactions[m.ID]))
	for _, r := range v.reactions[m.ID] {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		if rs[i].UserID != rs[j].UserID {
			return rs[i].UserID < rs[j].UserID
		}
		return rs[i].Emoji < rs[j].Emoji
	})
	if len(rs) > 0 {
		out.Reactions = rs
	} else {
		out.Reactions = nil
	}
	return out
}

// ---- field access, caller holds v.mu ----

func (v *View) read(k fieldKey) snapshot {
	switch k.kind {
	case fieldBody:
		m := v.messages[k.messageID]
		return snapshot{body: m.Body, edited: m.Edited, editCount: m.EditCount}
	case fieldDeleted:
		return snapshot{deleted: v.messages[k.messageID].Deleted}
	case fieldPin:
		if p, ok := v.pins[k.messageID]; ok {
			return snapshot{pin: &p}
		}
		return snapshot{}
	case fieldReaction:
		_, ok := v.reactions[k.messageID][model.ReactionKey{MessageID: k.messageID, UserID: k.user, Emoji: k.emoji}]
		return snapshot{present: ok}
	}
	return snapshot{}
}

func (v *View) write(k fieldKey, s snapshot) {
	switch k.kind {
	case fieldBody:
		if m, ok := v.messages[k.messageID]; ok {
			m.Body, m.Edited, m.EditCount = s.body, s.edited, s.editCount
		}
	case fieldDeleted:
		if m, ok := v.messages[k.messageID]; ok {
			m.Deleted = s.deleted
		}
	case fieldPin:
		if s.pin == nil {
			delete(v.pins, k.messageID)
		} else {
			p := *s.pin
			p.Message = nil
			v.pins[k.messageID] = p
		}
	case fieldReaction:
		r := model.Reaction{MessageID: k.messageID, UserID: k.user, Emoji: k.emoji, CreatedAt: time.Now().UTC()}
		if s.present {
			v.putReaction(r)
		} else {
			v.dropReaction(r.Key())
		}
	}
}

func (v *View) putReaction(r model.Reaction) {
	set := v.reactions[r.MessageID]
	if set == nil {
		set = make(map[model.ReactionKey]model.Reaction)
		v.reactions[r.MessageID] = set
	}
	if _, ok := set[r.Key()]; ok {
		return
	}
	set[r.Key()] = r
}

func (v *View) dropReaction(k model.ReactionKey) {
	delete(v.reactions[k.MessageID], k)
	if len(v.reactions[k.MessageID]) == 0 {
		delete(v.reactions, k.MessageID)
	}
}

// ---- optimistic actions ----

// begin writes every field of a new optimistic action and records prior values.
func (v *View) begin(writes map[fieldKey]snapshot) Token {
	v.seq++
	tok := Token(strconv.FormatUint(v.seq, 10))
	p := &pending{token: tok, prior: make(map[fieldKey]snapshot, len(writes))}
	keys := make([]fieldKey, 0, len(writes))
	for k := range writes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].kind < keys[j].kind })
	for _, k := range keys {
		p.prior[k] = v.read(k)
		p.fields = append(p.fields, k)
		v.write(k, writes[k])
		v.owner[k] = tok
	}
	v.pending[tok] = p
	return tok
}

func (v *View) message(id int64) (*model.Message, error) {
	m, ok := v.messages[id]
	if !ok {
		return nil, ErrUnknownMessage
	}
	return m, nil
}

func (v *View) Edit(id int64, body string) (Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.message(id)
	if err != nil {
		return "", err
	}
	k := fieldKey{messageID: id, kind: fieldBody}
	return v.begin(map[fieldKey]snapshot{k: {body: body, edited: true, editCount: m.EditCount + 1}}), nil
}

func (v *View) Delete(id int64) (Token, error) {
	return v.setDeleted(id, true)
}

func (v *View) Undo(id int64) (Token, error) {
	return v.setDeleted(id, false)
}

func (v *View) setDeleted(id int64, deleted bool) (Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.message(id); err != nil {
		return "", err
	}
	return v.begin(map[fieldKey]snapshot{{messageID: id, kind: fieldDeleted}: {deleted: deleted}}), nil
}

// ToggleReaction flips the viewer's emoji on a message and reports the new state.
func (v *View) ToggleReaction(id int64, emoji string) (Token, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.message(id); err != nil {
		return "", false, err
	}
	k := fieldKey{messageID: id, kind: fieldReaction, user: v.viewerID, emoji: emoji}
	present := !v.read(k).present
	return v.begin(map[fieldKey]snapshot{k: {present: present}}), present, nil
}

func (v *View) Pin(id int64, d model.PinDuration, now time.Time) (Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.message(id); err != nil {
		return "", err
	}
	p := model.Pin{
		Conversation: v.conv,
		MessageID:    id,
		PinnedBy:     v.viewerID,
		PinnedAt:     now,
		Duration:     d,
		ExpiresAt:    now.Add(d.Duration()),
	}
	return v.begin(map[fieldKey]snapshot{{messageID: id, kind: fieldPin}: {pin: &p}}), nil
}

// ReplacePin optimistically swaps oldID for id as one action.
func (v *View) ReplacePin(oldID, id int64, d model.PinDuration, now time.Time) (Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.message(id); err != nil {
		return "", err
	}
	p := model.Pin{
		Conversation: v.conv,
		MessageID:    id,
		PinnedBy:     v.viewerID,
		PinnedAt:     now,
		Duration:     d,
		ExpiresAt:    now.Add(d.Duration()),
	}
	return v.begin(map[fieldKey]snapshot{
		{messageID: oldID, kind: fieldPin}: {},
		{messageID: id, kind: fieldPin}:    {pin: &p},
	}), nil
}

func (v *View) Unpin(id int64) (Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.begin(map[fieldKey]snapshot{{messageID: id, kind: fieldPin}: {}}), nil
}

// Confirm resolves an action the server accepted. The visible value stays until
// the matching server event overwrites it.
func (v *View) Confirm(tok Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[tok]
	if !ok {
		return ErrUnknownToken
	}
	for _, k := range p.fields {
		if v.owner[k] == tok {
			delete(v.owner, k)
		}
	}
	delete(v.pending, tok)
	return nil
}

// Resolve confirms tok when err is nil and rejects it otherwise.
func (v *View) Resolve(tok Token, err error) error {
	if err == nil {
		return v.Confirm(tok)
	}
	return v.Reject(tok)
}

// Reject rolls a refused action back. A field still owned by the action returns
// to its prior value. A field taken over by a later optimistic action hands the
// prior value on to that action. A field overwritten by a server event is left
// alone.
func (v *View) Reject(tok Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[tok]
	if !ok {
		return ErrUnknownToken
	}
	for _, k := range p.fields {
		owner, owned := v.owner[k]
		switch {
		case !owned:
		case owner == tok:
			v.write(k, p.prior[k])
			delete(v.owner, k)
		default:
			if later, ok := v.pending[owner]; ok {
				later.prior[k] = p.prior[k]
			}
		}
	}
	delete(v.pending, tok)
	logger.Debugf("reconciler rollback conv=%s token=%s", v.conv, tok)
	return nil
}

// ---- server events ----

// serverWrite stores a confirmed value; any optimistic claim on the field ends.
func (v *View) serverWrite(k fieldKey, s snapshot) {
	v.write(k, s)
	delete(v.owner, k)
}

// Accepts reports whether ev addresses this view's conversation through one of
// its rooms.
func (v *View) Accepts(ev event.Envelope) bool {
	if ev.Conversation.IsZero() || ev.Conversation.Key() != v.conv.Key() {
		return false
	}
	if ev.Room == "" {
		return true
	}
	_, ok := v.rooms[ev.Room]
	return ok
}

// Apply merges a server event into the view. It reports false for events of
// other conversations and for events it cannot decode.
func (v *View) Apply(ev event.Envelope) bool {
	if !v.Accepts(ev) {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Type {
	case event.MessageCreated:
		var m model.Message
		if err := ev.Decode(&m); err != nil {
			return v.bad(ev, err)
		}
		for _, r := range m.Reactions {
			v.putReaction(r)
		}
		m.Reactions = nil
		if existing, ok := v.messages[m.ID]; ok && existing.Seen {
			m.Seen = true
		}
		v.messages[m.ID] = &m

	case event.MessageEdited:
		var p event.MessageEditedPayload
		if err := ev.Decode(&p); err != nil {
			return v.bad(ev, err)
		}
		if _, ok := v.messages[p.MessageID]; !ok {
			return true
		}
		v.serverWrite(fieldKey{messageID: p.MessageID, kind: fieldBody}, snapshot{body: p.Body, edited: true, editCount: p.EditCount})

	case event.MessageDeleted, event.MessageRestored:
		var p event.MessageStatePayload
		if err := ev.Decode(&p); err != nil {
			return v.bad(ev, err)
		}
		if _, ok := v.messages[p.MessageID]; !ok {
			return true
		}
		v.serverWrite(fieldKey{messageID: p.MessageID, kind: fieldDeleted}, snapshot{deleted: p.Deleted})

	case event.MessageSeenBatch:
		var p event.SeenBatchPayload
		if err := ev.Decode(&p); err != nil {
			return v.bad(ev, err)
		}
		for _, id := range p.MessageIDs {
			if m, ok := v.messages[id]; ok {
				m.Seen = true
			}
		}

	case event.ReactionChanged:
		var p event.ReactionPayload
		if err := ev.Decode(&p); err != nil {
			return v.bad(ev, err)
		}
		k := fieldKey{messageID: p.MessageID, kind: fieldReaction, user: p.UserID, emoji: p.Emoji}
		switch p.Action {
		case event.ReactionAdded:
			v.putReaction(model.Reaction{MessageID: p.MessageID, UserID: p.UserID, Emoji: p.Emoji, CreatedAt: ev.EmittedAt})
			delete(v.owner, k)
		case event.ReactionRemoved:
			v.serverWrite(k, snapshot{present: false})
		}

	case event.PinChanged:
		var p event.PinPayload
		if err := ev.Decode(&p); err != nil {
			return v.bad(ev, err)
		}
		k := fieldKey{messageID: p.MessageID, kind: fieldPin}
		switch p.Action {
		case event.PinPinned:
			pin := model.Pin{Conversation: v.conv, MessageID: p.MessageID, PinnedBy: p.PinnedBy, Duration: p.Duration}
			if p.PinnedAt != nil {
				pin.PinnedAt = *p.PinnedAt
			}
			if p.ExpiresAt != nil {
				pin.ExpiresAt = *p.ExpiresAt
			}
			v.serverWrite(k, snapshot{pin: &pin})
		case event.PinUnpinned:
			v.serverWrite(k, snapshot{})
		}

	default:
		return false
	}
	return true
}

func (v *View) bad(ev event.Envelope, err error) bool {
	logger.Errorf("reconciler decode %s id=%s: %v", ev.Type, ev.ID, err)
	return false
}
