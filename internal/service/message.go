package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type MessageService struct {
	deps Deps
	opts Options
}

func NewMessageService(deps Deps, opts Options) *MessageService {
	return &MessageService{deps: deps, opts: opts.withDefaults()}
}

// Append stores a new message and announces message.created.
func (s *MessageService) Append(ctx context.Context, conv model.ConversationRef, senderID, body string, attachments []model.Attachment) (*model.Message, error) {
	defer logger.DeferLogDuration("message.Append", time.Now())()
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return nil, fail("append", ErrInvalidInput)
	}
	if err := requireParticipant(ctx, s.deps.Directory, conv, senderID); err != nil {
		return nil, fail("append", err)
	}

	m := &model.Message{
		Conversation: conv,
		SenderID:     senderID,
		Body:         body,
		Attachments:  attachments,
		CreatedAt:    s.opts.Now(),
	}
	if err := s.deps.Messages.CreateMessage(ctx, m); err != nil {
		return nil, fail("append", fmt.Errorf("append: %w", err))
	}
	if sender, err := s.deps.Directory.Profile(ctx, senderID); err == nil {
		m.Sender = sender
	} else {
		logger.Errorf("append sender profile user=%s: %v", senderID, err)
	}

	emit(ctx, s.deps.Events, conv, event.MessageCreated, m)
	return m, nil
}

// Edit replaces the body of an own, live message inside the edit window and
// records the previous body in the edit history.
func (s *MessageService) Edit(ctx context.Context, messageID int64, actorID, newBody string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.Edit", time.Now())()
	if strings.TrimSpace(newBody) == "" {
		return nil, fail("edit", ErrInvalidInput)
	}
	now := s.opts.Now()
	updated, err := s.deps.Messages.UpdateMessage(ctx, messageID, func(m *model.Message) (*model.EditHistoryEntry, error) {
		if m.SenderID != actorID {
			return nil, ErrForbidden
		}
		if !m.EditableAt(now, s.opts.EditWindow) {
			return nil, ErrEditWindowExpired
		}
		if m.Deleted {
			return nil, ErrAlreadyDeleted
		}
		entry := &model.EditHistoryEntry{MessageID: m.ID, PriorBody: m.Body, EditedAt: now}
		m.Body = newBody
		m.Edited = true
		m.EditCount++
		return entry, nil
	})
	if err != nil {
		return nil, fail("edit", err)
	}

	emit(ctx, s.deps.Events, updated.Conversation, event.MessageEdited, event.MessageEditedPayload{
		MessageID: updated.ID,
		Body:      updated.Body,
		EditCount: updated.EditCount,
		EditedAt:  now,
	})
	return updated, nil
}

// SoftDelete hides an own message. The body is kept so UndoDelete can restore it;
// reactions and pins are left alone.
func (s *MessageService) SoftDelete(ctx context.Context, messageID int64, actorID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.SoftDelete", time.Now())()
	updated, err := s.deps.Messages.UpdateMessage(ctx, messageID, func(m *model.Message) (*model.EditHistoryEntry, error) {
		if m.SenderID != actorID {
			return nil, ErrForbidden
		}
		if m.Deleted {
			return nil, ErrAlreadyDeleted
		}
		m.Deleted = true
		return nil, nil
	})
	if err != nil {
		return nil, fail("delete", err)
	}
	emit(ctx, s.deps.Events, updated.Conversation, event.MessageDeleted, event.MessageStatePayload{MessageID: updated.ID, Deleted: true})
	return updated, nil
}

func (s *MessageService) UndoDelete(ctx context.Context, messageID int64, actorID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.UndoDelete", time.Now())()
	updated, err := s.deps.Messages.UpdateMessage(ctx, messageID, func(m *model.Message) (*model.EditHistoryEntry, error) {
		if m.SenderID != actorID {
			return nil, ErrForbidden
		}
		if !m.Deleted {
			return nil, ErrNotDeleted
		}
		m.Deleted = false
		return nil, nil
	})
	if err != nil {
		return nil, fail("undo", err)
	}
	emit(ctx, s.deps.Events, updated.Conversation, event.MessageRestored, event.MessageStatePayload{MessageID: updated.ID, Deleted: false})
	return updated, nil
}

// MarkSeen flags every message addressed to readerID up to upTo and announces
// the change as one message.seenBatch. Nothing is emitted when nothing changed.
func (s *MessageService) MarkSeen(ctx context.Context, conv model.ConversationRef, readerID string, upTo int64) ([]int64, error) {
	defer logger.DeferLogDuration("message.MarkSeen", time.Now())()
	if err := requireParticipant(ctx, s.deps.Directory, conv, readerID); err != nil {
		return nil, fail("seen", err)
	}
	ids, err := s.deps.Messages.MarkSeen(ctx, conv, readerID, upTo)
	if err != nil {
		return nil, fail("seen", fmt.Errorf("mark seen: %w", err))
	}
	if len(ids) == 0 {
		return ids, nil
	}
	emit(ctx, s.deps.Events, conv, event.MessageSeenBatch, event.SeenBatchPayload{
		ReaderID:      readerID,
		UpToMessageID: upTo,
		MessageIDs:    ids,
	})
	return ids, nil
}

func (s *MessageService) Get(ctx context.Context, messageID int64) (*model.Message, error) {
	return s.deps.Messages.GetMessage(ctx, messageID)
}

// History returns prior bodies oldest first; only participants of the message's conversation may read it.
func (s *MessageService) History(ctx context.Context, messageID int64, readerID string) ([]model.EditHistoryEntry, error) {
	m, err := s.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(ctx, s.deps.Directory, m.Conversation, readerID); err != nil {
		return nil, err
	}
	return s.deps.Messages.History(ctx, messageID)
}

// Conversation returns a page of messages, newest first, with reactions attached.
// It is the reconciliation read for clients that missed live events.
func (s *MessageService) Conversation(ctx context.Context, conv model.ConversationRef, readerID string, before int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.Conversation", time.Now())()
	if err := requireParticipant(ctx, s.deps.Directory, conv, readerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.DefaultPageSize
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	msgs, err := s.deps.Messages.ListMessages(ctx, conv, before, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	if s.deps.Reactions == nil {
		return msgs, nil
	}
	for i := range msgs {
		rs, err := s.deps.Reactions.ReactionsFor(ctx, msgs[i].ID)
		if err != nil {
			logger.Errorf("conversation reactions msg=%d: %v", msgs[i].ID, err)
			continue
		}
		if len(rs) > 0 {
			msgs[i].Reactions = rs
		}
	}
	return msgs, nil
}

// messageIn loads a message and checks that it belongs to conv.
func messageIn(ctx context.Context, store storage.MessageStore, conv model.ConversationRef, id int64) (*model.Message, error) {
	m, err := store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Conversation.Key() != conv.Key() {
		return nil, ErrNotFound
	}
	return m, nil
}
