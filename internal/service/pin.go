package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

type PinService struct {
	deps Deps
	opts Options
}

func NewPinService(deps Deps, opts Options) *PinService {
	return &PinService{deps: deps, opts: opts.withDefaults()}
}

// Capacity is the number of concurrent pins a conversation may hold.
func (s *PinService) Capacity() int { return s.opts.PinCapacity }

func (s *PinService) newPin(conv model.ConversationRef, messageID int64, actorID string, d model.PinDuration) model.Pin {
	now := s.opts.Now()
	return model.Pin{
		Conversation: conv,
		MessageID:    messageID,
		PinnedBy:     actorID,
		PinnedAt:     now,
		Duration:     d,
		ExpiresAt:    now.Add(d.Duration()),
	}
}

func (s *PinService) checkTarget(ctx context.Context, conv model.ConversationRef, messageID int64, actorID string, d model.PinDuration) error {
	if !d.Valid() {
		return ErrInvalidDuration
	}
	if err := requireParticipant(ctx, s.deps.Directory, conv, actorID); err != nil {
		return err
	}
	m, err := messageIn(ctx, s.deps.Messages, conv, messageID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return ErrAlreadyDeleted
	}
	return nil
}

// RequestPin pins messageID when the conversation is below capacity. At capacity
// nothing changes and a *PinCapacityError with the current pins (oldest first)
// is returned so the client can offer a replacement.
func (s *PinService) RequestPin(ctx context.Context, conv model.ConversationRef, messageID int64, actorID string, d model.PinDuration) (*model.Pin, error) {
	defer logger.DeferLogDuration("pin.Request", time.Now())()
	if err := s.checkTarget(ctx, conv, messageID, actorID, d); err != nil {
		return nil, fail("pin", err)
	}
	p := s.newPin(conv, messageID, actorID, d)
	pinned, active, err := s.deps.Pins.PinMessage(ctx, p, s.opts.PinCapacity, p.PinnedAt)
	if err != nil {
		return nil, fail("pin", fmt.Errorf("pin: %w", err))
	}
	if !pinned {
		return nil, fail("pin", &PinCapacityError{Pins: active})
	}
	emit(ctx, s.deps.Events, conv, event.PinChanged, event.PinnedPayload(p))
	return &p, nil
}

// ReplacePin swaps an active pin for a new one in a single critical section and
// announces desfijado for the old message followed by fijado for the new one.
func (s *PinService) ReplacePin(ctx context.Context, conv model.ConversationRef, oldMessageID, newMessageID int64, actorID string, d model.PinDuration) (*model.Pin, error) {
	defer logger.DeferLogDuration("pin.Replace", time.Now())()
	if oldMessageID == newMessageID {
		return nil, fail("replace_pin", ErrInvalidInput)
	}
	if err := s.checkTarget(ctx, conv, newMessageID, actorID, d); err != nil {
		return nil, fail("replace_pin", err)
	}
	p := s.newPin(conv, newMessageID, actorID, d)
	old, err := s.deps.Pins.ReplacePin(ctx, oldMessageID, p, p.PinnedAt)
	if err != nil {
		return nil, fail("replace_pin", err)
	}
	emit(ctx, s.deps.Events, conv, event.PinChanged, event.UnpinnedPayload(*old, event.ReasonReplaced, actorID))
	emit(ctx, s.deps.Events, conv, event.PinChanged, event.PinnedPayload(p))
	return &p, nil
}

func (s *PinService) Unpin(ctx context.Context, conv model.ConversationRef, messageID int64, actorID string) error {
	defer logger.DeferLogDuration("pin.Unpin", time.Now())()
	if err := requireParticipant(ctx, s.deps.Directory, conv, actorID); err != nil {
		return fail("unpin", err)
	}
	old, err := s.deps.Pins.UnpinMessage(ctx, conv, messageID, s.opts.Now())
	if err != nil {
		return fail("unpin", err)
	}
	emit(ctx, s.deps.Events, conv, event.PinChanged, event.UnpinnedPayload(*old, event.ReasonExplicit, actorID))
	return nil
}

// ActivePins lists the conversation's unexpired pins, oldest first.
func (s *PinService) ActivePins(ctx context.Context, conv model.ConversationRef, readerID string) ([]model.Pin, error) {
	if err := requireParticipant(ctx, s.deps.Directory, conv, readerID); err != nil {
		return nil, err
	}
	return s.deps.Pins.ActivePins(ctx, conv, s.opts.Now())
}
