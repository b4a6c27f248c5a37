package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

type ReactionService struct {
	deps Deps
	opts Options
}

func NewReactionService(deps Deps, opts Options) *ReactionService {
	return &ReactionService{deps: deps, opts: opts.withDefaults()}
}

// Toggle adds the (message, user, emoji) reaction when absent and removes it when
// present. Retrying a toggle flips the state again; callers rely on the returned
// action, not on idempotent adds.
func (s *ReactionService) Toggle(ctx context.Context, messageID int64, userID, emoji string) (event.ReactionPayload, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || userID == "" {
		return event.ReactionPayload{}, fail("react", ErrInvalidInput)
	}
	m, err := s.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return event.ReactionPayload{}, fail("react", err)
	}
	if err := requireParticipant(ctx, s.deps.Directory, m.Conversation, userID); err != nil {
		return event.ReactionPayload{}, fail("react", err)
	}

	added, err := s.deps.Reactions.ToggleReaction(ctx, model.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: s.opts.Now(),
	})
	if err != nil {
		return event.ReactionPayload{}, fail("react", fmt.Errorf("toggle reaction: %w", err))
	}

	payload := event.ReactionPayload{
		Action:    event.ReactionRemoved,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}
	if added {
		payload.Action = event.ReactionAdded
		if actor, err := s.deps.Directory.Profile(ctx, userID); err == nil {
			payload.Actor = actor
		} else {
			logger.Errorf("reaction actor profile user=%s: %v", userID, err)
		}
	}
	emit(ctx, s.deps.Events, m.Conversation, event.ReactionChanged, payload)
	return payload, nil
}

// ReactionsFor hydrates initial loads; live events only carry deltas.
func (s *ReactionService) ReactionsFor(ctx context.Context, messageID int64, readerID string) ([]model.Reaction, error) {
	m, err := s.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(ctx, s.deps.Directory, m.Conversation, readerID); err != nil {
		return nil, err
	}
	return s.deps.Reactions.ReactionsFor(ctx, messageID)
}
