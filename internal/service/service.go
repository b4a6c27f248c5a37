// Package service implements the authoritative mutation state machine: message
// lifecycle, reaction toggles, the capacity-bounded pin set and its expiry sweeper.
// Every successful mutation is committed first and then announced through an Emitter.
package service

import (
	"context"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Emitter is the room router as seen by the services.
type Emitter interface {
	Emit(ctx context.Context, conv model.ConversationRef, t event.Type, payload any) error
}

type Deps struct {
	Messages  storage.MessageStore
	Reactions storage.ReactionStore
	Pins      storage.PinStore
	Directory storage.Directory
	Events    Emitter
}

type Options struct {
	EditWindow  time.Duration
	PinCapacity int
	// Conversation page sizes: used when the caller gives no limit, and the upper clamp.
	DefaultPageSize int
	MaxPageSize     int
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.EditWindow <= 0 {
		o.EditWindow = model.DefaultEditWindow
	}
	if o.PinCapacity <= 0 {
		o.PinCapacity = model.MaxActivePins
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = defaultPageSize
	}
	if o.MaxPageSize < o.DefaultPageSize {
		o.MaxPageSize = max(maxPageSize, o.DefaultPageSize)
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// emit announces a committed mutation. Delivery problems never fail the request.
func emit(ctx context.Context, e Emitter, conv model.ConversationRef, t event.Type, payload any) {
	if e == nil {
		return
	}
	if err := e.Emit(ctx, conv, t, payload); err != nil {
		logger.Errorf("emit %s conv=%s: %v", t, conv, err)
	}
}

// fail records a rejected mutation and passes err through.
func fail(op string, err error) error {
	if err != nil {
		metrics.MutationErrors.WithLabelValues(op, Kind(err)).Inc()
	}
	return err
}

func requireParticipant(ctx context.Context, dir storage.Directory, conv model.ConversationRef, userID string) error {
	if conv.IsZero() || userID == "" {
		return ErrInvalidInput
	}
	ok, err := dir.IsParticipant(ctx, conv, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// Services bundles the mutation services for the transports.
type Services struct {
	Messages  *MessageService
	Reactions *ReactionService
	Pins      *PinService
}

func New(deps Deps, opts Options) Services {
	return Services{
		Messages:  NewMessageService(deps, opts),
		Reactions: NewReactionService(deps, opts),
		Pins:      NewPinService(deps, opts),
	}
}
