package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/service"
)

const commandTimeout = 5 * time.Second

var (
	errMalformed      = errors.New("malformed command")
	errUnknownCommand = errors.New("unknown command type")
)

// Hub owns the live connections: it admits them into the presence registry,
// enforces the connection limit and executes client commands.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	opts     Options
	registry *presence.Registry
	svc      service.Services
	// ops: один канал на регистрацию и снятие, чтобы Unregister не обогнал Register.
	ops  chan hubOp
	done chan struct{}
}

type hubOp struct {
	client *Client
	join   bool
}

func NewHub(registry *presence.Registry, svc service.Services, opts Options) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		opts:     opts.withDefaults(),
		registry: registry,
		svc:      svc,
		ops:      make(chan hubOp, 128),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case op := <-h.ops:
			if op.join {
				h.addClient(op.client)
			} else {
				h.removeClient(op.client)
			}
		}
	}
}

// Count returns the number of admitted connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		allClients = append(allClients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range allClients {
		if err := h.registry.OnDisconnect(ctx, c); err != nil {
			logger.Errorf("ws shutdown disconnect session=%s: %v", c.ID(), err)
		}
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	if c.ctx.Err() != nil {
		// соединение умерло раньше, чем хаб до него дошёл
		c.Close()
		return
	}
	h.mu.Lock()
	if len(h.clients) >= h.opts.MaxConnections {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConnections, c.userID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.registry.Register(ctx, c.userID, c); err != nil {
		logger.Errorf("ws register user=%s: %v", c.userID, err)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.registry.OnDisconnect(ctx, c); err != nil {
		logger.Errorf("ws disconnect user=%s: %v", c.userID, err)
	}
}

// HandleMessage executes one client command. The acting user is always the
// connection's user; the result goes back as an ack, failures as an error event.
// Room events for successful mutations are emitted by the services.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.HandleMessage", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch msg.Type {
	case CmdSendMessage:
		result, err = h.svc.Messages.Append(ctx, msg.Conversation, c.userID, msg.Body, msg.Attachments)
	case CmdEditMessage:
		result, err = h.svc.Messages.Edit(ctx, msg.MessageID, c.userID, msg.Body)
	case CmdDeleteMessage:
		result, err = h.svc.Messages.SoftDelete(ctx, msg.MessageID, c.userID)
	case CmdUndoDelete:
		result, err = h.svc.Messages.UndoDelete(ctx, msg.MessageID, c.userID)
	case CmdMarkSeen:
		result, err = h.svc.Messages.MarkSeen(ctx, msg.Conversation, c.userID, msg.UpTo)
	case CmdToggleReaction:
		result, err = h.svc.Reactions.Toggle(ctx, msg.MessageID, c.userID, msg.Emoji)
	case CmdPin:
		var d model.PinDuration
		if d, err = parseDuration(msg.Duration); err == nil {
			result, err = h.svc.Pins.RequestPin(ctx, msg.Conversation, msg.MessageID, c.userID, d)
		}
	case CmdReplacePin:
		var d model.PinDuration
		if d, err = parseDuration(msg.Duration); err == nil {
			result, err = h.svc.Pins.ReplacePin(ctx, msg.Conversation, msg.OldMessageID, msg.MessageID, c.userID, d)
		}
	case CmdUnpin:
		err = h.svc.Pins.Unpin(ctx, msg.Conversation, msg.MessageID, c.userID)
	default:
		err = errUnknownCommand
	}

	if err != nil {
		h.replyError(c, msg, err)
		return
	}
	h.reply(c, event.Ack, event.AckPayload{Command: string(msg.Type), RefID: msg.RefID, Result: result})
}

func parseDuration(s string) (model.PinDuration, error) {
	d, err := model.ParsePinDuration(s)
	if err != nil {
		return "", service.ErrInvalidDuration
	}
	return d, nil
}

func (h *Hub) replyError(c *Client, msg IncomingMessage, err error) {
	payload := event.ErrorPayload{Command: string(msg.Type), RefID: msg.RefID, Error: ErrorText(err)}
	var capErr *service.PinCapacityError
	if errors.As(err, &capErr) {
		payload.Pins = capErr.Pins
	}
	if service.Kind(err) == "internal" && !errors.Is(err, errMalformed) && !errors.Is(err, errUnknownCommand) {
		logger.Errorf("ws command %s user=%s: %v", msg.Type, c.userID, err)
	}
	h.reply(c, event.Error, payload)
}

// ErrorText is the client-facing message of a command error; internal details stay in the log.
func ErrorText(err error) string {
	switch {
	case errors.Is(err, errMalformed), errors.Is(err, errUnknownCommand):
		return err.Error()
	case service.Kind(err) == "internal":
		return "internal error"
	case errors.Is(err, service.ErrPinCapacityReached):
		return service.ErrPinCapacityReached.Error()
	}
	return err.Error()
}

func (h *Hub) reply(c *Client, t event.Type, payload any) {
	ev, err := event.New(t, model.ConversationRef{}, payload)
	if err != nil {
		logger.Errorf("ws reply %s: %v", t, err)
		return
	}
	c.Deliver(ev)
}

// Register must be called before c.Start.
func (h *Hub) Register(c *Client) {
	select {
	case h.ops <- hubOp{client: c, join: true}:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.ops <- hubOp{client: c}:
	case <-h.done:
	}
}
