package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/logger"
)

// Options: таймауты и лимиты соединения. Нулевые поля заменяются значениями по умолчанию.
type Options struct {
	MaxConnections int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10000
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 8192
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

func (o Options) pingPeriod() time.Duration { return o.PongWait * 9 / 10 }

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one WebSocket connection and its presence.Session.
// Lifecycle: NewClient -> Hub.Register -> Start -> [readPump, writePump] -> Close -> Wait.
// Commands of one connection are executed in arrival order by readPump.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	opts   Options
	send   chan event.Envelope
	id     string
	userID string

	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	opts := hub.opts
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		opts:   opts,
		send:   make(chan event.Envelope, opts.SendBuffer),
		id:     uuid.NewString(),
		userID: userID,
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Deliver queues ev without blocking. A full buffer means a slow reader: the
// connection is closed and the event is lost.
func (c *Client) Deliver(ev event.Envelope) bool {
	select {
	case <-c.done:
		return false
	case c.send <- ev:
		return true
	default:
	}
	// select выше мог выбрать default при закрытом done, поэтому проверяем ещё раз
	select {
	case <-c.done:
	default:
		logger.Errorf("ws send buffer full, closing slow client user=%s session=%s", c.userID, c.id)
		c.Close()
	}
	return false
}

func (c *Client) Start() {
	c.wg.Add(2)
	go c.writePump(c.ctx)
	go c.readPump(c.ctx)
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close is idempotent; closing the conn unblocks both pumps.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.hub.Unregister(c)
	// writePump не должен жить дольше чтения
	defer c.cancel()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for ctx.Err() == nil {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debugf("ws bad command user=%s: %v", c.userID, err)
			c.hub.replyError(c, IncomingMessage{}, errMalformed)
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")); err != nil {
				logger.Debugf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case ev := <-c.send:
			if err := c.writeEnvelope(ev); err != nil {
				logger.Debugf("ws write user=%s: %v", c.userID, err)
				return
			}
		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeEnvelope кодирует событие через пул буферов; ошибка кодирования пропускает событие.
func (c *Client) writeEnvelope(ev event.Envelope) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(ev); err != nil {
		logger.Errorf("ws marshal %s user=%s: %v", ev.Type, c.userID, err)
		return nil
	}
	// json.Encoder appends '\n'
	return c.writeFrame(websocket.TextMessage, bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}

func (c *Client) writeFrame(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
