package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Presence хранится в одном хеше (user_id → JSON), чтобы снимок отдавался одним HGETALL.
const (
	presenceKey = "presence:users"
	lockPrefix  = "lock:"
)

// releaseScript удаляет ключ аренды только если он всё ещё наш.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type Client struct {
	cli *redis.Client
}

var (
	_ storage.PresenceStore = (*Client)(nil)
	_ storage.Locker        = (*Client)(nil)
)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Wrap использует уже созданный клиент (тесты на miniredis).
func Wrap(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetPresence(ctx context.Context, p model.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis presence marshal: %w", err)
	}
	if err := c.cli.HSet(ctx, presenceKey, p.UserID, data).Err(); err != nil {
		return fmt.Errorf("redis SetPresence: %w", err)
	}
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (*model.Presence, error) {
	raw, err := c.cli.HGet(ctx, presenceKey, userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GetPresence: %w", err)
	}
	var p model.Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("redis presence unmarshal: %w", err)
	}
	return &p, nil
}

func (c *Client) AllPresence(ctx context.Context) (map[string]model.Presence, error) {
	all, err := c.cli.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis AllPresence: %w", err)
	}
	out := make(map[string]model.Presence, len(all))
	for userID, raw := range all {
		var p model.Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out[userID] = p
	}
	return out, nil
}

// TryLock берёт аренду SET NX PX; release снимает её, только если она не перехвачена.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := c.cli.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis TryLock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		releaseScript.Run(ctx, c.cli, []string{lockPrefix + key}, token)
	}, true, nil
}

// FlushDB очищает текущую БД Redis (тесты, сброс присутствия при перезапуске).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
