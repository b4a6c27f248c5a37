package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 0, "db", "", func(context.Context) error {
		calls++
		return errors.New("refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up")
	assert.Equal(t, 1, calls)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, time.Hour, "redis", "", func(context.Context) error {
		return errors.New("refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectRedisWithRetry(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := ConnectRedisWithRetry(context.Background(), "redis://"+mr.Addr(), time.Second, "test: ")
	require.NoError(t, err)
	defer client.Close()
}
