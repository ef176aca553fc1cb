package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/voicepass/backend/internal/models"
)

func TestRedisRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("under limit", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		rl := NewRedisRateLimiter(client, 3, time.Minute)

		mock.ExpectGet("calls:ratelimit:7").SetVal("2")
		assert.NoError(t, rl.Check(ctx, 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no counter yet", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		rl := NewRedisRateLimiter(client, 3, time.Minute)

		mock.ExpectGet("calls:ratelimit:7").RedisNil()
		assert.NoError(t, rl.Check(ctx, 7))
	})

	t.Run("at limit", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		rl := NewRedisRateLimiter(client, 3, time.Minute)

		mock.ExpectGet("calls:ratelimit:7").SetVal("3")
		assert.ErrorIs(t, rl.Check(ctx, 7), models.ErrRateLimited)
	})

	t.Run("redis down lets the call through", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		rl := NewRedisRateLimiter(client, 3, time.Minute)

		mock.ExpectGet("calls:ratelimit:7").SetErr(errors.New("connection refused"))
		assert.NoError(t, rl.Check(ctx, 7))
	})

	t.Run("record increments with expiry", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		rl := NewRedisRateLimiter(client, 3, time.Minute)

		mock.ExpectIncr("calls:ratelimit:7").SetVal(1)
		mock.ExpectExpire("calls:ratelimit:7", time.Minute).SetVal(true)
		rl.Record(ctx, 7)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
