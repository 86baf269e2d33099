package rateLimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/showtime-seats/internal/adapters/redis"
	"github.com/robertarktes/showtime-seats/internal/rateLimit"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rl := rateLimit.NewRateLimiter(redisadapter.NewCache(db))

	mock.ExpectIncr("rl:user:1").SetVal(2)
	mock.ExpectExpireNX("rl:user:1", time.Minute).SetVal(false)
	assert.True(t, rl.Allow(ctx, "user:1", 2, time.Minute))

	mock.ExpectIncr("rl:user:1").SetVal(3)
	mock.ExpectExpireNX("rl:user:1", time.Minute).SetVal(false)
	assert.False(t, rl.Allow(ctx, "user:1", 2, time.Minute))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := rateLimit.NewRateLimiter(redisadapter.NewCache(db))

	mock.ExpectIncr("rl:ip:x").SetErr(errors.New("connection refused"))
	assert.True(t, rl.Allow(context.Background(), "ip:x", 1, time.Minute))
}
