package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/showtime-seats/internal/adapters/redis"
)

// claimTTL bounds how long a crashed request can block its key.
const claimTTL = 30 * time.Second

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Key scopes a client-supplied key to the caller and the route so two users
// can never replay each other's responses.
func Key(subject, method, path, key string) string {
	return subject + ":" + method + ":" + path + ":" + key
}

// Get returns the stored response for key, or nil when there is none.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}

// Begin claims key for the current request. ok is false while another request
// with the same key is still running.
func (i *Idempotency) Begin(ctx context.Context, key string) (ok bool, err error) {
	return i.redis.Claim(ctx, key, claimTTL)
}

func (i *Idempotency) Done(ctx context.Context, key string) error {
	return i.redis.Unclaim(ctx, key)
}
