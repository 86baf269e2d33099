package redis

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// LedgerStorage keeps a client's pre-login seat selections in Redis, scoped by
// client id so several terminals can share one server. It satisfies
// seatcore.Storage.
type LedgerStorage struct {
	client   *redis.Client
	clientID string
}

func NewLedgerStorage(client *redis.Client, clientID string) *LedgerStorage {
	return &LedgerStorage{client: client, clientID: clientID}
}

func (s *LedgerStorage) key(k string) string {
	return "ledger:" + s.clientID + ":" + k
}

func (s *LedgerStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *LedgerStorage) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

func (s *LedgerStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
