package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/showtime-seats/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func HoldLockKey(showtimeID uuid.UUID, seatID domain.SeatID) string {
	return "hold:" + showtimeID.String() + ":" + string(seatID)
}

func SnapshotKey(showtimeID uuid.UUID) string {
	return "seats:" + showtimeID.String()
}

// releaseScript deletes a hold lock only while it still names the caller.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// SetHoldLock claims the seat for userID for ttl. acquired reports a lock this
// call created; reentered reports one userID already owned, which lets a
// retried request through to the database. Both false means someone else
// holds the seat.
func (c *Cache) SetHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID, ttl time.Duration) (acquired, reentered bool, err error) {
	key := HoldLockKey(showtimeID, seatID)
	ok, err := c.client.SetNX(ctx, key, userID.String(), ttl).Result()
	if err != nil || ok {
		return ok, false, err
	}
	owner, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return false, owner == userID.String(), nil
}

func (c *Cache) ReleaseHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error {
	return releaseScript.Run(ctx, c.client, []string{HoldLockKey(showtimeID, seatID)}, userID.String()).Err()
}

// DropHoldLock removes the lock whoever owns it.
func (c *Cache) DropHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID) error {
	return c.client.Del(ctx, HoldLockKey(showtimeID, seatID)).Err()
}

func (c *Cache) GetSnapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, bool, error) {
	val, err := c.client.Get(ctx, SnapshotKey(showtimeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var seats []domain.Seat
	if err := json.Unmarshal(val, &seats); err != nil {
		return nil, false, errors.Wrap(err, "decode cached snapshot")
	}
	return seats, true, nil
}

func (c *Cache) SetSnapshot(ctx context.Context, showtimeID uuid.UUID, seats []domain.Seat, ttl time.Duration) error {
	data, err := json.Marshal(seats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, SnapshotKey(showtimeID), data, ttl).Err()
}

func (c *Cache) InvalidateSnapshot(ctx context.Context, showtimeID uuid.UUID) error {
	return c.client.Del(ctx, SnapshotKey(showtimeID)).Err()
}
