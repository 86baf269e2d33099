package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetHoldLock(t *testing.T) {
	ctx := context.Background()
	showtimeID, alice, bob := uuid.New(), uuid.New(), uuid.New()
	key := HoldLockKey(showtimeID, "A1")

	t.Run("fresh lock", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectSetNX(key, alice.String(), time.Minute).SetVal(true)

		acquired, reentered, err := NewCache(db).SetHoldLock(ctx, showtimeID, "A1", alice, time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
		assert.False(t, reentered)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same owner retries", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectSetNX(key, alice.String(), time.Minute).SetVal(false)
		mock.ExpectGet(key).SetVal(alice.String())

		acquired, reentered, err := NewCache(db).SetHoldLock(ctx, showtimeID, "A1", alice, time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired, "the lock predates this call")
		assert.True(t, reentered)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other owner", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectSetNX(key, bob.String(), time.Minute).SetVal(false)
		mock.ExpectGet(key).SetVal(alice.String())

		acquired, reentered, err := NewCache(db).SetHoldLock(ctx, showtimeID, "A1", bob, time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)
		assert.False(t, reentered)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock vanished between calls", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		mock.ExpectSetNX(key, bob.String(), time.Minute).SetVal(false)
		mock.ExpectGet(key).RedisNil()

		acquired, reentered, err := NewCache(db).SetHoldLock(ctx, showtimeID, "A1", bob, time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)
		assert.False(t, reentered)
	})
}

func TestCache_ReleaseHoldLock(t *testing.T) {
	ctx := context.Background()
	showtimeID, userID := uuid.New(), uuid.New()
	db, mock := redismock.NewClientMock()

	mock.ExpectEvalSha(releaseScript.Hash(), []string{HoldLockKey(showtimeID, "B4")}, userID.String()).SetVal(int64(1))

	require.NoError(t, NewCache(db).ReleaseHoldLock(ctx, showtimeID, "B4", userID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_Snapshot(t *testing.T) {
	ctx := context.Background()
	showtimeID := uuid.New()
	db, mock := redismock.NewClientMock()
	cache := NewCache(db)

	mock.ExpectGet(SnapshotKey(showtimeID)).RedisNil()
	_, hit, err := cache.GetSnapshot(ctx, showtimeID)
	require.NoError(t, err)
	assert.False(t, hit)

	seats := []domain.Seat{domain.AvailableSeat(showtimeID, "A", 1)}
	data, err := json.Marshal(seats)
	require.NoError(t, err)

	mock.ExpectSet(SnapshotKey(showtimeID), data, time.Second).SetVal("OK")
	require.NoError(t, cache.SetSnapshot(ctx, showtimeID, seats, time.Second))

	mock.ExpectGet(SnapshotKey(showtimeID)).SetVal(string(data))
	got, hit, err := cache.GetSnapshot(ctx, showtimeID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, seats, got)

	mock.ExpectDel(SnapshotKey(showtimeID)).SetVal(1)
	require.NoError(t, cache.InvalidateSnapshot(ctx, showtimeID))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStorage(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	storage := NewLedgerStorage(db, "term-1")

	mock.ExpectGet("ledger:term-1:selectedSeats_x").RedisNil()
	_, ok, err := storage.Get(ctx, "selectedSeats_x")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectSet("ledger:term-1:selectedSeats_x", []byte(`["A1"]`), 0).SetVal("OK")
	require.NoError(t, storage.Set(ctx, "selectedSeats_x", []byte(`["A1"]`)))

	mock.ExpectGet("ledger:term-1:selectedSeats_x").SetVal(`["A1"]`)
	val, ok, err := storage.Get(ctx, "selectedSeats_x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `["A1"]`, string(val))

	mock.ExpectDel("ledger:term-1:selectedSeats_x").SetVal(1)
	require.NoError(t, storage.Delete(ctx, "selectedSeats_x"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	idemp := NewIdempotency(db)

	mock.ExpectGet("idemp:k1").RedisNil()
	resp, err := idemp.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, resp)

	stored := IdempResponse{Status: 201, ContentType: "application/json", Result: []byte(`{"id":"A1"}`)}
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	mock.ExpectSet("idemp:k1", data, time.Hour).SetVal("OK")
	require.NoError(t, idemp.Set(ctx, "k1", stored, time.Hour))

	mock.ExpectGet("idemp:k1").SetVal(string(data))
	resp, err = idemp.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, stored, *resp)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyClaim(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	idemp := NewIdempotency(db)

	mock.ExpectSetNX("idemp:inflight:k1", 1, 30*time.Second).SetVal(true)
	ok, err := idemp.Claim(ctx, "k1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("idemp:inflight:k1", 1, 30*time.Second).SetVal(false)
	ok, err = idemp.Claim(ctx, "k1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectDel("idemp:inflight:k1").SetVal(1)
	require.NoError(t, idemp.Unclaim(ctx, "k1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
