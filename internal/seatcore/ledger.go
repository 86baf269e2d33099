package seatcore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
)

// Storage is the client-local durable key/value store the ledger persists to.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

func LedgerKey(showtimeID uuid.UUID) string {
	return "selectedSeats_" + showtimeID.String()
}

// LocalSelectionLedger is the ordered set of seats this session picked for a
// showtime. While the session is anonymous every change is written through to
// Storage so a reload keeps the picks. Not safe for concurrent use.
type LocalSelectionLedger struct {
	key           string
	storage       Storage
	ids           []domain.SeatID
	authenticated bool
}

func NewLocalSelectionLedger(showtimeID uuid.UUID, storage Storage) *LocalSelectionLedger {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &LocalSelectionLedger{key: LedgerKey(showtimeID), storage: storage}
}

// Load replaces the in-memory set with what Storage holds. A corrupt entry is
// removed and reported.
func (l *LocalSelectionLedger) Load(ctx context.Context) error {
	l.ids = nil
	if l.authenticated {
		return nil
	}
	raw, ok, err := l.storage.Get(ctx, l.key)
	if err != nil || !ok {
		return err
	}
	var ids []domain.SeatID
	if err := json.Unmarshal(raw, &ids); err != nil {
		_ = l.storage.Delete(ctx, l.key)
		return errors.Wrapf(err, "decode %s", l.key)
	}
	seen := make(domain.Selection, len(ids))
	for _, id := range ids {
		if !seen.Has(id) {
			seen[id] = struct{}{}
			l.ids = append(l.ids, id)
		}
	}
	return nil
}

// Toggle flips membership of id and reports whether it is now selected. The
// in-memory change sticks even when persisting fails.
func (l *LocalSelectionLedger) Toggle(ctx context.Context, id domain.SeatID) (bool, error) {
	if l.remove(id) {
		return false, l.persist(ctx)
	}
	l.ids = append(l.ids, id)
	return true, l.persist(ctx)
}

// Evict drops id if present.
func (l *LocalSelectionLedger) Evict(ctx context.Context, id domain.SeatID) (bool, error) {
	if !l.remove(id) {
		return false, nil
	}
	return true, l.persist(ctx)
}

// Retain keeps only the ids in keep and returns the ones dropped.
func (l *LocalSelectionLedger) Retain(ctx context.Context, keep domain.Selection) ([]domain.SeatID, error) {
	var dropped []domain.SeatID
	kept := l.ids[:0]
	for _, id := range l.ids {
		if keep.Has(id) {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	l.ids = kept
	if len(dropped) == 0 {
		return nil, nil
	}
	return dropped, l.persist(ctx)
}

// Authenticate clears the ledger and its stored copy. From here on picks are
// kept in memory only and must be asserted against the server.
func (l *LocalSelectionLedger) Authenticate(ctx context.Context) error {
	l.ids = nil
	l.authenticated = true
	return l.storage.Delete(ctx, l.key)
}

func (l *LocalSelectionLedger) Authenticated() bool {
	return l.authenticated
}

func (l *LocalSelectionLedger) Contains(id domain.SeatID) bool {
	for _, have := range l.ids {
		if have == id {
			return true
		}
	}
	return false
}

func (l *LocalSelectionLedger) IDs() []domain.SeatID {
	return append([]domain.SeatID(nil), l.ids...)
}

func (l *LocalSelectionLedger) Selection() domain.Selection {
	return domain.NewSelection(l.ids...)
}

func (l *LocalSelectionLedger) remove(id domain.SeatID) bool {
	for i, have := range l.ids {
		if have == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (l *LocalSelectionLedger) persist(ctx context.Context) error {
	if l.authenticated {
		return nil
	}
	ids := l.ids
	if ids == nil {
		ids = []domain.SeatID{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return errors.Wrapf(l.storage.Set(ctx, l.key, raw), "persist %s", l.key)
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return append([]byte(nil), v...), ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
