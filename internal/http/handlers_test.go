package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/showtime-seats/internal/adapters/redis"
	"github.com/robertarktes/showtime-seats/internal/auth"
	"github.com/robertarktes/showtime-seats/internal/booking"
	"github.com/robertarktes/showtime-seats/internal/config"
	"github.com/robertarktes/showtime-seats/internal/domain"
	httphandler "github.com/robertarktes/showtime-seats/internal/http"
	"github.com/robertarktes/showtime-seats/internal/idempotency"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	showtime   *domain.Showtime
	seats      []domain.Seat
	reserveErr error
	lastHold   booking.HoldInput
	released   []domain.SeatID
	cleared    []domain.SeatID
	bookings   map[uuid.UUID]*domain.Booking
	paid       map[uuid.UUID]bool
}

func newFakeService() *fakeService {
	return &fakeService{bookings: map[uuid.UUID]*domain.Booking{}, paid: map[uuid.UUID]bool{}}
}

func (f *fakeService) Showtime(ctx context.Context, id uuid.UUID) (domain.Showtime, error) {
	if f.showtime == nil {
		return domain.Showtime{}, domain.ErrNotFound
	}
	return *f.showtime, nil
}

func (f *fakeService) Snapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error) {
	return f.seats, nil
}

func (f *fakeService) Reserve(ctx context.Context, in booking.HoldInput) (domain.Seat, error) {
	f.lastHold = in
	if f.reserveErr != nil {
		return domain.Seat{}, f.reserveErr
	}
	return domain.NewReservation(in.ShowtimeID, in.SeatID, in.UserID, time.Now(), time.Minute).Seat("A", 1), nil
}

func (f *fakeService) Release(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error {
	f.released = append(f.released, seatID)
	return nil
}

func (f *fakeService) Clear(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID) error {
	f.cleared = append(f.cleared, seatID)
	return nil
}

func (f *fakeService) StartBooking(ctx context.Context, c domain.Checkout) (domain.Booking, error) {
	b := domain.NewBooking(c, 10, time.Now())
	f.bookings[b.ID] = &b
	return b, nil
}

func (f *fakeService) CompletePayment(ctx context.Context, id uuid.UUID, ok bool) (domain.Booking, error) {
	b, found := f.bookings[id]
	if !found {
		return domain.Booking{}, domain.ErrNotFound
	}
	f.paid[id] = ok
	b.Status = domain.BookingFailed
	if ok {
		b.Status = domain.BookingConfirmed
	}
	return *b, nil
}

func (f *fakeService) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	if b, ok := f.bookings[id]; ok {
		return b, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeService) History(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error) {
	return nil, nil
}

func newServer(cfg *config.Config, svc *fakeService, idemp *idempotency.Idempotency) http.Handler {
	h := httphandler.NewHandlers(cfg, svc, nil, observability.NewNopLogger())
	return httphandler.SetupRouter(h, observability.NewNopLogger(), nil, idemp)
}

func do(t *testing.T, srv http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestGetSeats(t *testing.T) {
	svc := newFakeService()
	showtimeID := uuid.New()
	svc.seats = []domain.Seat{domain.AvailableSeat(showtimeID, "A", 1)}
	srv := newServer(&config.Config{}, svc, nil)

	rec := do(t, srv, http.MethodGet, "/api/seats/"+showtimeID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var seats []domain.Seat
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&seats))
	assert.Equal(t, svc.seats, seats)

	rec = do(t, srv, http.MethodGet, "/api/seats/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetShowtime(t *testing.T) {
	svc := newFakeService()
	showtimeID := uuid.New()
	svc.showtime = &domain.Showtime{
		ID:           showtimeID,
		Hall:         "2",
		Layout:       domain.Layout{Rows: []string{"H", "G", "F"}, SeatsPerRow: 14},
		PricePerSeat: 12.5,
	}
	srv := newServer(&config.Config{}, svc, nil)

	rec := do(t, srv, http.MethodGet, "/api/showtimes/"+showtimeID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Showtime
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, *svc.showtime, got)

	svc.showtime = nil
	rec = do(t, srv, http.MethodGet, "/api/showtimes/"+showtimeID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReserveSeat_ConflictCodes(t *testing.T) {
	svc := newFakeService()
	srv := newServer(&config.Config{}, svc, nil)
	body := map[string]interface{}{"seatId": "A1", "showtimeId": uuid.New(), "userId": uuid.New(), "reservationTime": time.Now()}

	rec := do(t, srv, http.MethodPost, "/api/seats/reserve", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.SeatID("A1"), svc.lastHold.SeatID)

	for err, code := range map[error]string{
		domain.ErrSeatTaken:            httphandler.CodeSeatTaken,
		domain.ErrSerializationFailure: httphandler.CodeRetry,
	} {
		svc.reserveErr = err
		rec = do(t, srv, http.MethodPost, "/api/seats/reserve", body, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		var resp httphandler.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, code, resp.Code)
	}

	svc.reserveErr = domain.ErrUnknownSeat
	rec = do(t, srv, http.MethodPost, "/api/seats/reserve", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/seats/reserve", map[string]interface{}{"seatId": "A1", "userId": uuid.New()}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReserveSeat_JWTIdentity(t *testing.T) {
	svc := newFakeService()
	cfg := &config.Config{JWTSecret: "s3cret"}
	srv := newServer(cfg, svc, nil)
	userID := uuid.New()
	tok, err := auth.NewAccessToken(cfg.JWTSecret, userID, "", time.Minute)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + tok}

	body := map[string]interface{}{"seatId": "B2", "showtimeId": uuid.New()}
	rec := do(t, srv, http.MethodPost, "/api/seats/reserve", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/seats/reserve", body, bearer)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, userID, svc.lastHold.UserID)

	body["userId"] = uuid.New()
	rec = do(t, srv, http.MethodPost, "/api/seats/reserve", body, bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/seats/reserve", body, map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClearSeat_AdminOnly(t *testing.T) {
	svc := newFakeService()
	cfg := &config.Config{JWTSecret: "s3cret"}
	srv := newServer(cfg, svc, nil)
	path := "/api/seats/" + uuid.New().String() + "/C3"

	user, _ := auth.NewAccessToken(cfg.JWTSecret, uuid.New(), "", time.Minute)
	rec := do(t, srv, http.MethodDelete, path, nil, map[string]string{"Authorization": "Bearer " + user})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, _ := auth.NewAccessToken(cfg.JWTSecret, uuid.New(), auth.RoleAdmin, time.Minute)
	rec = do(t, srv, http.MethodDelete, path, nil, map[string]string{"Authorization": "Bearer " + admin})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []domain.SeatID{"C3"}, svc.cleared)
}

func TestBookingAndPaymentCallback(t *testing.T) {
	svc := newFakeService()
	srv := newServer(&config.Config{}, svc, nil)
	userID := uuid.New()

	checkout := domain.NewCheckout(uuid.New(), userID, []domain.SeatID{"A1", "A2"}, 10, time.Now().Add(time.Minute))
	rec := do(t, srv, http.MethodPost, "/api/bookings", checkout, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var b domain.Booking
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&b))
	assert.Equal(t, domain.BookingPending, b.Status)

	rec = do(t, srv, http.MethodPost, "/api/payments/callback", map[string]interface{}{"booking_id": b.ID, "status": "SUCCEEDED"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.paid[b.ID])

	rec = do(t, srv, http.MethodGet, "/api/bookings/"+b.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/bookings/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/users/"+userID.String()+"/bookings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(db), time.Hour)
	svc := newFakeService()
	srv := newServer(&config.Config{}, svc, idemp)

	body := map[string]interface{}{"seatId": "A1", "showtimeId": uuid.New(), "userId": uuid.New()}
	rec := do(t, srv, http.MethodPost, "/api/seats/reserve", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "key is required")

	key := "0123456789abcdef"
	stored, _ := json.Marshal(redisadapter.IdempResponse{Status: http.StatusConflict, ContentType: "application/json", Result: []byte(`{"code":"seat_taken","error":"x"}`)})
	mock.ExpectGet("idemp:" + idempotency.Key("anon", http.MethodPost, "/api/seats/reserve", key)).SetVal(string(stored))

	rec = do(t, srv, http.MethodPost, "/api/seats/reserve", body, map[string]string{"Idempotency-Key": key})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replay"))
	assert.Empty(t, svc.lastHold.SeatID, "replayed request must not reach the service")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_RejectsConcurrentRepeat(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(db), time.Hour)
	svc := newFakeService()
	srv := newServer(&config.Config{}, svc, idemp)

	key := "fedcba9876543210"
	scoped := idempotency.Key("anon", http.MethodPost, "/api/seats/reserve", key)
	mock.ExpectGet("idemp:" + scoped).RedisNil()
	mock.ExpectSetNX("idemp:inflight:"+scoped, 1, 30*time.Second).SetVal(false)

	body := map[string]interface{}{"seatId": "A1", "showtimeId": uuid.New(), "userId": uuid.New()}
	rec := do(t, srv, http.MethodPost, "/api/seats/reserve", body, map[string]string{"Idempotency-Key": key})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"conflict"`)
	assert.Empty(t, svc.lastHold.SeatID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthz(t *testing.T) {
	srv := newServer(&config.Config{}, newFakeService(), nil)
	rec := do(t, srv, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
