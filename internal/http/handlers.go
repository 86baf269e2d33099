package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/booking"
	"github.com/robertarktes/showtime-seats/internal/config"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
)

// SeatService is what the handlers need from booking.Service.
type SeatService interface {
	Showtime(ctx context.Context, id uuid.UUID) (domain.Showtime, error)
	Snapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error)
	Reserve(ctx context.Context, in booking.HoldInput) (domain.Seat, error)
	Release(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error
	Clear(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID) error
	StartBooking(ctx context.Context, checkout domain.Checkout) (domain.Booking, error)
	CompletePayment(ctx context.Context, bookingID uuid.UUID, succeeded bool) (domain.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error)
}

// ReadinessCheck pings one backing store.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	cfg    *config.Config
	svc    SeatService
	checks map[string]ReadinessCheck
	logger observability.Logger
}

func NewHandlers(cfg *config.Config, svc SeatService, checks map[string]ReadinessCheck, logger observability.Logger) *Handlers {
	return &Handlers{cfg: cfg, svc: svc, checks: checks, logger: logger}
}

// Error codes let clients tell a lost seat from a retryable clash.
const (
	CodeSeatTaken    = "seat_taken"
	CodeRetry        = "retry"
	CodeNotFound     = "not_found"
	CodeInvalid      = "invalid_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeHoldNotOwned = "hold_not_owned"
	CodeConflict     = "conflict"
	CodeInternal     = "internal"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, domain.ErrSerializationFailure):
		status, code = http.StatusConflict, CodeRetry
	case errors.Is(err, domain.ErrSeatTaken):
		status, code = http.StatusConflict, CodeSeatTaken
	case errors.Is(err, domain.ErrHoldNotOwned):
		status, code = http.StatusConflict, CodeHoldNotOwned
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, CodeConflict
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrNotAuthenticated):
		status, code = http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, errForbidden):
		status, code = http.StatusForbidden, CodeForbidden
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownSeat),
		errors.Is(err, domain.ErrNoSeats), errors.Is(err, domain.ErrMissingShowtime):
		status, code = http.StatusBadRequest, CodeInvalid
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		RequestLogger(r.Context(), h.logger).WithError(err).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}

var errForbidden = errors.New("acting for another user")

// caller resolves who a mutation acts for. With auth configured the token
// decides and a body user id must agree with it; without auth the body is
// trusted.
func (h *Handlers) caller(r *http.Request, bodyUser uuid.UUID) (uuid.UUID, error) {
	if id, ok := IdentityFromContext(r.Context()); ok {
		if bodyUser != uuid.Nil && bodyUser != id.UserID {
			return uuid.Nil, errForbidden
		}
		return id.UserID, nil
	}
	if h.cfg.JWTSecret != "" || bodyUser == uuid.Nil {
		return uuid.Nil, domain.ErrNotAuthenticated
	}
	return bodyUser, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

// GetShowtime serves the hall geometry a client needs to lay out the seat map.
func (h *Handlers) GetShowtime(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "showtimeId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.svc.Showtime(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) GetSeats(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := uuidParam(r, "showtimeId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	seats, err := h.svc.Snapshot(r.Context(), showtimeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seats)
}

type reserveRequest struct {
	SeatID          domain.SeatID `json:"seatId"`
	ShowtimeID      uuid.UUID     `json:"showtimeId"`
	UserID          uuid.UUID     `json:"userId"`
	ReservationTime time.Time     `json:"reservationTime"`
}

func (h *Handlers) ReserveSeat(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ShowtimeID == uuid.Nil {
		h.writeError(w, r, domain.ErrMissingShowtime)
		return
	}
	userID, err := h.caller(r, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	seat, err := h.svc.Reserve(r.Context(), booking.HoldInput{
		ShowtimeID:  req.ShowtimeID,
		SeatID:      req.SeatID,
		UserID:      userID,
		RequestedAt: req.ReservationTime,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, seat)
}

type releaseRequest struct {
	SeatID     domain.SeatID `json:"seatId"`
	ShowtimeID uuid.UUID     `json:"showtimeId"`
	UserID     uuid.UUID     `json:"userId"`
}

func (h *Handlers) ReleaseSeat(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := h.caller(r, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Release(r.Context(), req.ShowtimeID, req.SeatID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearSeat(w http.ResponseWriter, r *http.Request) {
	if h.cfg.JWTSecret != "" {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			h.writeError(w, r, domain.ErrNotAuthenticated)
			return
		}
		if !id.IsAdmin() {
			h.writeError(w, r, errForbidden)
			return
		}
	}
	showtimeID, err := uuidParam(r, "showtimeId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Clear(r.Context(), showtimeID, domain.SeatID(chi.URLParam(r, "seatId"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var checkout domain.Checkout
	if err := decode(r, &checkout); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := h.caller(r, checkout.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	checkout.UserID = userID

	b, err := h.svc.StartBooking(r.Context(), checkout)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ident, ok := IdentityFromContext(r.Context()); ok && ident.UserID != b.UserID && !ident.IsAdmin() {
		h.writeError(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ident, ok := IdentityFromContext(r.Context()); ok && ident.UserID != userID && !ident.IsAdmin() {
		h.writeError(w, r, errForbidden)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	bookings, err := h.svc.History(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

type paymentCallback struct {
	BookingID     uuid.UUID `json:"booking_id"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
}

func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallback
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.CompletePayment(r.Context(), req.BookingID, req.Status == "SUCCEEDED")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	RequestLogger(r.Context(), h.logger).
		WithField("booking_id", b.ID.String()).
		WithField("transaction_id", req.TransactionID).
		Info("payment settled as " + string(b.Status))
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			RequestLogger(r.Context(), h.logger).WithError(err).Warn(name + " not ready")
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
