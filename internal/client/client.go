// Package client talks to the seats API on behalf of a seatcore session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/seatcore"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrRetry is a transient clash the server asks the caller to retry.
var ErrRetry = errors.New("server asked to retry")

// keySpace namespaces the name-based UUIDs used as Idempotency-Keys.
var keySpace = uuid.MustParse("6f1b7f9e-3c7a-4f0e-9d59-0c2b5a8e4d13")

type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	clock        clock.Clock
	retries      int
	retryBackoff time.Duration

	mu       sync.Mutex
	holdKeys map[string]string
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets how often a POST whose response never arrived is resent with
// the same Idempotency-Key, and the first backoff between tries.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryBackoff = backoff
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		clock:        clock.New(),
		retries:      2,
		retryBackoff: 200 * time.Millisecond,
		holdKeys:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ seatcore.SnapshotSource = (*Client)(nil)
	_ seatcore.HoldService    = (*Client)(nil)
	_ seatcore.Payment        = (*Client)(nil)
)

func (c *Client) FetchSeats(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error) {
	var seats []domain.Seat
	if err := c.do(ctx, http.MethodGet, "/api/seats/"+showtimeID.String(), "", nil, &seats); err != nil {
		return nil, err
	}
	return seats, nil
}

// FetchShowtime loads the hall geometry and seat price of a showtime.
func (c *Client) FetchShowtime(ctx context.Context, showtimeID uuid.UUID) (domain.Showtime, error) {
	var st domain.Showtime
	if err := c.do(ctx, http.MethodGet, "/api/showtimes/"+showtimeID.String(), "", nil, &st); err != nil {
		return domain.Showtime{}, err
	}
	return st, nil
}

// requestKey turns the fields that identify one logical request into a
// stable Idempotency-Key.
func requestKey(parts ...string) string {
	return uuid.NewSHA1(keySpace, []byte(strings.Join(parts, "|"))).String()
}

func holdSlot(showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) string {
	return showtimeID.String() + "|" + string(seatID) + "|" + userID.String()
}

func (c *Client) CreateHold(ctx context.Context, req seatcore.HoldRequest) (domain.Seat, error) {
	key := requestKey("hold", req.ShowtimeID.String(), string(req.SeatID), req.UserID.String(),
		req.ReservationTime.UTC().Format(time.RFC3339Nano))
	var seat domain.Seat
	if err := c.do(ctx, http.MethodPost, "/api/seats/reserve", key, req, &seat); err != nil {
		return domain.Seat{}, errors.Wrapf(err, "hold %s", req.SeatID)
	}
	c.mu.Lock()
	c.holdKeys[holdSlot(req.ShowtimeID, req.SeatID, req.UserID)] = key
	c.mu.Unlock()
	return seat, nil
}

// ReleaseHold keys the release on the hold it undoes, so releasing a later
// hold of the same seat is never answered from an earlier release.
func (c *Client) ReleaseHold(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error {
	slot := holdSlot(showtimeID, seatID, userID)
	c.mu.Lock()
	holdKey, ok := c.holdKeys[slot]
	c.mu.Unlock()
	if !ok {
		holdKey = uuid.NewString()
	}
	body := map[string]interface{}{"seatId": seatID, "showtimeId": showtimeID, "userId": userID}
	if err := c.do(ctx, http.MethodPost, "/api/seats/release", requestKey("release", holdKey), body, nil); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.holdKeys, slot)
	c.mu.Unlock()
	return nil
}

// BeginPayment opens a pending booking for the checkout.
func (c *Client) BeginPayment(ctx context.Context, checkout domain.Checkout) error {
	seats := make([]string, len(checkout.SeatIDs))
	for i, id := range checkout.SeatIDs {
		seats[i] = string(id)
	}
	sort.Strings(seats)
	key := requestKey("checkout", checkout.ShowtimeID.String(), checkout.UserID.String(),
		strings.Join(seats, ","), checkout.ExpiresAt.UTC().Format(time.RFC3339Nano))
	var b domain.Booking
	return c.do(ctx, http.MethodPost, "/api/bookings", key, checkout, &b)
}

func (c *Client) History(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	var bookings []domain.Booking
	if err := c.do(ctx, http.MethodGet, "/api/users/"+userID.String()+"/bookings", "", nil, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// do sends one request. A POST carries key as its Idempotency-Key and is
// resent with the same key when no response arrived.
func (c *Client) do(ctx context.Context, method, path, key string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = data
	}

	attempts := 1
	if method == http.MethodPost && key != "" {
		attempts += c.retries
	}
	backoff := c.retryBackoff
	var resp *http.Response
	for i := 0; ; i++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err = c.http.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil || i+1 >= attempts {
			return errors.Wrapf(err, "%s %s", method, path)
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%s %s", method, path)
		case <-c.clock.After(backoff):
		}
		backoff *= 2
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var eb errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &eb) != nil || eb.Message == "" {
		eb.Message = strings.TrimSpace(string(data))
	}

	switch resp.StatusCode {
	case http.StatusConflict:
		switch eb.Code {
		case "retry":
			return errors.Wrap(ErrRetry, eb.Message)
		case "hold_not_owned":
			return errors.Wrap(domain.ErrHoldNotOwned, eb.Message)
		case "conflict":
			return errors.Wrap(domain.ErrConflict, eb.Message)
		}
		return errors.Wrap(domain.ErrSeatTaken, eb.Message)
	case http.StatusNotFound:
		return errors.Wrap(domain.ErrNotFound, eb.Message)
	case http.StatusUnauthorized:
		return errors.Wrap(domain.ErrNotAuthenticated, eb.Message)
	case http.StatusBadRequest:
		return errors.Wrap(domain.ErrInvalidInput, eb.Message)
	}
	return errors.Newf("unexpected status %d: %s", resp.StatusCode, eb.Message)
}
