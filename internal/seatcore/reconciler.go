package seatcore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateJoined
	StateErrored
	StateTimedOut
	StateFallback
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateJoined:
		return "JOINED"
	case StateErrored:
		return "ERROR"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateFallback:
		return "FALLBACK"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrRealtimeUnavailable = errors.New("realtime channel unavailable")
	ErrJoinTimeout         = errors.Wrap(ErrRealtimeUnavailable, "join timed out")
)

const DefaultJoinTimeout = 3 * time.Second

// RealtimeReconciler drives one showtime subscription through
// CONNECTING -> JOINED -> (ERROR|TIMED_OUT) -> FALLBACK and hands every event
// to apply in arrival order.
type RealtimeReconciler struct {
	feed        Feed
	showtimeID  uuid.UUID
	clock       clock.Clock
	joinTimeout time.Duration
	apply       func(context.Context, domain.ChangeEvent)
	onState     func(State)
	logger      observability.Logger

	mu    sync.Mutex
	state State
}

func NewRealtimeReconciler(feed Feed, showtimeID uuid.UUID, clk clock.Clock, joinTimeout time.Duration,
	apply func(context.Context, domain.ChangeEvent), logger observability.Logger) *RealtimeReconciler {
	if clk == nil {
		clk = clock.New()
	}
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RealtimeReconciler{
		feed:        feed,
		showtimeID:  showtimeID,
		clock:       clk,
		joinTimeout: joinTimeout,
		apply:       apply,
		logger:      logger.WithField("showtime_id", showtimeID.String()),
	}
}

// OnStateChange registers a callback run on every transition. Set it before Run.
func (r *RealtimeReconciler) OnStateChange(fn func(State)) {
	r.onState = fn
}

func (r *RealtimeReconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run blocks until ctx is done, returning nil, or until the channel cannot be
// joined or fails after joining, returning an error wrapping
// ErrRealtimeUnavailable with the reconciler in StateFallback. The join
// timeout covers Subscribe itself, so a feed stuck opening its channel still
// falls back in time.
func (r *RealtimeReconciler) Run(ctx context.Context) error {
	r.setState(StateConnecting)

	timer := r.clock.Timer(r.joinTimeout)
	defer timer.Stop()

	if r.feed == nil {
		return r.fail(StateErrored, errors.Wrap(ErrRealtimeUnavailable, "no feed configured"))
	}

	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	result := make(chan subscribeResult, 1)
	go func() {
		sub, err := r.feed.Subscribe(subCtx, r.showtimeID)
		result <- subscribeResult{sub: sub, err: err}
	}()

	var sub Subscription
	select {
	case <-ctx.Done():
		go r.discard(result)
		r.setState(StateClosed)
		return nil
	case <-timer.C:
		cancelSub()
		go r.discard(result)
		return r.fail(StateTimedOut, ErrJoinTimeout)
	case res := <-result:
		if res.err != nil {
			if ctx.Err() != nil {
				r.setState(StateClosed)
				return nil
			}
			return r.fail(StateErrored, errors.Mark(errors.Wrap(res.err, "subscribe"), ErrRealtimeUnavailable))
		}
		sub = res.sub
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			r.logger.WithError(cerr).Debug("close subscription")
		}
	}()

	joined := false
	for !joined {
		select {
		case <-ctx.Done():
			r.setState(StateClosed)
			return nil
		case <-timer.C:
			return r.fail(StateTimedOut, ErrJoinTimeout)
		case st, ok := <-sub.Status():
			if !ok {
				return r.streamEnded(ctx, "status stream closed before join")
			}
			switch st {
			case ChannelSubscribed:
				joined = true
			case ChannelTimedOut:
				return r.fail(StateTimedOut, errors.Wrap(ErrRealtimeUnavailable, st.String()))
			case ChannelError, ChannelClosed:
				return r.fail(StateErrored, errors.Wrap(ErrRealtimeUnavailable, st.String()))
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return r.streamEnded(ctx, "event stream closed before join")
			}
			r.apply(ctx, ev)
		}
	}
	timer.Stop()
	r.setState(StateJoined)
	r.logger.Debug("realtime channel joined")

	for {
		select {
		case <-ctx.Done():
			r.setState(StateClosed)
			return nil
		case st, ok := <-sub.Status():
			if !ok {
				return r.streamEnded(ctx, "status stream closed")
			}
			switch st {
			case ChannelSubscribed:
			case ChannelTimedOut:
				return r.fail(StateTimedOut, errors.Wrap(ErrRealtimeUnavailable, st.String()))
			case ChannelError, ChannelClosed:
				return r.fail(StateErrored, errors.Wrap(ErrRealtimeUnavailable, st.String()))
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return r.streamEnded(ctx, "event stream closed")
			}
			r.apply(ctx, ev)
		}
	}
}

type subscribeResult struct {
	sub Subscription
	err error
}

// discard closes a subscription that arrives after Run stopped waiting for it.
func (r *RealtimeReconciler) discard(result <-chan subscribeResult) {
	res := <-result
	if res.sub == nil {
		return
	}
	if err := res.sub.Close(); err != nil {
		r.logger.WithError(err).Debug("close late subscription")
	}
}

// streamEnded handles a feed channel closing under Run. A close caused by
// ctx ending is a normal shutdown.
func (r *RealtimeReconciler) streamEnded(ctx context.Context, what string) error {
	if ctx.Err() != nil {
		r.setState(StateClosed)
		return nil
	}
	return r.fail(StateErrored, errors.Wrap(ErrRealtimeUnavailable, what))
}

func (r *RealtimeReconciler) fail(st State, err error) error {
	r.setState(st)
	r.setState(StateFallback)
	return err
}

func (r *RealtimeReconciler) setState(st State) {
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	if r.onState != nil {
		r.onState(st)
	}
}
