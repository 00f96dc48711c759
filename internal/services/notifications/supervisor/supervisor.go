// Package supervisor keeps a subscription alive, retrying with exponential
// backoff and giving up after a fixed number of consecutive failures.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"syntra-checkout/internal/metrics"
	"syntra-checkout/internal/services/pos"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var AllStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateReconnecting),
	string(StateFailed),
}

const (
	DefaultBaseDelay   = 1000 * time.Millisecond
	DefaultMaxDelay    = 30000 * time.Millisecond
	DefaultMaxFailures = 5
)

var errDropped = errors.New("subscription dropped")

// Session is a live connection being supervised.
type Session interface {
	Close() error
	Done() <-chan struct{}
	Err() error
}

type ConnectFunc func(ctx context.Context) (Session, error)

// Status is a snapshot of the supervisor.
type Status struct {
	State       State         `json:"state"`
	Failures    int           `json:"failures"`
	NextRetry   time.Duration `json:"-"`
	NextRetryMS int64         `json:"next_retry_ms,omitempty"`
	Error       string        `json:"error,omitempty"`
	Cause       error         `json:"-"`
}

type Options struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxFailures int
	// OnStateChange is called synchronously on every transition.
	OnStateChange func(Status)
	// After replaces time.After, for tests.
	After func(time.Duration) <-chan time.Time
}

func (o *Options) withDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	if o.After == nil {
		o.After = time.After
	}
}

// Delay is min(base * 2^failures, max).
func Delay(failures int, base, max time.Duration) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

type Supervisor struct {
	connect   ConnectFunc
	opts      Options
	log       *zap.Logger
	reconnect chan struct{}

	mu     sync.RWMutex
	status Status
}

func New(connect ConnectFunc, opts Options, log *zap.Logger) *Supervisor {
	opts.withDefaults()
	return &Supervisor{
		connect:   connect,
		opts:      opts,
		log:       log,
		reconnect: make(chan struct{}, 1),
		status:    Status{State: StateDisconnected},
	}
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Reconnect asks the supervisor to retry now with a fresh failure budget. It
// restarts a supervisor that has given up and cuts a pending backoff short.
func (s *Supervisor) Reconnect() {
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

// Run supervises until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0
	for {
		s.transition(StateConnecting, failures, 0, nil)
		sess, err := s.connect(ctx)
		if err == nil {
			failures = 0
			metrics.RecordReconnectAttempt("success")
			s.transition(StateConnected, 0, 0, nil)

			select {
			case <-sess.Done():
				err = sess.Err()
				if err == nil {
					err = errDropped
				}
				s.log.Warn("event stream subscription ended", zap.Error(err))
			case <-ctx.Done():
				sess.Close()
				s.transition(StateDisconnected, 0, 0, nil)
				return ctx.Err()
			case <-s.reconnect:
				sess.Close()
				continue
			}
		} else {
			metrics.RecordReconnectAttempt("failure")
			s.log.Warn("event stream subscription failed", zap.Int("failures", failures+1), zap.Error(err))
		}

		if ctx.Err() != nil {
			s.transition(StateDisconnected, failures, 0, nil)
			return ctx.Err()
		}

		failures++
		if failures >= s.opts.MaxFailures {
			terminal := &pos.ConnectivityError{Attempts: failures, Cause: err}
			s.log.Error("event stream unavailable, giving up", zap.Error(terminal))
			s.transition(StateFailed, failures, 0, terminal)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.reconnect:
				failures = 0
				continue
			}
		}

		delay := Delay(failures, s.opts.BaseDelay, s.opts.MaxDelay)
		s.transition(StateReconnecting, failures, delay, err)
		select {
		case <-ctx.Done():
			s.transition(StateDisconnected, failures, 0, nil)
			return ctx.Err()
		case <-s.reconnect:
			failures = 0
		case <-s.opts.After(delay):
		}
	}
}

func (s *Supervisor) transition(state State, failures int, next time.Duration, err error) {
	st := Status{State: state, Failures: failures, NextRetry: next, NextRetryMS: next.Milliseconds()}
	if err != nil {
		st.Error = err.Error()
		st.Cause = err
	}

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	metrics.SetConnectionState(string(state), AllStates)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}
