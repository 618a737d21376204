// Package breaker implements per-backend failure isolation as a
// CLOSED/OPEN/HALF_OPEN state machine wrapping remote calls.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// State is the circuit position for one backend.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Event describes one observable state transition.
type Event struct {
	Backend  string
	From     State
	To       State
	Failures int
	At       time.Time
}

// Config tunes a single breaker instance. Zero values fall back to the
// defaults below.
type Config struct {
	FailureThreshold int           // failures within the window before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	ResetTimeout     time.Duration // how long the circuit stays open
	FailureWindow    time.Duration // sliding window for the failure count
	OnStateChange    func(Event)
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 3
	defaultResetTimeout     = 60 * time.Second
	defaultFailureWindow    = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaultSuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaultResetTimeout
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = defaultFailureWindow
	}
	return c
}

// Breaker guards one backend. Safe for concurrent use; in HALF_OPEN exactly
// one probe call is admitted at a time.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	windowStart    time.Time
	lastFailure    time.Time
	resetDeadline  time.Time
	probeSuccesses int
	probing        bool
}

// Snapshot is a point-in-time view of a breaker for operators.
type Snapshot struct {
	Backend        string    `json:"backend"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	LastFailure    time.Time `json:"last_failure,omitzero"`
	ResetDeadline  time.Time `json:"reset_deadline,omitzero"`
	ProbeSuccesses int       `json:"probe_successes"`
}

// New creates a breaker for the named backend, starting CLOSED.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: Closed,
	}
}

// Do runs fn through the breaker. When the circuit is open the call is
// short-circuited with ErrCircuitOpen and the backend is never contacted.
// fn must return a non-nil error only for genuine failures (timeout, backend
// error, malformed response) — an empty-but-valid result is a success.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

// allow decides whether a call may proceed, moving OPEN → HALF_OPEN once the
// reset deadline has passed.
func (b *Breaker) allow() error {
	b.mu.Lock()

	switch b.state {
	case Closed:
		b.mu.Unlock()
		return nil
	case Open:
		if b.now().Before(b.resetDeadline) {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, model.ErrCircuitOpen)
		}
		ev := b.transition(HalfOpen)
		b.probing = true
		b.probeSuccesses = 0
		b.mu.Unlock()
		b.emit(ev)
		return nil
	default: // HalfOpen
		if b.probing {
			b.mu.Unlock()
			return fmt.Errorf("%s: probe in flight: %w", b.name, model.ErrCircuitOpen)
		}
		b.probing = true
		b.mu.Unlock()
		return nil
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	var ev *Event

	if success {
		switch b.state {
		case HalfOpen:
			b.probing = false
			b.probeSuccesses++
			if b.probeSuccesses >= b.cfg.SuccessThreshold {
				ev = b.transition(Closed)
				b.failures = 0
			}
		case Closed:
			b.failures = 0
		}
		b.mu.Unlock()
		b.emit(ev)
		return
	}

	now := b.now()
	b.lastFailure = now

	switch b.state {
	case HalfOpen:
		// Failed probe: reopen and extend the reset deadline.
		b.probing = false
		b.resetDeadline = now.Add(b.cfg.ResetTimeout)
		ev = b.transition(Open)
	case Closed:
		if b.failures == 0 || now.Sub(b.windowStart) > b.cfg.FailureWindow {
			b.windowStart = now
			b.failures = 0
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.resetDeadline = now.Add(b.cfg.ResetTimeout)
			ev = b.transition(Open)
		}
	}
	b.mu.Unlock()
	b.emit(ev)
}

// transition must be called with the lock held; the returned event is emitted
// after unlock so callbacks never run under the mutex.
func (b *Breaker) transition(to State) *Event {
	ev := &Event{Backend: b.name, From: b.state, To: to, Failures: b.failures, At: b.now()}
	b.state = to
	return ev
}

func (b *Breaker) emit(ev *Event) {
	if ev == nil {
		return
	}
	slog.Info("circuit state change",
		"backend", ev.Backend,
		"from", ev.From.String(),
		"to", ev.To.String(),
		"failures", ev.Failures,
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(*ev)
	}
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view for inspection endpoints.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Backend:        b.name,
		State:          b.state.String(),
		Failures:       b.failures,
		LastFailure:    b.lastFailure,
		ResetDeadline:  b.resetDeadline,
		ProbeSuccesses: b.probeSuccesses,
	}
}
