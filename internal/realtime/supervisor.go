package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

// ReconnectPolicy bounds one background reconnect cycle.
type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SupervisorHooks connects the Supervisor to the rest of the client.
type SupervisorHooks struct {
	// Frame receives every inbound frame from the live transport.
	Frame func(Frame)
	// Lost is called when the connection is given up for good: on
	// Disconnect and when a reconnect cycle is exhausted.
	Lost func(error)
}

// attempt is one in-flight Open shared by every concurrent Connect caller.
type attempt struct {
	done chan struct{}
	err  error
}

// Supervisor owns the Transport lifecycle and the connection state machine.
type Supervisor struct {
	newTransport TransportFactory
	policy       ReconnectPolicy
	hooks        SupervisorHooks
	log          zerolog.Logger

	mu           sync.Mutex
	state        State
	transport    Transport
	inflight     *attempt
	reconnecting bool
	attempts     int // attempts made by the running reconnect cycle
	lifetime     context.Context
	stop         context.CancelFunc

	watchMu   sync.Mutex
	watchers  map[uint64]func(State)
	nextWatch uint64
	queued    []State // transitions not yet delivered, oldest first

	deliverMu sync.Mutex // held by the one goroutine delivering queued
}

// NewSupervisor creates an idle Supervisor.
func NewSupervisor(factory TransportFactory, policy ReconnectPolicy, hooks SupervisorHooks, log zerolog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		newTransport: factory,
		policy:       policy,
		hooks:        hooks,
		log:          log.With().Str("component", "supervisor").Logger(),
		lifetime:     ctx,
		stop:         cancel,
		watchers:     make(map[uint64]func(State)),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect returns once a connection is live or the attempt failed. Callers
// that arrive while an attempt is in flight share its outcome.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	a, publish := s.joinLocked()
	s.mu.Unlock()
	publish()
	return wait(ctx, a)
}

// joinLocked returns the in-flight attempt, starting one if there is none.
func (s *Supervisor) joinLocked() (*attempt, func()) {
	if s.inflight != nil {
		return s.inflight, noPublish
	}
	return s.beginAttemptLocked()
}

func wait(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) beginAttemptLocked() (*attempt, func()) {
	a := &attempt{done: make(chan struct{})}
	prev := s.transport
	t := s.newTransport(s)
	s.transport = t
	s.inflight = a
	publish := noPublish
	if !s.reconnecting {
		publish = s.setStateLocked(StateConnecting)
	}
	go s.run(s.lifetime, a, prev, t)
	return a, publish
}

func (s *Supervisor) run(ctx context.Context, a *attempt, prev, t Transport) {
	if prev != nil {
		// At most one live transport: the stale one goes first.
		_ = prev.Close()
	}

	err := t.Open(ctx)

	s.mu.Lock()
	if s.inflight == a {
		s.inflight = nil
	}
	current := s.transport == t
	publish := noPublish
	startCycle := false
	switch {
	case err == nil && !current:
		err = ErrConnectionClosed
	case err != nil && current:
		s.transport = nil
		switch {
		case ctx.Err() != nil:
			publish = s.setStateLocked(StateIdle)
		case s.reconnecting:
			publish = s.setStateLocked(StateReconnecting)
		default:
			s.reconnecting = true
			startCycle = true
			publish = s.setStateLocked(StateReconnecting)
		}
	}
	a.err = err
	close(a.done)
	s.mu.Unlock()

	publish()
	if err != nil {
		s.log.Warn().Err(err).Msg("connection attempt failed")
	}
	if err == ErrConnectionClosed {
		_ = t.Close()
	}
	if startCycle {
		go s.reconnect(ctx, err)
	}
}

// reconnect runs one bounded retry cycle. Only one cycle runs at a time.
func (s *Supervisor) reconnect(ctx context.Context, cause error) {
	limit := s.policy.MaxAttempts
	if cause == nil {
		cause = ErrConnectionClosed
	}
	s.log.Info().Err(cause).Int("max_attempts", limit).Dur("backoff", s.policy.InitialBackoff).Msg("scheduling reconnect")

	var err error = cause
	if limit > 0 {
		select {
		case <-ctx.Done():
			s.endCycle(ctx, nil)
			return
		case <-time.After(s.policy.InitialBackoff):
		}

		err = retry.Do(
			func() error {
				// Disconnect cancels ctx under s.mu, so checking it here
				// keeps a stopped cycle from starting another attempt.
				s.mu.Lock()
				if ctx.Err() != nil {
					s.mu.Unlock()
					return retry.Unrecoverable(ctx.Err())
				}
				if s.state == StateConnected {
					s.mu.Unlock()
					return nil
				}
				s.attempts++
				n := s.attempts
				a, publish := s.joinLocked()
				s.mu.Unlock()
				publish()
				s.log.Info().Int("attempt", n).Msg("reconnecting")
				return wait(ctx, a)
			},
			retry.Attempts(uint(limit)),
			retry.Delay(s.policy.InitialBackoff),
			retry.MaxDelay(s.policy.MaxBackoff),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				s.log.Debug().Uint("attempt", n+1).Err(err).Msg("reconnect attempt failed")
			}),
		)
	}
	s.endCycle(ctx, err)
}

func (s *Supervisor) endCycle(ctx context.Context, err error) {
	s.mu.Lock()
	if ctx.Err() != nil {
		// Disconnect already reset the cycle.
		s.mu.Unlock()
		return
	}
	s.reconnecting = false
	attempts := s.attempts
	s.attempts = 0
	if err == nil || s.state == StateConnected || s.inflight != nil {
		s.mu.Unlock()
		return
	}
	publish := s.setStateLocked(StateFailed)
	s.mu.Unlock()
	publish()

	lost := &ReconnectError{Attempts: attempts, Err: err}
	s.log.Error().Err(lost).Msg("giving up on connection")
	if s.hooks.Lost != nil {
		s.hooks.Lost(lost)
	}
}

// Send writes f on the live transport.
func (s *Supervisor) Send(f Frame) error {
	s.mu.Lock()
	t := s.transport
	connected := s.state == StateConnected
	s.mu.Unlock()
	if t == nil || !connected {
		return &SendError{Event: f.Event, Err: ErrNotConnected}
	}
	return t.Send(f)
}

// Disconnect closes the live transport, stops any reconnect cycle and returns
// to Idle. A later Connect starts from scratch.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.stop()
	s.lifetime, s.stop = context.WithCancel(context.Background())
	t := s.transport
	s.transport = nil
	s.inflight = nil
	s.reconnecting = false
	s.attempts = 0
	publish := s.setStateLocked(StateClosing)
	s.mu.Unlock()
	publish()

	if t != nil {
		_ = t.Close()
	}

	s.mu.Lock()
	publish = noPublish
	if s.state == StateClosing {
		publish = s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
	publish()

	s.log.Info().Msg("disconnected")
	if s.hooks.Lost != nil {
		s.hooks.Lost(ErrDisconnected)
	}
}

// WatchState registers fn for every state transition. Watchers see
// transitions one at a time, in the order they happened. The returned
// function stops the notifications.
func (s *Supervisor) WatchState(fn func(State)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

// setStateLocked records a transition and queues it for the watchers. The
// returned function delivers the queue once s.mu is released.
func (s *Supervisor) setStateLocked(to State) func() {
	if s.state == to {
		return noPublish
	}
	from := s.state
	s.state = to
	s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("state transition")

	s.watchMu.Lock()
	s.queued = append(s.queued, to)
	s.watchMu.Unlock()
	return s.deliver
}

// deliver hands queued transitions to the watchers in the order they were
// made. Only one goroutine delivers at a time; a caller that finds delivery
// under way leaves its transition to that goroutine, which re-checks the
// queue after releasing deliverMu.
func (s *Supervisor) deliver() {
	for s.deliverMu.TryLock() {
		for {
			s.watchMu.Lock()
			if len(s.queued) == 0 {
				s.watchMu.Unlock()
				break
			}
			st := s.queued[0]
			s.queued = s.queued[1:]
			fns := make([]func(State), 0, len(s.watchers))
			for _, fn := range s.watchers {
				fns = append(fns, fn)
			}
			s.watchMu.Unlock()

			for _, fn := range fns {
				fn(st)
			}
		}
		s.deliverMu.Unlock()

		s.watchMu.Lock()
		empty := len(s.queued) == 0
		s.watchMu.Unlock()
		if empty {
			return
		}
	}
}

func noPublish() {}

// OnOpened implements Lifecycle.
func (s *Supervisor) OnOpened(t Transport) {
	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	publish := s.setStateLocked(StateConnected)
	s.mu.Unlock()
	publish()
	s.log.Info().Msg("connected")
}

// OnFrame implements Lifecycle.
func (s *Supervisor) OnFrame(t Transport, f Frame) {
	s.mu.Lock()
	current := s.transport == t
	s.mu.Unlock()
	if !current || s.hooks.Frame == nil {
		return
	}
	s.hooks.Frame(f)
}

// OnClosed implements Lifecycle.
func (s *Supervisor) OnClosed(t Transport, reason error) {
	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return
	}
	s.transport = nil
	publish := noPublish
	startCycle := false
	ctx := s.lifetime
	if s.state == StateConnected && ctx.Err() == nil {
		publish = s.setStateLocked(StateReconnecting)
		if !s.reconnecting {
			s.reconnecting = true
			startCycle = true
		}
	}
	s.mu.Unlock()
	publish()

	s.log.Warn().Err(reason).Msg("connection lost")
	if startCycle {
		go s.reconnect(ctx, reason)
	}
}

// OnError implements Lifecycle.
func (s *Supervisor) OnError(_ Transport, err error) {
	s.log.Warn().Err(err).Msg("transport error")
}
