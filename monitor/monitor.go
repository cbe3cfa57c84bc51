// Package monitor is the client-side companion to the session authority. It
// watches for user activity, polls the server, warns the user before the
// session idles out, and forces a hard reset once it has.
//
// A Monitor is a small state machine driven by a single goroutine (Run):
//
//	Monitoring ⇄ Warning → Expired
//
// Warning returns to Monitoring only after a successful extension. Expired is
// terminal: every timer is stopped, reset hooks run, and the reload hook
// sends the user back through authentication.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ggoodman/recordsportal/clock"
)

// State is the monitor's position in its state machine.
type State int32

const (
	Monitoring State = iota
	Warning
	Expired
)

func (s State) String() string {
	switch s {
	case Monitoring:
		return "monitoring"
	case Warning:
		return "warning"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Signal names a kind of user interaction.
type Signal string

const (
	PointerMove Signal = "pointer-move"
	PointerDown Signal = "pointer-down"
	KeyDown     Signal = "key-down"
	Scroll      Signal = "scroll"
	TouchStart  Signal = "touch-start"
	Click       Signal = "click"
)

// Client talks to the session authority. Any error means the session is no
// longer usable.
type Client interface {
	Check(ctx context.Context) error
	Extend(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Presenter renders the monitor's state. Methods are called from the Run
// goroutine only and must not block for long.
type Presenter interface {
	ShowWarning(remaining time.Duration)
	UpdateCountdown(remaining time.Duration)
	HideWarning()
	ShowExpired()
}

// ErrAlreadyRunning is returned by Run when the Monitor has already been
// started.
var ErrAlreadyRunning = errors.New("monitor: already running")

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the time source. The default is the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithResetHook registers fn to clear cached client state on expiry. Hooks
// run in registration order.
func WithResetHook(fn func()) Option {
	return func(m *Monitor) { m.resetHooks = append(m.resetHooks, fn) }
}

// WithReload sets the function that sends the user back to authentication
// once the monitor has expired.
func WithReload(fn func()) Option {
	return func(m *Monitor) { m.reload = fn }
}

type commandKind int

const (
	cmdExtend commandKind = iota
	cmdEndNow
)

type requestKind int

const (
	reqCheck requestKind = iota
	reqExtend
)

type result struct {
	seq    uint64
	kind   requestKind
	sentAt time.Time
	err    error
}

// Monitor tracks one session from the client side.
type Monitor struct {
	client     Client
	presenter  Presenter
	cfg        Config
	clock      clock.Clock
	log        *slog.Logger
	resetHooks []func()
	reload     func()

	lastActivity atomic.Int64
	state        atomic.Int32
	running      atomic.Bool

	activity chan struct{}
	commands chan commandKind
	results  chan result
	done     chan struct{}
}

// New builds a Monitor. Run must be called to start it.
func New(client Client, presenter Presenter, cfg Config, opts ...Option) (*Monitor, error) {
	if client == nil || presenter == nil {
		return nil, errors.New("monitor: client and presenter are required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		client:    client,
		presenter: presenter,
		cfg:       cfg,
		clock:     clock.Real(),
		activity:  make(chan struct{}, 1),
		commands:  make(chan commandKind, 8),
		results:   make(chan result, 8),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m.lastActivity.Store(m.clock.Now().UnixNano())
	return m, nil
}

// State reports the current state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// RecordActivity notes a user interaction. It never blocks.
func (m *Monitor) RecordActivity(sig Signal) {
	m.lastActivity.Store(m.clock.Now().UnixNano())
	select {
	case m.activity <- struct{}{}:
	default:
	}
}

// Extend asks the server to extend the session. On success a warning is
// dismissed; on failure the monitor expires.
func (m *Monitor) Extend() {
	m.lastActivity.Store(m.clock.Now().UnixNano())
	m.send(cmdExtend)
}

// EndNow expires the monitor immediately and logs out in the background.
func (m *Monitor) EndNow() {
	m.send(cmdEndNow)
}

func (m *Monitor) send(c commandKind) {
	select {
	case m.commands <- c:
	case <-m.done:
	}
}

// Done is closed when Run returns.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Run drives the state machine until the session expires, returning nil, or
// ctx ends, returning ctx.Err(). It may be called once.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.done)

	now := m.clock.Now()
	l := &loop{
		m:         m,
		ctx:       ctx,
		baseline:  now,
		lastTouch: now,
	}
	l.poll = m.clock.NewTimer(l.nextPoll(now))
	defer l.stopTimers()

	m.log.InfoContext(ctx, "monitor.start", slog.Duration("inactivity_timeout", m.cfg.InactivityTimeout), slog.Duration("warning_time", m.cfg.WarningTime))

	for {
		var countdown <-chan time.Time
		if l.ticker != nil {
			countdown = l.ticker.C()
		}

		var finished bool
		select {
		case <-ctx.Done():
			m.log.InfoContext(ctx, "monitor.stop", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		case <-m.activity:
			l.onActivity()
		case c := <-m.commands:
			finished = l.onCommand(c)
		case r := <-m.results:
			finished = l.onResult(r)
		case <-l.poll.C():
			finished = l.onPoll()
		case <-countdown:
			finished = l.onCountdown()
		}
		if finished {
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
	}
}

// loop is the state owned by the Run goroutine.
type loop struct {
	m   *Monitor
	ctx context.Context

	// baseline is the instant the local inactivity window is measured from.
	baseline time.Time
	// lastTouch is when the last extension was sent. Activity after it has
	// not reached the server yet.
	lastTouch time.Time

	// seq numbers round trips. pendingExtend is the seq of the requested
	// extension still in flight, zero when there is none.
	seq           uint64
	pendingExtend uint64

	poll   clock.Timer
	ticker clock.Ticker
}

func (l *loop) state() State { return State(l.m.state.Load()) }

func (l *loop) setState(s State) { l.m.state.Store(int32(s)) }

func (l *loop) lastActivity() time.Time {
	return time.Unix(0, l.m.lastActivity.Load())
}

func (l *loop) remaining(now time.Time) time.Duration {
	return l.baseline.Add(l.m.cfg.InactivityTimeout).Sub(now)
}

// nextPoll is the poll interval, shortened so the timer never fires later
// than the warning boundary.
func (l *loop) nextPoll(now time.Time) time.Duration {
	d := l.m.cfg.PollInterval
	if l.state() == Monitoring {
		until := l.remaining(now) - l.m.cfg.WarningTime
		if until > 0 && until < d {
			d = until
		}
	}
	return d
}

func (l *loop) onActivity() {
	switch l.state() {
	case Monitoring:
		if la := l.lastActivity(); la.After(l.baseline) {
			l.baseline = la
		}
	case Warning:
		l.startExtend()
	}
}

func (l *loop) onCommand(c commandKind) bool {
	switch c {
	case cmdExtend:
		l.startExtend()
	case cmdEndNow:
		l.expire("ended")
		m := l.m
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
			defer cancel()
			if err := m.client.Logout(ctx); err != nil {
				m.log.Warn("monitor.logout.fail", slog.String("err", err.Error()))
			}
		}()
		return true
	}
	return false
}

func (l *loop) onPoll() bool {
	now := l.m.clock.Now()
	if l.state() == Monitoring {
		if la := l.lastActivity(); la.After(l.baseline) {
			l.baseline = la
		}
	}

	rem := l.remaining(now)
	if rem <= 0 {
		l.expire("inactivity")
		return true
	}
	if l.state() == Monitoring && rem <= l.m.cfg.WarningTime {
		l.enterWarning(rem)
	}

	if l.lastActivity().After(l.lastTouch) {
		l.launch(reqExtend)
	} else {
		l.launch(reqCheck)
	}
	l.poll.Reset(l.nextPoll(now))
	return false
}

func (l *loop) onCountdown() bool {
	rem := l.remaining(l.m.clock.Now())
	if rem <= 0 {
		l.expire("countdown")
		return true
	}
	l.m.presenter.UpdateCountdown(rem)
	return false
}

func (l *loop) onResult(r result) bool {
	if r.seq == l.pendingExtend {
		l.pendingExtend = 0
	}
	if r.err != nil {
		if l.ctx.Err() != nil {
			return true
		}
		l.m.log.WarnContext(l.ctx, "monitor.server_invalid", slog.String("err", r.err.Error()))
		l.expire("server")
		return true
	}
	if r.kind != reqExtend {
		return false
	}

	if r.sentAt.After(l.baseline) {
		l.baseline = r.sentAt
	}
	now := l.m.clock.Now()
	if l.state() == Warning && l.remaining(now) > l.m.cfg.WarningTime {
		l.stopCountdown()
		l.setState(Monitoring)
		l.poll.Reset(l.nextPoll(now))
		l.m.log.InfoContext(l.ctx, "monitor.extended")
		l.m.presenter.HideWarning()
	}
	return false
}

func (l *loop) startExtend() {
	if l.pendingExtend != 0 {
		return
	}
	l.pendingExtend = l.launch(reqExtend)
}

// launch runs one round trip to the server in the background and delivers
// its outcome to the loop. It returns the round trip's seq.
func (l *loop) launch(kind requestKind) uint64 {
	m := l.m
	ctx := l.ctx
	l.seq++
	seq := l.seq
	sent := m.clock.Now()
	if kind == reqExtend && sent.After(l.lastTouch) {
		l.lastTouch = sent
	}
	go func() {
		rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
		var err error
		if kind == reqExtend {
			err = m.client.Extend(rctx)
		} else {
			err = m.client.Check(rctx)
		}
		select {
		case m.results <- result{seq: seq, kind: kind, sentAt: sent, err: err}:
		case <-m.done:
		}
	}()
	return seq
}

func (l *loop) enterWarning(rem time.Duration) {
	l.setState(Warning)
	l.stopCountdown()
	l.ticker = l.m.clock.NewTicker(l.m.cfg.CountdownInterval)
	l.m.log.InfoContext(l.ctx, "monitor.warning", slog.Duration("remaining", rem))
	l.m.presenter.ShowWarning(rem)
}

func (l *loop) stopCountdown() {
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
}

func (l *loop) stopTimers() {
	l.poll.Stop()
	l.stopCountdown()
}

// expire performs the terminal transition. It runs at most once because Run
// returns right after it.
func (l *loop) expire(reason string) {
	l.setState(Expired)
	l.stopTimers()
	l.m.log.InfoContext(l.ctx, "monitor.expired", slog.String("reason", reason))
	l.m.presenter.ShowExpired()
	for _, fn := range l.m.resetHooks {
		fn()
	}
	if l.m.reload != nil {
		l.m.reload()
	}
}
