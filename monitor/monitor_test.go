package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/recordsportal/clock/clocktest"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

type fakeClient struct {
	mu        sync.Mutex
	checkErr  error
	extendErr error
	calls     chan string

	// held, when set, receives a release channel for every Extend call,
	// which then blocks until the channel is closed.
	held chan chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: make(chan string, 128)}
}

func (c *fakeClient) setCheckErr(err error) {
	c.mu.Lock()
	c.checkErr = err
	c.mu.Unlock()
}

func (c *fakeClient) setExtendErr(err error) {
	c.mu.Lock()
	c.extendErr = err
	c.mu.Unlock()
}

func (c *fakeClient) Check(context.Context) error {
	c.mu.Lock()
	err := c.checkErr
	c.mu.Unlock()
	c.calls <- "check"
	return err
}

func (c *fakeClient) holdExtends() {
	c.mu.Lock()
	c.held = make(chan chan struct{}, 8)
	c.mu.Unlock()
}

func (c *fakeClient) Extend(ctx context.Context) error {
	c.mu.Lock()
	err := c.extendErr
	held := c.held
	c.mu.Unlock()
	c.calls <- "extend"
	if held != nil {
		release := make(chan struct{})
		held <- release
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeClient) Logout(context.Context) error {
	c.calls <- "logout"
	return nil
}

type event struct {
	kind      string
	remaining time.Duration
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder { return &recorder{events: make(chan event, 128)} }

func (r *recorder) ShowWarning(d time.Duration)     { r.events <- event{"warning", d} }
func (r *recorder) UpdateCountdown(d time.Duration) { r.events <- event{"countdown", d} }
func (r *recorder) HideWarning()                    { r.events <- event{"hide", 0} }
func (r *recorder) ShowExpired()                    { r.events <- event{"expired", 0} }

type harness struct {
	t      *testing.T
	m      *Monitor
	clock  *clocktest.Fake
	client *fakeClient
	pres   *recorder
	cancel context.CancelFunc
	runErr chan error
}

func start(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  clocktest.New(t0),
		client: newFakeClient(),
		pres:   newRecorder(),
		runErr: make(chan error, 1),
	}
	opts = append([]Option{WithClock(h.clock)}, opts...)
	m, err := New(h.client, h.pres, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.m = m
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return h
}

// waitArmed blocks until n timers or tickers are armed.
func (h *harness) waitArmed(n int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.clock.BlockUntil(ctx, n); err != nil {
		h.t.Fatalf("waiting for %d armed timers (have %d): %v", n, h.clock.Waiters(), err)
	}
}

func (h *harness) expectCall(want string) {
	h.t.Helper()
	select {
	case got := <-h.client.calls:
		if got != want {
			h.t.Fatalf("client call = %s, want %s", got, want)
		}
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out waiting for %s call", want)
	}
}

func (h *harness) expectEvent(kind string) event {
	h.t.Helper()
	select {
	case ev := <-h.pres.events:
		if ev.kind != kind {
			h.t.Fatalf("presenter event = %+v, want %s", ev, kind)
		}
		return ev
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out waiting for %s event", kind)
	}
	return event{}
}

func (h *harness) expectRunResult() error {
	h.t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("Run did not return")
	}
	return nil
}

// poll advances one poll interval and waits for the round trip it triggers.
func (h *harness) poll(d time.Duration, call string) {
	h.t.Helper()
	h.waitArmed(1)
	h.clock.Advance(d)
	h.expectCall(call)
}

func TestNewValidatesConfig(t *testing.T) {
	c := newFakeClient()
	p := newRecorder()
	bad := []Config{
		{},
		{InactivityTimeout: time.Minute, WarningTime: time.Minute, PollInterval: time.Second},
		{InactivityTimeout: time.Minute, WarningTime: 10 * time.Second},
	}
	for _, cfg := range bad {
		if _, err := New(c, p, cfg); err == nil {
			t.Fatalf("New(%+v) accepted invalid config", cfg)
		}
	}
	if _, err := New(nil, p, DefaultConfig()); err == nil {
		t.Fatal("New accepted nil client")
	}
}

// No interaction for InactivityTimeout-WarningTime enters the warning with the
// full warning time left; a successful extension clears it.
func TestWarningThenExtend(t *testing.T) {
	h := start(t, Config{
		InactivityTimeout: 30 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      7 * time.Minute,
		CountdownInterval: time.Second,
	})

	for i := 0; i < 3; i++ {
		h.poll(7*time.Minute, "check")
	}
	if h.m.State() != Monitoring {
		t.Fatalf("state = %v before the warning boundary", h.m.State())
	}
	h.poll(7*time.Minute, "check")

	ev := h.expectEvent("warning")
	if ev.remaining != 2*time.Minute {
		t.Fatalf("warning countdown = %v, want 2m", ev.remaining)
	}
	if h.m.State() != Warning {
		t.Fatalf("state = %v, want warning", h.m.State())
	}
	h.waitArmed(2)

	h.m.Extend()
	h.expectCall("extend")
	h.expectEvent("hide")
	if h.m.State() != Monitoring {
		t.Fatalf("state = %v after extend, want monitoring", h.m.State())
	}
	if n := h.clock.Waiters(); n != 1 {
		t.Fatalf("%d timers armed after extend, want only the poll timer", n)
	}

	// A fresh cycle: the next warning is a full window away.
	for i := 0; i < 4; i++ {
		h.poll(7*time.Minute, "check")
	}
	h.expectEvent("warning")
}

// A server-side rejection during the countdown expires the monitor before the
// countdown reaches zero.
func TestServerInvalidPreemptsCountdown(t *testing.T) {
	reset := atomic.Int32{}
	reloaded := atomic.Int32{}
	h := start(t, Config{
		InactivityTimeout: 10 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      time.Minute,
		CountdownInterval: time.Second,
	}, WithResetHook(func() { reset.Add(1) }), WithReload(func() { reloaded.Add(1) }))

	for i := 0; i < 8; i++ {
		h.poll(time.Minute, "check")
	}
	h.expectEvent("warning")
	h.waitArmed(2)

	h.client.setCheckErr(errors.New("401"))
	h.clock.Advance(time.Minute)

	for {
		ev := <-h.pres.events
		if ev.kind == "expired" {
			break
		}
		if ev.kind != "countdown" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.remaining <= 0 {
			t.Fatalf("countdown reached %v before expiry", ev.remaining)
		}
	}
	if err := h.expectRunResult(); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if h.m.State() != Expired {
		t.Fatalf("state = %v", h.m.State())
	}
	if reset.Load() != 1 || reloaded.Load() != 1 {
		t.Fatalf("reset hooks = %d, reload = %d", reset.Load(), reloaded.Load())
	}
	if n := h.clock.Waiters(); n != 0 {
		t.Fatalf("%d timers still armed after expiry", n)
	}
}

func TestCountdownReachesZero(t *testing.T) {
	h := start(t, Config{
		InactivityTimeout: 10 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      10 * time.Minute,
		CountdownInterval: 30 * time.Second,
	})

	h.poll(8*time.Minute, "check")
	if ev := h.expectEvent("warning"); ev.remaining != 2*time.Minute {
		t.Fatalf("warning at %v", ev.remaining)
	}
	h.waitArmed(2)

	for _, want := range []time.Duration{90 * time.Second, time.Minute, 30 * time.Second} {
		h.clock.Advance(30 * time.Second)
		if ev := h.expectEvent("countdown"); ev.remaining != want {
			t.Fatalf("countdown = %v, want %v", ev.remaining, want)
		}
	}
	h.clock.Advance(30 * time.Second)
	h.expectEvent("expired")
	if err := h.expectRunResult(); err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestExtendFailureExpires(t *testing.T) {
	h := start(t, Config{
		InactivityTimeout: 10 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      10 * time.Minute,
	})
	h.poll(8*time.Minute, "check")
	h.expectEvent("warning")

	h.client.setExtendErr(errors.New("401"))
	h.m.Extend()
	h.expectCall("extend")
	h.expectEvent("expired")
	if err := h.expectRunResult(); err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestActivityDuringWarningExtends(t *testing.T) {
	h := start(t, Config{
		InactivityTimeout: 10 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      10 * time.Minute,
	})
	h.poll(8*time.Minute, "check")
	h.expectEvent("warning")

	h.m.RecordActivity(PointerMove)
	h.expectCall("extend")
	h.expectEvent("hide")
	if h.m.State() != Monitoring {
		t.Fatalf("state = %v", h.m.State())
	}
}

func TestActivityPostponesWarning(t *testing.T) {
	h := start(t, Config{
		InactivityTimeout: 10 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      time.Minute,
	})
	for i := 0; i < 5; i++ {
		h.poll(time.Minute, "check")
	}
	h.m.RecordActivity(KeyDown)
	// The first poll after activity carries it to the server.
	h.poll(time.Minute, "extend")
	for i := 0; i < 6; i++ {
		h.poll(time.Minute, "check")
	}
	if h.m.State() != Monitoring {
		t.Fatalf("state = %v at 12m with activity at 5m", h.m.State())
	}
	select {
	case ev := <-h.pres.events:
		t.Fatalf("unexpected presenter event %+v", ev)
	default:
	}
}

// expectEventAfterCountdown waits for kind, skipping countdown ticks.
func (h *harness) expectEventAfterCountdown(kind string) {
	h.t.Helper()
	for {
		select {
		case ev := <-h.pres.events:
			if ev.kind == kind {
				return
			}
			if ev.kind != "countdown" {
				h.t.Fatalf("presenter event = %+v, want %s", ev, kind)
			}
		case <-time.After(waitTimeout):
			h.t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func (h *harness) heldExtend() chan struct{} {
	h.t.Helper()
	select {
	case release := <-h.client.held:
		return release
	case <-time.After(waitTimeout):
		h.t.Fatal("extend call was not held")
	}
	return nil
}

// A keep-alive extension sent by the poll must not release the guard on a
// requested extension that is still in flight.
func TestRequestedExtendIsNotDuplicated(t *testing.T) {
	h := start(t, Config{
		InactivityTimeout: 10 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      time.Minute,
		CountdownInterval: 30 * time.Second,
	})
	for i := 0; i < 8; i++ {
		h.poll(time.Minute, "check")
	}
	h.expectEvent("warning")
	h.waitArmed(2)
	h.client.holdExtends()

	// Requested extension at 8m, held by the server.
	h.m.Extend()
	h.expectCall("extend")
	requested := h.heldExtend()
	defer close(requested)

	// Activity after it makes the 9m poll send its own keep-alive.
	h.clock.Advance(30 * time.Second)
	h.m.RecordActivity(KeyDown)
	h.clock.Advance(30 * time.Second)
	h.expectCall("extend")
	close(h.heldExtend())
	h.expectEventAfterCountdown("hide")

	// The requested extension is still outstanding; asking again is a no-op.
	h.m.Extend()
	h.m.EndNow()
	h.expectEvent("expired")
	if err := h.expectRunResult(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	h.expectCall("logout")
	select {
	case call := <-h.client.calls:
		t.Fatalf("unexpected %s call after the requested extension", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEndNow(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	h := start(t, DefaultConfig(), WithReload(func() { reloaded <- struct{}{} }))
	h.waitArmed(1)

	h.m.EndNow()
	h.expectEvent("expired")
	if err := h.expectRunResult(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	h.expectCall("logout")
	select {
	case <-reloaded:
	default:
		t.Fatal("reload hook not called")
	}
	if h.m.State() != Expired {
		t.Fatalf("state = %v", h.m.State())
	}
}

func TestCancelTearsDown(t *testing.T) {
	h := start(t, DefaultConfig())
	h.waitArmed(1)

	h.cancel()
	if err := h.expectRunResult(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if n := h.clock.Waiters(); n != 0 {
		t.Fatalf("%d timers armed after cancel", n)
	}
	select {
	case ev := <-h.pres.events:
		t.Fatalf("unexpected presenter event %+v", ev)
	default:
	}
	if err := h.m.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Monitoring: "monitoring", Warning: "warning", Expired: "expired", State(9): "unknown"} {
		if s.String() != want {
			t.Fatalf("%d.String() = %s", s, s.String())
		}
	}
}
