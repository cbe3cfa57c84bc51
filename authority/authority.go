// Package authority is the server-side judge of session validity. It issues
// sessions for verified Basic credentials, checks and refreshes them on every
// request, ends them on logout, and evicts the ones that have lapsed.
//
// The Authority is safe for concurrent use. It holds no per-session state of
// its own; every decision is made against the sessions.Store.
package authority

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/recordsportal/auth"
	"github.com/ggoodman/recordsportal/clock"
	"github.com/ggoodman/recordsportal/internal/logctx"
	"github.com/ggoodman/recordsportal/sessions"
)

// DefaultSweepInterval is the minimum spacing between opportunistic sweeps.
const DefaultSweepInterval = time.Minute

// Option configures an Authority.
type Option func(*Authority)

// WithPolicy sets the validity policy. The default is sessions.DefaultPolicy.
func WithPolicy(p sessions.Policy) Option {
	return func(a *Authority) { a.policy = p }
}

// WithClock sets the time source. The default is the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *Authority) { a.clock = c }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) { a.log = l }
}

// WithSweepInterval sets how often MaybeSweep actually sweeps. Zero sweeps on
// every call.
func WithSweepInterval(d time.Duration) Option {
	return func(a *Authority) { a.sweepInterval = d }
}

// Authority implements session issuance and validation over a Store.
type Authority struct {
	store    sessions.Store
	verifier auth.Verifier
	policy   sessions.Policy
	clock    clock.Clock
	log      *slog.Logger

	sweepInterval time.Duration
	sweepMu       sync.Mutex
	lastSweep     atomic.Int64
}

// New builds an Authority. A nil verifier rejects every credential, which
// suits maintenance processes that only sweep.
func New(store sessions.Store, verifier auth.Verifier, opts ...Option) (*Authority, error) {
	if store == nil {
		return nil, errors.New("authority: store is required")
	}
	a := &Authority{
		store:         store,
		verifier:      verifier,
		policy:        sessions.DefaultPolicy(),
		clock:         clock.Real(),
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.policy.Validate(); err != nil {
		return nil, err
	}
	if a.sweepInterval < 0 {
		return nil, errors.New("authority: negative sweep interval")
	}
	if a.log == nil {
		a.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.log = slog.New(logctx.New(a.log.Handler()))
	return a, nil
}

// Policy returns the validity policy in force.
func (a *Authority) Policy() sessions.Policy {
	return a.policy
}

// Now returns the authority's current time.
func (a *Authority) Now() time.Time {
	return a.clock.Now()
}

// Authenticate verifies a Basic Authorization header and, on success, stores
// and returns a brand new session. Any failure is reported as
// auth.ErrUnauthorized; store failures are returned wrapped.
func (a *Authority) Authenticate(ctx context.Context, header string) (*sessions.Session, error) {
	user, pass, err := auth.ParseBasic(header)
	if err != nil {
		a.log.InfoContext(ctx, "auth.rejected", slog.String("reason", "malformed"))
		return nil, auth.ErrUnauthorized
	}
	if a.verifier == nil {
		a.log.InfoContext(ctx, "auth.rejected", slog.String("reason", "no_verifier"))
		return nil, auth.ErrUnauthorized
	}
	principal, err := a.verifier.Verify(ctx, user, pass)
	if err != nil {
		a.log.InfoContext(ctx, "auth.rejected", slog.String("reason", "credentials"))
		return nil, auth.ErrUnauthorized
	}

	s, err := sessions.New(principal, a.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, s, a.policy.ExpiresAt(s)); err != nil {
		return nil, fmt.Errorf("authority: store session: %w", err)
	}

	a.log.InfoContext(withSession(ctx, &s), "session.created")
	return &s, nil
}

// Validate checks token and, when it is still valid, records activity and
// returns the refreshed record. Unknown tokens yield sessions.ErrNotFound;
// lapsed ones are deleted and yield sessions.ErrExpired.
func (a *Authority) Validate(ctx context.Context, token string) (*sessions.Session, error) {
	s, err := a.load(ctx, token)
	if err != nil {
		return nil, err
	}
	s.Touch(a.clock.Now())
	// Update rather than Put: a Logout or sweep that deleted the record
	// since load must win.
	err = a.store.Update(ctx, *s, a.policy.ExpiresAt(*s))
	if errors.Is(err, sessions.ErrNotFound) {
		a.log.InfoContext(withSession(ctx, s), "session.touch.lost", slog.String("reason", "deleted"))
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authority: refresh session: %w", err)
	}
	return s, nil
}

// Extend is the explicit keep-alive. Its effect is identical to Validate.
func (a *Authority) Extend(ctx context.Context, token string) (*sessions.Session, error) {
	s, err := a.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	a.log.DebugContext(withSession(ctx, s), "session.extended")
	return s, nil
}

// Status performs the same checks as Validate, evicting a lapsed record, but
// does not count as activity.
func (a *Authority) Status(ctx context.Context, token string) (*sessions.Session, error) {
	return a.load(ctx, token)
}

// Logout removes the session. Unknown tokens are not an error.
func (a *Authority) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := a.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("authority: delete session: %w", err)
	}
	a.log.InfoContext(logctx.WithSessionData(ctx, &logctx.SessionData{TokenFingerprint: sessions.Fingerprint(token)}), "session.logout")
	return nil
}

// load fetches token and enforces the policy, deleting the record if it has
// lapsed.
func (a *Authority) load(ctx context.Context, token string) (*sessions.Session, error) {
	if token == "" {
		return nil, sessions.ErrNotFound
	}
	s, err := a.store.Get(ctx, token)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authority: load session: %w", err)
	}

	now := a.clock.Now()
	if reason := a.policy.ExpiryReason(*s, now); reason != sessions.ReasonNone {
		if err := a.store.Delete(ctx, token); err != nil {
			return nil, fmt.Errorf("authority: delete expired session: %w", err)
		}
		a.log.InfoContext(withSession(ctx, s), "session.expired", slog.String("reason", string(reason)))
		return nil, sessions.ErrExpired
	}
	return s, nil
}

// SweepExpired deletes every stored session that is no longer valid and
// returns how many it removed. Each candidate is re-read before deletion so a
// session refreshed mid-sweep survives.
func (a *Authority) SweepExpired(ctx context.Context) (int, error) {
	start := a.clock.Now()
	removed := 0
	err := a.store.Scan(ctx, func(s sessions.Session) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.policy.Valid(s, a.clock.Now()) {
			return nil
		}
		cur, err := a.store.Get(ctx, s.Token)
		if errors.Is(err, sessions.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if a.policy.Valid(*cur, a.clock.Now()) {
			return nil
		}
		if err := a.store.Delete(ctx, s.Token); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("authority: sweep: %w", err)
	}
	a.log.InfoContext(ctx, "session.sweep", slog.Int("removed", removed), slog.Duration("took", a.clock.Now().Sub(start)))
	return removed, nil
}

// MaybeSweep runs SweepExpired if the sweep interval has elapsed since the
// last one and no other sweep is in progress. It never blocks on a running
// sweep and never fails the caller; errors are logged.
func (a *Authority) MaybeSweep(ctx context.Context) {
	now := a.clock.Now()
	if a.sweepInterval > 0 {
		last := a.lastSweep.Load()
		if last != 0 && now.Sub(time.Unix(0, last)) < a.sweepInterval {
			return
		}
	}
	if !a.sweepMu.TryLock() {
		return
	}
	defer a.sweepMu.Unlock()
	a.lastSweep.Store(now.UnixNano())

	if _, err := a.SweepExpired(ctx); err != nil {
		a.log.WarnContext(ctx, "session.sweep.fail", slog.String("err", err.Error()))
	}
}

func withSession(ctx context.Context, s *sessions.Session) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		Principal:        s.Principal,
		TokenFingerprint: sessions.Fingerprint(s.Token),
	})
}
