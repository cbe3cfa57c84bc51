// Package storetest holds the conformance suite every sessions.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/recordsportal/sessions"
)

// StoreFactory creates a fresh, empty Store for one subtest.
type StoreFactory func(t *testing.T) sessions.Store

// Run runs the complete Store test suite against the provided factory.
func Run(t *testing.T, factory StoreFactory) {
	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, factory) })
	t.Run("GetMissingIsNotFound", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("PutReplaces", func(t *testing.T) { testPutReplaces(t, factory) })
	t.Run("UpdateReplacesStored", func(t *testing.T) { testUpdateReplaces(t, factory) })
	t.Run("UpdateNeverRecreates", func(t *testing.T) { testUpdateNeverRecreates(t, factory) })
	t.Run("DeleteIsIdempotent", func(t *testing.T) { testDeleteIdempotent(t, factory) })
	t.Run("DeleteIsolatesTokens", func(t *testing.T) { testDeleteIsolates(t, factory) })
	t.Run("ScanVisitsEveryRecord", func(t *testing.T) { testScanVisitsAll(t, factory) })
	t.Run("ScanToleratesDeleteFromCallback", func(t *testing.T) { testScanDelete(t, factory) })
	t.Run("ScanStopsOnCallbackError", func(t *testing.T) { testScanError(t, factory) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, factory) })
}

// now is truncated to microseconds because not every backend keeps
// nanoseconds.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newSession(t *testing.T, principal string, at time.Time) sessions.Session {
	t.Helper()
	s, err := sessions.New(principal, at)
	if err != nil {
		t.Fatalf("sessions.New: %v", err)
	}
	return s
}

func put(t *testing.T, st sessions.Store, s sessions.Session) {
	t.Helper()
	if err := st.Put(context.Background(), s, s.LastActivityAt.Add(time.Hour)); err != nil {
		t.Fatalf("Put(%s): %v", sessions.Fingerprint(s.Token), err)
	}
}

func assertSame(t *testing.T, got *sessions.Session, want sessions.Session) {
	t.Helper()
	if got == nil {
		t.Fatal("got nil session")
	}
	if got.Token != want.Token || got.Principal != want.Principal {
		t.Fatalf("got %+v, want %+v", *got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if !got.LastActivityAt.Equal(want.LastActivityAt) {
		t.Fatalf("LastActivityAt = %v, want %v", got.LastActivityAt, want.LastActivityAt)
	}
}

func testPutThenGet(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	s := newSession(t, "portal", now())
	put(t, st, s)

	got, err := st.Get(ctx, s.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertSame(t, got, s)
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	st := factory(t)

	tok, err := sessions.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	_, err = st.Get(context.Background(), tok)
	if !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Get unknown token: got %v, want ErrNotFound", err)
	}
}

func testPutReplaces(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	s := newSession(t, "portal", now())
	put(t, st, s)

	s.LastActivityAt = s.LastActivityAt.Add(90 * time.Second)
	put(t, st, s)

	got, err := st.Get(ctx, s.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertSame(t, got, s)
}

func testUpdateReplaces(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	s := newSession(t, "portal", now())
	put(t, st, s)

	s.LastActivityAt = s.LastActivityAt.Add(2 * time.Minute)
	if err := st.Update(ctx, s, s.LastActivityAt.Add(time.Hour)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := st.Get(ctx, s.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertSame(t, got, s)
}

func testUpdateNeverRecreates(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	never := newSession(t, "portal", now())
	if err := st.Update(ctx, never, never.LastActivityAt.Add(time.Hour)); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Update of never-stored token: got %v, want ErrNotFound", err)
	}

	gone := newSession(t, "portal", now())
	put(t, st, gone)
	if err := st.Delete(ctx, gone.Token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	gone.LastActivityAt = gone.LastActivityAt.Add(time.Minute)
	if err := st.Update(ctx, gone, gone.LastActivityAt.Add(time.Hour)); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Update after Delete: got %v, want ErrNotFound", err)
	}

	for _, tok := range []string{never.Token, gone.Token} {
		if _, err := st.Get(ctx, tok); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("Update recreated %s: %v", sessions.Fingerprint(tok), err)
		}
	}
}

func testDeleteIdempotent(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	s := newSession(t, "portal", now())
	put(t, st, s)

	if err := st.Delete(ctx, s.Token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, s.Token); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := st.Get(ctx, s.Token); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}
}

func testDeleteIsolates(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	a := newSession(t, "portal", now())
	b := newSession(t, "portal", now())
	put(t, st, a)
	put(t, st, b)

	if err := st.Delete(ctx, a.Token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := st.Get(ctx, b.Token)
	if err != nil {
		t.Fatalf("Get survivor: %v", err)
	}
	assertSame(t, got, b)
}

func scanTokens(t *testing.T, st sessions.Store) map[string]sessions.Session {
	t.Helper()
	seen := make(map[string]sessions.Session)
	err := st.Scan(context.Background(), func(s sessions.Session) error {
		seen[s.Token] = s
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return seen
}

func testScanVisitsAll(t *testing.T, factory StoreFactory) {
	st := factory(t)

	want := make([]sessions.Session, 0, 5)
	for i := 0; i < 5; i++ {
		s := newSession(t, fmt.Sprintf("user-%d", i), now())
		put(t, st, s)
		want = append(want, s)
	}

	seen := scanTokens(t, st)
	for _, s := range want {
		got, ok := seen[s.Token]
		if !ok {
			t.Fatalf("scan missed %s", sessions.Fingerprint(s.Token))
		}
		assertSame(t, &got, s)
	}
}

func testScanDelete(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	mine := make(map[string]bool)
	for i := 0; i < 10; i++ {
		s := newSession(t, "portal", now())
		put(t, st, s)
		mine[s.Token] = true
	}

	err := st.Scan(ctx, func(s sessions.Session) error {
		if !mine[s.Token] {
			return nil
		}
		return st.Delete(ctx, s.Token)
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for tok := range mine {
		if _, err := st.Get(ctx, tok); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("record %s survived delete-in-scan: %v", sessions.Fingerprint(tok), err)
		}
	}
}

func testScanError(t *testing.T, factory StoreFactory) {
	st := factory(t)

	for i := 0; i < 3; i++ {
		put(t, st, newSession(t, "portal", now()))
	}

	stop := errors.New("stop")
	calls := 0
	err := st.Scan(context.Background(), func(sessions.Session) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Scan error = %v, want callback error", err)
	}
	if calls != 1 {
		t.Fatalf("callback ran %d times after returning an error", calls)
	}
}

func testConcurrentWriters(t *testing.T, factory StoreFactory) {
	st := factory(t)
	ctx := context.Background()

	const n = 16
	created := make([]sessions.Session, n)
	for i := range created {
		created[i] = newSession(t, "portal", now())
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i := range created {
		wg.Add(1)
		go func(s sessions.Session) {
			defer wg.Done()
			if err := st.Put(ctx, s, s.LastActivityAt.Add(time.Hour)); err != nil {
				errs <- err
				return
			}
			s.LastActivityAt = s.LastActivityAt.Add(time.Second)
			if err := st.Put(ctx, s, s.LastActivityAt.Add(time.Hour)); err != nil {
				errs <- err
			}
		}(created[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Put: %v", err)
	}

	for _, s := range created {
		got, err := st.Get(ctx, s.Token)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.LastActivityAt.Equal(s.LastActivityAt.Add(time.Second)) {
			t.Fatalf("last write lost: %v", got.LastActivityAt)
		}
	}
}
