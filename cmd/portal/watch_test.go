package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/recordsportal/auth"
)

func TestTerminalPresenter(t *testing.T) {
	var buf bytes.Buffer
	p := &terminalPresenter{out: &buf}

	p.ShowWarning(119*time.Second + 400*time.Millisecond)
	p.UpdateCountdown(61 * time.Second)
	p.HideWarning()
	p.ShowExpired()

	out := buf.String()
	for _, want := range []string{"session expires in 1m59s", "1m1s remaining", "session extended", "session expired"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestLoginSendsBasicCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, err := auth.ParseBasic(r.Header.Get("Authorization"))
		if err != nil || user != "portal" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := login(context.Background(), srv.Client(), srv.URL, "portal", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := login(context.Background(), srv.Client(), srv.URL, "portal", "wrong"); err == nil {
		t.Fatal("expected login with bad password to fail")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd("1.2.3", "abc1234")
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := buf.String(); got != "portal 1.2.3 (abc1234)\n" {
		t.Fatalf("version output = %q", got)
	}
}
