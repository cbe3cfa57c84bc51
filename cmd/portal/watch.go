package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ggoodman/recordsportal/auth"
	"github.com/ggoodman/recordsportal/monitor"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newWatchCmd() *cobra.Command {
	var (
		baseURL string
		user    string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Log in and watch the session from the terminal",
		Long: "watch authenticates against a running portal and keeps the session under\n" +
			"observation. Type e and Enter to extend the session, q to end it now; any\n" +
			"other line counts as activity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				user = os.Getenv("PORTAL_USERNAME")
			}
			if user == "" {
				return errors.New("--user or PORTAL_USERNAME is required")
			}
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			pass, err := readPassword(in, out)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, baseURL, user, pass, in, out)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "portal base URL")
	cmd.Flags().StringVar(&user, "user", "", "username (default $PORTAL_USERNAME)")
	return cmd
}

func readPassword(in *bufio.Reader, out io.Writer) (string, error) {
	if p := os.Getenv("PORTAL_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(out, "Password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func watch(ctx context.Context, baseURL, user, pass string, in *bufio.Reader, out io.Writer) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	hc := &http.Client{Jar: jar, Timeout: 30 * time.Second}
	client, err := monitor.NewHTTPClient(baseURL, hc)
	if err != nil {
		return err
	}
	if err := login(ctx, hc, strings.TrimSuffix(baseURL, "/"), user, pass); err != nil {
		return err
	}
	cfg, err := client.FetchConfig(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s; session idles out after %s\n", user, cfg.InactivityTimeout)

	m, err := monitor.New(client, &terminalPresenter{out: out}, cfg,
		monitor.WithResetHook(func() { clearScreen(out) }),
		monitor.WithReload(func() { fmt.Fprintln(out, "run portal watch again to sign in") }),
	)
	if err != nil {
		return err
	}

	go func() {
		for {
			line, err := in.ReadString('\n')
			switch strings.TrimSpace(line) {
			case "":
			case "e":
				m.Extend()
			case "q":
				m.EndNow()
			default:
				m.RecordActivity(monitor.KeyDown)
			}
			if err != nil {
				return
			}
		}
	}()

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func login(ctx context.Context, hc *http.Client, baseURL, user, pass string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth.EncodeBasic(user, pass))
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: server answered %s", resp.Status)
	}
	return nil
}

// clearScreen wipes whatever the session rendered when out is a terminal.
func clearScreen(out io.Writer) {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "\033[H\033[2J")
	}
}

type terminalPresenter struct {
	out io.Writer
}

func (p *terminalPresenter) ShowWarning(remaining time.Duration) {
	fmt.Fprintf(p.out, "\nsession expires in %s: [e] extend, [q] end now\n", remaining.Round(time.Second))
}

func (p *terminalPresenter) UpdateCountdown(remaining time.Duration) {
	fmt.Fprintf(p.out, "\r%s remaining ", remaining.Round(time.Second))
}

func (p *terminalPresenter) HideWarning() {
	fmt.Fprintln(p.out, "\nsession extended")
}

func (p *terminalPresenter) ShowExpired() {
	fmt.Fprintln(p.out, "\nsession expired")
}
