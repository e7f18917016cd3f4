package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/aadithya-v/docgate"
	"github.com/aadithya-v/docgate/gate"
)

const tabHelp = `commands:
  status    show the session
  extend    extend the session
  dismiss   hide the renewal warning
  logout    log out of every tab
  quit      close this tab and keep the session
`

func runTab(args []string) error {
	flags := flag.NewFlagSet("tab", flag.ExitOnError)
	configPath := flags.String("config", "", "path to a TOML config file")
	flags.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	out := os.Stdout
	g := gate.New(mgr,
		gate.WithCredentials(gate.Credentials{Principal: cfg.Auth.Username, Secret: cfg.Auth.Password}),
		gate.WithLogger(logger),
		gate.WithEventHook(func(ev docgate.Event) { announce(out, ev) }),
	)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	ctx := context.Background()
	t := &tab{gate: g, line: line, out: out}
	return t.run(ctx)
}

type tab struct {
	gate *gate.Gate
	line *liner.State
	out  io.Writer
}

func (t *tab) run(ctx context.Context) error {
	for {
		if !t.gate.Load(ctx) {
			ok, err := t.login(ctx)
			if err != nil || !ok {
				return err
			}
			continue
		}

		input, err := t.line.Prompt("docgate> ")
		if err != nil {
			return endOfInput(err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		t.line.AppendHistory(input)
		t.gate.Touch()

		if quit := t.command(ctx, input); quit {
			return nil
		}
	}
}

// login prompts until a session is established. It reports false when the
// user closes the input.
func (t *tab) login(ctx context.Context) (bool, error) {
	for {
		if p := t.gate.Prompt(); p != nil && p.Kind == gate.PromptExpired {
			fmt.Fprintln(t.out, p.Message)
		}

		principal, err := t.line.Prompt("Username: ")
		if err != nil {
			return false, endOfInput(err)
		}
		secret, err := t.readSecret("Password: ")
		if err != nil {
			return false, endOfInput(err)
		}
		answer, err := t.line.Prompt("Remember me? [y/N] ")
		if err != nil {
			return false, endOfInput(err)
		}
		remember := strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")

		_, err = t.gate.Submit(ctx, principal, secret, remember)
		switch {
		case errors.Is(err, gate.ErrMissingCredentials), errors.Is(err, gate.ErrInvalidCredentials):
			fmt.Fprintf(t.out, "%s.\n", capitalize(err.Error()))
			continue
		case err != nil:
			return false, err
		}

		fmt.Fprintf(t.out, "%s.\n", t.gate.TakeNotice())
		return true, nil
	}
}

// readSecret reads without echo when the terminal allows it.
func (t *tab) readSecret(prompt string) (string, error) {
	secret, err := t.line.PasswordPrompt(prompt)
	if errors.Is(err, liner.ErrNotTerminalOutput) {
		return t.line.Prompt(prompt)
	}
	return secret, err
}

func (t *tab) command(ctx context.Context, input string) bool {
	switch input {
	case "status":
		t.printStatus()
	case "extend":
		rec, err := t.gate.Extend(ctx)
		if err != nil {
			fmt.Fprintf(t.out, "Could not extend: %v\n", err)
			break
		}
		fmt.Fprintf(t.out, "Session extended until %s.\n", rec.ExpiresAt.Format(time.Kitchen))
	case "dismiss":
		t.gate.DismissWarning()
	case "logout":
		if err := t.gate.Logout(ctx); err != nil {
			fmt.Fprintf(t.out, "Logged out, but the stored session could not be cleared: %v\n", err)
		} else {
			fmt.Fprintln(t.out, "Logged out.")
		}
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprint(t.out, tabHelp)
	default:
		fmt.Fprintf(t.out, "Unknown command %q.\n%s", input, tabHelp)
	}
	return false
}

func (t *tab) printStatus() {
	st := t.gate.Manager().Status()

	fmt.Fprintf(t.out, "State:      %s\n", st.State)
	if st.Principal != "" {
		fmt.Fprintf(t.out, "Principal:  %s\n", st.Principal)
		fmt.Fprintf(t.out, "Expires:    %s (in %s)\n", st.ExpiresAt.Format(time.RFC1123), time.Until(st.ExpiresAt).Round(time.Second))
		fmt.Fprintf(t.out, "Active:     %s ago\n", time.Since(st.LastActivityAt).Round(time.Second))
	}
	if st.SingleTab {
		fmt.Fprintln(t.out, "Other tabs: not connected")
	}
	if p := t.gate.Prompt(); p != nil {
		fmt.Fprintf(t.out, "Notice:     %s\n", p.Message)
	}
}

// announce prints events that arrive while the user is at the prompt.
func announce(w io.Writer, ev docgate.Event) {
	switch ev.Type {
	case docgate.EventWarning:
		fmt.Fprintf(w, "\nYour session expires in %s. Type \"extend\" to stay logged in.\n", ev.Remaining.Round(time.Second))
	case docgate.EventExpired:
		fmt.Fprintf(w, "\nSession expired (%s). Press enter to log in again.\n", ev.Reason)
	case docgate.EventReload:
		fmt.Fprintf(w, "\nSession ended in another tab (%s). Press enter to continue.\n", ev.Reason)
	case docgate.EventRemoteLogin:
		fmt.Fprintln(w, "\nLogged in from another tab.")
	case docgate.EventResynced:
		if ev.Record != nil {
			fmt.Fprintf(w, "\nSession updated in another tab. It now expires at %s.\n", ev.Record.ExpiresAt.Format(time.Kitchen))
		}
	}
}

func endOfInput(err error) error {
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
