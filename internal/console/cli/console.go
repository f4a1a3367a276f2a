// Package cli is the interactive front end of the console: a line-oriented
// REPL over the application's stores, matrix and session.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/rbacadmin/internal/console/app"
	"github.com/aussiebroadwan/rbacadmin/internal/console/session"
	"github.com/peterh/liner"
	"golang.org/x/term"
)

// LineReader reads one line of input per prompt. *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	PasswordPrompt(prompt string) (string, error)
}

// Console runs commands against an Application.
type Console struct {
	app *app.Application
	in  LineReader

	mu  sync.Mutex // guards out; session events print from timer goroutines
	out io.Writer

	now func() time.Time
}

// New creates a console reading from in and writing to out.
func New(a *app.Application, in LineReader, out io.Writer) *Console {
	return &Console{app: a, in: in, out: out, now: time.Now}
}

// Terminal is a line editor on the process's terminal, or a plain line
// reader when stdin is not a TTY.
type Terminal struct {
	LineReader
	close func()
}

// Close restores the terminal mode.
func (t *Terminal) Close() {
	if t.close != nil {
		t.close()
	}
}

// OpenTerminal picks a reader for stdin.
func OpenTerminal() *Terminal {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &Terminal{LineReader: NewPlainReader(os.Stdin, os.Stdout)}
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &Terminal{LineReader: &history{State: line}, close: func() { _ = line.Close() }}
}

// history records every non-empty command line.
type history struct {
	*liner.State
}

func (h *history) Prompt(prompt string) (string, error) {
	input, err := h.State.Prompt(prompt)
	if err == nil && strings.TrimSpace(input) != "" {
		h.AppendHistory(input)
	}
	return input, err
}

// PlainReader reads lines from a non-interactive input such as a pipe.
// Passwords are read the same way, without echo suppression.
type PlainReader struct {
	scanner *bufio.Scanner
	echo    io.Writer
}

// NewPlainReader writes prompts to echo, which may be nil.
func NewPlainReader(r io.Reader, echo io.Writer) *PlainReader {
	return &PlainReader{scanner: bufio.NewScanner(r), echo: echo}
}

func (p *PlainReader) Prompt(prompt string) (string, error) {
	if p.echo != nil {
		fmt.Fprint(p.echo, prompt)
	}
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *PlainReader) PasswordPrompt(prompt string) (string, error) {
	return p.Prompt(prompt)
}

// Run reads and executes commands until quit, end of input or ctx is done.
// Every line read counts as session activity.
func (c *Console) Run(ctx context.Context) error {
	cancel := c.app.Session().Subscribe(c.sessionEvent)
	defer cancel()

	c.printf("rbacadmin %s, type help for commands\n", app.BuildVersion)
	if s := c.app.Session().State(); s.Authenticated {
		c.printf("resumed session for %s\n", s.Username)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		input, err := c.in.Prompt(c.prompt())
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			c.printf("\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		c.app.Session().RecordActivity(session.ActivityCommand)

		quit, err := c.Exec(ctx, input)
		if err != nil {
			c.printf("error: %s\n", describe(err))
		}
		if quit {
			return nil
		}
	}
}

func (c *Console) prompt() string {
	if s := c.app.Session().State(); s.Authenticated {
		return s.Username + "> "
	}
	return "rbacadmin> "
}

func (c *Console) sessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventWarning:
		c.printf("\nsession expires in %s, run any command to stay logged in\n", ev.Deadline.Sub(c.now()).Round(time.Second))
	case session.EventLoggedOut:
		switch ev.Reason {
		case session.ReasonExpired:
			c.printf("\nsession expired after inactivity, log in again\n")
		case session.ReasonRevoked:
			c.printf("\nsession was revoked by the identity provider, log in again\n")
		}
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
