// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package cli implements the interactive chat loop: line editing with
// persistent history, slash command dispatch, chat turns with
// cancellation, and markdown rendering of replies on TTYs.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/polychat-dev/polychat/internal/commands"
	"github.com/polychat-dev/polychat/internal/session"
)

// =============================================================================
// REPL
// =============================================================================

// REPL drives the interactive session. Anything starting with "/" goes
// through the command table; everything else is sent to the active model
// as a chat turn.
type REPL struct {
	cmds     *commands.Registry
	cctx     *commands.Context
	input    *Input
	markdown bool

	// cancel aborts the in-flight generation. Guarded by mu because the
	// signal goroutine races with the turn lifecycle.
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Options configures the REPL.
type Options struct {
	// HistoryFile persists input history across sessions. Empty disables.
	HistoryFile string

	// Markdown renders assistant replies with glamour on TTYs.
	Markdown bool
}

// New builds a REPL around an already-constructed command table and
// application context.
func New(cmds *commands.Registry, cctx *commands.Context, opts Options) *REPL {
	return &REPL{
		cmds:     cmds,
		cctx:     cctx,
		input:    NewInput(opts.HistoryFile),
		markdown: opts.Markdown,
	}
}

// Run executes the read-eval-print loop until the user quits. Ctrl+C
// cancels the in-flight generation; Ctrl+D exits through the same
// auto-save path as /quit. Returns nil on a normal exit.
func (r *REPL) Run() error {
	defer r.input.Close()

	r.printWelcome()

	// Liner owns the terminal while the prompt is active, so SIGINT only
	// arrives here during generation. First Ctrl+C cancels the turn.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		for range sigChan {
			r.cancelTurn()
		}
	}()

	for {
		input, err := r.input.ReadLine(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				// Ctrl+C at the prompt clears the line.
				fmt.Println(infoStyle.Render("(use /quit or Ctrl+D to exit)"))
				continue
			}
			// Ctrl+D or a read error: exit the way /quit does, so a
			// dirty conversation still gets auto-saved.
			fmt.Println()
			return r.quit()
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if commands.IsCommand(input) {
			res, err := r.cmds.Execute(r.cctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
				continue
			}
			if res.Quit {
				r.printExitSummary()
			}
			if res.Output != "" {
				fmt.Println(res.Output)
			}
			if res.Quit {
				return nil
			}
			continue
		}

		r.sendTurn(input)
	}
}

// quit runs the /quit handler directly so Ctrl+D and /quit share one
// exit path.
func (r *REPL) quit() error {
	res, err := r.cmds.Execute(r.cctx, "/quit")
	if err != nil {
		return err
	}
	r.printExitSummary()
	if res.Output != "" {
		fmt.Println(res.Output)
	}
	return nil
}

// =============================================================================
// CHAT TURNS
// =============================================================================

// sendTurn sends one user message to the active model and prints the
// reply. Errors are printed, never fatal; the user turn stays in history
// so the user can retry with a different model.
func (r *REPL) sendTurn(input string) {
	ctx, cancel := context.WithCancel(context.Background())
	r.setCancel(cancel)
	defer func() {
		r.setCancel(nil)
		cancel()
	}()

	start := time.Now()
	reply, err := r.cctx.Session.Send(ctx, input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, warningStyle.Render("[Cancelled]"))
			return
		}
		if errors.Is(err, session.ErrNoModel) {
			fmt.Fprintf(os.Stderr, "%s no model selected; pick one with /switch\n",
				errorStyle.Render("[Error]"))
			return
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		return
	}

	fmt.Println()
	displayReply(reply.Content, r.markdown)
	fmt.Println()

	r.printTurnStats(reply.TokenCount, time.Since(start))
}

// cancelTurn aborts the in-flight generation, if any.
func (r *REPL) cancelTurn() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *REPL) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *REPL) printWelcome() {
	st := r.cctx.Session.Stats()

	fmt.Println()
	fmt.Println(welcomeStyle.Render("polychat"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	if st.ModelName != "" {
		fmt.Printf("%s %s\n",
			infoStyle.Render("Model:"),
			commandStyle.Render(st.ModelName))
	} else {
		fmt.Printf("%s %s\n",
			infoStyle.Render("Model:"),
			warningStyle.Render("none (pick one with /switch)"))
	}
	fmt.Println()
	fmt.Println(infoStyle.Render("Type a message and press Enter. Commands: /help, /quit"))
	fmt.Println(infoStyle.Render("Ctrl+C cancels the current reply, Ctrl+D exits"))
	fmt.Println()
}

// printTurnStats shows a one-line footer after each reply on stderr so
// piped stdout stays clean.
func (r *REPL) printTurnStats(completionTokens int, duration time.Duration) {
	st := r.cctx.Session.Stats()

	line := fmt.Sprintf("%s %s | %s tokens | %s",
		infoStyle.Render("[Turn]"),
		commandStyle.Render(st.ModelName),
		formatNumber(completionTokens),
		duration.Round(time.Millisecond))
	if st.CostUSD > 0 {
		line += fmt.Sprintf(" | $%.4f total", st.CostUSD)
	}
	fmt.Fprintln(os.Stderr, line)
}

// printExitSummary prints the session summary on exit. Skipped for
// sessions with no completed turns.
func (r *REPL) printExitSummary() {
	st := r.cctx.Session.Stats()
	if st.Turns == 0 {
		return
	}

	fmt.Println()
	fmt.Println(summaryHeaderStyle.Render("Session Summary"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 15)))
	fmt.Printf("  %s %d\n", infoStyle.Render("Turns:"), st.Turns)
	fmt.Printf("  %s %s\n", infoStyle.Render("Tokens:"), formatNumber(st.TotalTokens))
	if st.CostUSD > 0 {
		fmt.Printf("  %s $%.4f\n", infoStyle.Render("Cost:"), st.CostUSD)
	}
	fmt.Printf("  %s %s\n", infoStyle.Render("Duration:"), st.Elapsed.Round(time.Second))
	fmt.Println()
}

// formatNumber formats an integer with commas for thousands.
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	s := fmt.Sprintf("%d", n)
	result := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
