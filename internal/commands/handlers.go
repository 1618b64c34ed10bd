// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/storage"
	"github.com/polychat-dev/polychat/internal/util"
)

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Usage:       "/help",
		Description: "Show available commands",
		Category:    "General",
		Handler:     r.handleHelp,
	})
	r.Register(&Command{
		Name:        "/models",
		Usage:       "/models",
		Description: "List available models grouped by provider",
		Category:    "Models",
		Handler:     handleModels,
	})
	r.Register(&Command{
		Name:        "/switch",
		Usage:       "/switch <name-or-index>",
		Description: "Switch the active model (exact name, list index, or fuzzy match)",
		Category:    "Models",
		Handler:     handleSwitch,
	})
	r.Register(&Command{
		Name:        "/system",
		Usage:       "/system [text]",
		Description: "Set the system prompt; no text clears it",
		Category:    "Conversation",
		Handler:     handleSystem,
	})
	r.Register(&Command{
		Name:        "/new",
		Usage:       "/new",
		Description: "Start a fresh conversation, keeping model and system prompt",
		Category:    "Conversation",
		Handler:     handleNew,
	})
	r.Register(&Command{
		Name:        "/history",
		Usage:       "/history",
		Description: "Show the conversation so far",
		Category:    "Conversation",
		Handler:     handleHistory,
	})
	r.Register(&Command{
		Name:        "/save",
		Usage:       "/save [name]",
		Description: "Save the conversation (default name is timestamp-derived)",
		Category:    "Persistence",
		Handler:     handleSave,
	})
	r.Register(&Command{
		Name:        "/load",
		Usage:       "/load <name>",
		Description: "Load a saved conversation, replacing the current history",
		Category:    "Persistence",
		Handler:     handleLoad,
	})
	r.Register(&Command{
		Name:        "/list",
		Usage:       "/list",
		Description: "List saved conversations, most recent first",
		Category:    "Persistence",
		Handler:     handleList,
	})
	r.Register(&Command{
		Name:        "/stats",
		Usage:       "/stats",
		Description: "Show session counters and usage",
		Category:    "General",
		Handler:     handleStats,
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/exit"},
		Usage:       "/quit",
		Description: "Auto-save and exit",
		Category:    "General",
		Handler:     handleQuit,
	})
}

// =============================================================================
// HANDLERS
// =============================================================================

func (r *Registry) handleHelp(ctx *Context, args []string, rawArgs string) (*Result, error) {
	var sb strings.Builder
	sb.WriteString("Commands:\n")

	category := ""
	for _, cmd := range r.All() {
		if cmd.Category != category {
			category = cmd.Category
			fmt.Fprintf(&sb, "\n%s\n", category)
		}
		usage := cmd.Usage
		if len(cmd.Aliases) > 0 {
			usage += " (" + strings.Join(cmd.Aliases, ", ") + ")"
		}
		fmt.Fprintf(&sb, "  %s %s\n", util.PadRight(usage, 28), cmd.Description)
	}
	sb.WriteString("\nAnything else is sent to the model as a chat message.")

	return &Result{Output: sb.String()}, nil
}

func handleModels(ctx *Context, args []string, rawArgs string) (*Result, error) {
	groups := ctx.Models.List()

	active := ""
	if m := ctx.Session.ActiveModel(); m != nil {
		active = m.Name
	}

	var sb strings.Builder
	sb.WriteString("Available models:\n")

	index := 0
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n%s\n", g.Provider)
		for _, e := range g.Entries {
			index++
			marker := " "
			if e.Name == active {
				marker = "*"
			}
			line := fmt.Sprintf("%s %2d. %s", marker, index, util.PadRight(e.Name, 20))
			if e.Description != "" {
				line += "  " + util.TruncateWidth(e.Description, 48)
			}
			if e.Retired {
				line += "  (retired)"
			}
			sb.WriteString(line + "\n")
		}
	}
	sb.WriteString("\nSwitch with /switch <name-or-index>.")

	return &Result{Output: sb.String()}, nil
}

func handleSwitch(ctx *Context, args []string, rawArgs string) (*Result, error) {
	if rawArgs == "" {
		return nil, fmt.Errorf("usage: /switch <name-or-index>")
	}

	entry, err := ctx.Models.Resolve(rawArgs)
	if err != nil {
		return nil, err
	}
	if entry.Retired {
		return nil, fmt.Errorf("model %q is retired and can no longer be used", entry.Name)
	}

	ctx.Session.SwitchModel(entry)
	ctx.Log.WithField("model", entry.Name).Info("switched model")

	return &Result{Output: fmt.Sprintf("Switched to %s (%s).", entry.Name, entry.Connection)}, nil
}

func handleSystem(ctx *Context, args []string, rawArgs string) (*Result, error) {
	ctx.Session.SetSystemPrompt(rawArgs)
	if rawArgs == "" {
		return &Result{Output: "System prompt cleared."}, nil
	}
	return &Result{Output: fmt.Sprintf("System prompt set (%d chars). History unchanged.", len(rawArgs))}, nil
}

func handleNew(ctx *Context, args []string, rawArgs string) (*Result, error) {
	ctx.Session.Reset()
	return &Result{Output: "Started a new conversation. Model and system prompt kept."}, nil
}

func handleHistory(ctx *Context, args []string, rawArgs string) (*Result, error) {
	msgs := ctx.Session.Conversation().History()
	if len(msgs) == 0 {
		return &Result{Output: "No messages yet."}, nil
	}

	var sb strings.Builder
	for i, msg := range msgs {
		fmt.Fprintf(&sb, "%2d. [%s] %s\n", i+1, msg.Role.DisplayName(), msg.Preview(70))
	}
	return &Result{Output: strings.TrimRight(sb.String(), "\n")}, nil
}

func handleSave(ctx *Context, args []string, rawArgs string) (*Result, error) {
	name := nameArg(args, rawArgs)
	if name == "" {
		name = storage.DefaultName(time.Now())
	}

	saved, err := saveSession(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Result{Output: fmt.Sprintf("Saved conversation as %q.", saved)}, nil
}

// nameArg picks the conversation name from one input line. A single
// quoted token names it without the quotes; anything else keeps the raw
// text so unquoted names may still contain spaces.
func nameArg(args []string, rawArgs string) string {
	if len(args) == 1 {
		return args[0]
	}
	return rawArgs
}

// saveSession snapshots the session and writes it under name.
func saveSession(ctx *Context, name string) (string, error) {
	conv := ctx.Session.Conversation()
	snap := &storage.Snapshot{
		Model:    conv.Model,
		SavedAt:  time.Now(),
		Messages: conv.History(),
		Turns:    conv.Turns,
		Usage:    conv.Usage,
	}

	saved, err := ctx.Store.Save(name, snap)
	if err != nil {
		return "", err
	}
	ctx.Session.MarkSaved()
	ctx.Log.WithField("name", saved).Info("conversation saved")
	return saved, nil
}

func handleLoad(ctx *Context, args []string, rawArgs string) (*Result, error) {
	if rawArgs == "" {
		return nil, fmt.Errorf("usage: /load <name>")
	}

	snap, err := ctx.Store.Load(nameArg(args, rawArgs))
	if err != nil {
		return nil, err
	}

	ctx.Session.ReplaceHistory(snap.Messages, snap.Turns, snap.Usage)

	out := fmt.Sprintf("Loaded %q: %d messages.", snap.Name, len(snap.Messages))

	// Reassociate the saved model when it is still in the registry.
	if snap.Model != "" {
		if entry, ok := ctx.Models.Get(snap.Model); ok && !entry.Retired {
			ctx.Session.SwitchModel(entry)
		} else {
			out += fmt.Sprintf(" Saved model %q is unavailable; keeping the current model.", snap.Model)
		}
	}

	ctx.Log.WithField("name", snap.Name).Info("conversation loaded")
	return &Result{Output: out}, nil
}

func handleList(ctx *Context, args []string, rawArgs string) (*Result, error) {
	metas, err := ctx.Store.List()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return &Result{Output: "No saved conversations."}, nil
	}

	var sb strings.Builder
	sb.WriteString("Saved conversations:\n")
	for _, m := range metas {
		fmt.Fprintf(&sb, "  %s  %s  %d messages  (%s)\n",
			util.PadRight(m.Name, 24),
			m.SavedAt.Format("2006-01-02 15:04"),
			m.MessageCount,
			m.Model)
	}
	return &Result{Output: strings.TrimRight(sb.String(), "\n")}, nil
}

func handleStats(ctx *Context, args []string, rawArgs string) (*Result, error) {
	st := ctx.Session.Stats()

	var sb strings.Builder
	sb.WriteString("Session:\n")
	modelName := st.ModelName
	if modelName == "" {
		modelName = "(none)"
	}
	fmt.Fprintf(&sb, "  Model:      %s\n", modelName)
	fmt.Fprintf(&sb, "  Turns:      %d\n", st.Turns)
	fmt.Fprintf(&sb, "  Messages:   %d\n", st.MessageCount)
	fmt.Fprintf(&sb, "  Tokens:     %d prompt + %d completion = %d\n",
		st.PromptTokens, st.CompletionTokens, st.TotalTokens)
	fmt.Fprintf(&sb, "  Cost:       $%.4f\n", st.CostUSD)
	fmt.Fprintf(&sb, "  System:     %v\n", st.SystemPromptSet)
	fmt.Fprintf(&sb, "  Elapsed:    %s", st.Elapsed.Round(time.Second))

	if ctx.Tracker != nil {
		if totals, err := ctx.Tracker.LifetimeTotals(); err == nil {
			fmt.Fprintf(&sb, "\nAll time:\n  %d turns, %d tokens, $%.4f",
				totals.Turns, totals.PromptTokens+totals.CompletionTokens, totals.CostUSD)
		}
		if byModel, err := ctx.Tracker.ModelTotals(); err == nil && len(byModel) > 0 {
			names := make([]string, 0, len(byModel))
			for name := range byModel {
				names = append(names, name)
			}
			sort.Strings(names)

			sb.WriteString("\nBy model:")
			for _, name := range names {
				mt := byModel[name]
				fmt.Fprintf(&sb, "\n  %s %d turns, %d tokens, $%.4f",
					util.PadRight(name, 20), mt.Turns,
					mt.PromptTokens+mt.CompletionTokens, mt.CostUSD)
			}
		}
	}
	return &Result{Output: sb.String()}, nil
}

func handleQuit(ctx *Context, args []string, rawArgs string) (*Result, error) {
	output := "Goodbye."

	// Best effort auto-save: a failure is reported but never blocks exit.
	if ctx.Session.Dirty() {
		name := storage.DefaultName(time.Now())
		saved, err := saveSession(ctx, name)
		if err != nil {
			ctx.Log.WithError(err).Warn("auto-save failed")
			output = fmt.Sprintf("Auto-save failed: %v\nGoodbye.", err)
		} else {
			output = fmt.Sprintf("Auto-saved conversation as %q.\nGoodbye.", saved)
		}
	}

	return &Result{Output: output, Quit: true}, nil
}
