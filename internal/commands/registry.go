// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/polychat-dev/polychat/internal/registry"
	"github.com/polychat-dev/polychat/internal/session"
	"github.com/polychat-dev/polychat/internal/storage"
	"github.com/polychat-dev/polychat/internal/telemetry"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnknownCommand indicates an unrecognized slash command. The input is
// never treated as a chat turn in that case.
var ErrUnknownCommand = errors.New("unknown command")

// UnknownCommandError carries the offending token and the recognized set.
type UnknownCommandError struct {
	Name  string
	Known []string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %s (available: %s)", e.Name, strings.Join(e.Known, ", "))
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Result is what a handler hands back to the REPL.
type Result struct {
	// Output is printed to the user. May be empty.
	Output string

	// Quit tells the loop to terminate after printing Output.
	Quit bool
}

// Context carries the application state handlers operate on. It is built
// once at startup and passed by reference; there is no package-global state.
type Context struct {
	Session *session.Session
	Models  *registry.Registry
	Store   *storage.Store
	Tracker *telemetry.Tracker // nil disables the /stats lifetime footer
	Log     *logrus.Logger
}

// Command is one entry of the fixed dispatch table.
type Command struct {
	// Name is the primary command token (e.g. "/help").
	Name string

	// Aliases are alternative tokens (e.g. "/exit" for "/quit").
	Aliases []string

	// Usage shows the argument syntax.
	Usage string

	// Description is shown by /help.
	Description string

	// Category groups commands in the help listing.
	Category string

	// Handler executes the command.
	Handler func(ctx *Context, args []string, rawArgs string) (*Result, error)
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry is the fixed command table. Commands register once at
// construction; dispatch is a map lookup, not a conditional chain.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command

	// order preserves registration order for /help.
	order []*Command
}

// NewRegistry builds the table with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the table.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	r.order = append(r.order, cmd)
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns the commands in registration order.
func (r *Registry) All() []*Command {
	return r.order
}

// Names returns the primary command tokens in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, cmd := range r.order {
		names[i] = cmd.Name
	}
	return names
}

// Execute parses and runs one command line. The caller has already checked
// IsCommand; chat turns never reach here. Commands themselves are
// synchronous and quick; only chat turns are cancellable.
func (r *Registry) Execute(cctx *Context, input string) (*Result, error) {
	parsed := Parse(input)
	if !parsed.IsCommand {
		return nil, fmt.Errorf("not a command: %q", input)
	}

	cmd := r.Get(parsed.CommandName)
	if cmd == nil {
		return nil, &UnknownCommandError{Name: parsed.CommandName, Known: r.Names()}
	}

	cctx.Log.WithField("command", cmd.Name).Debug("dispatching command")
	return cmd.Handler(cctx, parsed.Args, parsed.RawArgs)
}
