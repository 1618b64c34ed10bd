// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package cli

import (
	"os"
	"strings"

	"github.com/peterh/liner"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// Input wraps liner with persistent history. Arrow keys navigate previous
// inputs across sessions; history lives in a single file under the state
// directory.
type Input struct {
	line        *liner.State
	historyFile string
}

// NewInput creates a line editor and loads history from historyFile.
// An empty historyFile disables persistence.
func NewInput(historyFile string) *Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &Input{
		line:        line,
		historyFile: historyFile,
	}
	in.loadHistory()
	return in
}

func (in *Input) loadHistory() {
	if in.historyFile == "" {
		return
	}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
}

// ReadLine reads one line with the given prompt. Non-blank input is
// appended to history. Returns liner.ErrPromptAborted on Ctrl+C and
// io.EOF on Ctrl+D.
func (in *Input) ReadLine(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists history with owner-only permissions. Best effort.
func (in *Input) saveHistory() {
	if in.historyFile == "" {
		return
	}
	f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	in.line.WriteHistory(f)
}

// Close saves history and restores the terminal. Must run before exit or
// the terminal is left in raw mode.
func (in *Input) Close() {
	in.saveHistory()
	in.line.Close()
}
