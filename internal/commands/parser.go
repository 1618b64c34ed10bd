// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package commands implements the slash command system: parsing one input
// line, the fixed command table, and the handlers that drive the session,
// registry, and store.
package commands

import (
	"strings"
	"unicode"
)

// =============================================================================
// PARSE RESULT
// =============================================================================

// ParseResult is the outcome of parsing one input line.
type ParseResult struct {
	// IsCommand is true when the input starts with /.
	IsCommand bool

	// CommandName is the raw command token (e.g. "/help").
	CommandName string

	// Args are the tokenized arguments.
	Args []string

	// RawArgs is the untokenized argument text, trimmed.
	RawArgs string

	// RawInput is the trimmed original line.
	RawInput string
}

// Parse classifies one input line. Lines not starting with / are chat turns.
func Parse(input string) ParseResult {
	input = strings.TrimSpace(input)

	result := ParseResult{RawInput: input}
	if !strings.HasPrefix(input, "/") {
		return result
	}
	result.IsCommand = true

	parts := splitCommandLine(input)
	if len(parts) == 0 {
		return result
	}

	result.CommandName = parts[0]
	if len(parts) > 1 {
		result.Args = parts[1:]
		result.RawArgs = strings.TrimSpace(input[len(result.CommandName):])
	}
	return result
}

// IsCommand reports whether the input looks like a slash command.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// =============================================================================
// TOKENIZER
// =============================================================================

// splitCommandLine splits a line into tokens, honoring single and double
// quotes so saved-conversation names may contain spaces.
func splitCommandLine(input string) []string {
	var tokens []string
	var current strings.Builder
	var inSingleQuote, inDoubleQuote bool

	// Iterate runes, not bytes, so multi-byte UTF-8 in tokens survives.
	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		char := runes[i]

		switch {
		case char == '\'' && !inDoubleQuote:
			inSingleQuote = !inSingleQuote

		case char == '"' && !inSingleQuote:
			inDoubleQuote = !inDoubleQuote

		case char == '\\' && i+1 < len(runes) && (inDoubleQuote || inSingleQuote):
			next := runes[i+1]
			if next == '"' || next == '\'' || next == '\\' {
				current.WriteRune(next)
				i++
			} else {
				current.WriteRune(char)
			}

		case unicode.IsSpace(char) && !inSingleQuote && !inDoubleQuote:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}

		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
