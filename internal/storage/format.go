// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/model"
)

// =============================================================================
// TRANSCRIPT FORMAT
// =============================================================================

// Transcripts are human-readable: a frontmatter block between "---" lines
// holds the metadata, then each message renders as a "### [Role]" header
// followed by its content and a blank separator line.
//
//	---
//	name: demo
//	model: gpt-mini
//	saved: 2026-08-29T12:00:00Z
//	...
//	---
//
//	### [user]
//	hi
//
// Content lines that would read as a section header are escaped with a
// leading backslash on save and unescaped on load, so role and text
// round-trip exactly no matter what the user typed.

const (
	frontmatterDelim = "---"
	timeLayout       = time.RFC3339
)

// sectionHeader matches a message section header line exactly.
var sectionHeader = regexp.MustCompile(`^### \[([A-Za-z]+)\]$`)

// escapedHeader matches a content line that was escaped because it looked
// like a section header.
var escapedHeader = regexp.MustCompile(`^\\+### \[[A-Za-z]+\]$`)

// Snapshot is the persisted form of a session's conversation.
type Snapshot struct {
	Name     string
	Model    string
	SavedAt  time.Time
	Messages []*model.Message
	Turns    int
	Usage    model.Usage
}

// encode renders a snapshot into the transcript format.
func encode(snap *Snapshot) []byte {
	var sb strings.Builder

	sb.WriteString(frontmatterDelim + "\n")
	fmt.Fprintf(&sb, "name: %s\n", snap.Name)
	fmt.Fprintf(&sb, "model: %s\n", snap.Model)
	fmt.Fprintf(&sb, "saved: %s\n", snap.SavedAt.Format(timeLayout))
	fmt.Fprintf(&sb, "messages: %d\n", len(snap.Messages))
	fmt.Fprintf(&sb, "turns: %d\n", snap.Turns)
	fmt.Fprintf(&sb, "prompt_tokens: %d\n", snap.Usage.PromptTokens)
	fmt.Fprintf(&sb, "completion_tokens: %d\n", snap.Usage.CompletionTokens)
	fmt.Fprintf(&sb, "cost_usd: %s\n", strconv.FormatFloat(snap.Usage.CostUSD, 'f', -1, 64))
	sb.WriteString(frontmatterDelim + "\n\n")

	for _, msg := range snap.Messages {
		// Headers carry the canonical role string, which is what
		// model.ParseRole accepts back on load. Display names are a
		// rendering concern and never touch the disk.
		fmt.Fprintf(&sb, "### [%s]\n", msg.Role.String())
		for _, line := range strings.Split(msg.Content, "\n") {
			sb.WriteString(escapeLine(line))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String())
}

// escapeLine prefixes a backslash when the line would parse as a section
// header, including lines that are already escaped.
func escapeLine(line string) string {
	if sectionHeader.MatchString(line) || escapedHeader.MatchString(line) {
		return "\\" + line
	}
	return line
}

// unescapeLine undoes escapeLine.
func unescapeLine(line string) string {
	if escapedHeader.MatchString(line) {
		return line[1:]
	}
	return line
}

// decode parses transcript bytes back into a snapshot.
func decode(data []byte) (*Snapshot, error) {
	lines := strings.Split(string(data), "\n")
	// The file's trailing newline yields one empty trailing element.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	snap := &Snapshot{}
	i, err := parseFrontmatter(lines, snap)
	if err != nil {
		return nil, err
	}

	// Skip blank lines before the first section.
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}

	var current *model.Message
	var content []string

	flush := func() {
		if current == nil {
			return
		}
		// Drop the single separator blank line appended by encode.
		if n := len(content); n > 0 && content[n-1] == "" {
			content = content[:n-1]
		}
		current.Content = strings.Join(content, "\n")
		snap.Messages = append(snap.Messages, current)
	}

	for ; i < len(lines); i++ {
		line := lines[i]
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			role, ok := model.ParseRole(m[1])
			if !ok {
				return nil, fmt.Errorf("%w: unknown role %q", ErrCorruptFormat, m[1])
			}
			flush()
			current = model.NewMessage(role, "")
			content = content[:0]
			continue
		}
		if current == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			return nil, fmt.Errorf("%w: content before first section header", ErrCorruptFormat)
		}
		content = append(content, unescapeLine(line))
	}
	flush()

	if err := validateOrder(snap.Messages); err != nil {
		return nil, err
	}
	return snap, nil
}

// parseFrontmatter fills snap from the header block and returns the index of
// the first line after it.
func parseFrontmatter(lines []string, snap *Snapshot) (int, error) {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelim {
		return 0, fmt.Errorf("%w: missing frontmatter", ErrCorruptFormat)
	}

	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == frontmatterDelim {
			return i + 1, nil
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, fmt.Errorf("%w: bad frontmatter line %q", ErrCorruptFormat, line)
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "name":
			snap.Name = value
		case "model":
			snap.Model = value
		case "saved":
			t, err := time.Parse(timeLayout, value)
			if err != nil {
				return 0, fmt.Errorf("%w: bad timestamp %q", ErrCorruptFormat, value)
			}
			snap.SavedAt = t
		case "turns":
			snap.Turns, _ = strconv.Atoi(value)
		case "prompt_tokens":
			snap.Usage.PromptTokens, _ = strconv.Atoi(value)
		case "completion_tokens":
			snap.Usage.CompletionTokens, _ = strconv.Atoi(value)
		case "cost_usd":
			snap.Usage.CostUSD, _ = strconv.ParseFloat(value, 64)
		}
		// Unknown keys (and the redundant "messages" count) are ignored so
		// newer files still load.
	}

	return 0, fmt.Errorf("%w: unterminated frontmatter", ErrCorruptFormat)
}

// validateOrder enforces the system-first invariant on load.
func validateOrder(msgs []*model.Message) error {
	for i, m := range msgs {
		if m.Role == model.RoleSystem && i != 0 {
			return fmt.Errorf("%w: system message not first", ErrCorruptFormat)
		}
	}
	return nil
}
