// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package cli

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer renders assistant replies for terminal display.
// Initialized once; nil means rendering is unavailable and replies are
// printed verbatim.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(DefaultTerminalWidth),
	)
	if err != nil {
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayReply prints an assistant reply. Markdown rendering is applied
// only when stdout is a TTY and the user has not disabled it, so piped
// output stays byte-faithful.
func displayReply(content string, markdown bool) {
	if markdown && IsStdoutTTY() {
		fmt.Print(renderMarkdown(content))
		return
	}
	fmt.Println(content)
}
