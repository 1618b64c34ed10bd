// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package cli

import "github.com/charmbracelet/lipgloss"

// init configures the lipgloss color profile once for the whole process.
// This respects NO_COLOR, FORCE_COLOR, and TTY detection, so piped output
// never contains escape sequences.
func init() {
	lipgloss.SetColorProfile(ColorProfile())
}

// =============================================================================
// PALETTE
// =============================================================================

var (
	// colorAccent marks the prompt and user-facing highlights.
	colorAccent = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	// colorBrand is used for the welcome banner.
	colorBrand = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

	// colorOK marks successful operations and model names.
	colorOK = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

	// colorWarn marks warnings and cancellations.
	colorWarn = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// colorError marks failures.
	colorError = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// colorMuted is for secondary text such as hints and stat lines.
	colorMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(colorBrand).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorOK)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarn)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	summaryHeaderStyle = lipgloss.NewStyle().
				Foreground(colorAccent).
				Bold(true)
)
