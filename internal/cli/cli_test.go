// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
	}

	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColorsDisabledByNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("FORCE_COLOR", "")

	if ColorsEnabled() {
		t.Error("ColorsEnabled() = true with NO_COLOR set")
	}
}

func TestForceColorOverridesTTY(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "1")

	if !ColorsEnabled() {
		t.Error("ColorsEnabled() = false with FORCE_COLOR set")
	}
}

func TestRenderMarkdownNeverEmpty(t *testing.T) {
	const content = "hello **world**"

	got := renderMarkdown(content)
	if !strings.Contains(got, "hello") || !strings.Contains(got, "world") {
		t.Errorf("renderMarkdown(%q) lost content: %q", content, got)
	}
}

func TestInputHistoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input_history")

	if err := os.WriteFile(path, []byte("first question\nsecond question\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	in := NewInput(path)
	in.saveHistory()
	in.line.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"first question", "second question"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("history file missing %q after round trip:\n%s", want, data)
		}
	}
}

func TestInputWithoutHistoryFile(t *testing.T) {
	in := NewInput("")
	defer in.line.Close()

	// Both directions are no-ops without a path.
	in.loadHistory()
	in.saveHistory()
}
