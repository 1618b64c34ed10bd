// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package commands

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polychat-dev/polychat/internal/gateway"
	"github.com/polychat-dev/polychat/internal/model"
	"github.com/polychat-dev/polychat/internal/registry"
	"github.com/polychat-dev/polychat/internal/session"
	"github.com/polychat-dev/polychat/internal/storage"
	"github.com/polychat-dev/polychat/internal/telemetry"
)

type stubGateway struct {
	reply string
	err   error
}

func (g *stubGateway) Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Response{Content: g.reply}, nil
}

func newTestContext(t *testing.T) *Context {
	t.Helper()

	regPath := filepath.Join(t.TempDir(), "models.json")
	content := `[
		{"name": "gpt-mini", "connection": "openai/gpt-4o-mini", "provider": "OpenAI"},
		{"name": "llama-local", "connection": "ollama/llama3", "provider": "Ollama"},
		{"name": "ancient", "connection": "openai/ancient", "provider": "OpenAI", "retired": true}
	]`
	if err := os.WriteFile(regPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	models, err := registry.Load(regPath)
	if err != nil {
		t.Fatal(err)
	}

	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	sess := session.New(&stubGateway{reply: "stub reply"}, nil, session.Params{})
	entry, _ := models.Get("gpt-mini")
	sess.SwitchModel(entry)

	return &Context{
		Session: sess,
		Models:  models,
		Store:   store,
		Log:     log,
	}
}

func TestUnknownCommand(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	_, err := reg.Execute(ctx, "/frobnicate now")
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
	if !strings.Contains(err.Error(), "/help") {
		t.Errorf("error should list recognized commands: %v", err)
	}
}

func TestHelpListsAllCommands(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	res, err := reg.Execute(ctx, "/help")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"/models", "/switch", "/system", "/new", "/save", "/load", "/list", "/stats", "/quit", "/history"} {
		if !strings.Contains(res.Output, name) {
			t.Errorf("help missing %s", name)
		}
	}
}

func TestHelpAliases(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	for _, alias := range []string{"/h", "/?"} {
		if _, err := reg.Execute(ctx, alias); err != nil {
			t.Errorf("alias %s failed: %v", alias, err)
		}
	}
}

func TestModelsListing(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	res, err := reg.Execute(ctx, "/models")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "OpenAI") || !strings.Contains(res.Output, "Ollama") {
		t.Errorf("output missing provider groups:\n%s", res.Output)
	}
	if !strings.Contains(res.Output, "(retired)") {
		t.Errorf("retired marker missing:\n%s", res.Output)
	}
	// Active model marked.
	if !strings.Contains(res.Output, "* ") {
		t.Errorf("active marker missing:\n%s", res.Output)
	}
}

func TestSwitchByNameAndIndex(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	res, err := reg.Execute(ctx, "/switch llama-local")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "llama-local") {
		t.Errorf("output = %q", res.Output)
	}
	if ctx.Session.ActiveModel().Name != "llama-local" {
		t.Errorf("active = %q", ctx.Session.ActiveModel().Name)
	}

	// Establish listing order, then switch by index.
	if _, err := reg.Execute(ctx, "/models"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Execute(ctx, "/switch 1"); err != nil {
		t.Fatal(err)
	}
	if ctx.Session.ActiveModel().Name != "gpt-mini" {
		t.Errorf("active after index switch = %q", ctx.Session.ActiveModel().Name)
	}
}

func TestSwitchFailures(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := reg.Execute(ctx, "/switch"); err == nil {
		t.Error("expected usage error")
	}

	_, err := reg.Execute(ctx, "/switch zzzz")
	if !errors.Is(err, registry.ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}

	// Retired models resolve but refuse switching.
	_, err = reg.Execute(ctx, "/switch ancient")
	if err == nil || !strings.Contains(err.Error(), "retired") {
		t.Errorf("err = %v, want retired refusal", err)
	}
	if ctx.Session.ActiveModel().Name != "gpt-mini" {
		t.Errorf("active model changed on failed switch: %q", ctx.Session.ActiveModel().Name)
	}
}

func TestSystemSetAndClear(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := reg.Execute(ctx, "/system You are terse."); err != nil {
		t.Fatal(err)
	}
	if got := ctx.Session.Conversation().SystemPrompt(); got != "You are terse." {
		t.Errorf("system prompt = %q", got)
	}

	res, err := reg.Execute(ctx, "/system")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Session.Conversation().HasSystemPrompt() {
		t.Error("system prompt should be cleared")
	}
	if !strings.Contains(res.Output, "cleared") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestNewResetsSession(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := ctx.Session.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Execute(ctx, "/system persona"); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Execute(ctx, "/new"); err != nil {
		t.Fatal(err)
	}

	st := ctx.Session.Stats()
	if st.Turns != 0 {
		t.Errorf("turns = %d", st.Turns)
	}
	if !st.SystemPromptSet || st.ModelName != "gpt-mini" {
		t.Errorf("model/system lost: %+v", st)
	}
}

func TestSaveLoadFlow(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := ctx.Session.Send(context.Background(), "remember this"); err != nil {
		t.Fatal(err)
	}

	res, err := reg.Execute(ctx, "/save demo")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, `"demo"`) {
		t.Errorf("output = %q", res.Output)
	}
	if ctx.Session.Dirty() {
		t.Error("session should be clean after save")
	}

	// Mutate, then load back.
	if _, err := reg.Execute(ctx, "/new"); err != nil {
		t.Fatal(err)
	}
	res, err = reg.Execute(ctx, "/load demo")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "2 messages") {
		t.Errorf("output = %q", res.Output)
	}

	msgs := ctx.Session.Conversation().History()
	if len(msgs) != 2 || msgs[0].Content != "remember this" || msgs[1].Content != "stub reply" {
		t.Errorf("history = %+v", msgs)
	}
}

func TestSaveLoadQuotedName(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := ctx.Session.Send(context.Background(), "remember this"); err != nil {
		t.Fatal(err)
	}

	// The quotes name the file; they never become part of the name.
	res, err := reg.Execute(ctx, `/save "weekly sync"`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, `"weekly-sync"`) {
		t.Errorf("output = %q", res.Output)
	}

	if _, err := reg.Execute(ctx, "/new"); err != nil {
		t.Fatal(err)
	}
	res, err = reg.Execute(ctx, `/load "weekly sync"`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "2 messages") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestSaveDefaultName(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := ctx.Session.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	res, err := reg.Execute(ctx, "/save")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "chat-") {
		t.Errorf("expected timestamp-derived name: %q", res.Output)
	}
}

func TestLoadFailures(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := reg.Execute(ctx, "/load"); err == nil {
		t.Error("expected usage error")
	}

	_, err := reg.Execute(ctx, "/load ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// Failed load leaves the session untouched.
	if ctx.Session.Conversation().MessageCount() != 0 {
		t.Error("session mutated by failed load")
	}
}

func TestListCommand(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	res, err := reg.Execute(ctx, "/list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "No saved conversations") {
		t.Errorf("output = %q", res.Output)
	}

	if _, err := ctx.Session.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Execute(ctx, "/save demo"); err != nil {
		t.Fatal(err)
	}

	res, err = reg.Execute(ctx, "/list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "demo") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestStats(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := ctx.Session.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	res, err := reg.Execute(ctx, "/stats")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "Turns:      1") {
		t.Errorf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "gpt-mini") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestStatsPerModelTotals(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	tracker, err := telemetry.Open(filepath.Join(t.TempDir(), "usage.db"), ctx.Log)
	if err != nil {
		t.Fatal(err)
	}
	defer tracker.Close()
	ctx.Tracker = tracker

	tracker.RecordTurn("sess_x", "gpt-mini",
		model.Usage{PromptTokens: 10, CompletionTokens: 20, CostUSD: 0.01}, time.Second)
	tracker.RecordTurn("sess_x", "gpt-mini",
		model.Usage{PromptTokens: 10, CompletionTokens: 20, CostUSD: 0.01}, time.Second)
	tracker.RecordTurn("sess_y", "llama-local",
		model.Usage{PromptTokens: 5, CompletionTokens: 5}, time.Second)

	res, err := reg.Execute(ctx, "/stats")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "By model:") {
		t.Fatalf("output missing per-model footer: %q", res.Output)
	}
	for _, want := range []string{"gpt-mini", "llama-local", "2 turns, 60 tokens, $0.0200", "1 turns, 10 tokens, $0.0000"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q:\n%s", want, res.Output)
		}
	}
}

func TestQuitAutoSaves(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := ctx.Session.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	res, err := reg.Execute(ctx, "/quit")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Quit {
		t.Error("expected quit")
	}
	if !strings.Contains(res.Output, "Auto-saved") {
		t.Errorf("output = %q", res.Output)
	}

	metas, err := ctx.Store.List()
	if err != nil || len(metas) != 1 {
		t.Errorf("saved conversations = %+v, %v", metas, err)
	}
}

func TestQuitCleanSessionSkipsSave(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	res, err := reg.Execute(ctx, "/exit")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Quit {
		t.Error("expected quit")
	}

	metas, _ := ctx.Store.List()
	if len(metas) != 0 {
		t.Errorf("empty session should not auto-save: %+v", metas)
	}
}

func TestQuitSaveFailureStillQuits(t *testing.T) {
	reg := NewRegistry()
	ctx := newTestContext(t)

	if _, err := ctx.Session.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	// Point the store at an unwritable location.
	ctx.Store.BaseDir = filepath.Join(os.DevNull, "nope")

	res, err := reg.Execute(ctx, "/quit")
	if err != nil {
		t.Fatalf("quit must not fail: %v", err)
	}
	if !res.Quit {
		t.Error("expected quit despite save failure")
	}
	if !strings.Contains(res.Output, "Auto-save failed") {
		t.Errorf("output = %q", res.Output)
	}
}
