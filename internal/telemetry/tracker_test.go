// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package telemetry

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/model"
)

func openTestTracker(t *testing.T) *Tracker {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	tracker, err := Open(filepath.Join(t.TempDir(), "usage.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestRecordAndSessionTotals(t *testing.T) {
	tracker := openTestTracker(t)

	tracker.RecordTurn("sess-1", "gpt-mini", model.Usage{PromptTokens: 10, CompletionTokens: 20, CostUSD: 0.01}, 500*time.Millisecond)
	tracker.RecordTurn("sess-1", "gpt-mini", model.Usage{PromptTokens: 5, CompletionTokens: 15, CostUSD: 0.02}, 300*time.Millisecond)
	tracker.RecordTurn("sess-2", "llama-local", model.Usage{PromptTokens: 100, CompletionTokens: 200}, time.Second)

	totals, err := tracker.SessionTotals("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Turns)
	assert.Equal(t, 15, totals.PromptTokens)
	assert.Equal(t, 35, totals.CompletionTokens)
	assert.InDelta(t, 0.03, totals.CostUSD, 1e-9)

	empty, err := tracker.SessionTotals("sess-none")
	require.NoError(t, err)
	assert.Equal(t, Totals{}, empty)
}

func TestLifetimeTotals(t *testing.T) {
	tracker := openTestTracker(t)

	tracker.RecordTurn("a", "m1", model.Usage{PromptTokens: 1, CompletionTokens: 2, CostUSD: 0.1}, time.Millisecond)
	tracker.RecordTurn("b", "m2", model.Usage{PromptTokens: 3, CompletionTokens: 4, CostUSD: 0.2}, time.Millisecond)

	totals, err := tracker.LifetimeTotals()
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Turns)
	assert.Equal(t, 4, totals.PromptTokens)
	assert.Equal(t, 6, totals.CompletionTokens)
	assert.InDelta(t, 0.3, totals.CostUSD, 1e-9)
}

func TestModelTotals(t *testing.T) {
	tracker := openTestTracker(t)

	tracker.RecordTurn("a", "gpt-mini", model.Usage{PromptTokens: 1, CompletionTokens: 1, CostUSD: 0.1}, time.Millisecond)
	tracker.RecordTurn("a", "gpt-mini", model.Usage{PromptTokens: 1, CompletionTokens: 1, CostUSD: 0.1}, time.Millisecond)
	tracker.RecordTurn("a", "llama-local", model.Usage{PromptTokens: 9, CompletionTokens: 9}, time.Millisecond)

	byModel, err := tracker.ModelTotals()
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, 2, byModel["gpt-mini"].Turns)
	assert.Equal(t, 1, byModel["llama-local"].Turns)
	assert.Equal(t, 18, byModel["llama-local"].PromptTokens+byModel["llama-local"].CompletionTokens)
}

func TestLedgerPersistsAcrossOpens(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "usage.db")

	tracker, err := Open(path, log)
	require.NoError(t, err)
	tracker.RecordTurn("s", "m", model.Usage{PromptTokens: 7, CompletionTokens: 7}, time.Millisecond)
	require.NoError(t, tracker.Close())

	reopened, err := Open(path, log)
	require.NoError(t, err)
	defer reopened.Close()

	totals, err := reopened.LifetimeTotals()
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Turns)
	assert.Equal(t, 14, totals.PromptTokens+totals.CompletionTokens)
}
