// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package telemetry keeps the usage ledger: one row per completed chat turn
// with token counts, estimated cost, and latency, persisted to a local
// SQLite database so totals survive across sessions.
package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/polychat-dev/polychat/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_turns_model ON turns(model);
`

// =============================================================================
// USAGE TRACKER
// =============================================================================

// Totals aggregates ledger rows.
type Totals struct {
	Turns            int
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Tracker writes turn records to the ledger. Recording failures are logged
// and never surface to the chat loop.
type Tracker struct {
	db  *sql.DB
	log *logrus.Logger
}

// Open creates or opens the ledger database at path.
func Open(path string, log *logrus.Logger) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening usage ledger: %w", err)
	}

	// Single writer; SQLite handles one connection best.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring usage ledger: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating usage ledger schema: %w", err)
	}

	return &Tracker{db: db, log: log}, nil
}

// Close releases the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// RecordTurn implements session.Recorder. Failures are logged, never fatal.
func (t *Tracker) RecordTurn(sessionID, modelName string, usage model.Usage, duration time.Duration) {
	_, err := t.db.Exec(
		`INSERT INTO turns (session_id, model, prompt_tokens, completion_tokens, cost_usd, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, modelName,
		usage.PromptTokens, usage.CompletionTokens, usage.CostUSD,
		duration.Milliseconds(), time.Now().Unix(),
	)
	if err != nil {
		t.log.WithError(err).Warn("failed to record usage")
	}
}

// SessionTotals aggregates the rows of one session.
func (t *Tracker) SessionTotals(sessionID string) (Totals, error) {
	return t.queryTotals(
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM turns WHERE session_id = ?`, sessionID)
}

// LifetimeTotals aggregates every recorded turn.
func (t *Tracker) LifetimeTotals() (Totals, error) {
	return t.queryTotals(
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM turns`)
}

// ModelTotals aggregates recorded turns per model. Callers decide the
// presentation order.
func (t *Tracker) ModelTotals() (map[string]Totals, error) {
	rows, err := t.db.Query(
		`SELECT model, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM turns GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("querying model totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]Totals)
	for rows.Next() {
		var name string
		var tt Totals
		if err := rows.Scan(&name, &tt.Turns, &tt.PromptTokens, &tt.CompletionTokens, &tt.CostUSD); err != nil {
			return nil, fmt.Errorf("scanning model totals: %w", err)
		}
		totals[name] = tt
	}
	return totals, rows.Err()
}

func (t *Tracker) queryTotals(query string, args ...any) (Totals, error) {
	var tt Totals
	err := t.db.QueryRow(query, args...).Scan(&tt.Turns, &tt.PromptTokens, &tt.CompletionTokens, &tt.CostUSD)
	if err != nil {
		return Totals{}, fmt.Errorf("querying usage totals: %w", err)
	}
	return tt, nil
}
