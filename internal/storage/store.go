// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package storage persists conversations as human-readable transcript files
// and lists, loads, and prunes them.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates no saved conversation has that name.
	ErrNotFound = errors.New("conversation not found")

	// ErrCorruptFormat indicates a saved file could not be parsed.
	ErrCorruptFormat = errors.New("corrupt conversation file")

	// ErrInvalidName indicates a save name sanitized to nothing.
	ErrInvalidName = errors.New("invalid conversation name")
)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

const fileExt = ".chat"

// Meta describes one saved conversation for listing.
type Meta struct {
	Name         string
	Model        string
	SavedAt      time.Time
	MessageCount int
}

// Store reads and writes conversation transcripts under one directory.
type Store struct {
	// BaseDir is the directory holding the transcript files.
	BaseDir string

	// MaxConversations caps stored conversations, pruning the oldest on
	// save. Zero means unlimited.
	MaxConversations int
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating conversations directory: %w", err)
	}
	return &Store{BaseDir: dir, MaxConversations: 100}, nil
}

// unsafeChars matches everything outside the filename-safe charset.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeName reduces a user-supplied name to the filename-safe charset:
// spaces become dashes, everything else unsafe is dropped, and leading dots
// are stripped so names cannot hide or escape the directory.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	return name
}

// DefaultName returns a timestamp-derived name for /save without an argument
// and for the /quit auto-save fallback.
func DefaultName(now time.Time) string {
	return "chat-" + now.Format("20060102-150405")
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the snapshot under the sanitized name and returns that name.
func (s *Store) Save(name string, snap *Snapshot) (string, error) {
	clean := SanitizeName(name)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	snap.Name = clean
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	if err := util.AtomicWriteFile(s.filePath(clean), encode(snap), 0o644); err != nil {
		return "", fmt.Errorf("saving conversation %q: %w", clean, err)
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return clean, nil
}

// enforceLimit deletes the oldest conversations once over the cap.
func (s *Store) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	// List is most recent first; everything past the cap goes.
	for _, m := range metas[s.MaxConversations:] {
		s.Delete(m.Name)
	}
}

// =============================================================================
// LOAD
// =============================================================================

// Load reads a saved conversation back into a snapshot.
func (s *Store) Load(name string) (*Snapshot, error) {
	clean := SanitizeName(name)
	if clean == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	data, err := os.ReadFile(s.filePath(clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, clean)
		}
		return nil, fmt.Errorf("reading conversation %q: %w", clean, err)
	}

	snap, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("conversation %q: %w", clean, err)
	}
	if snap.Name == "" {
		snap.Name = clean
	}
	return snap, nil
}

// =============================================================================
// LIST / DELETE
// =============================================================================

// List returns the saved conversations, most recently saved first. Files
// that fail to parse are skipped rather than failing the whole listing.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), fileExt)
		snap, err := s.Load(name)
		if err != nil {
			continue
		}

		metas = append(metas, Meta{
			Name:         name,
			Model:        snap.Model,
			SavedAt:      snap.SavedAt,
			MessageCount: len(snap.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].SavedAt.After(metas[j].SavedAt)
	})
	return metas, nil
}

// Delete removes a saved conversation.
func (s *Store) Delete(name string) error {
	clean := SanitizeName(name)
	if clean == "" {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.Remove(s.filePath(clean)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrNotFound, clean)
		}
		return err
	}
	return nil
}

func (s *Store) filePath(name string) string {
	return filepath.Join(s.BaseDir, name+fileExt)
}
