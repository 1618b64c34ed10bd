// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidRegistry indicates the registry file could not be parsed or
	// failed validation. Fatal at startup.
	ErrInvalidRegistry = errors.New("invalid model registry")

	// ErrModelNotFound indicates no registry entry matched the query.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelAmbiguous indicates the query matched several entries without
	// a clear winner.
	ErrModelAmbiguous = errors.New("ambiguous model name")
)

// NotFoundError reports a failed lookup, optionally with near misses.
type NotFoundError struct {
	Query      string
	Candidates []string
}

func (e *NotFoundError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("no model matches %q (closest: %s)", e.Query, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("no model matches %q", e.Query)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrModelNotFound
}

// AmbiguousError reports a query that matched multiple entries too closely.
type AmbiguousError struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q is ambiguous (did you mean: %s?)", e.Query, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousError) Is(target error) bool {
	return target == ErrModelAmbiguous
}

// =============================================================================
// MODEL ENTRY
// =============================================================================

// Entry describes one model: its friendly name, the connection string handed
// to the completion gateway, and display metadata. Entries are immutable
// after load.
type Entry struct {
	// Name is the unique friendly identifier users type.
	Name string `json:"name"`

	// Connection is the opaque provider connection string, e.g.
	// "openai/gpt-4o-mini" or "ollama/llama3".
	Connection string `json:"connection"`

	// Provider is the display name used for grouping in listings.
	Provider string `json:"provider"`

	Description   string `json:"description,omitempty"`
	UseCase       string `json:"use_case,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`

	// Retired entries still list (greyed out, last) but refuse switching.
	Retired bool `json:"retired,omitempty"`
}

// Group is a provider's entries in listing order.
type Group struct {
	Provider string
	Entries  []*Entry
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the loaded model entries and answers lookups. Reads and the
// watcher's reloads may overlap, so access goes through a mutex.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries []*Entry
	byName  map[string]*Entry

	// listed is the flattened ordering produced by the most recent List call.
	// Numeric resolve indexes into it.
	listed []*Entry
}

// Load reads and validates the registry file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidRegistry, path, err)
	}

	entries, err := parseEntries(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRegistry, path, err)
	}

	r := &Registry{path: path}
	if err := r.replace(entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRegistry, path, err)
	}
	return r, nil
}

// parseEntries accepts either a JSON array of entries or an object mapping
// friendly name to entry. The object form preserves key order by walking the
// decoder's token stream rather than unmarshalling into a map.
func parseEntries(data []byte) ([]*Entry, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("registry must be a JSON array or object")
	}

	var entries []*Entry
	switch delim {
	case '[':
		for dec.More() {
			var e Entry
			if err := dec.Decode(&e); err != nil {
				return nil, fmt.Errorf("parsing registry entry: %w", err)
			}
			entries = append(entries, &e)
		}
	case '{':
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parsing registry key: %w", err)
			}
			name, _ := keyTok.(string)

			var e Entry
			if err := dec.Decode(&e); err != nil {
				return nil, fmt.Errorf("parsing registry entry %q: %w", name, err)
			}
			if e.Name == "" {
				e.Name = name
			}
			entries = append(entries, &e)
		}
	default:
		return nil, fmt.Errorf("registry must be a JSON array or object")
	}

	return entries, nil
}

// replace validates entries and swaps them in.
func (r *Registry) replace(entries []*Entry) error {
	byName := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return fmt.Errorf("entry with connection %q has no name", e.Connection)
		}
		if e.Connection == "" {
			return fmt.Errorf("entry %q has no connection string", e.Name)
		}
		if _, dup := byName[e.Name]; dup {
			return fmt.Errorf("duplicate model name %q", e.Name)
		}
		if e.Provider == "" {
			e.Provider = providerFromConnection(e.Connection)
		}
		byName[e.Name] = e
	}
	if len(entries) == 0 {
		return fmt.Errorf("registry is empty")
	}

	r.mu.Lock()
	r.entries = entries
	r.byName = byName
	r.listed = nil
	r.mu.Unlock()
	return nil
}

// providerFromConnection derives a display name from the connection string
// prefix when the entry carries none.
func providerFromConnection(conn string) string {
	if i := strings.Index(conn, "/"); i > 0 {
		return conn[:i]
	}
	return "default"
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reload re-reads the registry file. On any error the current entries are
// kept so a half-edited file never breaks a running session.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrInvalidRegistry, r.path, err)
	}
	entries, err := parseEntries(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRegistry, r.path, err)
	}
	if err := r.replace(entries); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRegistry, r.path, err)
	}
	return nil
}

// =============================================================================
// LISTING
// =============================================================================

// List returns all entries grouped by provider: providers in order of first
// appearance, entries in insertion order within each group, retired entries
// collected into a trailing group. The flattened ordering becomes the basis
// for numeric resolution until the next List call.
func (r *Registry) List() []Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	var groups []Group
	index := make(map[string]int)
	var retired []*Entry

	for _, e := range r.entries {
		if e.Retired {
			retired = append(retired, e)
			continue
		}
		i, ok := index[e.Provider]
		if !ok {
			i = len(groups)
			index[e.Provider] = i
			groups = append(groups, Group{Provider: e.Provider})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}

	if len(retired) > 0 {
		groups = append(groups, Group{Provider: "Retired", Entries: retired})
	}

	r.listed = r.listed[:0]
	for _, g := range groups {
		r.listed = append(r.listed, g.Entries...)
	}

	return groups
}

// listedOrder returns the most recently listed flattened ordering, computing
// the default one when List has not run yet.
func (r *Registry) listedOrder() []*Entry {
	r.mu.RLock()
	listed := r.listed
	r.mu.RUnlock()

	if listed == nil {
		r.List()
		r.mu.RLock()
		listed = r.listed
		r.mu.RUnlock()
	}
	return listed
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve maps a user-typed query to a registry entry:
//
//  1. Exact friendly-name match, case-sensitive.
//  2. A positive integer selects the 1-based position in the most recently
//     listed ordering.
//  3. Fuzzy subsequence match, accepted only when the best score clears
//     fuzzyAcceptScore and leads the runner-up by fuzzyAmbiguityMargin.
func (r *Registry) Resolve(query string) (*Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &NotFoundError{Query: query}
	}

	r.mu.RLock()
	entry, exact := r.byName[query]
	r.mu.RUnlock()
	if exact {
		return entry, nil
	}

	if n, err := strconv.Atoi(query); err == nil && n > 0 {
		listed := r.listedOrder()
		if n > len(listed) {
			return nil, &NotFoundError{Query: query}
		}
		return listed[n-1], nil
	}

	r.mu.RLock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	r.mu.RUnlock()

	ranked := fuzzyRank(query, names)
	if len(ranked) == 0 || ranked[0].Score < fuzzyAcceptScore {
		return nil, &NotFoundError{Query: query, Candidates: topNames(ranked, 3)}
	}
	if len(ranked) > 1 && ranked[0].Score-ranked[1].Score < fuzzyAmbiguityMargin {
		return nil, &AmbiguousError{Query: query, Candidates: topNames(ranked, 3)}
	}

	r.mu.RLock()
	entry = r.byName[ranked[0].Name]
	r.mu.RUnlock()
	return entry, nil
}

// Get returns the entry with the exact friendly name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// First returns the first non-retired entry, used as the startup fallback
// when no default model is configured.
func (r *Registry) First() (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if !e.Retired {
			return e, true
		}
	}
	return nil, false
}

func topNames(ranked []scoredName, n int) []string {
	if len(ranked) < n {
		n = len(ranked)
	}
	names := make([]string, 0, n)
	for _, m := range ranked[:n] {
		names = append(names, m.Name)
	}
	return names
}
