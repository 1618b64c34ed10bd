// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package registry

import (
	"sort"
	"strings"
	"unicode"
)

// =============================================================================
// FUZZY MATCHING
// =============================================================================

// Matching constants. Resolve accepts a fuzzy candidate only when its score
// reaches fuzzyAcceptScore AND beats the runner-up by at least
// fuzzyAmbiguityMargin; anything else is reported as not found or ambiguous.
const (
	// fuzzyAcceptScore is the minimum score a best candidate must reach.
	// A two-rune query matching at a name start scores at least 1+10 for the
	// first rune, so short prefixes of real names clear this comfortably
	// while scattered single-rune matches do not.
	fuzzyAcceptScore = 10

	// fuzzyAmbiguityMargin is how far ahead of the second-best candidate the
	// winner must be. Within the margin, two names are considered equally
	// plausible and the query is rejected as ambiguous.
	fuzzyAmbiguityMargin = 3
)

// fuzzyMatch scores query against target. Returns a score (higher is better)
// and whether every query rune appeared in order in target.
//
// Scoring: each matched rune earns 1, plus bonuses for consecutive matches,
// matches at the start of the target, matches at a word boundary, and exact
// case agreement. Longer targets pay a small length penalty so that short
// names win ties.
func fuzzyMatch(query, target string) (score int, matched bool) {
	if query == "" {
		return 0, true
	}

	queryRunes := []rune(strings.ToLower(query))
	targetRunes := []rune(strings.ToLower(target))

	if len(queryRunes) > len(targetRunes) {
		return 0, false
	}

	queryOrig := []rune(query)
	targetOrig := []rune(target)

	queryPos := 0
	lastMatchPos := -1

	for targetPos := 0; targetPos < len(targetRunes) && queryPos < len(queryRunes); targetPos++ {
		if targetRunes[targetPos] != queryRunes[queryPos] {
			continue
		}

		matchScore := 1

		if lastMatchPos == targetPos-1 {
			matchScore += 5
		}
		if targetPos == 0 {
			matchScore += 10
		}
		if isWordBoundary(targetRunes, targetPos) {
			matchScore += 7
		}
		if targetPos < len(targetOrig) && queryPos < len(queryOrig) &&
			targetOrig[targetPos] == queryOrig[queryPos] {
			matchScore += 2
		}

		score += matchScore
		lastMatchPos = targetPos
		queryPos++
	}

	matched = queryPos == len(queryRunes)

	// Shorter names are better matches.
	if matched {
		score -= len(targetRunes) / 4
	}

	return score, matched
}

// isWordBoundary reports whether pos starts a word: position zero, after a
// separator (space, slash, dash, underscore, dot), or a camelCase transition.
func isWordBoundary(runes []rune, pos int) bool {
	if pos == 0 {
		return true
	}
	if pos >= len(runes) {
		return false
	}

	prev := runes[pos-1]
	if prev == ' ' || prev == '/' || prev == '-' || prev == '_' || prev == '.' {
		return true
	}
	if unicode.IsLower(prev) && unicode.IsUpper(runes[pos]) {
		return true
	}

	return false
}

// scoredName pairs a friendly name with its fuzzy score.
type scoredName struct {
	Name  string
	Score int
}

// fuzzyRank scores query against every name and returns the successful
// matches sorted by score, highest first. Ties break alphabetically so the
// ordering is deterministic.
func fuzzyRank(query string, names []string) []scoredName {
	var matches []scoredName
	for _, name := range names {
		if score, ok := fuzzyMatch(query, name); ok {
			matches = append(matches, scoredName{Name: name, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Name < matches[j].Name
	})

	return matches
}
