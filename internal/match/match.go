// Package match implements approximate phrase lookup over a command catalog.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate pruning: Double Metaphone codes are computed for
//     each word of the transcript and of each catalog phrase. Phrases that
//     share no code with the transcript are skipped without scoring — this
//     is the early-pruning pass that rejects utterances bearing no
//     resemblance to any command before any edit-distance work.
//
//  2. Edit-distance ranking: surviving phrases are scored with a normalized
//     Levenshtein dissimilarity (0 = exact match, 1 = nothing in common),
//     computed over both the raw strings and their alphabetically sorted
//     token forms so that word-order noise ("algebra go to") still scores
//     well. The lower of the two is the phrase's score.
//
// Results at or below the index's search threshold are returned sorted
// best-to-worst; ties keep catalog insertion order (stable sort), which
// makes ranking deterministic even across near-duplicate phrases.
package match

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/darasahub/voicenav/internal/command"
)

// DefaultSearchThreshold is the maximum score at which a phrase is included
// in query results. See [command.Catalog] sizes: with tens of entries a
// linear scan over the pruned candidate set is plenty.
const DefaultSearchThreshold = 0.3

// Result is one ranked candidate for a transcript.
type Result struct {
	// Command is the matched catalog command.
	Command *command.Command

	// Score is the dissimilarity between the transcript and Command.Phrase.
	// Lower is better; 0 means an exact match.
	Score float64
}

// TextMatcher answers approximate phrase queries. Implementations must be
// read-only after construction so concurrent queries need no locking.
type TextMatcher interface {
	// Query returns the ranked candidates for transcript, best first.
	// Returns nil when no phrase scores within the search threshold.
	Query(transcript string) []Result
}

// Option is a functional option for configuring an [Index].
type Option func(*Index)

// WithSearchThreshold sets the maximum score at which a phrase is included
// in query results. Default: [DefaultSearchThreshold].
func WithSearchThreshold(threshold float64) Option {
	return func(ix *Index) {
		ix.searchThreshold = threshold
	}
}

// entry is one indexed catalog phrase with its precomputed lookup forms.
type entry struct {
	cmd    command.Command
	lower  string
	sorted string
	codes  map[string]struct{}
}

// Index is an immutable phrase index over one catalog. Build a new Index and
// drop the old one whenever the catalog changes; never mutate in place.
// All methods are safe for concurrent use after construction.
type Index struct {
	entries         []entry
	searchThreshold float64
}

// Compile-time interface check.
var _ TextMatcher = (*Index)(nil)

// NewIndex builds the phrase index for cat. Construction is O(catalog size).
func NewIndex(cat command.Catalog, opts ...Option) *Index {
	ix := &Index{
		entries:         make([]entry, 0, cat.Len()),
		searchThreshold: DefaultSearchThreshold,
	}
	for _, o := range opts {
		o(ix)
	}

	for _, cmd := range cat.Commands() {
		lower := strings.ToLower(strings.TrimSpace(cmd.Phrase))
		tokens := strings.Fields(lower)
		ix.entries = append(ix.entries, entry{
			cmd:    cmd,
			lower:  lower,
			sorted: sortedForm(tokens),
			codes:  codesForTokens(tokens),
		})
	}
	return ix
}

// Query implements [TextMatcher].
func (ix *Index) Query(transcript string) []Result {
	lower := strings.ToLower(strings.TrimSpace(transcript))
	if lower == "" {
		return nil
	}
	tokens := strings.Fields(lower)
	sorted := sortedForm(tokens)
	codes := codesForTokens(tokens)

	var results []Result
	for i := range ix.entries {
		e := &ix.entries[i]
		if !codesOverlap(codes, e.codes) {
			continue
		}
		score := dissimilarity(lower, sorted, e.lower, e.sorted)
		if score <= ix.searchThreshold {
			results = append(results, Result{Command: &e.cmd, Score: score})
		}
	}

	// Stable sort keeps catalog insertion order for equal scores.
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score < results[b].Score
	})
	return results
}

// dissimilarity returns the normalized Levenshtein distance between the
// transcript and a phrase, taking the better of the raw and sorted-token
// comparisons. 0 means exact; 1 means no character in common.
func dissimilarity(tLower, tSorted, pLower, pSorted string) float64 {
	d := normalizedLevenshtein(tLower, pLower)
	if s := normalizedLevenshtein(tSorted, pSorted); s < d {
		d = s
	}
	return d
}

// normalizedLevenshtein divides the edit distance by the longer string's
// rune length, yielding a score in [0, 1].
func normalizedLevenshtein(a, b string) float64 {
	if a == b {
		return 0
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return float64(matchr.Levenshtein(a, b)) / float64(longest)
}

// sortedForm joins tokens in alphabetical order, normalizing word-order
// differences between transcript and phrase.
func sortedForm(tokens []string) string {
	if len(tokens) < 2 {
		return strings.Join(tokens, " ")
	}
	cp := make([]string, len(tokens))
	copy(cp, tokens)
	sort.Strings(cp)
	return strings.Join(cp, " ")
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when a word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
