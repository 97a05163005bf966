// Package match holds the deterministic text matching primitives used by
// entity resolution: name normalization, ambiguity classification, and
// trigram similarity scoring.
package match

import (
	"regexp"
	"strings"
	"unicode"
)

// stopWords are dropped during normalization: organizational type words,
// connective words, and qualifiers that carry no identity.
var stopWords = map[string]struct{}{
	"university":    {},
	"college":       {},
	"institute":     {},
	"school":        {},
	"academy":       {},
	"polytechnic":   {},
	"the":           {},
	"a":             {},
	"an":            {},
	"of":            {},
	"for":           {},
	"and":           {},
	"at":            {},
	"in":            {},
	"international": {},
	"national":      {},
	"state":         {},
	"public":        {},
	"private":       {},
}

// knownAcronyms are inputs that are always treated as ambiguous regardless of
// shape, because they are established shorthand for specific institutions.
var knownAcronyms = map[string]struct{}{
	"aui":  {},
	"mit":  {},
	"ucla": {},
	"nyu":  {},
	"lse":  {},
	"aub":  {},
	"uct":  {},
	"usc":  {},
	"uiuc": {},
	"um6p": {},
}

var initialismPattern = regexp.MustCompile(`^([A-Za-z]\.)+[A-Za-z]?\.?$`)

// Normalize produces the canonical matching form of a name: lowercase,
// punctuation stripped (hyphens become spaces), stop words removed,
// whitespace collapsed. Pure and total; empty input yields "".
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '-':
			b.WriteRune(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	kept := words[:0]
	for _, word := range words {
		if _, skip := stopWords[word]; skip {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}

// IsAmbiguous reports whether deterministic normalization alone cannot be
// trusted for this input, gating whether external resolution may run at all.
func IsAmbiguous(input string) bool {
	trimmed := strings.TrimSpace(input)
	if len([]rune(trimmed)) <= 2 {
		return true
	}
	if _, known := knownAcronyms[strings.ToLower(trimmed)]; known {
		return true
	}
	if isAllUpper(trimmed) && len(trimmed) <= 5 {
		return true
	}
	for _, r := range trimmed {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return initialismPattern.MatchString(trimmed)
}

func isAllUpper(s string) bool {
	sawLetter := false
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
		sawLetter = true
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return sawLetter
}

// TrigramSimilarity scores two strings with pg_trgm's similarity(): the
// distinct trigram sets of both sides, shared count divided by union size.
// Identical strings score 1.0; small edits degrade the score gradually.
// Inputs are expected to be normalized already. The measure matches the SQL
// backend's, so a threshold means the same thing whichever backend scored
// the candidate.
func TrigramSimilarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// trigrams returns the distinct character trigrams of s, extracted the way
// pg_trgm extracts them: per word, each padded with two leading spaces and
// one trailing space, so trigrams never span a word boundary.
func trigrams(s string) map[string]struct{} {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	set := make(map[string]struct{}, 8*len(words))
	for _, word := range words {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}
