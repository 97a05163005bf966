// Package rank scores organizations against a free-text question and picks
// the handful most worth mentioning in a corpus-wide answer.
package rank

import (
	"sort"
	"strings"
	"unicode"

	"vouch/api/internal/store"
)

const (
	maxResults = 5

	ratingWeight = 0.4
	volumeWeight = 0.3
	volumeCap    = 2.0
	regionBonus  = 1.5
	keywordBonus = 1.0

	minTokenLen = 3
)

// Ranked pairs an organization with its computed relevance score.
type Ranked struct {
	Org   store.Organization `json:"organization"`
	Score float64            `json:"score"`
}

// ForQuery ranks organizations for a free-text question, optionally biased
// toward a region. Only organizations with at least one review are eligible;
// an empty result means "insufficient data", never an error.
func ForQuery(orgs []store.Organization, queryText, region string) []Ranked {
	tokens := queryTokens(queryText)
	region = strings.ToLower(strings.TrimSpace(region))

	ranked := make([]Ranked, 0, len(orgs))
	for _, org := range orgs {
		if org.Stats.TotalReviews <= 0 {
			continue
		}

		score := ratingWeight * org.Stats.AverageRating
		volume := float64(org.Stats.TotalReviews) / 10
		if volume > volumeCap {
			volume = volumeCap
		}
		score += volumeWeight * volume

		if region != "" && strings.Contains(strings.ToLower(org.Country), region) {
			score += regionBonus
		}
		if matchesKeyword(org, tokens) {
			score += keywordBonus
		}

		ranked = append(ranked, Ranked{Org: org, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Org.Stats.AverageRating > ranked[j].Org.Stats.AverageRating
	})
	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}
	return ranked
}

func matchesKeyword(org store.Organization, tokens []string) bool {
	name := strings.ToLower(org.DisplayName)
	description := strings.ToLower(org.Description)
	for _, token := range tokens {
		if strings.Contains(name, token) || strings.Contains(description, token) {
			return true
		}
	}
	return false
}

// queryTokens lowercases the question, strips punctuation, and keeps tokens
// long enough to carry meaning.
func queryTokens(queryText string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, queryText)

	var tokens []string
	for _, token := range strings.Fields(cleaned) {
		if len(token) >= minTokenLen {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
