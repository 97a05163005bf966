// Package similar provides fuzzy lookup of organizations by normalized name,
// searching canonical names and aliases and returning the best score per
// organization. Meilisearch is the primary backend with PostgreSQL pg_trgm as
// the always-available fallback.
package similar

import "sort"

// maxCandidates caps every candidate list.
const maxCandidates = 5

// Candidate is one organization proposed as a possible match.
type Candidate struct {
	OrgID          string  `json:"orgId"`
	Name           string  `json:"name"`
	NormalizedName string  `json:"normalizedName"`
	Score          float64 `json:"score"`
	ReviewCount    int     `json:"reviewCount"`
}

// OrgRecord is the data indexed per organization. Aliases ride along so a
// single search covers every known spelling.
type OrgRecord struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	NormalizedName string   `json:"normalizedName"`
	Aliases        []string `json:"aliases"`
	ReviewCount    int      `json:"reviewCount"`
}

// orderCandidates sorts by score desc, then review volume desc, then id asc,
// and caps the list. The secondary ordering is the resolution tie-break.
func orderCandidates(candidates []Candidate) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].ReviewCount != candidates[j].ReviewCount {
			return candidates[i].ReviewCount > candidates[j].ReviewCount
		}
		return candidates[i].OrgID < candidates[j].OrgID
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}
