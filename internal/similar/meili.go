package similar

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"vouch/api/internal/match"
)

const idxOrganizations = "vouch_organizations"

// Meili implements candidate search via Meilisearch. Ranking scores from
// Meilisearch are not trigram similarities, so hits are rescored with the
// same trigram measure pg_trgm uses; the resolution thresholds then mean the
// same thing regardless of which backend served the query.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the organizations
// index. The client starts unhealthy if the initial connection fails and
// recovers via the background health loop.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("similar: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxOrganizations,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("similar: create index %s (may already exist): %v", idxOrganizations, err)
	}

	index := m.client.Index(idxOrganizations)
	searchable := []string{"name", "normalizedName", "aliases"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("similar: update searchable attrs for %s: %v", idxOrganizations, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("similar: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// FindCandidates runs a typo-tolerant search and rescores the hits with
// trigram similarity against the hit's best-matching spelling.
func (m *Meili) FindCandidates(_ context.Context, normalized string, threshold float64) ([]Candidate, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if normalized == "" {
		return nil, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxOrganizations,
			Query:    normalized,
			Limit:    20,
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	candidates := make([]Candidate, 0)
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			candidate := hitToCandidate(hit, normalized)
			if candidate.Score >= threshold {
				candidates = append(candidates, candidate)
			}
		}
	}
	return orderCandidates(candidates), nil
}

func hitToCandidate(hit meili.Hit, normalized string) Candidate {
	c := Candidate{
		OrgID:          decodeString(hit, "id"),
		Name:           decodeString(hit, "name"),
		NormalizedName: decodeString(hit, "normalizedName"),
		ReviewCount:    decodeInt(hit, "reviewCount"),
	}
	c.Score = match.TrigramSimilarity(normalized, c.NormalizedName)
	for _, alias := range decodeStrings(hit, "aliases") {
		if score := match.TrigramSimilarity(normalized, alias); score > c.Score {
			c.Score = score
		}
	}
	return c
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	raw, ok := hit[key]
	if !ok {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err == nil {
		return values
	}
	return nil
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// IndexOrganization adds or updates one organization in the search index.
func (m *Meili) IndexOrganization(rec OrgRecord) error {
	_, err := m.client.Index(idxOrganizations).AddDocuments([]OrgRecord{rec}, nil)
	return err
}

// IndexOrganizations bulk-indexes organizations.
func (m *Meili) IndexOrganizations(records []OrgRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxOrganizations).AddDocuments(records, nil)
	return err
}

// DeleteOrganization removes an organization from the search index.
func (m *Meili) DeleteOrganization(id string) error {
	_, err := m.client.Index(idxOrganizations).DeleteDocument(id, nil)
	return err
}
