package similar

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// pg_trgm. Candidate search never fails just because the enhancement layer
// is down.
type Service struct {
	meili  *Meili
	pgtrgm *PgTrgm
}

// NewService creates a similarity service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgtrgm *PgTrgm) *Service {
	return &Service{meili: meili, pgtrgm: pgtrgm}
}

// FindCandidates returns the top matches for a normalized query with scores
// at or above the threshold.
func (s *Service) FindCandidates(ctx context.Context, normalized string, threshold float64) ([]Candidate, error) {
	if s.meili != nil && s.meili.Healthy() {
		candidates, err := s.meili.FindCandidates(ctx, normalized, threshold)
		if err == nil {
			return candidates, nil
		}
		log.Printf("similar: meilisearch error, falling back to pg_trgm: %v", err)
	}
	return s.pgtrgm.FindCandidates(ctx, normalized, threshold)
}

// IndexOrganization pushes one organization into Meilisearch
// (fire-and-forget; pg_trgm reads live tables and needs no indexing step).
func (s *Service) IndexOrganization(rec OrgRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexOrganization(rec); err != nil {
			log.Printf("similar: index organization %s: %v", rec.ID, err)
		}
	}()
}

// DeleteOrganization removes an organization from Meilisearch (fire-and-forget).
func (s *Service) DeleteOrganization(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteOrganization(id); err != nil {
			log.Printf("similar: delete organization %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the full organization set to Meilisearch. Called during
// bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAll(records []OrgRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexOrganizations(records); err != nil {
		log.Printf("similar: reindex organizations: %v", err)
	}
}
