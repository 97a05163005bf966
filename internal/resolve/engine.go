// Package resolve implements phased entity resolution: deterministic
// matching first, external reasoning only for ambiguous inputs, creation as
// the terminal outcome when nothing matches.
package resolve

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"vouch/api/internal/cache"
	"vouch/api/internal/match"
	"vouch/api/internal/similar"
	"vouch/api/internal/store"
	"vouch/api/internal/util"
)

// Match thresholds. Both are inclusive lower bounds: a candidate scoring
// exactly 0.70 is a high-confidence match.
const (
	highConfidence = 0.70
	lowConfidence  = 0.40
)

// Input is a raw submission naming an organization.
type Input struct {
	Name        string `json:"name"`
	Location    string `json:"location,omitempty"`
	Country     string `json:"country,omitempty"`
	Description string `json:"description,omitempty"`
}

// Outcome reports where a submission landed. UsedExternal records whether the
// reasoning service (or its cached result) contributed the resolved identity.
type Outcome struct {
	Org          store.Organization `json:"organization"`
	IsExisting   bool               `json:"isExisting"`
	UsedExternal bool               `json:"usedExternal"`
}

type dataStore interface {
	InsertOrganization(ctx context.Context, org store.Organization) error
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	UpsertAlias(ctx context.Context, alias store.Alias) error
	ListAliases(ctx context.Context, orgID string) ([]store.Alias, error)
}

type similarityIndex interface {
	FindCandidates(ctx context.Context, normalized string, threshold float64) ([]similar.Candidate, error)
	IndexOrganization(rec similar.OrgRecord)
}

// Reasoner maps a raw ambiguous name to a canonical identity using an
// external language model.
type Reasoner interface {
	NormalizeOrganizationName(ctx context.Context, raw string) (cache.NormalizationResult, error)
}

type normCache interface {
	Get(ctx context.Context, raw string) (cache.NormalizationResult, bool)
	Put(ctx context.Context, raw string, result cache.NormalizationResult)
}

// Engine orchestrates the resolution phases. The reasoner may be nil, in
// which case ambiguous inputs resolve deterministically like everything else.
type Engine struct {
	store    dataStore
	index    similarityIndex
	reasoner Reasoner
	cache    normCache
}

func NewEngine(dataStore dataStore, index similarityIndex, reasoner Reasoner, cache normCache) *Engine {
	return &Engine{store: dataStore, index: index, reasoner: reasoner, cache: cache}
}

// Resolve runs the phases in order and stops at the first terminal outcome.
// Two concurrent resolutions of the same brand-new name can both reach
// creation and produce near-duplicate organizations; that race is accepted
// rather than serialized (later resolutions converge on the higher-scoring
// survivor).
func (e *Engine) Resolve(ctx context.Context, in Input) (Outcome, error) {
	raw := strings.TrimSpace(in.Name)
	normalized := match.Normalize(raw)

	// Phase 1: deterministic high confidence. No external call.
	candidates, err := e.index.FindCandidates(ctx, normalized, highConfidence)
	if err != nil {
		return Outcome{}, fmt.Errorf("high-confidence search: %w", err)
	}
	if len(candidates) > 0 {
		return e.attachAlias(ctx, candidates[0].OrgID, raw, normalized, false)
	}

	// Phase 2: unambiguous inputs never reach the reasoning service. A
	// low-confidence hit still resolves; otherwise create deterministically.
	if !match.IsAmbiguous(raw) {
		candidates, err = e.index.FindCandidates(ctx, normalized, lowConfidence)
		if err != nil {
			return Outcome{}, fmt.Errorf("low-confidence search: %w", err)
		}
		if len(candidates) > 0 {
			return e.attachAlias(ctx, candidates[0].OrgID, raw, normalized, false)
		}
		deterministic := cache.NormalizationResult{
			Input:          raw,
			NormalizedName: normalized,
			DisplayName:    raw,
			Location:       in.Location,
			Country:        in.Country,
		}
		return e.create(ctx, in, deterministic, false)
	}

	// Phase 3: external resolution, memoized. Failure falls back silently.
	resolved, usedExternal := e.resolveExternalOrFallback(ctx, raw, normalized, in)

	// Phase 4: re-match under the resolved identity.
	resolvedNormalized := resolved.NormalizedName
	candidates, err = e.index.FindCandidates(ctx, resolvedNormalized, lowConfidence)
	if err != nil {
		return Outcome{}, fmt.Errorf("post-resolution search: %w", err)
	}
	if len(candidates) > 0 {
		outcome, err := e.attachAlias(ctx, candidates[0].OrgID, raw, normalized, usedExternal)
		if err != nil {
			return Outcome{}, err
		}
		// Keep the resolved spelling as an alias too when it is distinct.
		if resolvedNormalized != normalized && resolvedNormalized != outcome.Org.NormalizedName {
			if err := e.store.UpsertAlias(ctx, store.Alias{
				OrgID:          outcome.Org.ID,
				RawText:        resolved.DisplayName,
				NormalizedText: resolvedNormalized,
			}); err != nil {
				log.Printf("resolve: alias resolved spelling %q: %v", resolvedNormalized, err)
			}
		}
		return outcome, nil
	}

	// Phase 5: nothing matched anywhere; create.
	return e.create(ctx, in, resolved, usedExternal)
}

// resolveExternalOrFallback is the combinator behind "best-effort external
// call": it always succeeds, returning either the external (possibly cached)
// identity or the deterministic one, tagged with its origin. Whichever
// identity wins is memoized, so repeated ambiguous submissions of the same
// spelling settle on one answer for the cache TTL.
func (e *Engine) resolveExternalOrFallback(ctx context.Context, raw, normalized string, in Input) (cache.NormalizationResult, bool) {
	fallback := cache.NormalizationResult{
		Input:          raw,
		NormalizedName: normalized,
		DisplayName:    raw,
		Location:       in.Location,
		Country:        in.Country,
	}

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, raw); ok {
			return cached, cached.FromReasoner
		}
	}
	if e.reasoner == nil {
		e.cachePut(ctx, raw, fallback)
		return fallback, false
	}

	resolved, err := e.reasoner.NormalizeOrganizationName(ctx, raw)
	if err != nil {
		log.Printf("resolve: reasoning service failed for %q, using deterministic form: %v", raw, err)
		e.cachePut(ctx, raw, fallback)
		return fallback, false
	}

	resolved.Input = raw
	resolved.FromReasoner = true
	if resolved.DisplayName == "" {
		resolved.DisplayName = raw
	}
	if resolved.NormalizedName == "" {
		resolved.NormalizedName = match.Normalize(resolved.DisplayName)
	}
	e.cachePut(ctx, raw, resolved)
	return resolved, true
}

func (e *Engine) cachePut(ctx context.Context, raw string, result cache.NormalizationResult) {
	if e.cache != nil {
		e.cache.Put(ctx, raw, result)
	}
}

func (e *Engine) attachAlias(ctx context.Context, orgID, raw, normalized string, usedExternal bool) (Outcome, error) {
	org, err := e.store.GetOrganization(ctx, orgID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load matched organization: %w", err)
	}

	// Only a genuinely different spelling becomes an alias. The upsert is an
	// idempotent no-op when the alias already exists.
	if normalized != "" && normalized != org.NormalizedName {
		if err := e.store.UpsertAlias(ctx, store.Alias{
			OrgID:          orgID,
			RawText:        raw,
			NormalizedText: normalized,
		}); err != nil {
			return Outcome{}, fmt.Errorf("attach alias: %w", err)
		}
		e.reindex(ctx, org)
	}

	return Outcome{Org: org, IsExisting: true, UsedExternal: usedExternal}, nil
}

func (e *Engine) create(ctx context.Context, in Input, resolved cache.NormalizationResult, usedExternal bool) (Outcome, error) {
	displayName := strings.TrimSpace(resolved.DisplayName)
	if displayName == "" {
		displayName = strings.TrimSpace(in.Name)
	}
	normalizedName := resolved.NormalizedName
	if normalizedName == "" {
		normalizedName = match.Normalize(displayName)
	}

	now := time.Now().UTC()
	org := store.Organization{
		ID:             util.NewID("org"),
		DisplayName:    displayName,
		CanonicalName:  displayName,
		NormalizedName: normalizedName,
		Description:    strings.TrimSpace(in.Description),
		Location:       firstNonEmpty(resolved.Location, in.Location),
		Country:        firstNonEmpty(resolved.Country, in.Country),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.InsertOrganization(ctx, org); err != nil {
		return Outcome{}, fmt.Errorf("create organization: %w", err)
	}

	// The raw spelling stays reachable as an alias when it normalizes
	// differently from the resolved canonical form (e.g. the acronym that
	// external resolution expanded).
	rawNormalized := match.Normalize(in.Name)
	if rawNormalized != "" && rawNormalized != normalizedName {
		if err := e.store.UpsertAlias(ctx, store.Alias{
			OrgID:          org.ID,
			RawText:        strings.TrimSpace(in.Name),
			NormalizedText: rawNormalized,
		}); err != nil {
			log.Printf("resolve: alias raw spelling %q: %v", rawNormalized, err)
		}
	}

	e.reindex(ctx, org)
	return Outcome{Org: org, IsExisting: false, UsedExternal: usedExternal}, nil
}

// reindex refreshes the organization's search document with its current alias
// set. Best-effort: the pg_trgm fallback reads live tables regardless.
func (e *Engine) reindex(ctx context.Context, org store.Organization) {
	aliases, err := e.store.ListAliases(ctx, org.ID)
	if err != nil {
		log.Printf("resolve: list aliases for reindex: %v", err)
	}
	rec := similar.OrgRecord{
		ID:             org.ID,
		Name:           org.DisplayName,
		NormalizedName: org.NormalizedName,
		ReviewCount:    org.Stats.TotalReviews,
	}
	for _, alias := range aliases {
		rec.Aliases = append(rec.Aliases, alias.NormalizedText)
	}
	e.index.IndexOrganization(rec)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
