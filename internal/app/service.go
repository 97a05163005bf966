package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"vouch/api/internal/cache"
	"vouch/api/internal/rank"
	"vouch/api/internal/resolve"
	"vouch/api/internal/similar"
	"vouch/api/internal/store"
	"vouch/api/internal/util"
)

type dataStore interface {
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	ListOrganizations(ctx context.Context) ([]store.Organization, error)
	ListReviewedOrganizations(ctx context.Context) ([]store.Organization, error)
	ListAliases(ctx context.Context, orgID string) ([]store.Alias, error)
	GetReview(ctx context.Context, reviewID string) (store.Review, error)
	ListReviews(ctx context.Context, orgID string) ([]store.Review, error)
	InsertReview(ctx context.Context, review store.Review) error
	SetReviewStatus(ctx context.Context, reviewID, status string) (bool, error)
	DeleteReview(ctx context.Context, reviewID string) (bool, error)
	Ping(ctx context.Context) error
}

type resolver interface {
	Resolve(ctx context.Context, in resolve.Input) (resolve.Outcome, error)
}

type searchIndex interface {
	IndexOrganization(rec similar.OrgRecord)
	ReindexAll(records []similar.OrgRecord)
}

// Generator produces natural-language answers from a prompt.
type Generator interface {
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// Service holds the application use cases behind the HTTP layer. The
// generator may be nil; answers then fall back to deterministic summaries
// built from stored digests. The answer cache is always present and degrades
// to a permanent miss without Redis.
type Service struct {
	store     dataStore
	resolver  resolver
	search    searchIndex
	generator Generator
	answers   *cache.AnswerCache
}

func New(dataStore dataStore, resolver resolver, search searchIndex, generator Generator, answers *cache.AnswerCache) *Service {
	return &Service{
		store:     dataStore,
		resolver:  resolver,
		search:    search,
		generator: generator,
		answers:   answers,
	}
}

var allowedCategories = map[string]struct{}{
	"academics":  {},
	"facilities": {},
	"faculty":    {},
	"housing":    {},
	"value":      {},
}

var allowedStatuses = map[string]struct{}{
	store.ReviewPending:  {},
	store.ReviewApproved: {},
	store.ReviewRejected: {},
}

func categoryList() []string {
	names := make([]string, 0, len(allowedCategories))
	for name := range allowedCategories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveOrganization maps a raw name to its canonical organization,
// creating one when nothing matches.
func (s *Service) ResolveOrganization(ctx context.Context, in resolve.Input) (resolve.Outcome, error) {
	if strings.TrimSpace(in.Name) == "" {
		return resolve.Outcome{}, domainError(http.StatusBadRequest, "INVALID_NAME", "Organization name is required", nil)
	}
	return s.resolver.Resolve(ctx, in)
}

// OrganizationDetail is the public read model: the organization, its known
// spellings, and its approved reviews.
type OrganizationDetail struct {
	Organization store.Organization `json:"organization"`
	Aliases      []store.Alias      `json:"aliases"`
	Reviews      []store.Review     `json:"reviews"`
}

func (s *Service) GetOrganization(ctx context.Context, orgID string) (OrganizationDetail, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return OrganizationDetail{}, err
	}
	aliases, err := s.store.ListAliases(ctx, orgID)
	if err != nil {
		return OrganizationDetail{}, err
	}
	reviews, err := s.store.ListReviews(ctx, orgID)
	if err != nil {
		return OrganizationDetail{}, err
	}
	approved := make([]store.Review, 0, len(reviews))
	for _, review := range reviews {
		if review.Status == store.ReviewApproved {
			approved = append(approved, review)
		}
	}
	return OrganizationDetail{Organization: org, Aliases: aliases, Reviews: approved}, nil
}

func (s *Service) ListOrganizations(ctx context.Context) ([]store.Organization, error) {
	return s.store.ListOrganizations(ctx)
}

type SubmitReviewInput struct {
	OrganizationName string `json:"organizationName"`
	Location         string `json:"location,omitempty"`
	Country          string `json:"country,omitempty"`
	Category         string `json:"category"`
	Rating           int    `json:"rating"`
	Body             string `json:"body"`
}

// SubmitReview resolves the named organization, then records a pending
// review against it. The review only counts toward aggregates and digests
// once approved.
func (s *Service) SubmitReview(ctx context.Context, in SubmitReviewInput) (store.Review, resolve.Outcome, error) {
	if _, ok := allowedCategories[in.Category]; !ok {
		return store.Review{}, resolve.Outcome{}, domainError(http.StatusBadRequest, "INVALID_CATEGORY", "Unknown review category", map[string]any{"allowed": categoryList()})
	}
	if in.Rating < 1 || in.Rating > 5 {
		return store.Review{}, resolve.Outcome{}, domainError(http.StatusBadRequest, "INVALID_RATING", "Rating must be between 1 and 5", nil)
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return store.Review{}, resolve.Outcome{}, domainError(http.StatusBadRequest, "INVALID_BODY", "Review body is required", nil)
	}

	outcome, err := s.ResolveOrganization(ctx, resolve.Input{
		Name:     in.OrganizationName,
		Location: in.Location,
		Country:  in.Country,
	})
	if err != nil {
		return store.Review{}, resolve.Outcome{}, err
	}

	review := store.Review{
		ID:       util.NewID("rev"),
		OrgID:    outcome.Org.ID,
		Category: in.Category,
		Rating:   in.Rating,
		Body:     body,
		Status:   store.ReviewPending,
	}
	if err := s.store.InsertReview(ctx, review); err != nil {
		return store.Review{}, resolve.Outcome{}, fmt.Errorf("submit review: %w", err)
	}
	return review, outcome, nil
}

// SetReviewStatus moderates a review and refreshes everything derived from
// it: the organization's search document and its cached answers.
func (s *Service) SetReviewStatus(ctx context.Context, reviewID, status string) (store.Review, error) {
	if _, ok := allowedStatuses[status]; !ok {
		return store.Review{}, domainError(http.StatusBadRequest, "INVALID_STATUS", "Unknown review status", nil)
	}
	found, err := s.store.SetReviewStatus(ctx, reviewID, status)
	if err != nil {
		return store.Review{}, fmt.Errorf("set review status: %w", err)
	}
	if !found {
		return store.Review{}, domainError(http.StatusNotFound, "REVIEW_NOT_FOUND", "Review not found", nil)
	}
	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return store.Review{}, err
	}
	s.afterReviewChange(ctx, review.OrgID)
	return review, nil
}

func (s *Service) DeleteReview(ctx context.Context, reviewID string) error {
	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	found, err := s.store.DeleteReview(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if !found {
		return domainError(http.StatusNotFound, "REVIEW_NOT_FOUND", "Review not found", nil)
	}
	s.afterReviewChange(ctx, review.OrgID)
	return nil
}

// afterReviewChange refreshes the organization's search document (review
// counts break candidate ties) and evicts its cached answers.
func (s *Service) afterReviewChange(ctx context.Context, orgID string) {
	s.answers.InvalidateEntity(ctx, orgID)

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		log.Printf("app: refresh organization %s after review change: %v", orgID, err)
		return
	}
	s.search.IndexOrganization(s.orgRecord(ctx, org))
}

// Answer is a generated (or cached) natural-language response.
type Answer struct {
	Answer string `json:"answer"`
	Cached bool   `json:"cached"`
}

const insufficientDataAnswer = "Not enough reviews yet to answer that. Check back once organizations in this area have approved reviews."

// AskOrganization answers a question about one organization from its stored
// digest and aggregates only. Raw review bodies never reach the prompt.
func (s *Service) AskOrganization(ctx context.Context, orgID, query string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, domainError(http.StatusBadRequest, "INVALID_QUERY", "Question text is required", nil)
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return Answer{}, err
	}

	key := cache.EntityAnswerKey(orgID, query)
	return s.getOrBuildAnswer(ctx, key, func() (string, bool, error) {
		fallback := entitySummary(org)
		if org.Stats.TotalReviews == 0 {
			return insufficientDataAnswer, true, nil
		}
		prompt := entityPrompt(org, query)
		return s.generate(ctx, prompt, fallback)
	})
}

// AskGlobal answers a corpus-wide question by ranking reviewed organizations
// against the query and region, then summarizing the top candidates.
func (s *Service) AskGlobal(ctx context.Context, query, region string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, domainError(http.StatusBadRequest, "INVALID_QUERY", "Question text is required", nil)
	}

	key := cache.GlobalAnswerKey(query, region)
	return s.getOrBuildAnswer(ctx, key, func() (string, bool, error) {
		orgs, err := s.store.ListReviewedOrganizations(ctx)
		if err != nil {
			return "", false, err
		}
		ranked := rank.ForQuery(orgs, query, region)
		if len(ranked) == 0 {
			return insufficientDataAnswer, true, nil
		}
		return s.generate(ctx, globalPrompt(ranked, query, region), globalSummary(ranked))
	})
}

// getOrBuildAnswer is the cache-aside path shared by both question scopes.
// Only answers the builder marks cacheable are written back, so a degraded
// fallback never shadows a real answer for a full TTL.
func (s *Service) getOrBuildAnswer(ctx context.Context, key cache.AnswerKey, build func() (string, bool, error)) (Answer, error) {
	if text, ok := s.answers.Get(ctx, key); ok {
		return Answer{Answer: text, Cached: true}, nil
	}
	text, cacheable, err := build()
	if err != nil {
		return Answer{}, err
	}
	if cacheable {
		s.answers.Put(ctx, key, text)
	}
	return Answer{Answer: text}, nil
}

// generate calls the language model, falling back to the deterministic
// summary when the model is unconfigured or fails. Fallbacks are not
// cacheable.
func (s *Service) generate(ctx context.Context, prompt, fallback string) (string, bool, error) {
	if s.generator == nil {
		return fallback, false, nil
	}
	text, err := s.generator.GenerateAnswer(ctx, prompt)
	if err != nil {
		log.Printf("app: answer generation failed, using summary: %v", err)
		return fallback, false, nil
	}
	return text, true, nil
}

func entityPrompt(org store.Organization, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You answer questions about %s using only the data below. Be concise and factual.\n\n", org.DisplayName)
	fmt.Fprintf(&b, "%s\n\nQuestion: %s\nAnswer:", entitySummary(org), strings.TrimSpace(query))
	return b.String()
}

func entitySummary(org store.Organization) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", org.DisplayName)
	if place := strings.Trim(org.Location+", "+org.Country, ", "); place != "" {
		fmt.Fprintf(&b, " (%s)", place)
	}
	fmt.Fprintf(&b, ": %d approved reviews, average rating %.1f out of 5.", org.Stats.TotalReviews, org.Stats.AverageRating)
	if org.Digest.Tone != "" {
		fmt.Fprintf(&b, " Overall tone: %s.", org.Digest.Tone)
	}
	if org.Digest.PositiveSample != "" {
		fmt.Fprintf(&b, " Reviewers liked: %s.", org.Digest.PositiveSample)
	}
	if org.Digest.NegativeSample != "" {
		fmt.Fprintf(&b, " Reviewers criticized: %s.", org.Digest.NegativeSample)
	}
	return b.String()
}

func globalPrompt(ranked []rank.Ranked, query, region string) string {
	var b strings.Builder
	b.WriteString("You recommend organizations using only the candidates below. Be concise and factual.\n\n")
	if strings.TrimSpace(region) != "" {
		fmt.Fprintf(&b, "Region of interest: %s\n", strings.TrimSpace(region))
	}
	b.WriteString("Candidates:\n")
	for i, r := range ranked {
		fmt.Fprintf(&b, "%d. %s\n", i+1, entitySummary(r.Org))
	}
	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", strings.TrimSpace(query))
	return b.String()
}

func globalSummary(ranked []rank.Ranked) string {
	names := make([]string, 0, len(ranked))
	for _, r := range ranked {
		names = append(names, fmt.Sprintf("%s (%.1f/5, %d reviews)", r.Org.DisplayName, r.Org.Stats.AverageRating, r.Org.Stats.TotalReviews))
	}
	return "Top matches based on approved reviews: " + strings.Join(names, "; ") + "."
}

// Bootstrap pushes the current organization set into the search index.
// Called once at startup so Meilisearch reflects the database.
func (s *Service) Bootstrap(ctx context.Context) error {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	records := make([]similar.OrgRecord, 0, len(orgs))
	for _, org := range orgs {
		records = append(records, s.orgRecord(ctx, org))
	}
	s.search.ReindexAll(records)
	return nil
}

func (s *Service) orgRecord(ctx context.Context, org store.Organization) similar.OrgRecord {
	rec := similar.OrgRecord{
		ID:             org.ID,
		Name:           org.DisplayName,
		NormalizedName: org.NormalizedName,
		ReviewCount:    org.Stats.TotalReviews,
	}
	aliases, err := s.store.ListAliases(ctx, org.ID)
	if err != nil {
		log.Printf("app: list aliases for %s: %v", org.ID, err)
		return rec
	}
	for _, alias := range aliases {
		rec.Aliases = append(rec.Aliases, alias.NormalizedText)
	}
	return rec
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
