package store

import "time"

// Review moderation statuses. The moderation decision itself happens outside
// this service; we only persist its outcome.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Digest tones.
const (
	TonePositive = "positive"
	ToneMixed    = "mixed"
	ToneCritical = "critical"
)

// Organization is the canonical record for one real-world organization, the
// unit of deduplication. Stats and Digest are derived from approved reviews
// and recomputed in the same transaction as every review mutation.
type Organization struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"displayName"`
	CanonicalName  string          `json:"canonicalName"`
	NormalizedName string          `json:"normalizedName"`
	Description    string          `json:"description,omitempty"`
	Location       string          `json:"location,omitempty"`
	Country        string          `json:"country,omitempty"`
	Stats          AggregateStats  `json:"stats"`
	Digest         SentimentDigest `json:"digest"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Alias maps an alternate spelling or acronym to exactly one organization.
type Alias struct {
	OrgID          string    `json:"orgId"`
	RawText        string    `json:"rawText"`
	NormalizedText string    `json:"normalizedText"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Review is one piece of moderated feedback for an organization.
type Review struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	Category  string    `json:"category"`
	Rating    int       `json:"rating"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryStat is the per-category slice of the aggregate.
type CategoryStat struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// AggregateStats is fully derived from the approved review set. Request
// handlers never mutate it directly.
type AggregateStats struct {
	TotalReviews  int                     `json:"totalReviews"`
	AverageRating float64                 `json:"averageRating"`
	PerCategory   map[string]CategoryStat `json:"perCategory,omitempty"`
}

// SentimentDigest is the compact summary handed to answer generation instead
// of the raw review corpus.
type SentimentDigest struct {
	Tone           string    `json:"tone"`
	PositiveSample string    `json:"positiveSample"`
	NegativeSample string    `json:"negativeSample"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
