// Package digest derives the per-organization aggregate stats and sentiment
// digest from the approved review set. Both are pure computations invoked by
// the store inside the same transaction as the review mutation that made them
// stale, so readers never see a digest behind the committed reviews.
package digest

import (
	"sort"
	"strings"
	"time"
)

const (
	sampleLimit     = 3
	sampleMaxLen    = 80
	sampleSeparator = " | "

	TonePositive = "positive"
	ToneMixed    = "mixed"
	ToneCritical = "critical"

	// Sentinels used when a sample side is empty.
	NoPositiveSample = "No positive reviews yet"
	NoNegativeSample = "No negative reviews yet"
)

// Review is the slice of a feedback item the digest needs.
type Review struct {
	Category  string
	Rating    int
	Body      string
	CreatedAt time.Time
}

// CategoryStat is the per-category slice of the aggregate.
type CategoryStat struct {
	Count   int
	Average float64
}

// AggregateStats is fully derived from the approved review set.
type AggregateStats struct {
	TotalReviews  int
	AverageRating float64
	PerCategory   map[string]CategoryStat
}

// Digest is the compact summary handed to answer generation instead of the
// raw review corpus.
type Digest struct {
	Tone           string
	PositiveSample string
	NegativeSample string
	UpdatedAt      time.Time
}

// Stats computes the aggregate over approved reviews.
func Stats(approved []Review) AggregateStats {
	stats := AggregateStats{}
	if len(approved) == 0 {
		return stats
	}

	sum := 0
	perCategory := make(map[string]CategoryStat)
	categorySums := make(map[string]int)
	for _, review := range approved {
		sum += review.Rating
		entry := perCategory[review.Category]
		entry.Count++
		perCategory[review.Category] = entry
		categorySums[review.Category] += review.Rating
	}
	for category, entry := range perCategory {
		entry.Average = float64(categorySums[category]) / float64(entry.Count)
		perCategory[category] = entry
	}

	stats.TotalReviews = len(approved)
	stats.AverageRating = float64(sum) / float64(len(approved))
	stats.PerCategory = perCategory
	return stats
}

// Build selects the sample phrases and tone for the digest. Positive samples
// are the strongest recent praise (rating >= 4, rating desc then recency
// desc); negative samples are the harshest recent criticism (rating <= 2,
// rating asc then recency desc). Each sample is truncated so downstream
// prompt size stays bounded no matter how large the review corpus grows.
func Build(approved []Review, averageRating float64) Digest {
	var positives, negatives []Review
	for _, review := range approved {
		switch {
		case review.Rating >= 4:
			positives = append(positives, review)
		case review.Rating <= 2:
			negatives = append(negatives, review)
		}
	}

	sort.SliceStable(positives, func(i, j int) bool {
		if positives[i].Rating != positives[j].Rating {
			return positives[i].Rating > positives[j].Rating
		}
		return positives[i].CreatedAt.After(positives[j].CreatedAt)
	})
	sort.SliceStable(negatives, func(i, j int) bool {
		if negatives[i].Rating != negatives[j].Rating {
			return negatives[i].Rating < negatives[j].Rating
		}
		return negatives[i].CreatedAt.After(negatives[j].CreatedAt)
	})

	tone := ToneCritical
	switch {
	case averageRating >= 4.0:
		tone = TonePositive
	case averageRating >= 3.0:
		tone = ToneMixed
	}

	return Digest{
		Tone:           tone,
		PositiveSample: joinSamples(positives, NoPositiveSample),
		NegativeSample: joinSamples(negatives, NoNegativeSample),
		UpdatedAt:      time.Now().UTC(),
	}
}

func joinSamples(reviews []Review, sentinel string) string {
	if len(reviews) == 0 {
		return sentinel
	}
	if len(reviews) > sampleLimit {
		reviews = reviews[:sampleLimit]
	}
	parts := make([]string, 0, len(reviews))
	for _, review := range reviews {
		parts = append(parts, truncate(strings.TrimSpace(review.Body), sampleMaxLen))
	}
	return strings.Join(parts, sampleSeparator)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
