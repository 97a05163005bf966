package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"vouch/api/internal/digest"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const organizationColumns = `
	id, display_name, canonical_name, normalized_name,
	COALESCE(description, ''), COALESCE(location, ''), COALESCE(country, ''),
	total_reviews, average_rating, COALESCE(category_stats::text, '{}'),
	COALESCE(digest_tone, ''), COALESCE(digest_positive, ''), COALESCE(digest_negative, ''),
	COALESCE(digest_updated_at, created_at), created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (Organization, error) {
	var org Organization
	var categoryStats string
	err := row.Scan(
		&org.ID,
		&org.DisplayName,
		&org.CanonicalName,
		&org.NormalizedName,
		&org.Description,
		&org.Location,
		&org.Country,
		&org.Stats.TotalReviews,
		&org.Stats.AverageRating,
		&categoryStats,
		&org.Digest.Tone,
		&org.Digest.PositiveSample,
		&org.Digest.NegativeSample,
		&org.Digest.UpdatedAt,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return Organization{}, err
	}
	if err := json.Unmarshal([]byte(categoryStats), &org.Stats.PerCategory); err != nil {
		log.Printf("store: decode category stats for %s: %v", org.ID, err)
	}
	return org, nil
}

func (s *PostgresStore) InsertOrganization(ctx context.Context, org Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, display_name, canonical_name, normalized_name, description, location, country)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (id) DO NOTHING
	`, org.ID, org.DisplayName, org.CanonicalName, org.NormalizedName, org.Description, org.Location, org.Country)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id=$1`, orgID)
	org, err := scanOrganization(row)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+organizationColumns+` FROM organizations ORDER BY display_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	return collectOrganizations(rows)
}

// ListReviewedOrganizations returns only organizations with at least one
// approved review, the eligible set for query ranking.
func (s *PostgresStore) ListReviewedOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+organizationColumns+`
		FROM organizations
		WHERE total_reviews > 0
		ORDER BY average_rating DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list reviewed organizations: %w", err)
	}
	defer rows.Close()
	return collectOrganizations(rows)
}

func collectOrganizations(rows *sql.Rows) ([]Organization, error) {
	items := make([]Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

// UpsertAlias records an alternate spelling for an organization. A normalized
// alias belongs to exactly one organization; re-inserting the same alias is a
// no-op, and the first owner wins on conflict.
func (s *PostgresStore) UpsertAlias(ctx context.Context, alias Alias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_aliases (org_id, raw_text, normalized_text)
		VALUES ($1, $2, $3)
		ON CONFLICT (normalized_text) DO NOTHING
	`, alias.OrgID, alias.RawText, alias.NormalizedText)
	if err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAliases(ctx context.Context, orgID string) ([]Alias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, raw_text, normalized_text, created_at
		FROM org_aliases
		WHERE org_id=$1
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	items := make([]Alias, 0)
	for rows.Next() {
		var item Alias
		if err := rows.Scan(&item.OrgID, &item.RawText, &item.NormalizedText, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var item Review
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, category, rating, body, status, created_at
		FROM reviews
		WHERE id=$1
	`, reviewID).Scan(&item.ID, &item.OrgID, &item.Category, &item.Rating, &item.Body, &item.Status, &item.CreatedAt)
	if err != nil {
		return Review{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, orgID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, category, rating, body, status, created_at
		FROM reviews
		WHERE org_id=$1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	return collectReviews(rows)
}

// InsertReview persists a review and recomputes the owning organization's
// aggregate and digest in the same transaction, so readers never observe the
// review without its derived state.
func (s *PostgresStore) InsertReview(ctx context.Context, review Review) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (id, org_id, category, rating, body, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, review.ID, review.OrgID, review.Category, review.Rating, review.Body, review.Status)
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		return s.recomputeDerived(ctx, tx, review.OrgID)
	})
}

// SetReviewStatus updates moderation status and recomputes derived state.
// Returns false when the review does not exist.
func (s *PostgresStore) SetReviewStatus(ctx context.Context, reviewID, status string) (bool, error) {
	found := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var orgID string
		err := tx.QueryRowContext(ctx, `
			UPDATE reviews SET status=$2 WHERE id=$1 RETURNING org_id
		`, reviewID, status).Scan(&orgID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("update review status: %w", err)
		}
		found = true
		return s.recomputeDerived(ctx, tx, orgID)
	})
	return found, err
}

// DeleteReview removes a review and recomputes derived state. Returns false
// when the review does not exist.
func (s *PostgresStore) DeleteReview(ctx context.Context, reviewID string) (bool, error) {
	found := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var orgID string
		err := tx.QueryRowContext(ctx, `
			DELETE FROM reviews WHERE id=$1 RETURNING org_id
		`, reviewID).Scan(&orgID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete review: %w", err)
		}
		found = true
		return s.recomputeDerived(ctx, tx, orgID)
	})
	return found, err
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) recomputeDerived(ctx context.Context, tx *sql.Tx, orgID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, org_id, category, rating, body, status, created_at
		FROM reviews
		WHERE org_id=$1 AND status=$2
		ORDER BY created_at DESC
	`, orgID, ReviewApproved)
	if err != nil {
		return fmt.Errorf("load approved reviews: %w", err)
	}
	approved, err := collectReviews(rows)
	rows.Close()
	if err != nil {
		return err
	}

	entries := make([]digest.Review, 0, len(approved))
	for _, review := range approved {
		entries = append(entries, digest.Review{
			Category:  review.Category,
			Rating:    review.Rating,
			Body:      review.Body,
			CreatedAt: review.CreatedAt,
		})
	}
	stats := digest.Stats(entries)
	d := digest.Build(entries, stats.AverageRating)

	perCategory := make(map[string]CategoryStat, len(stats.PerCategory))
	for category, entry := range stats.PerCategory {
		perCategory[category] = CategoryStat{Count: entry.Count, Average: entry.Average}
	}
	encoded, err := json.Marshal(perCategory)
	if err != nil {
		return fmt.Errorf("marshal category stats: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE organizations
		SET total_reviews=$2, average_rating=$3, category_stats=$4::jsonb,
			digest_tone=$5, digest_positive=$6, digest_negative=$7, digest_updated_at=$8,
			updated_at=NOW()
		WHERE id=$1
	`, orgID, stats.TotalReviews, stats.AverageRating, string(encoded),
		d.Tone, d.PositiveSample, d.NegativeSample, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update derived state: %w", err)
	}
	return nil
}

func collectReviews(rows *sql.Rows) ([]Review, error) {
	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Category, &item.Rating, &item.Body, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
