package store

import (
	"context"
	"os"
	"testing"

	"vouch/api/internal/util"
)

func testDB(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func createOrg(t *testing.T, s *PostgresStore, name, normalized string) Organization {
	t.Helper()
	ctx := context.Background()
	org := Organization{
		ID:             util.NewID("org"),
		DisplayName:    name,
		CanonicalName:  name,
		NormalizedName: normalized,
	}
	if err := s.InsertOrganization(ctx, org); err != nil {
		t.Fatalf("insert organization: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.DB().ExecContext(context.Background(), `DELETE FROM organizations WHERE id=$1`, org.ID)
	})
	return org
}

func TestReviewLifecycleRecomputesDerivedState(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	org := createOrg(t, s, "Lifecycle Test Org "+util.NewID(""), "lifecycle "+util.NewID(""))

	first := Review{ID: util.NewID("rev"), OrgID: org.ID, Category: "housing", Rating: 5, Body: "Spotless dorms", Status: ReviewApproved}
	if err := s.InsertReview(ctx, first); err != nil {
		t.Fatalf("insert review: %v", err)
	}
	second := Review{ID: util.NewID("rev"), OrgID: org.ID, Category: "value", Rating: 1, Body: "Overpriced meals", Status: ReviewApproved}
	if err := s.InsertReview(ctx, second); err != nil {
		t.Fatalf("insert second review: %v", err)
	}

	loaded, err := s.GetOrganization(ctx, org.ID)
	if err != nil {
		t.Fatalf("get organization: %v", err)
	}
	if loaded.Stats.TotalReviews != 2 || loaded.Stats.AverageRating != 3.0 {
		t.Fatalf("stats = %+v", loaded.Stats)
	}
	if loaded.Digest.Tone != ToneMixed {
		t.Fatalf("tone = %q", loaded.Digest.Tone)
	}
	if loaded.Stats.PerCategory["housing"].Count != 1 {
		t.Fatalf("per-category = %+v", loaded.Stats.PerCategory)
	}

	// Rejecting the low review must drop it from every derived value.
	found, err := s.SetReviewStatus(ctx, second.ID, ReviewRejected)
	if err != nil || !found {
		t.Fatalf("set status: found=%v err=%v", found, err)
	}
	loaded, err = s.GetOrganization(ctx, org.ID)
	if err != nil {
		t.Fatalf("reload organization: %v", err)
	}
	if loaded.Stats.TotalReviews != 1 || loaded.Stats.AverageRating != 5.0 {
		t.Fatalf("stats after reject = %+v", loaded.Stats)
	}
	if loaded.Digest.Tone != TonePositive {
		t.Fatalf("tone after reject = %q", loaded.Digest.Tone)
	}

	found, err = s.DeleteReview(ctx, first.ID)
	if err != nil || !found {
		t.Fatalf("delete review: found=%v err=%v", found, err)
	}
	loaded, err = s.GetOrganization(ctx, org.ID)
	if err != nil {
		t.Fatalf("reload after delete: %v", err)
	}
	if loaded.Stats.TotalReviews != 0 {
		t.Fatalf("stats after delete = %+v", loaded.Stats)
	}

	if found, _ := s.DeleteReview(ctx, "rev_missing"); found {
		t.Fatal("deleting a missing review must report not found")
	}
}

func TestUpsertAliasFirstOwnerWins(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	first := createOrg(t, s, "Alias Owner A "+util.NewID(""), "alias owner a "+util.NewID(""))
	second := createOrg(t, s, "Alias Owner B "+util.NewID(""), "alias owner b "+util.NewID(""))

	spelling := "shared spelling " + util.NewID("")
	if err := s.UpsertAlias(ctx, Alias{OrgID: first.ID, RawText: "Shared", NormalizedText: spelling}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertAlias(ctx, Alias{OrgID: second.ID, RawText: "Shared", NormalizedText: spelling}); err != nil {
		t.Fatalf("conflicting upsert should be a no-op, got %v", err)
	}

	aliases, err := s.ListAliases(ctx, first.ID)
	if err != nil {
		t.Fatalf("list aliases: %v", err)
	}
	if len(aliases) != 1 || aliases[0].NormalizedText != spelling {
		t.Fatalf("first owner aliases = %+v", aliases)
	}
	aliases, err = s.ListAliases(ctx, second.ID)
	if err != nil {
		t.Fatalf("list second aliases: %v", err)
	}
	if len(aliases) != 0 {
		t.Fatalf("second owner should hold no alias, got %+v", aliases)
	}
}
