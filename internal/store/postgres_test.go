package store

import (
	"fmt"
	"testing"
	"time"
)

// scriptedRow feeds scanOrganization fixed column values without a database.
type scriptedRow struct {
	values []any
}

func (r scriptedRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan arity: got %d, want %d", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		case *float64:
			*p = r.values[i].(float64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("unsupported scan destination %T", d)
		}
	}
	return nil
}

func orgRow(categoryStats string) scriptedRow {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return scriptedRow{values: []any{
		"org_1", "Al Akhawayn University", "Al Akhawayn University", "al akhawayn",
		"", "Ifrane", "Morocco",
		3, 4.5, categoryStats,
		ToneMixed, "great faculty", "expensive housing",
		now, now, now,
	}}
}

func TestScanOrganizationDecodesCategoryStats(t *testing.T) {
	org, err := scanOrganization(orgRow(`{"academics":{"count":2,"average":4.5}}`))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	stat, ok := org.Stats.PerCategory["academics"]
	if !ok || stat.Count != 2 || stat.Average != 4.5 {
		t.Fatalf("per-category stats = %+v", org.Stats.PerCategory)
	}
}

func TestScanOrganizationSurvivesCorruptCategoryStats(t *testing.T) {
	// A corrupted category_stats column must not hide the row; the rest of
	// the organization still loads with empty per-category stats.
	org, err := scanOrganization(orgRow(`{"academics":`))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if org.ID != "org_1" || org.Stats.TotalReviews != 3 {
		t.Fatalf("organization = %+v", org)
	}
	if len(org.Stats.PerCategory) != 0 {
		t.Fatalf("per-category stats = %+v", org.Stats.PerCategory)
	}
}
