package store

import (
	"database/sql"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"waterstack/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestUpsertAndGetMonthlyMeans(t *testing.T) {
	store := setupTestStore(t)

	mm := models.MonthlyMeans{
		ROIName: "farm",
		Year:    2021,
		Month:   time.June,
		ET:      112.5,
		PET:     6.2,
	}
	if err := store.UpsertMonthlyMeans(mm); err != nil {
		t.Fatalf("UpsertMonthlyMeans: %v", err)
	}

	// A reprocessed month replaces the earlier row.
	mm.ET = 118.0
	if err := store.UpsertMonthlyMeans(mm); err != nil {
		t.Fatalf("UpsertMonthlyMeans update: %v", err)
	}

	rows, err := store.GetMonthlyMeans("farm", 2021)
	if err != nil {
		t.Fatalf("GetMonthlyMeans: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].ET != 118.0 {
		t.Errorf("ET = %v, want 118.0", rows[0].ET)
	}
	if rows[0].PET != 6.2 {
		t.Errorf("PET = %v, want 6.2", rows[0].PET)
	}
	if rows[0].Month != time.June {
		t.Errorf("Month = %v, want June", rows[0].Month)
	}
}

func TestMonthlyMeansNaNRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	mm := models.MonthlyMeans{
		ROIName: "farm",
		Year:    2021,
		Month:   time.February,
		ET:      math.NaN(),
		PET:     math.NaN(),
	}
	if err := store.UpsertMonthlyMeans(mm); err != nil {
		t.Fatalf("UpsertMonthlyMeans: %v", err)
	}

	rows, err := store.GetMonthlyMeans("farm", 2021)
	if err != nil {
		t.Fatalf("GetMonthlyMeans: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if !math.IsNaN(rows[0].ET) || !math.IsNaN(rows[0].PET) {
		t.Errorf("means = (%v, %v), want NaN for months without data", rows[0].ET, rows[0].PET)
	}
}

func TestYearRunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	id, err := store.StartYearRun("farm", 2021)
	if err != nil {
		t.Fatalf("StartYearRun: %v", err)
	}

	if err := store.CompleteYearRun(id, true, "", 42, 87); err != nil {
		t.Fatalf("CompleteYearRun: %v", err)
	}

	runs, err := store.GetYearRuns("farm", 10)
	if err != nil {
		t.Fatalf("GetYearRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	run := runs[0]
	if !run.Success {
		t.Error("run not marked successful")
	}
	if !run.CompletedAt.Valid {
		t.Error("completed_at not set")
	}
	if run.ErrorMessage.Valid {
		t.Errorf("error_message = %q, want NULL", run.ErrorMessage.String)
	}
	if run.DatesProcessed.Int64 != 42 || run.SubsetsRetrieved.Int64 != 87 {
		t.Errorf("counts = (%d, %d), want (42, 87)", run.DatesProcessed.Int64, run.SubsetsRetrieved.Int64)
	}
}

func TestYearRunFailure(t *testing.T) {
	store := setupTestStore(t)

	id, err := store.StartYearRun("farm", 2019)
	if err != nil {
		t.Fatalf("StartYearRun: %v", err)
	}
	if err := store.CompleteYearRun(id, false, "insufficient data", 0, 0); err != nil {
		t.Fatalf("CompleteYearRun: %v", err)
	}

	runs, err := store.GetYearRuns("farm", 10)
	if err != nil {
		t.Fatalf("GetYearRuns: %v", err)
	}
	if runs[0].Success {
		t.Error("failed run marked successful")
	}
	if runs[0].ErrorMessage.String != "insufficient data" {
		t.Errorf("error_message = %q, want %q", runs[0].ErrorMessage.String, "insufficient data")
	}
}

func TestLastSuccessfulYear(t *testing.T) {
	store := setupTestStore(t)

	// No runs at all.
	year, err := store.LastSuccessfulYear("farm")
	if err != nil {
		t.Fatalf("LastSuccessfulYear: %v", err)
	}
	if year != 0 {
		t.Errorf("year = %d, want 0 with no history", year)
	}

	for _, run := range []struct {
		year    int
		success bool
	}{
		{2019, true},
		{2020, true},
		{2021, false},
	} {
		id, err := store.StartYearRun("farm", run.year)
		if err != nil {
			t.Fatalf("StartYearRun %d: %v", run.year, err)
		}
		if err := store.CompleteYearRun(id, run.success, "", 1, 1); err != nil {
			t.Fatalf("CompleteYearRun %d: %v", run.year, err)
		}
	}

	year, err = store.LastSuccessfulYear("farm")
	if err != nil {
		t.Fatalf("LastSuccessfulYear: %v", err)
	}
	if year != 2020 {
		t.Errorf("year = %d, want 2020", year)
	}
}

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}
