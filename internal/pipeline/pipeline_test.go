package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"waterstack/internal/raster"
	"waterstack/internal/registry"
	"waterstack/internal/retriever"
	"waterstack/internal/roi"
	"waterstack/internal/store"
)

var testTransform = raster.Affine{A: 1, E: -1, C: 0, F: 2}

func testRegion() *roi.ROI {
	// A square covering the whole 2x2 test grid.
	return &roi.ROI{
		Name: "farm",
		Polygons: []roi.Polygon{{
			{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 2}, {X: 0, Y: 2}, {X: 0, Y: 0}},
		}},
	}
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]*registry.Source{
		{
			ID:         "ptjpl",
			Variable:   "ET",
			FilePrefix: "ptjpl",
			Start:      time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:         "noaa",
			Variable:   "PET",
			FilePrefix: "noaa",
			Start:      time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func writeSubset(t *testing.T, dir string, src *registry.Source, date time.Time, v float32) {
	t.Helper()
	g := raster.NewGrid(2, 2, testTransform, "EPSG:4326")
	for i := range g.Data {
		g.Data[i] = v
	}
	if err := raster.WriteGridFile(filepath.Join(dir, retriever.SubsetFilename(src, date)), g); err != nil {
		t.Fatalf("write subset: %v", err)
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func newTestPipeline(t *testing.T, inputDir, outputDir string) *Pipeline {
	t.Helper()
	reg := testRegistry(t)
	return &Pipeline{
		Registry:   reg,
		Retriever:  retriever.NewLocal(inputDir, reg),
		Store:      testStore(t),
		OutputDir:  outputDir,
		StartMonth: time.January,
		EndMonth:   time.December,
	}
}

func seedYear(t *testing.T, inputDir string, reg *registry.Registry) {
	t.Helper()
	// Three observation dates so every pixel clears the gap-fill threshold.
	for _, d := range []time.Time{
		time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 10, 20, 0, 0, 0, 0, time.UTC),
	} {
		writeSubset(t, inputDir, reg.Lookup("ET", d), d, 2.0)
		writeSubset(t, inputDir, reg.Lookup("PET", d), d, 4.0)
	}
}

func TestRunEndToEnd(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	p := newTestPipeline(t, inputDir, outputDir)
	seedYear(t, inputDir, p.Registry)

	region := testRegion()
	if err := p.Run(context.Background(), []*roi.ROI{region}, 2021, 2021); err != nil {
		t.Fatalf("Run: %v", err)
	}

	csvPath := filepath.Join(outputDir, "farm", "farm_2021_monthly_means.csv")
	if _, err := os.Stat(csvPath); err != nil {
		t.Errorf("missing monthly means CSV: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "farm", "farm_2021.png")); err != nil {
		t.Errorf("missing figure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "farm", "2021", "ET_2021_06.grid")); err != nil {
		t.Errorf("missing June ET raster: %v", err)
	}

	rows, err := p.Store.GetMonthlyMeans("farm", 2021)
	if err != nil {
		t.Fatalf("GetMonthlyMeans: %v", err)
	}
	if len(rows) != 12 {
		t.Fatalf("got %d stored rows, want 12", len(rows))
	}
	// ET 2.0/day gap-filled across June, PET 4.0 throughout.
	var june struct{ et, pet float64 }
	for _, row := range rows {
		if row.Month == time.June {
			june.et, june.pet = row.ET, row.PET
		}
	}
	if june.et != 60.0 {
		t.Errorf("June ET = %v, want 60.0", june.et)
	}
	if june.pet != 4.0 {
		t.Errorf("June PET = %v, want 4.0", june.pet)
	}

	runs, err := p.Store.GetYearRuns("farm", 10)
	if err != nil {
		t.Fatalf("GetYearRuns: %v", err)
	}
	if len(runs) != 1 || !runs[0].Success {
		t.Fatalf("runs = %+v, want one successful run", runs)
	}

	// A second batch skips the finished year without opening a new run.
	if err := p.Run(context.Background(), []*roi.ROI{region}, 2021, 2021); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	runs, err = p.Store.GetYearRuns("farm", 10)
	if err != nil {
		t.Fatalf("GetYearRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs after skip, want 1", len(runs))
	}
}

func TestRunInsufficientDataFails(t *testing.T) {
	p := newTestPipeline(t, t.TempDir(), t.TempDir())

	err := p.Run(context.Background(), []*roi.ROI{testRegion()}, 2021, 2021)
	if err == nil {
		t.Fatal("expected batch failure for empty store")
	}

	runs, err := p.Store.GetYearRuns("farm", 10)
	if err != nil {
		t.Fatalf("GetYearRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Success {
		t.Fatalf("runs = %+v, want one failed run", runs)
	}
	if !runs[0].ErrorMessage.Valid {
		t.Error("failed run has no error message")
	}
}

func TestProcessYearStackCache(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	p := newTestPipeline(t, inputDir, outputDir)
	p.UseStackCache = true
	seedYear(t, inputDir, p.Registry)

	region := testRegion()
	dates, err := p.Retriever.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if err := p.ProcessYear(context.Background(), region, 2021, dates); err != nil {
		t.Fatalf("ProcessYear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "farm", "2021", "et.stack")); err != nil {
		t.Fatalf("missing cached ET stack: %v", err)
	}

	// Remove the subsets and the outputs; the rerun must succeed from cache.
	if err := os.RemoveAll(inputDir); err != nil {
		t.Fatalf("clear input: %v", err)
	}
	os.Remove(p.csvPath("farm", 2021))
	os.Remove(p.figurePath("farm", 2021))

	if err := p.ProcessYear(context.Background(), region, 2021, dates); err != nil {
		t.Fatalf("ProcessYear from cache: %v", err)
	}
	if _, err := os.Stat(p.csvPath("farm", 2021)); err != nil {
		t.Errorf("missing rebuilt CSV: %v", err)
	}
}
