package retriever

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"waterstack/internal/raster"
	"waterstack/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]*registry.Source{
		{
			ID:         "ptjpl",
			Variable:   "ET",
			FilePrefix: "ptjpl",
			Start:      time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:             "chirps",
			Variable:       "PPT",
			MappedVariable: "precip",
			FilePrefix:     "chirps",
			Monthly:        true,
			Start:          time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
			End:            time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func testGrid(v float32) *raster.Grid {
	g := raster.NewGrid(2, 2, raster.Affine{A: 1, E: -1}, "EPSG:4326")
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

func TestSubsetFilename(t *testing.T) {
	reg := testRegistry(t)
	date := time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC)

	daily := reg.Lookup("ET", date)
	if got, want := SubsetFilename(daily, date), "ptjpl_ET_2020-06-17.grid"; got != want {
		t.Errorf("daily filename = %q, want %q", got, want)
	}

	// Monthly sources snap to the first of the month.
	monthly := reg.Lookup("PPT", date)
	if got, want := SubsetFilename(monthly, date), "chirps_precip_2020-06-01.grid"; got != want {
		t.Errorf("monthly filename = %q, want %q", got, want)
	}
}

func TestParseSubsetDate(t *testing.T) {
	tests := []struct {
		name string
		want time.Time
		ok   bool
	}{
		{"ptjpl_ET_2020-06-17.grid", time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC), true},
		{"some/dir/chirps_precip_2020-06-01.grid", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"readme.txt", time.Time{}, false},
		{"ptjpl_ET_garbage-date.grid", time.Time{}, false},
		{".grid", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseSubsetDate(tt.name)
		if ok != tt.ok {
			t.Errorf("parseSubsetDate(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("parseSubsetDate(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestRelevantDates(t *testing.T) {
	reg := testRegistry(t)
	raw := []time.Time{
		time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC), // duplicate
		time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), // outside every range
	}

	got := relevantDates(reg, raw)
	if len(got) != 2 {
		t.Fatalf("got %d dates, want 2: %v", len(got), got)
	}
	if !got[0].Before(got[1]) {
		t.Errorf("dates not sorted: %v", got)
	}
}

func TestLocalGetSubset(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	date := time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC)

	src := reg.Lookup("ET", date)
	if err := raster.WriteGridFile(filepath.Join(dir, SubsetFilename(src, date)), testGrid(2.5)); err != nil {
		t.Fatalf("write subset: %v", err)
	}

	l := NewLocal(dir, reg)

	grid, err := l.GetSubset(context.Background(), "ET", date)
	if err != nil {
		t.Fatalf("GetSubset: %v", err)
	}
	if grid.At(0, 0) != 2.5 {
		t.Errorf("At(0,0) = %v, want 2.5", grid.At(0, 0))
	}

	// Missing file maps to the unavailable sentinel.
	_, err = l.GetSubset(context.Background(), "ET", date.AddDate(0, 0, 1))
	if !errors.Is(err, ErrFileUnavailable) {
		t.Errorf("missing file error = %v, want ErrFileUnavailable", err)
	}

	// No source covering the date also maps to unavailable.
	_, err = l.GetSubset(context.Background(), "ET", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrFileUnavailable) {
		t.Errorf("no-source error = %v, want ErrFileUnavailable", err)
	}
}

func TestLocalGetSubsetBlank(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	date := time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC)

	src := reg.Lookup("ET", date)
	blank := raster.NewGrid(2, 2, raster.Affine{A: 1, E: -1}, "EPSG:4326")
	if err := raster.WriteGridFile(filepath.Join(dir, SubsetFilename(src, date)), blank); err != nil {
		t.Fatalf("write subset: %v", err)
	}

	_, err := NewLocal(dir, reg).GetSubset(context.Background(), "ET", date)
	if !errors.Is(err, ErrBlankOutput) {
		t.Errorf("blank subset error = %v, want ErrBlankOutput", err)
	}
}

func TestLocalInventory(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()

	et := reg.Lookup("ET", time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC))
	ppt := reg.Lookup("PPT", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	for _, f := range []string{
		SubsetFilename(et, time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC)),
		SubsetFilename(et, time.Date(2020, 6, 3, 0, 0, 0, 0, time.UTC)),
		SubsetFilename(ppt, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)),
	} {
		if err := raster.WriteGridFile(filepath.Join(dir, f), testGrid(1)); err != nil {
			t.Fatalf("write subset: %v", err)
		}
	}

	dates, err := NewLocal(dir, reg).Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	want := []time.Time{
		time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 17, 0, 0, 0, 0, time.UTC),
	}
	if len(dates) != len(want) {
		t.Fatalf("got %d dates, want %d: %v", len(dates), len(want), dates)
	}
	for i := range want {
		if !dates[i].Equal(want[i]) {
			t.Errorf("dates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}
}
