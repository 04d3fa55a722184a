// Package pipeline orchestrates per-year processing: build the raster cubes,
// gap-fill, aggregate monthly, and persist tables, rasters, and figures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"waterstack/internal/catalog"
	"waterstack/internal/raster"
	"waterstack/internal/registry"
	"waterstack/internal/report"
	"waterstack/internal/retriever"
	"waterstack/internal/roi"
	"waterstack/internal/stack"
	"waterstack/internal/status"
	"waterstack/internal/store"
)

// Pipeline wires the processing stages together for a batch run.
type Pipeline struct {
	Registry  *registry.Registry
	Retriever retriever.Retriever
	Store     *store.Store
	Catalog   *catalog.Landsat // optional; figures omit pass counts when nil
	Status    *status.Writer

	OutputDir     string
	StartMonth    time.Month
	EndMonth      time.Month
	UseStackCache bool
}

func (p *Pipeline) csvPath(name string, year int) string {
	return filepath.Join(p.OutputDir, name, fmt.Sprintf("%s_%d_monthly_means.csv", name, year))
}

func (p *Pipeline) figurePath(name string, year int) string {
	return filepath.Join(p.OutputDir, name, fmt.Sprintf("%s_%d.png", name, year))
}

func (p *Pipeline) yearDir(name string, year int) string {
	return filepath.Join(p.OutputDir, name, strconv.Itoa(year))
}

// dailyTimeline reports whether the year should run at daily granularity:
// it does unless the authoritative ET source for that year is monthly.
func (p *Pipeline) dailyTimeline(year int) bool {
	for m := time.January; m <= time.December; m++ {
		if src := p.Registry.Lookup("ET", time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)); src != nil {
			return !src.Monthly
		}
	}
	return true
}

// ProcessYear runs one (region, year) job end to end. Years whose CSV and
// figure already exist are skipped. dates is the store inventory.
func (p *Pipeline) ProcessYear(ctx context.Context, region *roi.ROI, year int, dates []time.Time) error {
	csvPath := p.csvPath(region.Name, year)
	figPath := p.figurePath(region.Name, year)
	if fileExists(csvPath) && fileExists(figPath) {
		log.Printf("pipeline: %s %d already processed, skipping", region.Name, year)
		p.Status.Write("%s %d: skipped, outputs exist", region.Name, year)
		return nil
	}

	daily := p.dailyTimeline(year)
	p.Status.Write("%s %d: starting (daily=%v)", region.Name, year, daily)

	var runID int64
	if p.Store != nil {
		id, err := p.Store.StartYearRun(region.Name, year)
		if err != nil {
			return fmt.Errorf("record year run: %w", err)
		}
		runID = id
	}

	res, err := p.buildOrLoad(ctx, region, year, dates, daily)
	if err != nil {
		p.completeRun(runID, false, err.Error(), 0, 0)
		p.Status.Write("%s %d: failed: %v", region.Name, year, err)
		return err
	}

	et, pet := res.ET, res.PET
	if daily {
		et = stack.Interpolate(et)
		pet = stack.Interpolate(pet)
		p.Status.Write("%s %d: gap-filled %d-step timeline", region.Name, year, et.Steps)
	}

	mask := region.Mask(res.Rows, res.Cols, res.Transform)
	monthly := stack.AggregateMonthly(region.Name, et, pet, mask, res.Transform, res.CRS,
		year, p.StartMonth, p.EndMonth, daily)

	if err := p.persist(ctx, region, year, res, monthly); err != nil {
		p.completeRun(runID, false, err.Error(), res.DatesProcessed, res.SubsetsRetrieved)
		return err
	}

	p.completeRun(runID, true, "", res.DatesProcessed, res.SubsetsRetrieved)
	p.Status.Write("%s %d: complete (%d dates, %d subsets)",
		region.Name, year, res.DatesProcessed, res.SubsetsRetrieved)
	return nil
}

// buildOrLoad reconciles the year's cubes, reusing a previous run's stacks
// from disk when enabled and present.
func (p *Pipeline) buildOrLoad(ctx context.Context, region *roi.ROI, year int, dates []time.Time, daily bool) (*stack.BuildResult, error) {
	etPath := filepath.Join(p.yearDir(region.Name, year), "et.stack")
	petPath := filepath.Join(p.yearDir(region.Name, year), "pet.stack")

	if p.UseStackCache && fileExists(etPath) && fileExists(petPath) {
		res, err := p.loadStacks(etPath, petPath)
		if err == nil {
			log.Printf("pipeline: %s %d: reusing cached stacks", region.Name, year)
			return res, nil
		}
		log.Printf("pipeline: %s %d: stack cache unusable, rebuilding: %v", region.Name, year, err)
	}

	builder := stack.NewBuilder(p.Registry, p.Retriever, region.CentroidLatitude(), daily)
	res, err := builder.BuildYear(ctx, year, dates)
	if err != nil {
		return nil, fmt.Errorf("build %d: %w", year, err)
	}

	if p.UseStackCache {
		if err := raster.WriteStackFile(etPath, res.ET, res.Transform, res.CRS); err != nil {
			log.Printf("pipeline: write ET stack cache: %v", err)
		}
		if err := raster.WriteStackFile(petPath, res.PET, res.Transform, res.CRS); err != nil {
			log.Printf("pipeline: write PET stack cache: %v", err)
		}
	}
	return res, nil
}

func (p *Pipeline) loadStacks(etPath, petPath string) (*stack.BuildResult, error) {
	et, transform, crs, err := raster.ReadStackFile(etPath)
	if err != nil {
		return nil, fmt.Errorf("read ET stack: %w", err)
	}
	pet, petTransform, _, err := raster.ReadStackFile(petPath)
	if err != nil {
		return nil, fmt.Errorf("read PET stack: %w", err)
	}
	if pet.Steps != et.Steps || pet.Rows != et.Rows || pet.Cols != et.Cols || !petTransform.ApproxEqual(transform) {
		return nil, errors.New("cached ET and PET stacks disagree")
	}
	return &stack.BuildResult{
		ET:        et,
		PET:       pet,
		PPT:       map[time.Month]*raster.Grid{},
		Rows:      et.Rows,
		Cols:      et.Cols,
		Transform: transform,
		CRS:       crs,
	}, nil
}

func (p *Pipeline) persist(ctx context.Context, region *roi.ROI, year int, res *stack.BuildResult, monthly *stack.MonthlyResult) error {
	dir := p.yearDir(region.Name, year)

	for month, grid := range monthly.Sums {
		path := filepath.Join(dir, fmt.Sprintf("ET_%d_%02d.grid", year, int(month)))
		if err := raster.WriteGridFile(path, grid); err != nil {
			return fmt.Errorf("write ET raster %d-%02d: %w", year, int(month), err)
		}
	}
	for month, grid := range res.PPT {
		path := filepath.Join(dir, fmt.Sprintf("PPT_%d_%02d.grid", year, int(month)))
		if err := raster.WriteGridFile(path, grid); err != nil {
			return fmt.Errorf("write PPT raster %d-%02d: %w", year, int(month), err)
		}
	}

	if err := report.WriteMonthlyMeansCSV(p.csvPath(region.Name, year), monthly.Means); err != nil {
		return fmt.Errorf("write monthly means: %w", err)
	}

	if p.Store != nil {
		for _, row := range monthly.Means {
			if err := p.Store.UpsertMonthlyMeans(row); err != nil {
				return fmt.Errorf("store monthly means %d-%02d: %w", row.Year, int(row.Month), err)
			}
		}
	}

	passCounts := p.passCounts(ctx, region, year, monthly)
	if err := report.RenderFigure(p.figurePath(region.Name, year), region.Name, year, monthly.Means, passCounts); err != nil {
		return fmt.Errorf("render figure: %w", err)
	}
	return nil
}

// passCounts annotates months with Landsat pass counts, best effort.
func (p *Pipeline) passCounts(ctx context.Context, region *roi.ROI, year int, monthly *stack.MonthlyResult) map[time.Month]int {
	if p.Catalog == nil {
		return nil
	}
	minX, minY, maxX, maxY := region.Bounds()
	bbox := [4]float64{minX, minY, maxX, maxY}

	counts := make(map[time.Month]int, len(monthly.Means))
	for _, row := range monthly.Means {
		n, err := p.Catalog.PassCount(ctx, bbox, year, row.Month)
		if err != nil {
			log.Printf("pipeline: pass count %d-%02d: %v", year, int(row.Month), err)
			continue
		}
		counts[row.Month] = n
	}
	return counts
}

func (p *Pipeline) completeRun(runID int64, success bool, errMsg string, dates, subsets int) {
	if p.Store == nil {
		return
	}
	if err := p.Store.CompleteYearRun(runID, success, errMsg, dates, subsets); err != nil {
		log.Printf("pipeline: complete year run: %v", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
