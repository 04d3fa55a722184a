// Package stack reconciles mixed-cadence raster observations for one region
// and calendar year into aligned ET and PET cubes, gap-fills them along the
// time axis, and aggregates the result into monthly totals and region means.
//
// The timeline granularity follows the ET source: daily sources produce a
// day-per-step cube, monthly sources a month-per-step cube. PET falls back to
// ESI-derived values (PET = ET / ESI) when no direct PET observation exists
// anywhere in the year.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"waterstack/internal/raster"
	"waterstack/internal/registry"
	"waterstack/internal/retriever"
	"waterstack/internal/solar"
)

// ErrInsufficientData marks a year that cannot be processed: no usable ET
// observations, or neither PET nor ESI observations.
var ErrInsufficientData = errors.New("insufficient data")

// GeometryMismatchError reports a subset whose shape or geotransform differs
// from the year's established geometry. The offending observation is skipped;
// the year continues.
type GeometryMismatchError struct {
	Variable string
	Date     time.Time
	Detail   string
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("geometry mismatch for %s on %s: %s",
		e.Variable, e.Date.Format("2006-01-02"), e.Detail)
}

// geometry is the spatial frame captured from the first subset of a year.
// Every later subset must match it exactly.
type geometry struct {
	rows, cols int
	transform  raster.Affine
	crs        string
	set        bool
}

func (g *geometry) check(variable string, date time.Time, grid *raster.Grid) error {
	if !g.set {
		g.rows, g.cols = grid.Rows, grid.Cols
		g.transform, g.crs = grid.Transform, grid.CRS
		g.set = true
		return nil
	}
	if grid.Rows != g.rows || grid.Cols != g.cols {
		return &GeometryMismatchError{
			Variable: variable,
			Date:     date,
			Detail:   fmt.Sprintf("shape %dx%d, want %dx%d", grid.Rows, grid.Cols, g.rows, g.cols),
		}
	}
	if !grid.Transform.ApproxEqual(g.transform) {
		return &GeometryMismatchError{
			Variable: variable,
			Date:     date,
			Detail:   fmt.Sprintf("transform %v, want %v", grid.Transform.Coefficients(), g.transform.Coefficients()),
		}
	}
	return nil
}

// Builder assembles per-year raster cubes from a subset store.
type Builder struct {
	registry *registry.Registry
	source   retriever.Retriever
	latitude float64 // region centroid, degrees; drives daylight scaling
	daily    bool
}

// NewBuilder creates a builder. daily selects a day-per-step timeline;
// otherwise one step per month.
func NewBuilder(reg *registry.Registry, source retriever.Retriever, centroidLatitude float64, daily bool) *Builder {
	return &Builder{registry: reg, source: source, latitude: centroidLatitude, daily: daily}
}

// BuildResult is the reconciled output for one year. ET and PET share the
// timeline; PPT holds raw monthly precipitation grids where available.
type BuildResult struct {
	ET, PET *raster.Stack
	PPT     map[time.Month]*raster.Grid

	Rows, Cols int
	Transform  raster.Affine
	CRS        string

	DatesProcessed   int
	SubsetsRetrieved int
}

func (b *Builder) steps(year int) int {
	if b.daily {
		return solar.DaysInYear(year)
	}
	return 12
}

// BuildYear reconciles the year's observations onto a single timeline. dates
// is the store inventory; entries outside the year are ignored. Individual
// retrieval failures and geometry mismatches are logged and skipped; the
// whole year fails only when ET, or both PET and ESI, never materialize.
func (b *Builder) BuildYear(ctx context.Context, year int, dates []time.Time) (*BuildResult, error) {
	steps := b.steps(year)

	var (
		geo          geometry
		et, pet, esi *raster.Stack
		petFilled    bool
		esiFilled    bool
	)
	result := &BuildResult{PPT: make(map[time.Month]*raster.Grid)}

	fetch := func(variable string, date time.Time) (*raster.Grid, error) {
		grid, err := b.source.GetSubset(ctx, variable, date)
		if err != nil {
			return nil, err
		}
		if err := geo.check(variable, date, grid); err != nil {
			return nil, err
		}
		result.SubsetsRetrieved++
		return grid, nil
	}

	// Precipitation is monthly-only and independent of the ET/PET timeline.
	for m := time.January; m <= time.December; m++ {
		first := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		src := b.registry.Lookup("PPT", first)
		if src == nil || !src.Monthly {
			continue
		}
		grid, err := fetch("PPT", first)
		if err != nil {
			log.Printf("stack: PPT %d-%02d: %v", year, m, err)
			continue
		}
		result.PPT[m] = grid
	}

	for _, date := range dates {
		if date.Year() != year {
			continue
		}

		etSrc := b.registry.Lookup("ET", date)
		if etSrc == nil {
			continue
		}
		etGrid, err := fetch("ET", date)
		if err != nil {
			log.Printf("stack: ET %s: %v", date.Format("2006-01-02"), err)
			continue
		}
		if et == nil {
			et = raster.NewStack(steps, geo.rows, geo.cols)
		}
		b.writeET(et, etSrc, date, etGrid, year)
		result.DatesProcessed++

		if petSrc := b.registry.Lookup("PET", date); petSrc != nil {
			petGrid, err := fetch("PET", date)
			if err == nil {
				if pet == nil {
					pet = raster.NewStack(steps, geo.rows, geo.cols)
				}
				b.writePET(pet, petSrc, date, petGrid, year)
				petFilled = true
				continue
			}
			log.Printf("stack: PET %s: %v", date.Format("2006-01-02"), err)
		}

		// ESI substitutes for PET only in years with no direct PET at all.
		if petFilled {
			continue
		}
		esiSrc := b.registry.Lookup("ESI", date)
		if esiSrc == nil {
			continue
		}
		esiGrid, err := fetch("ESI", date)
		if err != nil {
			log.Printf("stack: ESI %s: %v", date.Format("2006-01-02"), err)
			continue
		}
		if esi == nil {
			esi = raster.NewStack(steps, geo.rows, geo.cols)
		}
		b.writeESI(esi, esiSrc, date, esiGrid, year)
		esiFilled = true
	}

	if et == nil {
		return nil, fmt.Errorf("no usable ET observations for %d: %w", year, ErrInsufficientData)
	}
	if !petFilled {
		if !esiFilled {
			return nil, fmt.Errorf("no usable PET or ESI observations for %d: %w", year, ErrInsufficientData)
		}
		// ESI = ET / PET, so PET = ET / ESI.
		pet = raster.Divide(et, esi)
	}

	result.ET, result.PET = et, pet
	result.Rows, result.Cols = geo.rows, geo.cols
	result.Transform, result.CRS = geo.transform, geo.crs
	return result, nil
}

// writeET places one ET observation on the timeline. Monthly totals are
// spread evenly across the month's days; daily observations never overwrite
// an earlier observation for the same day.
func (b *Builder) writeET(s *raster.Stack, src *registry.Source, date time.Time, g *raster.Grid, year int) {
	if !b.daily {
		s.SetSlotScaled(int(date.Month())-1, g, 1)
		return
	}
	if src.Monthly {
		start, end := solar.MonthSlice(year, date.Month())
		s.BroadcastScaled(start, end, g, 1/float32(solar.DaysInMonth(year, date.Month())))
		return
	}
	s.FillSlotWhereNaN(solar.DayOfYear(date), g)
}

// writePET places one PET observation. Sources without built-in daylight
// correction report full-day rates; those are scaled to the daylight fraction
// of each day using the region's centroid latitude.
func (b *Builder) writePET(s *raster.Stack, src *registry.Source, date time.Time, g *raster.Grid, year int) {
	month := date.Month()

	if !b.daily {
		step := int(month) - 1
		switch {
		case src.Monthly && !src.DaylightCorrected:
			dim := solar.DaysInMonth(year, month)
			start, _ := solar.MonthSlice(year, month)
			hours := solar.DaylightHours(b.latitude, start+dim/2+1)
			s.SetSlotScaled(step, g, float32(hours/24))
		case src.Monthly:
			s.SetSlotScaled(step, g, 1)
		default:
			s.FillSlotWhereNaN(step, g)
		}
		return
	}

	if src.Monthly {
		dim := solar.DaysInMonth(year, month)
		start, end := solar.MonthSlice(year, month)
		if src.DaylightCorrected {
			s.BroadcastScaled(start, end, g, 1/float32(dim))
			return
		}
		for step := start; step < end; step++ {
			hours := solar.DaylightHours(b.latitude, step+1)
			s.SetSlotScaled(step, g, float32(hours/24)/float32(dim))
		}
		return
	}
	s.FillSlotWhereNaN(solar.DayOfYear(date), g)
}

// writeESI places one ESI observation, mirroring the ET layout.
func (b *Builder) writeESI(s *raster.Stack, src *registry.Source, date time.Time, g *raster.Grid, year int) {
	if !b.daily {
		step := int(date.Month()) - 1
		if src.Monthly {
			s.SetSlotScaled(step, g, 1)
			return
		}
		s.FillSlotWhereNaN(step, g)
		return
	}
	if src.Monthly {
		start, end := solar.MonthSlice(year, date.Month())
		s.BroadcastScaled(start, end, g, 1/float32(solar.DaysInMonth(year, date.Month())))
		return
	}
	s.FillSlotWhereNaN(solar.DayOfYear(date), g)
}
