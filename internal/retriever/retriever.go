// Package retriever is the boundary to the external subset store: a service
// that has already clipped and reprojected source rasters to the region of
// interest and published them as container files. Backends exist for a local
// directory, an S3-compatible bucket, and an FTP archive mirror.
//
// Retrieval for a given (variable, date) is idempotent and cache friendly;
// callers distinguish expected failures with errors.Is against
// ErrFileUnavailable and ErrBlankOutput.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"waterstack/internal/metrics"
	"waterstack/internal/raster"
	"waterstack/internal/registry"
)

// ErrFileUnavailable marks an expected, recoverable miss: no data exists for
// the requested variable/date. Callers skip and continue.
var ErrFileUnavailable = errors.New("file unavailable")

// ErrBlankOutput marks a retrieval that succeeded but produced a fully
// masked raster. Callers skip and continue.
var ErrBlankOutput = errors.New("blank output")

// Retriever fetches one clipped raster subset per (variable, date).
type Retriever interface {
	// GetSubset returns the subset grid for a variable on a date, or an
	// error wrapping ErrFileUnavailable / ErrBlankOutput.
	GetSubset(ctx context.Context, variable string, date time.Time) (*raster.Grid, error)

	// Inventory lists the observation dates present in the store that are
	// relevant per the source registry, sorted ascending without duplicates.
	Inventory(ctx context.Context) ([]time.Time, error)
}

const subsetExtension = ".grid"

// SubsetFilename builds the canonical subset file name for a source and
// date. Monthly sources snap the date to the first of the month so repeated
// lookups within a month share one key.
func SubsetFilename(src *registry.Source, date time.Time) string {
	d := date
	if src.Monthly {
		d = time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return fmt.Sprintf("%s_%s_%s%s", src.FilePrefix, src.MappedVariable, d.Format("2006-01-02"), subsetExtension)
}

// parseSubsetDate extracts the observation date from a subset file name.
func parseSubsetDate(name string) (time.Time, bool) {
	base := path.Base(name)
	if !strings.HasSuffix(base, subsetExtension) {
		return time.Time{}, false
	}
	base = strings.TrimSuffix(base, subsetExtension)
	if len(base) < len("2006-01-02") {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", base[len(base)-len("2006-01-02"):])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// relevantDates filters, dedupes and sorts raw observation dates using the
// registry's timeline rule.
func relevantDates(reg *registry.Registry, raw []time.Time) []time.Time {
	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, d := range raw {
		d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		if seen[d] || !reg.DateRelevant(d) {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// checkGrid applies the blank-output rule after a successful fetch.
func checkGrid(g *raster.Grid, filename string) (*raster.Grid, error) {
	if g.AllNaN() {
		return nil, fmt.Errorf("%s: %w", filename, ErrBlankOutput)
	}
	return g, nil
}

// observe records retrieval metrics for one attempt.
func observe(variable string, start time.Time, err error) {
	metrics.SubsetRetrievalLatency.WithLabelValues(variable).Observe(time.Since(start).Seconds())
	status := "ok"
	switch {
	case errors.Is(err, ErrFileUnavailable):
		status = "unavailable"
	case errors.Is(err, ErrBlankOutput):
		status = "blank"
	case err != nil:
		status = "error"
	}
	metrics.SubsetRetrievalsTotal.WithLabelValues(variable, status).Inc()
}
