package pipeline

import (
	"context"
	"fmt"
	"log"

	"waterstack/internal/metrics"
	"waterstack/internal/roi"
)

// Run processes every (region, year) combination. The store inventory is
// listed once and shared across jobs. A failed year is logged and counted;
// the batch keeps going and reports the failure total at the end.
func (p *Pipeline) Run(ctx context.Context, regions []*roi.ROI, startYear, endYear int) error {
	dates, err := p.Retriever.Inventory(ctx)
	if err != nil {
		return fmt.Errorf("list inventory: %w", err)
	}
	log.Printf("pipeline: %d relevant observation dates in store", len(dates))

	failures := 0
	for _, region := range regions {
		for year := startYear; year <= endYear; year++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.ProcessYear(ctx, region, year, dates); err != nil {
				metrics.YearsProcessedTotal.WithLabelValues("error").Inc()
				log.Printf("pipeline: %s %d: %v", region.Name, year, err)
				failures++
				continue
			}
			metrics.YearsProcessedTotal.WithLabelValues("ok").Inc()
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d year jobs failed", failures)
	}
	return nil
}
