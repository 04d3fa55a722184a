package stack

import (
	"math"
	"time"

	"waterstack/internal/models"
	"waterstack/internal/raster"
	"waterstack/internal/solar"
)

// MonthlyResult holds per-pixel monthly ET totals and the region-mean table
// rows derived from them.
type MonthlyResult struct {
	Sums  map[time.Month]*raster.Grid
	Means []models.MonthlyMeans
}

// AggregateMonthly collapses reconciled ET and PET cubes into monthly
// products. On a daily timeline ET is summed per pixel over each month's days
// and PET averaged; on a monthly timeline slots pass through unchanged.
// Region means cover only pixels selected by mask (every pixel when mask is
// nil), ignore non-finite values, and are NaN when nothing qualifies.
func AggregateMonthly(roiName string, et, pet *raster.Stack, mask []bool, transform raster.Affine, crs string, year int, startMonth, endMonth time.Month, daily bool) *MonthlyResult {
	res := &MonthlyResult{Sums: make(map[time.Month]*raster.Grid)}
	n := et.PixelCount()

	for m := startMonth; m <= endMonth; m++ {
		etMonth := raster.NewGrid(et.Rows, et.Cols, transform, crs)
		petMonth := make([]float32, n)
		for i := range petMonth {
			petMonth[i] = raster.NaN
		}

		if daily {
			start, end := solar.MonthSlice(year, m)
			for p := 0; p < n; p++ {
				var etSum, petSum float64
				etCount, petCount := 0, 0
				for step := start; step < end; step++ {
					if v := et.Data[step*n+p]; finite(v) {
						etSum += float64(v)
						etCount++
					}
					if v := pet.Data[step*n+p]; finite(v) {
						petSum += float64(v)
						petCount++
					}
				}
				if etCount > 0 {
					etMonth.Data[p] = float32(etSum)
				}
				if petCount > 0 {
					petMonth[p] = float32(petSum / float64(petCount))
				}
			}
		} else {
			copy(etMonth.Data, et.Slot(int(m)-1))
			copy(petMonth, pet.Slot(int(m)-1))
		}

		res.Sums[m] = etMonth
		res.Means = append(res.Means, models.MonthlyMeans{
			ROIName: roiName,
			Year:    year,
			Month:   m,
			ET:      maskedMean(etMonth.Data, mask),
			PET:     maskedMean(petMonth, mask),
		})
	}

	return res
}

// finite reports whether a sample carries usable data. ESI-derived PET can
// contain Inf from division by zero; those are treated as missing.
func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func maskedMean(data []float32, mask []bool) float64 {
	var sum float64
	count := 0
	for i, v := range data {
		if mask != nil && !mask[i] {
			continue
		}
		if !finite(v) {
			continue
		}
		sum += float64(v)
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}
