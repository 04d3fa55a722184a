package stack

import (
	"time"

	"waterstack/internal/metrics"
	"waterstack/internal/raster"
)

// minSamplesPerPixel is the fewest observations a pixel needs before its
// timeline is trusted enough to gap-fill. Sparser pixels stay fully masked.
const minSamplesPerPixel = 3

// Interpolate returns a copy of the stack with NaN gaps filled along the time
// axis by the nearest observation; ties resolve to the earlier one, and
// boundary gaps extend the first and last observations outward. Pixels with
// fewer than minSamplesPerPixel observations come back all-NaN.
func Interpolate(s *raster.Stack) *raster.Stack {
	start := time.Now()
	defer func() { metrics.InterpolationSeconds.Observe(time.Since(start).Seconds()) }()

	out := s.Clone()
	n := s.PixelCount()
	known := make([]int, 0, s.Steps)

	for p := 0; p < n; p++ {
		known = known[:0]
		for step := 0; step < s.Steps; step++ {
			if !raster.IsNaN(s.Data[step*n+p]) {
				known = append(known, step)
			}
		}

		if len(known) < minSamplesPerPixel {
			for step := 0; step < s.Steps; step++ {
				out.Data[step*n+p] = raster.NaN
			}
			continue
		}

		k := 0
		for step := 0; step < s.Steps; step++ {
			for k+1 < len(known) && absInt(known[k+1]-step) < absInt(known[k]-step) {
				k++
			}
			out.Data[step*n+p] = s.Data[known[k]*n+p]
		}
	}

	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
