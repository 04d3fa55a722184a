package stack

import (
	"math"
	"testing"
	"time"

	"waterstack/internal/raster"
	"waterstack/internal/solar"
)

func TestAggregateMonthlyDaily(t *testing.T) {
	et := raster.NewStack(365, 1, 1)
	pet := raster.NewStack(365, 1, 1)
	start, end := solar.MonthSlice(2021, time.January)
	for step := start; step < end; step++ {
		et.Set(step, 0, 0, 1.0)
		pet.Set(step, 0, 0, 2.0)
	}
	// February left fully masked.

	res := AggregateMonthly("farm", et, pet, nil, raster.Affine{A: 1, E: -1}, "EPSG:4326",
		2021, time.January, time.February, true)

	if len(res.Means) != 2 {
		t.Fatalf("got %d mean rows, want 2", len(res.Means))
	}

	jan := res.Means[0]
	if jan.Month != time.January || jan.Year != 2021 || jan.ROIName != "farm" {
		t.Errorf("unexpected January row: %+v", jan)
	}
	if jan.ET != 31.0 {
		t.Errorf("January ET mean = %v, want 31.0", jan.ET)
	}
	if jan.PET != 2.0 {
		t.Errorf("January PET mean = %v, want 2.0", jan.PET)
	}
	if got := res.Sums[time.January].Data[0]; got != 31.0 {
		t.Errorf("January ET sum = %v, want 31.0", got)
	}

	feb := res.Means[1]
	if !math.IsNaN(feb.ET) || !math.IsNaN(feb.PET) {
		t.Errorf("February means = (%v, %v), want NaN", feb.ET, feb.PET)
	}
	if got := res.Sums[time.February].Data[0]; !raster.IsNaN(got) {
		t.Errorf("February ET sum = %v, want NaN", got)
	}
}

func TestAggregateMonthlyMask(t *testing.T) {
	et := raster.NewStack(365, 1, 2)
	pet := raster.NewStack(365, 1, 2)
	start, end := solar.MonthSlice(2021, time.June)
	for step := start; step < end; step++ {
		et.Set(step, 0, 0, 1.0)
		et.Set(step, 0, 1, 100.0)
		pet.Set(step, 0, 0, 2.0)
		pet.Set(step, 0, 1, 200.0)
	}

	// Only the first pixel is inside the region.
	mask := []bool{true, false}
	res := AggregateMonthly("farm", et, pet, mask, raster.Affine{A: 1, E: -1}, "EPSG:4326",
		2021, time.June, time.June, true)

	if got := res.Means[0].ET; got != 30.0 {
		t.Errorf("masked ET mean = %v, want 30.0", got)
	}
	if got := res.Means[0].PET; got != 2.0 {
		t.Errorf("masked PET mean = %v, want 2.0", got)
	}
}

func TestAggregateMonthlyModePassesSlotsThrough(t *testing.T) {
	et := raster.NewStack(12, 1, 1)
	pet := raster.NewStack(12, 1, 1)
	et.Set(5, 0, 0, 90.0)  // June
	pet.Set(5, 0, 0, 120.0)

	res := AggregateMonthly("farm", et, pet, nil, raster.Affine{A: 1, E: -1}, "EPSG:4326",
		2021, time.June, time.June, false)

	if got := res.Means[0].ET; got != 90.0 {
		t.Errorf("June ET = %v, want 90.0", got)
	}
	if got := res.Means[0].PET; got != 120.0 {
		t.Errorf("June PET = %v, want 120.0", got)
	}
	if got := res.Sums[time.June].Data[0]; got != 90.0 {
		t.Errorf("June sum grid = %v, want 90.0", got)
	}
}

func TestAggregateMonthlyIgnoresInf(t *testing.T) {
	et := raster.NewStack(365, 1, 1)
	pet := raster.NewStack(365, 1, 1)
	start, end := solar.MonthSlice(2021, time.June)
	for step := start; step < end; step++ {
		et.Set(step, 0, 0, 1.0)
		pet.Set(step, 0, 0, float32(math.Inf(1))) // division by zero upstream
	}

	res := AggregateMonthly("farm", et, pet, nil, raster.Affine{A: 1, E: -1}, "EPSG:4326",
		2021, time.June, time.June, true)

	if !math.IsNaN(res.Means[0].PET) {
		t.Errorf("PET mean = %v, want NaN when every sample is Inf", res.Means[0].PET)
	}
}
