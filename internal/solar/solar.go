// Package solar provides calendar and daylight calculations used when
// reconciling mixed-cadence raster observations onto a daily timeline.
//
// The daylight model follows the OpenET PT-JPL daylight-hours formulation:
// day angle -> solar declination (Spencer series) -> sunrise hour angle ->
// hours of daylight.
package solar

import (
	"math"
	"time"
)

// DaysInYear returns 365 or 366.
func DaysInYear(year int) int {
	return time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC).YearDay()
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// day 0 of the following month normalizes to the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayOfYear returns the zero-based day-of-year index for a date.
func DayOfYear(date time.Time) int {
	return date.YearDay() - 1
}

// MonthSlice returns the half-open [start, end) range of zero-based
// day-of-year indices covered by a month.
func MonthSlice(year int, month time.Month) (start, end int) {
	start = DayOfYear(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
	end = start + DaysInMonth(year, month)
	return start, end
}

// dayAngle converts a one-based day of year to a day angle in radians.
func dayAngle(doy int) float64 {
	return (2 * math.Pi * float64(doy-1)) / 365
}

// declination computes solar declination in degrees from a day angle in
// radians, using the Spencer Fourier series.
func declination(dayAngleRad float64) float64 {
	return (0.006918 -
		0.399912*math.Cos(dayAngleRad) +
		0.070257*math.Sin(dayAngleRad) -
		0.006758*math.Cos(2*dayAngleRad) +
		0.000907*math.Sin(2*dayAngleRad) -
		0.002697*math.Cos(3*dayAngleRad) +
		0.00148*math.Sin(3*dayAngleRad)) * (180 / math.Pi)
}

// SunriseHourAngle computes the sunrise hour angle in degrees for a latitude
// (degrees) and one-based day of year. Polar day and night clamp to 180 and 0.
func SunriseHourAngle(latitude float64, doy int) float64 {
	decl := declination(dayAngle(doy))

	latRad := latitude * math.Pi / 180
	declRad := decl * math.Pi / 180

	sunriseCos := -math.Tan(latRad) * math.Tan(declRad)

	if sunriseCos >= 1 {
		return 0 // no sunrise
	}
	if sunriseCos <= -1 {
		return 180 // no sunset
	}

	return math.Acos(sunriseCos) * 180 / math.Pi
}

// DaylightHours estimates the hours of sunlight for a latitude (degrees)
// and one-based day of year.
func DaylightHours(latitude float64, doy int) float64 {
	return (2.0 / 15.0) * SunriseHourAngle(latitude, doy)
}

// DaylightHoursOn estimates the hours of sunlight for a latitude on a date.
func DaylightHoursOn(latitude float64, date time.Time) float64 {
	return DaylightHours(latitude, date.YearDay())
}
