package models

import (
	"database/sql"
	"time"
)

// MonthlyMeans is one row of the per-year tabular output: ROI-wide spatial
// means for a month. ET is the mean of per-pixel monthly totals; PET is the
// mean monthly rate. NaN marks months with no usable data.
type MonthlyMeans struct {
	ROIName string
	Year    int
	Month   time.Month
	ET      float64
	PET     float64
}

// YearRun records one (ROI, year) processing attempt for bookkeeping.
type YearRun struct {
	ID               int64
	ROIName          string
	Year             int
	StartedAt        time.Time
	CompletedAt      sql.NullTime
	Success          bool
	ErrorMessage     sql.NullString
	DatesProcessed   sql.NullInt64
	SubsetsRetrieved sql.NullInt64
}

// PassCount is a cached satellite pass count for one (year, month).
type PassCount struct {
	Year      int
	Month     time.Month
	Count     int
	FetchedAt time.Time
}
