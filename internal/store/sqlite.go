// Package store persists monthly statistics and processing bookkeeping in
// SQLite.
package store

import (
	"database/sql"
	"math"
	"time"

	"waterstack/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertMonthlyMeans writes one month's region means, replacing any previous
// run's row. NaN means are stored as NULL.
func (s *Store) UpsertMonthlyMeans(mm models.MonthlyMeans) error {
	_, err := s.db.Exec(`
		INSERT INTO monthly_means (roi_name, year, month, et, pet, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(roi_name, year, month) DO UPDATE SET
			et = excluded.et,
			pet = excluded.pet,
			updated_at = excluded.updated_at
	`, mm.ROIName, mm.Year, int(mm.Month), nullFloat(mm.ET), nullFloat(mm.PET), time.Now().UTC())
	return err
}

// GetMonthlyMeans returns a region's rows for one year, ordered by month.
// NULL means come back as NaN.
func (s *Store) GetMonthlyMeans(roiName string, year int) ([]models.MonthlyMeans, error) {
	rows, err := s.db.Query(`
		SELECT roi_name, year, month, et, pet
		FROM monthly_means
		WHERE roi_name = ? AND year = ?
		ORDER BY month ASC
	`, roiName, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MonthlyMeans
	for rows.Next() {
		var mm models.MonthlyMeans
		var month int
		var et, pet sql.NullFloat64
		if err := rows.Scan(&mm.ROIName, &mm.Year, &month, &et, &pet); err != nil {
			return nil, err
		}
		mm.Month = time.Month(month)
		mm.ET = floatOrNaN(et)
		mm.PET = floatOrNaN(pet)
		out = append(out, mm)
	}
	return out, rows.Err()
}

// StartYearRun records the beginning of one (ROI, year) job and returns its id.
func (s *Store) StartYearRun(roiName string, year int) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO year_runs (roi_name, year, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, roiName, year, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CompleteYearRun finalizes a run. errMsg is empty on success.
func (s *Store) CompleteYearRun(id int64, success bool, errMsg string, datesProcessed, subsetsRetrieved int) error {
	_, err := s.db.Exec(`
		UPDATE year_runs
		SET completed_at = ?, success = ?, error_message = ?, dates_processed = ?, subsets_retrieved = ?
		WHERE id = ?
	`, time.Now().UTC(), success, nullString(errMsg), datesProcessed, subsetsRetrieved, id)
	return err
}

// GetYearRuns returns a region's run history, most recent first.
func (s *Store) GetYearRuns(roiName string, limit int) ([]models.YearRun, error) {
	rows, err := s.db.Query(`
		SELECT id, roi_name, year, started_at, completed_at, success, error_message, dates_processed, subsets_retrieved
		FROM year_runs
		WHERE roi_name = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, roiName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.YearRun
	for rows.Next() {
		var r models.YearRun
		if err := rows.Scan(&r.ID, &r.ROIName, &r.Year, &r.StartedAt, &r.CompletedAt,
			&r.Success, &r.ErrorMessage, &r.DatesProcessed, &r.SubsetsRetrieved); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSuccessfulYear returns the most recent year completed successfully for
// a region, or 0 when none exists.
func (s *Store) LastSuccessfulYear(roiName string) (int, error) {
	var year sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MAX(year) FROM year_runs WHERE roi_name = ? AND success = TRUE
	`, roiName).Scan(&year)
	if err != nil {
		return 0, err
	}
	if !year.Valid {
		return 0, nil
	}
	return int(year.Int64), nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
