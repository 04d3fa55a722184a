// Package report renders per-year outputs: the monthly means table as CSV
// and a summary figure as PNG.
package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"waterstack/internal/models"
)

// WriteMonthlyMeansCSV writes one year's monthly means table. Months without
// data produce empty cells, not zeros.
func WriteMonthlyMeansCSV(path string, rows []models.MonthlyMeans) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	w.Write([]string{"Year", "Month", "ET", "PET"})
	for _, row := range rows {
		w.Write([]string{
			strconv.Itoa(row.Year),
			strconv.Itoa(int(row.Month)),
			formatMean(row.ET),
			formatMean(row.PET),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	return f.Close()
}

func formatMean(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}
