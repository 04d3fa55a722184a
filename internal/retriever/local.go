package retriever

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"waterstack/internal/raster"
	"waterstack/internal/registry"
)

// Local serves pre-clipped subset files from a directory.
type Local struct {
	dir      string
	registry *registry.Registry
}

// NewLocal creates a directory-backed retriever.
func NewLocal(dir string, reg *registry.Registry) *Local {
	return &Local{dir: dir, registry: reg}
}

func (l *Local) GetSubset(ctx context.Context, variable string, date time.Time) (g *raster.Grid, err error) {
	start := time.Now()
	defer func() { observe(variable, start, err) }()

	src := l.registry.Lookup(variable, date)
	if src == nil {
		return nil, fmt.Errorf("no %s source for %s: %w", variable, date.Format("2006-01-02"), ErrFileUnavailable)
	}

	filename := SubsetFilename(src, date)
	path := filepath.Join(l.dir, filename)

	grid, err := raster.ReadGridFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", filename, ErrFileUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("read subset %s: %w", filename, err)
	}

	return checkGrid(grid, filename)
}

func (l *Local) Inventory(ctx context.Context) ([]time.Time, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list subset directory: %w", err)
	}

	var raw []time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if d, ok := parseSubsetDate(entry.Name()); ok {
			raw = append(raw, d)
		}
	}

	return relevantDates(l.registry, raw), nil
}
