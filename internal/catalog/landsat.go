// Package catalog queries a STAC API for Landsat scene availability, used to
// annotate reports with how many satellite passes informed each month.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"waterstack/internal/metrics"
	"waterstack/internal/models"
	"waterstack/internal/solar"
)

// DefaultEndpoint is the Planetary Computer STAC search endpoint.
const DefaultEndpoint = "https://planetarycomputer.microsoft.com/api/stac/v1/search"

const landsatCollection = "landsat-c2-l2"

var landsatPlatforms = []string{"landsat-5", "landsat-7", "landsat-8", "landsat-9"}

// Landsat counts satellite passes over a bounding box via STAC search.
// Results are cached on disk per (year, month); the counts are historical
// facts and never refetched.
type Landsat struct {
	endpoint string
	client   *http.Client
	cacheDir string
}

// NewLandsat creates a catalog client. endpoint defaults to the Planetary
// Computer; cacheDir may be empty to disable caching.
func NewLandsat(endpoint, cacheDir string) *Landsat {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Landsat{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		cacheDir: cacheDir,
	}
}

// PassCount returns the number of distinct (platform, day) Landsat passes
// over the bounding box during a month. bbox is [minX, minY, maxX, maxY] in
// lon/lat.
func (l *Landsat) PassCount(ctx context.Context, bbox [4]float64, year int, month time.Month) (int, error) {
	if pc, ok := l.cached(year, month); ok {
		metrics.PassCountLookupsTotal.WithLabelValues("hit").Inc()
		return pc.Count, nil
	}

	count, err := l.query(ctx, bbox, year, month)
	if err != nil {
		metrics.PassCountLookupsTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.PassCountLookupsTotal.WithLabelValues("miss").Inc()

	l.store(models.PassCount{Year: year, Month: month, Count: count, FetchedAt: time.Now().UTC()})
	return count, nil
}

func (l *Landsat) cachePath(year int, month time.Month) string {
	return filepath.Join(l.cacheDir, fmt.Sprintf("landsat_pass_count_%d_%02d.json", year, int(month)))
}

func (l *Landsat) cached(year int, month time.Month) (models.PassCount, bool) {
	var pc models.PassCount
	if l.cacheDir == "" {
		return pc, false
	}
	data, err := os.ReadFile(l.cachePath(year, month))
	if err != nil {
		return pc, false
	}
	if err := json.Unmarshal(data, &pc); err != nil {
		log.Printf("catalog: discarding unreadable pass-count cache for %d-%02d: %v", year, month, err)
		os.Remove(l.cachePath(year, month))
		return pc, false
	}
	return pc, true
}

func (l *Landsat) store(pc models.PassCount) {
	if l.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(l.cacheDir, 0755); err != nil {
		log.Printf("catalog: create cache directory: %v", err)
		return
	}
	data, err := json.Marshal(pc)
	if err != nil {
		return
	}
	if err := os.WriteFile(l.cachePath(pc.Year, pc.Month), data, 0644); err != nil {
		log.Printf("catalog: write pass-count cache: %v", err)
	}
}

type searchResponse struct {
	Features []struct {
		Properties struct {
			Datetime string `json:"datetime"`
			Platform string `json:"platform"`
		} `json:"properties"`
	} `json:"features"`
	Links []struct {
		Rel  string         `json:"rel"`
		Body map[string]any `json:"body"`
	} `json:"links"`
}

func (l *Landsat) query(ctx context.Context, bbox [4]float64, year int, month time.Month) (int, error) {
	lastDay := solar.DaysInMonth(year, month)
	body := map[string]any{
		"collections": []string{landsatCollection},
		"bbox":        bbox[:],
		"datetime": fmt.Sprintf("%d-%02d-01T00:00:00Z/%d-%02d-%02dT23:59:59Z",
			year, int(month), year, int(month), lastDay),
		"query": map[string]any{"platform": map[string]any{"in": landsatPlatforms}},
		"limit": 250,
	}

	seen := make(map[string]bool)
	for {
		resp, err := l.search(ctx, body)
		if err != nil {
			return 0, err
		}
		for _, f := range resp.Features {
			if len(f.Properties.Datetime) < len("2006-01-02") {
				continue
			}
			seen[f.Properties.Platform+"|"+f.Properties.Datetime[:len("2006-01-02")]] = true
		}

		var next map[string]any
		for _, link := range resp.Links {
			if link.Rel == "next" {
				next = link.Body
				break
			}
		}
		if next == nil {
			break
		}
		// Paged search: the next link carries the token to merge in.
		for k, v := range next {
			body[k] = v
		}
	}

	return len(seen), nil
}

func (l *Landsat) search(ctx context.Context, body map[string]any) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	var out searchResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build search request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return fmt.Errorf("search request: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("catalog returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("catalog returned %d", resp.StatusCode))
		}

		out = searchResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return &out, nil
}
