// Package roi loads region-of-interest polygons from GeoJSON and derives the
// geometry the pipeline needs from them: centroid latitude for daylight
// correction, a pixel mask on the subset grid, and approximate area.
package roi

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"waterstack/internal/raster"
)

// Point is a lon/lat coordinate pair.
type Point struct {
	X, Y float64
}

// Ring is a closed linear ring of coordinates.
type Ring []Point

// Polygon is an exterior ring followed by optional interior holes.
type Polygon []Ring

// ROI is a named region-of-interest boundary in WGS84 coordinates.
type ROI struct {
	Name     string
	Polygons []Polygon
}

type geojsonGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type geojsonFeature struct {
	Type       string           `json:"type"`
	Properties map[string]any   `json:"properties"`
	Geometry   *geojsonGeometry `json:"geometry"`
}

type geojsonDocument struct {
	Type        string           `json:"type"`
	Features    []geojsonFeature `json:"features"`
	Geometry    *geojsonGeometry `json:"geometry"`
	Coordinates json.RawMessage  `json:"coordinates"`
}

// Load reads an ROI from a GeoJSON file. The ROI name is the file's base
// name without extension. Polygon and MultiPolygon geometries are accepted,
// whether bare, in a Feature, or in a FeatureCollection.
func Load(path string) (*ROI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	region, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	region.Name = name
	return region, nil
}

// Parse decodes GeoJSON bytes into an ROI.
func Parse(data []byte) (*ROI, error) {
	var doc geojsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	region := &ROI{}

	switch doc.Type {
	case "FeatureCollection":
		for _, feature := range doc.Features {
			if feature.Geometry == nil {
				continue
			}
			if err := region.appendGeometry(feature.Geometry); err != nil {
				return nil, err
			}
		}
	case "Feature":
		if doc.Geometry == nil {
			return nil, fmt.Errorf("feature has no geometry")
		}
		if err := region.appendGeometry(doc.Geometry); err != nil {
			return nil, err
		}
	case "Polygon", "MultiPolygon":
		if err := region.appendGeometry(&geojsonGeometry{Type: doc.Type, Coordinates: doc.Coordinates}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported geojson type %q", doc.Type)
	}

	if len(region.Polygons) == 0 {
		return nil, fmt.Errorf("no polygon geometry found")
	}
	return region, nil
}

func (r *ROI) appendGeometry(geom *geojsonGeometry) error {
	switch geom.Type {
	case "Polygon":
		var coords [][][2]float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
			return fmt.Errorf("decode polygon coordinates: %w", err)
		}
		r.Polygons = append(r.Polygons, toPolygon(coords))
	case "MultiPolygon":
		var coords [][][][2]float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
			return fmt.Errorf("decode multipolygon coordinates: %w", err)
		}
		for _, poly := range coords {
			r.Polygons = append(r.Polygons, toPolygon(poly))
		}
	default:
		return fmt.Errorf("unsupported geometry type %q", geom.Type)
	}
	return nil
}

func toPolygon(coords [][][2]float64) Polygon {
	poly := make(Polygon, 0, len(coords))
	for _, ring := range coords {
		points := make(Ring, 0, len(ring))
		for _, c := range ring {
			points = append(points, Point{X: c[0], Y: c[1]})
		}
		poly = append(poly, points)
	}
	return poly
}

// Bounds returns the bounding box (minX, minY, maxX, maxY) of all polygons.
func (r *ROI) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, poly := range r.Polygons {
		for _, p := range poly[0] {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}
	return minX, minY, maxX, maxY
}

// Centroid returns the area-weighted centroid of the exterior rings.
func (r *ROI) Centroid() Point {
	var cx, cy, areaSum float64
	for _, poly := range r.Polygons {
		ring := poly[0]
		var a, sx, sy float64
		for i := 0; i < len(ring); i++ {
			j := (i + 1) % len(ring)
			cross := ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
			a += cross
			sx += (ring[i].X + ring[j].X) * cross
			sy += (ring[i].Y + ring[j].Y) * cross
		}
		if a == 0 {
			continue
		}
		cx += sx / 3
		cy += sy / 3
		areaSum += a
	}
	if areaSum == 0 {
		minX, minY, maxX, maxY := r.Bounds()
		return Point{X: (minX + maxX) / 2, Y: (minY + maxY) / 2}
	}
	// a already carries the shoelace factor of 2, so cx/areaSum is sx/(3a).
	return Point{X: cx / areaSum, Y: cy / areaSum}
}

// CentroidLatitude returns the latitude of the ROI centroid, used for
// daylight-hours estimation.
func (r *ROI) CentroidLatitude() float64 {
	return r.Centroid().Y
}

// Contains reports whether a WGS84 point falls inside the ROI, honoring
// holes via even-odd crossing counts.
func (r *ROI) Contains(x, y float64) bool {
	for _, poly := range r.Polygons {
		inside := false
		for _, ring := range poly {
			if ringContains(ring, x, y) {
				inside = !inside
			}
		}
		if inside {
			return true
		}
	}
	return false
}

func ringContains(ring Ring, x, y float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi.Y > y) != (pj.Y > y) &&
			x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// Mask rasterizes the ROI onto a grid, marking pixels whose centers fall
// inside the boundary.
func (r *ROI) Mask(rows, cols int, transform raster.Affine) []bool {
	mask := make([]bool, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x, y := transform.PixelCenter(row, col)
			mask[row*cols+col] = r.Contains(x, y)
		}
	}
	return mask
}

const (
	metersPerDegree = 111320.0
	sqMetersPerAcre = 4046.8564224
)

// AreaAcres approximates the ROI area in acres from its WGS84 coordinates,
// scaling longitude by the cosine of the centroid latitude.
func (r *ROI) AreaAcres() float64 {
	latScale := math.Cos(r.CentroidLatitude() * math.Pi / 180)
	var total float64
	for _, poly := range r.Polygons {
		for ringIdx, ring := range poly {
			var a float64
			for i := 0; i < len(ring); i++ {
				j := (i + 1) % len(ring)
				a += ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
			}
			area := math.Abs(a/2) * metersPerDegree * metersPerDegree * latScale
			if ringIdx == 0 {
				total += area
			} else {
				total -= area // holes
			}
		}
	}
	return total / sqMetersPerAcre
}
