package raster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Grids and stacks are persisted in a compact container: a gzip stream
// holding a length-prefixed JSON header followed by little-endian float32
// samples. Clipping and reprojection happen upstream; subsets arrive here
// already in this format.

const containerMagic = "WSGRID1"

// maxContainerSamples bounds the declared payload size (4 GiB of float32),
// far above any real subset stack.
const maxContainerSamples = 1 << 30

type containerHeader struct {
	Magic     string     `json:"magic"`
	Shape     []int      `json:"shape"` // [rows, cols] or [steps, rows, cols]
	Transform [6]float64 `json:"transform"`
	CRS       string     `json:"crs"`
}

func writeContainer(w io.Writer, hdr containerHeader, data []float32) error {
	hdr.Magic = containerMagic

	zw := gzip.NewWriter(w)

	headerJSON, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if err := binary.Write(zw, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := zw.Write(headerJSON); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if _, err := zw.Write(buf); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}

	return zw.Close()
}

func readContainer(r io.Reader) (containerHeader, []float32, error) {
	var hdr containerHeader

	zr, err := gzip.NewReader(r)
	if err != nil {
		return hdr, nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	var headerLen uint32
	if err := binary.Read(zr, binary.LittleEndian, &headerLen); err != nil {
		return hdr, nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen > 1<<20 {
		return hdr, nil, fmt.Errorf("implausible header length %d", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(zr, headerJSON); err != nil {
		return hdr, nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("parse header: %w", err)
	}
	if hdr.Magic != containerMagic {
		return hdr, nil, fmt.Errorf("unrecognized container magic %q", hdr.Magic)
	}

	count := 1
	for _, dim := range hdr.Shape {
		// Division-form bound keeps the running product from overflowing.
		if dim <= 0 || dim > maxContainerSamples/count {
			return hdr, nil, fmt.Errorf("invalid shape %v", hdr.Shape)
		}
		count *= dim
	}

	buf, err := io.ReadAll(zr)
	if err != nil {
		return hdr, nil, fmt.Errorf("read samples: %w", err)
	}
	if len(buf) != 4*count {
		return hdr, nil, fmt.Errorf("sample payload is %d bytes, want %d for shape %v", len(buf), 4*count, hdr.Shape)
	}

	data := make([]float32, count)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}

	return hdr, data, nil
}

// EncodeGrid writes a grid to a writer in container format.
func EncodeGrid(w io.Writer, g *Grid) error {
	return writeContainer(w, containerHeader{
		Shape:     []int{g.Rows, g.Cols},
		Transform: g.Transform.Coefficients(),
		CRS:       g.CRS,
	}, g.Data)
}

// DecodeGrid reads a 2-D grid from a reader in container format.
func DecodeGrid(r io.Reader) (*Grid, error) {
	hdr, data, err := readContainer(r)
	if err != nil {
		return nil, err
	}
	if len(hdr.Shape) != 2 {
		return nil, fmt.Errorf("expected 2-D grid, got shape %v", hdr.Shape)
	}
	return &Grid{
		Rows:      hdr.Shape[0],
		Cols:      hdr.Shape[1],
		Transform: Affine{hdr.Transform[0], hdr.Transform[1], hdr.Transform[2], hdr.Transform[3], hdr.Transform[4], hdr.Transform[5]},
		CRS:       hdr.CRS,
		Data:      data,
	}, nil
}

// WriteGridFile persists a grid, creating parent directories as needed.
func WriteGridFile(path string, g *Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeGrid(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadGridFile loads a grid from a container file.
func ReadGridFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeGrid(f)
}

// EncodeStack writes a stack plus its shared transform in container format.
func EncodeStack(w io.Writer, s *Stack, transform Affine, crs string) error {
	return writeContainer(w, containerHeader{
		Shape:     []int{s.Steps, s.Rows, s.Cols},
		Transform: transform.Coefficients(),
		CRS:       crs,
	}, s.Data)
}

// DecodeStack reads a 3-D stack from a reader in container format.
func DecodeStack(r io.Reader) (*Stack, Affine, string, error) {
	hdr, data, err := readContainer(r)
	if err != nil {
		return nil, Affine{}, "", err
	}
	if len(hdr.Shape) != 3 {
		return nil, Affine{}, "", fmt.Errorf("expected 3-D stack, got shape %v", hdr.Shape)
	}
	stack := &Stack{Steps: hdr.Shape[0], Rows: hdr.Shape[1], Cols: hdr.Shape[2], Data: data}
	transform := Affine{hdr.Transform[0], hdr.Transform[1], hdr.Transform[2], hdr.Transform[3], hdr.Transform[4], hdr.Transform[5]}
	return stack, transform, hdr.CRS, nil
}

// WriteStackFile persists a stack, creating parent directories as needed.
func WriteStackFile(path string, s *Stack, transform Affine, crs string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeStack(f, s, transform, crs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadStackFile loads a stack from a container file.
func ReadStackFile(path string) (*Stack, Affine, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Affine{}, "", err
	}
	defer f.Close()
	return DecodeStack(f)
}
