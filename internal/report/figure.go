package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"waterstack/internal/models"
)

const (
	figureWidth  = 960
	figureHeight = 540

	marginLeft   = 70
	marginRight  = 30
	marginTop    = 50
	marginBottom = 70
)

var (
	figureBG  = color.RGBA{255, 255, 255, 255}
	etColor   = color.RGBA{31, 119, 180, 255}
	petColor  = color.RGBA{255, 127, 14, 255}
	axisColor = color.RGBA{60, 60, 60, 255}
	gridColor = color.RGBA{225, 225, 225, 255}
	textColor = color.RGBA{30, 30, 30, 255}
	noteColor = color.RGBA{120, 120, 120, 255}
)

// RenderFigure draws the year summary chart: ET totals as bars, PET rates as
// markers, and optional per-month satellite pass counts under the month
// labels.
func RenderFigure(path, roiName string, year int, rows []models.MonthlyMeans, passCounts map[time.Month]int) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to plot for %s %d", roiName, year)
	}

	img := image.NewRGBA(image.Rect(0, 0, figureWidth, figureHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{figureBG}, image.Point{}, draw.Src)

	plotLeft := marginLeft
	plotRight := figureWidth - marginRight
	plotTop := marginTop
	plotBottom := figureHeight - marginBottom
	plotW := plotRight - plotLeft
	plotH := plotBottom - plotTop

	maxVal := 1.0
	for _, row := range rows {
		for _, v := range []float64{row.ET, row.PET} {
			if !math.IsNaN(v) && !math.IsInf(v, 0) && v > maxVal {
				maxVal = v
			}
		}
	}
	maxVal = niceCeil(maxVal)

	toY := func(v float64) int {
		return plotBottom - int(v/maxVal*float64(plotH))
	}

	// Horizontal gridlines with axis labels.
	const ticks = 5
	for i := 0; i <= ticks; i++ {
		v := maxVal * float64(i) / ticks
		y := toY(v)
		if i > 0 {
			fillRect(img, plotLeft, y, plotRight, y+1, gridColor)
		}
		drawText(img, fmt.Sprintf("%.0f", v), plotLeft-45, y+4, textColor)
	}

	// Axes.
	fillRect(img, plotLeft, plotTop, plotLeft+1, plotBottom, axisColor)
	fillRect(img, plotLeft, plotBottom, plotRight, plotBottom+1, axisColor)

	slotW := plotW / len(rows)
	barW := slotW * 3 / 5

	for i, row := range rows {
		slotX := plotLeft + i*slotW
		barX := slotX + (slotW-barW)/2

		if plottable(row.ET) {
			fillRect(img, barX, toY(row.ET), barX+barW, plotBottom, etColor)
		}
		if plottable(row.PET) {
			y := toY(row.PET)
			fillRect(img, barX-3, y-1, barX+barW+3, y+2, petColor)
		}

		label := row.Month.String()[:3]
		drawText(img, label, slotX+slotW/2-3*len(label), plotBottom+18, textColor)
		if n, ok := passCounts[row.Month]; ok {
			note := fmt.Sprintf("(%d)", n)
			drawText(img, note, slotX+slotW/2-3*len(note), plotBottom+34, noteColor)
		}
	}

	// Title and legend.
	drawText(img, fmt.Sprintf("%s  %d  monthly ET and PET (mm)", roiName, year), plotLeft, 25, textColor)
	fillRect(img, plotRight-130, 16, plotRight-118, 26, etColor)
	drawText(img, "ET", plotRight-112, 25, textColor)
	fillRect(img, plotRight-80, 19, plotRight-68, 23, petColor)
	drawText(img, "PET", plotRight-62, 25, textColor)
	if len(passCounts) > 0 {
		drawText(img, "(n) = satellite passes", plotLeft, figureHeight-12, noteColor)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode figure: %w", err)
	}
	return f.Close()
}

func plottable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// niceCeil rounds up to a comfortable axis maximum.
func niceCeil(v float64) float64 {
	scale := math.Pow(10, math.Floor(math.Log10(v)))
	for _, m := range []float64{1, 2, 2.5, 5, 10} {
		if v <= m*scale {
			return m * scale
		}
	}
	return 10 * scale
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.Color) {
	draw.Draw(img, image.Rect(x0, y0, x1, y1), &image.Uniform{col}, image.Point{}, draw.Src)
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
