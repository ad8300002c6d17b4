package report

import (
	"bytes"
	"image/color"
	"math"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/ykvlv/timekeeper/internal/domain"
)

// 8x2 inches at 72 dpi.
const (
	figureWidth  = 576
	figureHeight = 144
	dpi          = 72

	paletteSize = 256
)

var (
	background = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	fillColor  = color.RGBA{R: 245, G: 245, B: 245, A: 255} // days without a value

	// Sequential white-to-red ramp.
	reds = []color.RGBA{
		rgb(0xff, 0xf5, 0xf0),
		rgb(0xfe, 0xe0, 0xd2),
		rgb(0xfc, 0xbb, 0xa1),
		rgb(0xfc, 0x92, 0x72),
		rgb(0xfb, 0x6a, 0x4a),
		rgb(0xef, 0x3b, 0x2c),
		rgb(0xcb, 0x18, 0x1d),
		rgb(0xa5, 0x0f, 0x15),
		rgb(0x67, 0x00, 0x0d),
	}
)

// Cell is one day of the calendar heatmap. Col counts weeks from the first
// week of the year; Row is the weekday, Monday first.
type Cell struct {
	Date    time.Time
	Row     int
	Col     int
	Value   float64 // NaN when the day has no value
	Present bool    // the day appears in the series
}

// HeatmapCells lays out every day of year and attaches the series value of
// each UTC date. Days absent from the series carry NaN.
func HeatmapCells(series []domain.RatioPoint, year int) []Cell {
	values := make(map[time.Time]float64, len(series))
	for _, p := range series {
		values[domain.UTCDate(p.Date)] = p.Ratio
	}

	first := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	offset := mondayIndex(first.Weekday())

	var cells []Cell
	for d := first; d.Year() == year; d = d.AddDate(0, 0, 1) {
		v, ok := values[d]
		if !ok {
			v = math.NaN()
		}
		cells = append(cells, Cell{
			Date:    d,
			Row:     mondayIndex(d.Weekday()),
			Col:     (d.YearDay() - 1 + offset) / 7,
			Value:   v,
			Present: ok,
		})
	}
	return cells
}

// LatestYear returns the most recent year in series, or fallback when the
// series is empty.
func LatestYear(series []domain.RatioPoint, fallback int) int {
	year := 0
	for _, p := range series {
		if y := p.Date.UTC().Year(); y > year {
			year = y
		}
	}
	if year == 0 {
		return fallback
	}
	return year
}

// RenderContributionFigure draws the year's heatmap as a PNG. Colours are
// scaled between the smallest and largest defined value of that year.
func RenderContributionFigure(series []domain.RatioPoint, year int) ([]byte, error) {
	grid := newCalendarGrid(HeatmapCells(series, year))

	hm := plotter.NewHeatMap(grid, redsPalette(paletteSize))
	hm.NaN = fillColor
	hm.Min, hm.Max = grid.lo, grid.hi
	if grid.hi <= grid.lo {
		// No spread: every defined day takes the lightest colour.
		hm.Min, hm.Max = grid.lo, grid.lo+1
	}

	p := plot.New()
	p.BackgroundColor = background
	p.HideAxes()
	p.Add(hm)

	// Square cells: widen the Y range to the figure's aspect ratio.
	cols := float64(grid.cols)
	rows := cols * figureHeight / figureWidth
	p.X.Min, p.X.Max = -0.5, cols-0.5
	p.Y.Min, p.Y.Max = 3-rows/2, 3+rows/2

	c := vgimg.NewWith(
		vgimg.UseWH(figureWidth*vg.Inch/dpi, figureHeight*vg.Inch/dpi),
		vgimg.UseDPI(dpi),
		vgimg.UseBackgroundColor(background),
	)
	p.Draw(draw.New(c))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// calendarGrid adapts heatmap cells to plotter.GridXYZ. Column c is a week,
// row r a weekday with Monday on top. Days outside the year are -Inf so the
// heatmap leaves them unpainted.
type calendarGrid struct {
	cols   int
	values [][7]float64 // [week][weekday]
	lo, hi float64
}

func newCalendarGrid(cells []Cell) *calendarGrid {
	g := &calendarGrid{lo: math.Inf(1), hi: math.Inf(-1)}
	for _, c := range cells {
		if c.Col+1 > g.cols {
			g.cols = c.Col + 1
		}
	}
	g.values = make([][7]float64, g.cols)
	for i := range g.values {
		for j := range g.values[i] {
			g.values[i][j] = math.Inf(-1)
		}
	}
	for _, c := range cells {
		g.values[c.Col][c.Row] = c.Value
		if !math.IsNaN(c.Value) {
			g.lo = math.Min(g.lo, c.Value)
			g.hi = math.Max(g.hi, c.Value)
		}
	}
	if math.IsInf(g.lo, 1) {
		g.lo, g.hi = 0, 0
	}
	return g
}

func (g *calendarGrid) Dims() (c, r int)   { return g.cols, 7 }
func (g *calendarGrid) Z(c, r int) float64 { return g.values[c][6-r] }
func (g *calendarGrid) X(c int) float64    { return float64(c) }
func (g *calendarGrid) Y(r int) float64    { return float64(r) }

// redsPalette samples the ramp into n colours for the heatmap.
type redsPalette int

func (n redsPalette) Colors() []color.Color {
	cs := make([]color.Color, n)
	for i := range cs {
		cs[i] = rampColor(float64(i) / float64(n-1))
	}
	return cs
}

func rampColor(t float64) color.RGBA {
	if t <= 0 {
		return reds[0]
	}
	if t >= 1 {
		return reds[len(reds)-1]
	}
	pos := t * float64(len(reds)-1)
	i := int(pos)
	frac := pos - float64(i)
	a, b := reds[i], reds[i+1]
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*frac))
	}
	return rgb(mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B))
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func mondayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
