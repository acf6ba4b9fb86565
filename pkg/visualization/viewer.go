// Package visualization renders tiles, segmentation overlays and radial
// profile plots for visual inspection of a run.
package visualization

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/blend"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/gonum/floats"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
)

// ErrNoPlotData is returned when no profile has two defined points
var ErrNoPlotData = errors.New("no plottable profile data")

// goldenAngle spreads consecutive label hues around the color wheel
const goldenAngle = 137.50776405003785

// Viewer renders previews of one tile and its nuclei labels
type Viewer struct {
	// tile holds the channels being rendered
	tile *models.Tile

	// labels is the segmentation of the tile, may be nil
	labels *models.Labels

	preview config.Preview
}

// NewViewer creates a viewer for a tile and its labels
func NewViewer(tile *models.Tile, labels *models.Labels, preview config.Preview) *Viewer {
	return &Viewer{
		tile:    tile,
		labels:  labels,
		preview: preview,
	}
}

// ToU8 rescales a field linearly onto 0..255; a flat field maps to zeros
func ToU8(f *models.Field) []uint8 {
	out := make([]uint8, len(f.Data))
	if len(f.Data) == 0 {
		return out
	}
	lo, hi := floats.Min(f.Data), floats.Max(f.Data)
	if hi <= lo {
		return out
	}
	scale := 255 / (hi - lo)
	for i, v := range f.Data {
		out[i] = uint8((v - lo) * scale)
	}
	return out
}

// MakeRGB composes three channels into an RGB image. rgbChannels maps
// red, green and blue to channel indices; -1 leaves that plane black.
func MakeRGB(channels []*models.Field, rgbChannels []int) (*image.NRGBA, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels", models.ErrShapeMismatch)
	}
	if len(rgbChannels) != 3 {
		return nil, fmt.Errorf("%w: need 3 rgb channels, got %d", models.ErrInvalidConfiguration, len(rgbChannels))
	}

	shape := channels[0].Shape
	planes := make([][]uint8, 3)
	for i, ch := range rgbChannels {
		if ch < 0 {
			continue
		}
		if ch >= len(channels) {
			return nil, fmt.Errorf("%w: rgb channel %d out of range for %d channels",
				models.ErrInvalidConfiguration, ch, len(channels))
		}
		if channels[ch].Shape != shape {
			return nil, fmt.Errorf("%w: channel %d is %s, expected %s",
				models.ErrShapeMismatch, ch, channels[ch].Shape, shape)
		}
		planes[i] = ToU8(channels[ch])
	}

	img := image.NewNRGBA(image.Rect(0, 0, shape.Cols, shape.Rows))
	for idx := 0; idx < shape.Size(); idx++ {
		px := img.Pix[idx*4 : idx*4+4]
		for p := 0; p < 3; p++ {
			if planes[p] != nil {
				px[p] = planes[p][idx]
			}
		}
		px[3] = 255
	}
	return img, nil
}

// LabelColor returns the overlay color of a label id
func LabelColor(id int) color.NRGBA {
	c := colorful.Hsv(math.Mod(float64(id)*goldenAngle, 360), 0.85, 0.95).Clamped()
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// OverlayLabels tints every labeled pixel of base with its label color at
// the given opacity; background pixels keep the base color.
func OverlayLabels(base image.Image, labels *models.Labels, alpha float64) (image.Image, error) {
	b := base.Bounds()
	if b.Dx() != labels.Cols || b.Dy() != labels.Rows {
		return nil, fmt.Errorf("%w: image %dx%d, labels %s", models.ErrShapeMismatch, b.Dy(), b.Dx(), labels.Shape)
	}

	tint := imaging.Clone(base)
	for r := 0; r < labels.Rows; r++ {
		for c := 0; c < labels.Cols; c++ {
			if id := labels.At(r, c); id > 0 {
				tint.SetNRGBA(c, r, LabelColor(int(id)))
			}
		}
	}
	return blend.Opacity(imaging.Clone(base), tint, alpha), nil
}

// RGB renders the tile channels as configured
func (v *Viewer) RGB() (image.Image, error) {
	img, err := MakeRGB(v.tile.Channels, v.preview.RGBChannels)
	if err != nil {
		return nil, err
	}
	return v.fit(img), nil
}

// Overlay renders the RGB preview with the labels tinted on top
func (v *Viewer) Overlay() (image.Image, error) {
	if v.labels == nil {
		return nil, fmt.Errorf("tile %s has no labels", v.tile.ID)
	}
	rgb, err := MakeRGB(v.tile.Channels, v.preview.RGBChannels)
	if err != nil {
		return nil, err
	}
	img, err := OverlayLabels(rgb, v.labels, v.preview.OverlayAlpha)
	if err != nil {
		return nil, err
	}
	return v.fit(img), nil
}

// fit shrinks an image so its longest side is at most MaxSize
func (v *Viewer) fit(img image.Image) image.Image {
	if v.preview.MaxSize <= 0 {
		return img
	}
	return imaging.Fit(img, v.preview.MaxSize, v.preview.MaxSize, imaging.Lanczos)
}

// SavePreviews writes "<id>_rgb.png" and, when labels are present,
// "<id>_overlay.png" into outputDir.
func (v *Viewer) SavePreviews(outputDir string) error {
	rgb, err := v.RGB()
	if err != nil {
		return err
	}
	if err := SaveImage(rgb, filepath.Join(outputDir, v.tile.ID+"_rgb.png")); err != nil {
		return err
	}
	if v.labels == nil {
		return nil
	}
	overlay, err := v.Overlay()
	if err != nil {
		return err
	}
	return SaveImage(overlay, filepath.Join(outputDir, v.tile.ID+"_overlay.png"))
}

// SaveImage writes an image, creating parent directories; the format follows the extension
func SaveImage(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return imaging.Save(img, path)
}

// ProfileSeries is one named radial curve
type ProfileSeries struct {
	Name   string
	Radii  []float64
	Means  []float64
	Color  drawing.Color
	Dashed bool
}

// SaveProfilePlot draws radial profiles as a PNG line chart. NaN points are
// skipped and series with fewer than two defined points are left out.
func SaveProfilePlot(path, title string, series []ProfileSeries) error {
	var plotted []chart.Series
	lo, hi := math.Inf(1), math.Inf(-1)
	xlo, xhi := math.Inf(1), math.Inf(-1)

	for _, s := range series {
		var xs, ys []float64
		for i := range s.Means {
			if i < len(s.Radii) && !math.IsNaN(s.Means[i]) && !math.IsInf(s.Means[i], 0) {
				xs = append(xs, s.Radii[i])
				ys = append(ys, s.Means[i])
			}
		}
		if len(xs) < 2 {
			continue
		}
		lo, hi = math.Min(lo, floats.Min(ys)), math.Max(hi, floats.Max(ys))
		xlo, xhi = math.Min(xlo, floats.Min(xs)), math.Max(xhi, floats.Max(xs))

		style := chart.Style{StrokeColor: s.Color, StrokeWidth: 3.0}
		if s.Dashed {
			style.StrokeDashArray = []float64{5.0, 5.0}
		}
		plotted = append(plotted, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: ys,
			Style:   style,
		})
	}
	if len(plotted) == 0 {
		return ErrNoPlotData
	}
	if hi <= lo {
		hi = lo + 1
	}
	if xhi <= xlo {
		xhi = xlo + 1
	}

	graph := chart.Chart{
		Title:  title,
		Width:  640,
		Height: 400,
		XAxis: chart.XAxis{
			Name:  "distance from centroid (px)",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: xlo, Max: xhi},
		},
		YAxis: chart.YAxis{
			Name:  "mean intensity",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: plotted,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	buffer := bytes.NewBuffer(nil)
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return fmt.Errorf("failed to render profile plot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buffer.Bytes(), 0644)
}
