// Package features computes per-nucleus radial descriptors of signal
// channels: perinuclear enrichment, binned radial profiles, cross-channel
// profile coupling and intensity heterogeneity.
//
// Degenerate inputs (empty regions, zero means, too few samples) yield NaN
// rather than an error; errors are reserved for bad parameters and shape
// mismatches.
package features

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"nucleiradial/internal/models"
)

// Defined reports whether v carries a value rather than the NaN sentinel
func Defined(v float64) bool { return !math.IsNaN(v) }

// DistanceField returns the Euclidean distance of every pixel of shape to center
func DistanceField(center models.Centroid, shape models.Shape) (*models.Field, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: invalid shape %s", models.ErrShapeMismatch, shape)
	}
	if math.IsNaN(center.Row) || math.IsNaN(center.Col) || math.IsInf(center.Row, 0) || math.IsInf(center.Col, 0) {
		return nil, fmt.Errorf("%w: non-finite center (%g, %g)", models.ErrShapeMismatch, center.Row, center.Col)
	}

	d := models.NewField(shape.Rows, shape.Cols)
	for r := 0; r < shape.Rows; r++ {
		dr := float64(r) - center.Row
		for c := 0; c < shape.Cols; c++ {
			dc := float64(c) - center.Col
			d.Data[r*shape.Cols+c] = math.Sqrt(dr*dr + dc*dc)
		}
	}
	return d, nil
}

// PerinuclearRatio is the mean signal within rInner of center divided by the
// mean signal in the annulus rInner < d <= rOuter. It is NaN when either
// region is empty or the annulus mean is not positive.
func PerinuclearRatio(signal *models.Field, center models.Centroid, rInner, rOuter float64) (float64, error) {
	if err := checkRadii(rInner, rOuter); err != nil {
		return math.NaN(), err
	}
	dist, err := DistanceField(center, signal.Shape)
	if err != nil {
		return math.NaN(), err
	}
	return perinuclear(signal, dist, rInner, rOuter), nil
}

func checkRadii(rInner, rOuter float64) error {
	if math.IsNaN(rInner) || math.IsNaN(rOuter) || rInner < 0 || rOuter < 0 {
		return fmt.Errorf("%w: radii must be non-negative, got inner=%g outer=%g",
			models.ErrInvalidConfiguration, rInner, rOuter)
	}
	return nil
}

func perinuclear(signal, dist *models.Field, rInner, rOuter float64) float64 {
	var inSum, outSum float64
	var inN, outN int
	for i, d := range dist.Data {
		switch {
		case d <= rInner:
			inSum += signal.Data[i]
			inN++
		case d <= rOuter:
			outSum += signal.Data[i]
			outN++
		}
	}
	if inN == 0 || outN == 0 {
		return math.NaN()
	}
	outMean := outSum / float64(outN)
	if outMean <= 0 {
		return math.NaN()
	}
	return (inSum / float64(inN)) / outMean
}

// RadialProfile bins the signal by distance to center into nBins equal-width
// rings spanning [0, maxRadius]. Every bin is half-open except the last,
// which also holds pixels at exactly maxRadius. A maxRadius <= 0 uses the
// farthest pixel of the field. Empty bins have a NaN mean.
func RadialProfile(signal *models.Field, center models.Centroid, nBins int, maxRadius float64) (*models.Profile, error) {
	if nBins <= 0 {
		return nil, fmt.Errorf("%w: bin count must be positive, got %d", models.ErrInvalidConfiguration, nBins)
	}
	if math.IsNaN(maxRadius) {
		return nil, fmt.Errorf("%w: max radius is NaN", models.ErrInvalidConfiguration)
	}
	dist, err := DistanceField(center, signal.Shape)
	if err != nil {
		return nil, err
	}
	return profile(signal, dist, nBins, maxRadius), nil
}

func profile(signal, dist *models.Field, nBins int, maxRadius float64) *models.Profile {
	if maxRadius <= 0 {
		maxRadius = floats.Max(dist.Data)
	}

	p := &models.Profile{
		Edges:   floats.Span(make([]float64, nBins+1), 0, maxRadius),
		Centers: make([]float64, nBins),
		Means:   make([]float64, nBins),
		Counts:  make([]int, nBins),
	}
	for i := range p.Centers {
		p.Centers[i] = (p.Edges[i] + p.Edges[i+1]) / 2
	}

	sums := make([]float64, nBins)
	for i, d := range dist.Data {
		if d > maxRadius {
			continue
		}
		// first bin whose upper edge lies above d; the last bin is closed
		b := sort.Search(nBins, func(k int) bool { return d < p.Edges[k+1] })
		if b == nBins {
			b = nBins - 1
		}
		sums[b] += signal.Data[i]
		p.Counts[b]++
	}

	for i := range p.Means {
		if p.Counts[i] == 0 {
			p.Means[i] = math.NaN()
			continue
		}
		p.Means[i] = sums[i] / float64(p.Counts[i])
	}
	return p
}
