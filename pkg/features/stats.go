package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nucleiradial/internal/models"
)

const (
	// MinCouplingBins is the fewest jointly defined bins Coupling accepts
	MinCouplingBins = 3

	// MinHeterogeneityPixels is the fewest pixels Heterogeneity accepts
	MinHeterogeneityPixels = 10

	// zeroNormTolerance is relative to the largest absolute profile value,
	// so centering round-off on a flat profile counts as zero at any scale
	zeroNormTolerance = 1e-12
)

// Coupling is the cosine similarity of two mean-centered profiles, restricted
// to the bins where both are defined. It returns NaN with fewer than
// MinCouplingBins such bins or when either centered profile is flat.
func Coupling(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return math.NaN(), fmt.Errorf("%w: profile lengths %d and %d", models.ErrShapeMismatch, len(a), len(b))
	}

	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(b))
	for i := range a {
		if isFinite(a[i]) && isFinite(b[i]) {
			x = append(x, a[i])
			y = append(y, b[i])
		}
	}
	if len(x) < MinCouplingBins {
		return math.NaN(), nil
	}

	scaleX := floats.Norm(x, math.Inf(1))
	scaleY := floats.Norm(y, math.Inf(1))
	floats.AddConst(-stat.Mean(x, nil), x)
	floats.AddConst(-stat.Mean(y, nil), y)

	nx, ny := floats.Norm(x, 2), floats.Norm(y, 2)
	if nx <= zeroNormTolerance*scaleX || ny <= zeroNormTolerance*scaleY {
		return math.NaN(), nil
	}

	c := floats.Dot(x, y) / (nx * ny)
	return math.Max(-1, math.Min(1, c)), nil
}

// Heterogeneity is the coefficient of variation (population standard
// deviation over mean) of signal inside mask; a nil mask covers the whole
// field. It returns NaN for fewer than MinHeterogeneityPixels pixels or a
// non-positive mean.
func Heterogeneity(signal *models.Field, mask *models.Mask) (float64, error) {
	if mask != nil && mask.Shape != signal.Shape {
		return math.NaN(), fmt.Errorf("%w: signal %s, mask %s", models.ErrShapeMismatch, signal.Shape, mask.Shape)
	}

	values := signal.Data
	if mask != nil {
		values = make([]float64, 0, mask.Count())
		for i, fg := range mask.Data {
			if fg {
				values = append(values, signal.Data[i])
			}
		}
	}
	return coefficientOfVariation(values), nil
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < MinHeterogeneityPixels {
		return math.NaN()
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean <= 0 {
		return math.NaN()
	}
	return std / mean
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
