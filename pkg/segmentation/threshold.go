package segmentation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
)

// OtsuBins is the histogram resolution used for Otsu's method
const OtsuBins = 256

// Threshold converts a field into a foreground mask.
//
// Parameters:
//   - field: the reference channel
//   - method: config.ThresholdOtsu or config.ThresholdPercentile
//   - percentile: cut level in [0, 100], only read by the percentile method
//
// Returns:
//   - A mask where foreground means value > cut. A field whose maximum is
//     not positive yields an all-background mask.
func Threshold(field *models.Field, method string, percentile float64) (*models.Mask, error) {
	var cutFn func([]float64) float64
	switch method {
	case config.ThresholdOtsu:
		cutFn = OtsuCut
	case config.ThresholdPercentile:
		if percentile < 0 || percentile > 100 || math.IsNaN(percentile) {
			return nil, fmt.Errorf("%w: percentile must be in [0, 100], got %g",
				models.ErrInvalidConfiguration, percentile)
		}
		cutFn = func(values []float64) float64 { return PercentileCut(values, percentile) }
	default:
		return nil, fmt.Errorf("%w: unknown threshold method %q", models.ErrInvalidConfiguration, method)
	}

	mask := models.NewMask(field.Rows, field.Cols)
	if len(field.Data) == 0 || floats.Max(field.Data) <= 0 {
		return mask, nil
	}

	cut := cutFn(field.Data)
	for i, v := range field.Data {
		mask.Data[i] = v > cut
	}
	return mask, nil
}

// OtsuCut returns the histogram bin center that maximizes the between-class
// variance of values. The first maximum wins. A constant input returns its
// value, so nothing lies above the cut.
func OtsuCut(values []float64) float64 {
	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		return lo
	}

	dividers := floats.Span(make([]float64, OtsuBins+1), lo, hi)
	centers := make([]float64, OtsuBins)
	for i := range centers {
		centers[i] = (dividers[i] + dividers[i+1]) / 2
	}
	// Include the maximum in the last bin.
	dividers[OtsuBins] = math.Nextafter(hi, math.Inf(1))

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	hist := stat.Histogram(nil, dividers, sorted, nil)

	// Cumulative class weights and means from both ends
	w1 := make([]float64, OtsuBins)
	m1 := make([]float64, OtsuBins)
	w2 := make([]float64, OtsuBins)
	m2 := make([]float64, OtsuBins)

	weight, moment := 0.0, 0.0
	for i := 0; i < OtsuBins; i++ {
		weight += hist[i]
		moment += hist[i] * centers[i]
		w1[i] = weight
		m1[i] = moment / weight
	}
	weight, moment = 0, 0
	for i := OtsuBins - 1; i >= 0; i-- {
		weight += hist[i]
		moment += hist[i] * centers[i]
		w2[i] = weight
		m2[i] = moment / weight
	}

	best, bestIdx := math.Inf(-1), 0
	for i := 0; i < OtsuBins-1; i++ {
		d := m1[i] - m2[i+1]
		v := w1[i] * w2[i+1] * d * d
		if v > best {
			best, bestIdx = v, i
		}
	}
	return centers[bestIdx]
}

// PercentileCut returns the p-th percentile of values with linear
// interpolation between the two nearest order statistics.
func PercentileCut(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
