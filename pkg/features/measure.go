package features

import (
	"fmt"
	"math"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
)

// Params fixes the radial geometry shared by all objects of a run
type Params struct {
	InnerRadius float64
	OuterRadius float64

	// MaxRadius bounds the profile; <= 0 uses the farthest pixel of the tile
	MaxRadius float64
	Bins      int
}

// ParamsFromConfig converts the coupling section of the configuration
func ParamsFromConfig(c config.Coupling) Params {
	return Params{
		InnerRadius: c.InnerRadiusPx,
		OuterRadius: c.OuterRadiusPx,
		MaxRadius:   c.MaxRadiusPx,
		Bins:        c.RadialBins,
	}
}

// Measurement holds every descriptor of one object for one channel pair
type Measurement struct {
	Center models.Centroid

	PerinuclearA float64
	PerinuclearB float64

	// Heterogeneity is measured over the object region, or within
	// OuterRadius of the center when no region is given
	HeterogeneityA float64
	HeterogeneityB float64

	Coupling float64

	ProfileA *models.Profile
	ProfileB *models.Profile
}

// Degenerate counts the scalar descriptors that came out NaN
func (m *Measurement) Degenerate() int {
	n := 0
	for _, v := range []float64{m.PerinuclearA, m.PerinuclearB, m.HeterogeneityA, m.HeterogeneityB, m.Coupling} {
		if !Defined(v) {
			n++
		}
	}
	return n
}

// Measure derives every descriptor for channels a and b around center from a
// single distance field. Heterogeneity covers the disk of OuterRadius.
// Neither signal is modified.
func Measure(a, b *models.Field, center models.Centroid, p Params) (*Measurement, error) {
	return MeasureRegion(a, b, center, nil, p)
}

// MeasureRegion is Measure with heterogeneity taken over region, the
// row-major pixel indices of the object. A nil region falls back to the
// disk of OuterRadius.
func MeasureRegion(a, b *models.Field, center models.Centroid, region []int, p Params) (*Measurement, error) {
	if a.Shape != b.Shape {
		return nil, fmt.Errorf("%w: channels %s and %s", models.ErrShapeMismatch, a.Shape, b.Shape)
	}
	if p.Bins <= 0 {
		return nil, fmt.Errorf("%w: bin count must be positive, got %d", models.ErrInvalidConfiguration, p.Bins)
	}
	if err := checkRadii(p.InnerRadius, p.OuterRadius); err != nil {
		return nil, err
	}

	dist, err := DistanceField(center, a.Shape)
	if err != nil {
		return nil, err
	}

	m := &Measurement{
		Center:       center,
		PerinuclearA: perinuclear(a, dist, p.InnerRadius, p.OuterRadius),
		PerinuclearB: perinuclear(b, dist, p.InnerRadius, p.OuterRadius),
		ProfileA:     profile(a, dist, p.Bins, p.MaxRadius),
		ProfileB:     profile(b, dist, p.Bins, p.MaxRadius),
	}
	if region == nil {
		m.HeterogeneityA = coefficientOfVariation(within(a, dist, p.OuterRadius))
		m.HeterogeneityB = coefficientOfVariation(within(b, dist, p.OuterRadius))
	} else {
		va, err := gather(a, region)
		if err != nil {
			return nil, err
		}
		vb, _ := gather(b, region)
		m.HeterogeneityA = coefficientOfVariation(va)
		m.HeterogeneityB = coefficientOfVariation(vb)
	}

	m.Coupling, err = Coupling(m.ProfileA.Means, m.ProfileB.Means)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// within collects signal values no farther than radius from the center
func within(signal, dist *models.Field, radius float64) []float64 {
	values := make([]float64, 0, int(math.Min(float64(len(dist.Data)), math.Pi*radius*radius+1)))
	for i, d := range dist.Data {
		if d <= radius {
			values = append(values, signal.Data[i])
		}
	}
	return values
}

// gather collects the signal values at the given pixel indices
func gather(signal *models.Field, indices []int) ([]float64, error) {
	values := make([]float64, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(signal.Data) {
			return nil, fmt.Errorf("%w: pixel index %d outside %s", models.ErrShapeMismatch, idx, signal.Shape)
		}
		values[i] = signal.Data[idx]
	}
	return values, nil
}
