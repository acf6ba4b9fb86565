// Package preprocess conditions raw channel intensities before segmentation.
package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
	"nucleiradial/pkg/filters"
)

// Rescale maps a field linearly onto [0, 1]. A flat field maps to zeros.
func Rescale(f *models.Field) *models.Field {
	out := models.NewField(f.Rows, f.Cols)
	if len(f.Data) == 0 {
		return out
	}
	lo, hi := floats.Min(f.Data), floats.Max(f.Data)
	if hi <= lo {
		return out
	}
	span := hi - lo
	for i, v := range f.Data {
		out.Data[i] = (v - lo) / span
	}
	return out
}

// Gamma rescales to [0, 1] and raises every value to gamma
func Gamma(f *models.Field, gamma float64) (*models.Field, error) {
	if gamma <= 0 || math.IsNaN(gamma) {
		return nil, fmt.Errorf("%w: gamma must be positive, got %g", models.ErrInvalidConfiguration, gamma)
	}
	out := Rescale(f)
	for i, v := range out.Data {
		out.Data[i] = math.Pow(v, gamma)
	}
	return out, nil
}

// Smooth applies a Gaussian blur; a non-positive sigma returns a copy
func Smooth(f *models.Field, sigma float64) *models.Field {
	return filters.Gaussian(f, sigma)
}

// ToUint16 rescales a field onto the full 16-bit range
func ToUint16(f *models.Field) []uint16 {
	scaled := Rescale(f)
	out := make([]uint16, len(scaled.Data))
	for i, v := range scaled.Data {
		out[i] = uint16(math.Round(v * math.MaxUint16))
	}
	return out
}

// ChannelSignal selects the channel used for thresholding. A negative
// channel returns the pixelwise maximum over all channels.
func ChannelSignal(channels []*models.Field, channel int) (*models.Field, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels", models.ErrShapeMismatch)
	}
	if channel >= len(channels) {
		return nil, fmt.Errorf("%w: channel %d out of range for %d channels",
			models.ErrInvalidConfiguration, channel, len(channels))
	}
	if channel >= 0 {
		return channels[channel], nil
	}

	out := channels[0].Clone()
	for _, ch := range channels[1:] {
		if ch.Shape != out.Shape {
			return nil, fmt.Errorf("%w: channel shapes %s and %s", models.ErrShapeMismatch, out.Shape, ch.Shape)
		}
		for i, v := range ch.Data {
			out.Data[i] = math.Max(out.Data[i], v)
		}
	}
	return out, nil
}

// Reference builds the field handed to segmentation: the nucleus channel,
// gamma corrected and smoothed as configured.
func Reference(channels []*models.Field, cfg *config.Config) (*models.Field, error) {
	ref, err := ChannelSignal(channels, cfg.Nucleus.Channel)
	if err != nil {
		return nil, err
	}
	if cfg.Preprocess.ApplyGamma {
		ref, err = Gamma(ref, cfg.Preprocess.Gamma)
		if err != nil {
			return nil, err
		}
	}
	return Smooth(ref, cfg.Preprocess.GaussianSigma), nil
}
