// Package filters implements the separable neighborhood filters shared by
// preprocessing and segmentation.
package filters

import (
	"math"

	"nucleiradial/internal/models"
)

// Truncate is the number of standard deviations covered by a Gaussian kernel
const Truncate = 4.0

// GaussianKernel returns the normalized 1D kernel for sigma, of length 2*radius+1
// with radius = int(Truncate*sigma + 0.5).
func GaussianKernel(sigma float64) []float64 {
	radius := int(Truncate*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// Gaussian smooths a field with an isotropic Gaussian of the given sigma.
// Borders are handled by half-sample reflection (d c b a | a b c d).
// A non-positive sigma returns an unmodified copy. The input is not modified.
func Gaussian(f *models.Field, sigma float64) *models.Field {
	if sigma <= 0 {
		return f.Clone()
	}
	kernel := GaussianKernel(sigma)
	radius := len(kernel) / 2

	rows, cols := f.Rows, f.Cols
	tmp := make([]float64, len(f.Data))

	// Horizontal pass
	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			sum := 0.0
			for k := -radius; k <= radius; k++ {
				sum += kernel[k+radius] * f.Data[base+reflect(c+k, cols)]
			}
			tmp[base+c] = sum
		}
	}

	// Vertical pass
	out := models.NewField(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sum := 0.0
			for k := -radius; k <= radius; k++ {
				sum += kernel[k+radius] * tmp[reflect(r+k, rows)*cols+c]
			}
			out.Data[r*cols+c] = sum
		}
	}
	return out
}

// reflect maps an out-of-range index back into [0, n) by mirroring about the
// pixel edges.
func reflect(i, n int) int {
	if i >= 0 && i < n {
		return i
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// Maximum replaces each pixel with the maximum of the size x size window
// around it. The window spans offsets -size/2 .. size-1-size/2 on each axis,
// clipped to the field; with reflected borders the result is identical.
func Maximum(f *models.Field, size int) *models.Field {
	if size <= 1 {
		return f.Clone()
	}
	lo := -(size / 2)
	hi := size - 1 - size/2

	rows, cols := f.Rows, f.Cols
	tmp := make([]float64, len(f.Data))
	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			m := math.Inf(-1)
			for k := max(0, c+lo); k <= min(cols-1, c+hi); k++ {
				if v := f.Data[base+k]; v > m {
					m = v
				}
			}
			tmp[base+c] = m
		}
	}

	out := models.NewField(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m := math.Inf(-1)
			for k := max(0, r+lo); k <= min(rows-1, r+hi); k++ {
				if v := tmp[k*cols+c]; v > m {
					m = v
				}
			}
			out.Data[r*cols+c] = m
		}
	}
	return out
}
