package segmentation

import (
	"math"

	"nucleiradial/internal/models"
)

// far stands in for infinity in the squared-distance passes
const far = 1e20

// DistanceTransform returns, for every foreground pixel, the exact Euclidean
// distance to the nearest background pixel; background pixels are 0.
// When the mask has no background at all, distances are measured to the
// ring of pixels just outside the grid.
//
// # Algorithm
//
// Two separable passes of the lower-envelope-of-parabolas method of
// Felzenszwalb and Huttenlocher: columns first, then rows on the column
// result, both on squared distances.
func DistanceTransform(mask *models.Mask) *models.Field {
	if mask.Count() == mask.Size() && mask.Size() > 0 {
		return framedDistance(mask)
	}

	rows, cols := mask.Rows, mask.Cols
	sq := make([]float64, len(mask.Data))
	for i, fg := range mask.Data {
		if fg {
			sq[i] = far
		}
	}

	n := max(rows, cols)
	f := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			f[r] = sq[r*cols+c]
		}
		envelope(f[:rows], d[:rows], v, z)
		for r := 0; r < rows; r++ {
			sq[r*cols+c] = d[r]
		}
	}
	for r := 0; r < rows; r++ {
		row := sq[r*cols : (r+1)*cols]
		copy(f, row)
		envelope(f[:cols], d[:cols], v, z)
		copy(row, d[:cols])
	}

	out := &models.Field{Shape: mask.Shape, Data: sq}
	for i, s := range sq {
		out.Data[i] = math.Sqrt(s)
	}
	return out
}

// framedDistance handles an all-foreground mask by padding it with one ring
// of background and cropping the result.
func framedDistance(mask *models.Mask) *models.Field {
	padded := models.NewMask(mask.Rows+2, mask.Cols+2)
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			padded.Set(r+1, c+1, true)
		}
	}
	full := DistanceTransform(padded)

	out := models.NewField(mask.Rows, mask.Cols)
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			out.Set(r, c, full.At(r+1, c+1))
		}
	}
	return out
}

// envelope computes the 1D squared distance transform of f into d.
// v and z are scratch buffers of at least len(f) and len(f)+1 entries.
func envelope(f, d []float64, v []int, z []float64) {
	n := len(f)
	if n == 0 {
		return
	}
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// intersect returns the abscissa where the parabolas rooted at q and p meet.
func intersect(f []float64, q, p int) float64 {
	fq, fp := float64(q), float64(p)
	return ((f[q] + fq*fq) - (f[p] + fp*fp)) / (2*fq - 2*fp)
}
