package segmentation

import (
	"math"

	"nucleiradial/internal/models"
)

// neighbors8 lists the 8-connected neighborhood used throughout segmentation
var neighbors8 = [8]Offset{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// Label assigns a distinct id to every 8-connected foreground component.
// Ids start at 1 and follow the raster order of each component's first pixel.
func Label(mask *models.Mask) *models.Labels {
	labels, _ := label(mask)
	return labels
}

// label is Label that also reports the number of components.
func label(mask *models.Mask) (*models.Labels, int) {
	labels := models.NewLabels(mask.Rows, mask.Cols)
	rows, cols := mask.Rows, mask.Cols
	next := int32(0)
	stack := make([]int, 0, 64)

	for start, fg := range mask.Data {
		if !fg || labels.Data[start] != 0 {
			continue
		}
		next++
		labels.Data[start] = next
		stack = append(stack[:0], start)

		// Stack-based flood fill
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			r, c := idx/cols, idx%cols
			for _, o := range neighbors8 {
				rr, cc := r+o.DR, c+o.DC
				if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
					continue
				}
				n := rr*cols + cc
				if mask.Data[n] && labels.Data[n] == 0 {
					labels.Data[n] = next
					stack = append(stack, n)
				}
			}
		}
	}
	return labels, int(next)
}

// Finalize keeps objects whose area lies in [minArea, maxArea] and renumbers
// the survivors 1..N in ascending order of their original ids. A maxArea of
// zero or less leaves the upper bound open. The input is not modified.
func Finalize(labels *models.Labels, minArea, maxArea int) *models.Labels {
	maxID := Count(labels)
	areas := make([]int, maxID+1)
	for _, id := range labels.Data {
		if id > 0 {
			areas[id]++
		}
	}

	remap := make([]int32, maxID+1)
	next := int32(0)
	for id := 1; id <= maxID; id++ {
		a := areas[id]
		if a == 0 || a < minArea || (maxArea > 0 && a > maxArea) {
			continue
		}
		next++
		remap[id] = next
	}

	out := models.NewLabels(labels.Rows, labels.Cols)
	for i, id := range labels.Data {
		if id > 0 {
			out.Data[i] = remap[id]
		}
	}
	return out
}

// Count returns the number of objects, taken as the largest label id.
func Count(labels *models.Labels) int {
	maxID := int32(0)
	for _, id := range labels.Data {
		if id > maxID {
			maxID = id
		}
	}
	return int(maxID)
}

// Objects measures every label id in 1..Count. Entry i describes id i+1;
// ids without pixels have zero area and a NaN centroid.
func Objects(labels *models.Labels) []models.Object {
	n := Count(labels)
	objects := make([]models.Object, n)
	sumR := make([]float64, n)
	sumC := make([]float64, n)
	for i := range objects {
		objects[i].Label = i + 1
		objects[i].Bounds = models.Box{MinRow: labels.Rows, MinCol: labels.Cols, MaxRow: -1, MaxCol: -1}
	}

	for idx, id := range labels.Data {
		if id <= 0 {
			continue
		}
		r, c := idx/labels.Cols, idx%labels.Cols
		o := &objects[id-1]
		o.Area++
		sumR[id-1] += float64(r)
		sumC[id-1] += float64(c)
		o.Bounds.MinRow = min(o.Bounds.MinRow, r)
		o.Bounds.MinCol = min(o.Bounds.MinCol, c)
		o.Bounds.MaxRow = max(o.Bounds.MaxRow, r)
		o.Bounds.MaxCol = max(o.Bounds.MaxCol, c)
	}

	for i := range objects {
		if objects[i].Area == 0 {
			objects[i].Centroid = models.Centroid{Row: math.NaN(), Col: math.NaN()}
			continue
		}
		a := float64(objects[i].Area)
		objects[i].Centroid = models.Centroid{Row: sumR[i] / a, Col: sumC[i] / a}
	}
	return objects
}

// Centroids returns the centroid of every label id; entry i is id i+1.
func Centroids(labels *models.Labels) []models.Centroid {
	objects := Objects(labels)
	out := make([]models.Centroid, len(objects))
	for i, o := range objects {
		out[i] = o.Centroid
	}
	return out
}
