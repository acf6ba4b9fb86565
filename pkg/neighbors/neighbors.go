// Package neighbors measures nucleus crowding with a k-d tree over centroids.
package neighbors

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"nucleiradial/internal/models"
)

// Point is a centroid tagged with its position in the input slice
type Point struct {
	Row, Col float64
	Index    int
}

// Compare implements the kdtree.Comparable interface
func (p Point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point)
	switch d {
	case 0:
		return p.Row - q.Row
	case 1:
		return p.Col - q.Col
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the k-d tree
func (p Point) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p Point) Distance(c kdtree.Comparable) float64 {
	q := c.(Point)
	dr := p.Row - q.Row
	dc := p.Col - q.Col
	return dr*dr + dc*dc
}

// Points is a collection of Point that satisfies kdtree.Interface
type Points []Point

func (p Points) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points) Len() int                              { return len(p) }
func (p Points) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{Points: p, Dim: d}, kdtree.MedianOfRandoms(plane{Points: p, Dim: d}, 100))
}

// plane implements sort.Interface and kdtree.SortSlicer for Points
type plane struct {
	Points
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points[i].Row < p.Points[j].Row
	case 1:
		return p.Points[i].Col < p.Points[j].Col
	default:
		panic("illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{Points: p.Points[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.Points[i], p.Points[j] = p.Points[j], p.Points[i]
}

// Nearest returns, for every centroid, the Euclidean distance to the closest
// other centroid. With fewer than two centroids every entry is NaN.
// Centroids with NaN coordinates are ignored and get NaN.
func Nearest(centroids []models.Centroid) []float64 {
	out := make([]float64, len(centroids))
	points := make(Points, 0, len(centroids))
	for i, c := range centroids {
		out[i] = math.NaN()
		if math.IsNaN(c.Row) || math.IsNaN(c.Col) {
			continue
		}
		points = append(points, Point{Row: c.Row, Col: c.Col, Index: i})
	}
	if len(points) < 2 {
		return out
	}

	query := append(Points(nil), points...)
	tree := kdtree.New(points, true)
	for _, q := range query {
		// the closest hit is the query itself
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, q)

		best := math.Inf(1)
		for _, item := range keeper.Heap {
			// Skip the sentinel value
			if item.Comparable == nil {
				continue
			}
			if item.Comparable.(Point).Index == q.Index {
				continue
			}
			best = math.Min(best, item.Dist)
		}
		out[q.Index] = math.Sqrt(best)
	}
	return out
}
