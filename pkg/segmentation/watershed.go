package segmentation

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/filters"
)

// Seeds are the watershed markers derived from a mask's distance transform
type Seeds struct {
	// Markers holds seed ids 1..Count on seed pixels and 0 elsewhere
	Markers *models.Labels

	// Distance is the (optionally smoothed) distance transform the seeds were found on
	Distance *models.Field

	Count int
}

// peakCluster is one 8-connected group of tied local maxima
type peakCluster struct {
	pixels    []int
	first     int
	value     float64
	row, col  float64
	component int32
}

// Split finds one seed per nucleus inside mask.
//
// # Algorithm
//
//  1. Exact Euclidean distance transform of the mask, smoothed by a Gaussian
//     of sigma when sigma > 0.
//  2. Candidates are mask pixels with positive distance equal to the maximum
//     of the minPeakDistance-wide square around them.
//  3. 8-connected candidates form one cluster, so a plateau of tied maxima
//     gives one seed.
//  4. Clusters are visited by descending peak value, ties in raster order; a
//     cluster whose centroid lies closer than minPeakDistance to an accepted
//     seed of the same mask component is dropped. Seeds in different
//     components never suppress each other.
//  5. Accepted seeds are numbered in raster order of their first pixel.
func Split(mask *models.Mask, sigma float64, minPeakDistance int) (*Seeds, error) {
	if minPeakDistance < 1 {
		return nil, fmt.Errorf("%w: minPeakDistance must be at least 1, got %d",
			models.ErrInvalidConfiguration, minPeakDistance)
	}

	dist := DistanceTransform(mask)
	if sigma > 0 {
		dist = filters.Gaussian(dist, sigma)
	}
	local := filters.Maximum(dist, minPeakDistance)

	candidates := models.NewMask(mask.Rows, mask.Cols)
	for i, fg := range mask.Data {
		candidates.Data[i] = fg && dist.Data[i] > 0 && dist.Data[i] == local.Data[i]
	}

	components := Label(mask)
	clusters := peakClusters(candidates, dist)
	for i := range clusters {
		clusters[i].component = components.Data[clusters[i].first]
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].value != clusters[j].value {
			return clusters[i].value > clusters[j].value
		}
		return clusters[i].first < clusters[j].first
	})

	minSq := float64(minPeakDistance * minPeakDistance)
	accepted := make([]*peakCluster, 0, len(clusters))
	for i := range clusters {
		p := &clusters[i]
		keep := true
		for _, q := range accepted {
			if q.component != p.component {
				continue
			}
			dr, dc := p.row-q.row, p.col-q.col
			if dr*dr+dc*dc < minSq {
				keep = false
				break
			}
		}
		if keep {
			accepted = append(accepted, p)
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].first < accepted[j].first })
	markers := models.NewLabels(mask.Rows, mask.Cols)
	for i, p := range accepted {
		for _, idx := range p.pixels {
			markers.Data[idx] = int32(i + 1)
		}
	}

	return &Seeds{Markers: markers, Distance: dist, Count: len(accepted)}, nil
}

// peakClusters groups candidate pixels into 8-connected clusters, in raster
// order of their first pixel.
func peakClusters(candidates *models.Mask, dist *models.Field) []peakCluster {
	labels, n := label(candidates)
	clusters := make([]peakCluster, n)
	for i := range clusters {
		clusters[i].first = -1
		clusters[i].value = math.Inf(-1)
	}
	for idx, id := range labels.Data {
		if id == 0 {
			continue
		}
		p := &clusters[id-1]
		if p.first < 0 {
			p.first = idx
		}
		p.pixels = append(p.pixels, idx)
		p.value = math.Max(p.value, dist.Data[idx])
		p.row += float64(idx / labels.Cols)
		p.col += float64(idx % labels.Cols)
	}
	for i := range clusters {
		k := float64(len(clusters[i].pixels))
		clusters[i].row /= k
		clusters[i].col /= k
	}
	return clusters
}

// floodItem is a queued pixel; age breaks ties first-in first-out
type floodItem struct {
	index    int
	priority float64
	age      int
}

type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].age < q[j].age
}
func (q floodQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() interface{} {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

// Grow floods the negated distance landscape from the seeds, restricted to
// mask. Background pixels are never claimed. Mask components that hold no
// seed are labeled as whole objects after the seeded ids, in raster order,
// so every foreground pixel ends up labeled. Without seeds it falls back to
// connected-component labeling.
func Grow(mask *models.Mask, seeds *Seeds) *models.Labels {
	if seeds == nil || seeds.Count == 0 {
		return Label(mask)
	}

	rows, cols := mask.Rows, mask.Cols
	out := models.NewLabels(rows, cols)
	q := make(floodQueue, 0, mask.Count())
	age := 0
	for idx, id := range seeds.Markers.Data {
		if id == 0 || !mask.Data[idx] {
			continue
		}
		out.Data[idx] = id
		q = append(q, floodItem{index: idx, priority: -seeds.Distance.Data[idx], age: age})
		age++
	}
	heap.Init(&q)

	for q.Len() > 0 {
		item := heap.Pop(&q).(floodItem)
		r, c := item.index/cols, item.index%cols
		id := out.Data[item.index]
		for _, o := range neighbors8 {
			rr, cc := r+o.DR, c+o.DC
			if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
				continue
			}
			n := rr*cols + cc
			if !mask.Data[n] || out.Data[n] != 0 {
				continue
			}
			out.Data[n] = id
			heap.Push(&q, floodItem{index: n, priority: -seeds.Distance.Data[n], age: age})
			age++
		}
	}

	// Unseeded components
	rest := models.NewMask(rows, cols)
	for i, fg := range mask.Data {
		rest.Data[i] = fg && out.Data[i] == 0
	}
	extra, n := label(rest)
	if n > 0 {
		next := int32(Count(out))
		for i, id := range extra.Data {
			if id > 0 {
				out.Data[i] = next + id
			}
		}
	}
	return out
}
