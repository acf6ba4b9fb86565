package segmentation

import "nucleiradial/internal/models"

// Offset is a (row, col) displacement inside a structuring element
type Offset struct {
	DR, DC int
}

// Disk returns the offsets of a digital disk: every (dr, dc) with dr²+dc² <= r².
// A radius of zero yields the single center offset.
func Disk(radius int) []Offset {
	offsets := make([]Offset, 0, (2*radius+1)*(2*radius+1))
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if dr*dr+dc*dc <= radius*radius {
				offsets = append(offsets, Offset{dr, dc})
			}
		}
	}
	return offsets
}

// Dilate sets a pixel when any pixel under the disk is set. Pixels outside
// the grid count as background.
func Dilate(mask *models.Mask, radius int) *models.Mask {
	se := Disk(radius)
	out := models.NewMask(mask.Rows, mask.Cols)
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			for _, o := range se {
				rr, cc := r+o.DR, c+o.DC
				if rr < 0 || rr >= mask.Rows || cc < 0 || cc >= mask.Cols {
					continue
				}
				if mask.Data[rr*mask.Cols+cc] {
					out.Data[r*mask.Cols+c] = true
					break
				}
			}
		}
	}
	return out
}

// Erode keeps a pixel only when every pixel under the disk is set. Pixels
// outside the grid count as foreground, so the tile border does not erode
// objects touching it.
func Erode(mask *models.Mask, radius int) *models.Mask {
	se := Disk(radius)
	out := models.NewMask(mask.Rows, mask.Cols)
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			keep := true
			for _, o := range se {
				rr, cc := r+o.DR, c+o.DC
				if rr < 0 || rr >= mask.Rows || cc < 0 || cc >= mask.Cols {
					continue
				}
				if !mask.Data[rr*mask.Cols+cc] {
					keep = false
					break
				}
			}
			out.Data[r*mask.Cols+c] = keep
		}
	}
	return out
}

// Close fills gaps narrower than the disk: dilation followed by erosion.
// A non-positive radius returns a copy.
func Close(mask *models.Mask, radius int) *models.Mask {
	if radius <= 0 {
		return mask.Clone()
	}
	return Erode(Dilate(mask, radius), radius)
}

// Open removes protrusions narrower than the disk: erosion followed by dilation.
// A non-positive radius returns a copy.
func Open(mask *models.Mask, radius int) *models.Mask {
	if radius <= 0 {
		return mask.Clone()
	}
	return Dilate(Erode(mask, radius), radius)
}

// RemoveSmallObjects drops 8-connected components with fewer than
// max(1, minArea) pixels.
func RemoveSmallObjects(mask *models.Mask, minArea int) *models.Mask {
	minSize := max(1, minArea)
	labels, n := label(mask)

	areas := make([]int, n+1)
	for _, id := range labels.Data {
		areas[id]++
	}

	out := models.NewMask(mask.Rows, mask.Cols)
	for i, id := range labels.Data {
		out.Data[i] = id > 0 && areas[id] >= minSize
	}
	return out
}

// Clean applies closing, then opening, then small-object removal.
// The input mask is not modified.
func Clean(mask *models.Mask, closingRadius, openingRadius, minArea int) *models.Mask {
	out := Close(mask, closingRadius)
	out = Open(out, openingRadius)
	return RemoveSmallObjects(out, minArea)
}
