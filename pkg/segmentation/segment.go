// Package segmentation turns a reference channel into a labeled nuclei mask:
// thresholding, morphological cleanup, distance-transform watershed splitting
// and area filtering.
package segmentation

import (
	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
)

// Segment runs the full nucleus pipeline on one field:
// threshold, close, open, drop small objects, optionally split touching
// nuclei, then keep objects inside the area bounds with dense ids.
func Segment(field *models.Field, params config.Nucleus) (*models.Labels, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	mask, err := Threshold(field, params.ThresholdMethod, params.Percentile)
	if err != nil {
		return nil, err
	}
	mask = Clean(mask, params.ClosingRadius, params.OpeningRadius, params.MinArea)

	var labels *models.Labels
	if params.SplitTouching {
		seeds, err := Split(mask, params.DistanceSigma, params.MinPeakDistance)
		if err != nil {
			return nil, err
		}
		labels = Grow(mask, seeds)
	} else {
		labels = Label(mask)
	}

	return Finalize(labels, params.MinArea, params.MaxArea), nil
}
