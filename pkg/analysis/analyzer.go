// Package analysis drives a run: it discovers tiles, segments nuclei,
// measures radial features for every nucleus in parallel and writes the
// results.
package analysis

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/stat"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
	"nucleiradial/pkg/export"
	"nucleiradial/pkg/features"
	"nucleiradial/pkg/neighbors"
	"nucleiradial/pkg/preprocess"
	"nucleiradial/pkg/segmentation"
	"nucleiradial/pkg/tileio"
	"nucleiradial/pkg/visualization"
)

// ObjectResult holds one nucleus and its descriptors
type ObjectResult struct {
	Object models.Object

	// NearestNeighbor is the distance to the closest other nucleus centroid in pixels
	NearestNeighbor float64

	Measurement *features.Measurement
}

// TileResult is the outcome of analyzing one tile
type TileResult struct {
	TileID string
	Shape  models.Shape

	// Reference is the preprocessed field the nuclei were segmented on
	Reference *models.Field

	// Labels is the finalized nuclei segmentation
	Labels *models.Labels

	Objects []ObjectResult

	// HeterogeneityA and HeterogeneityB cover the whole tile
	HeterogeneityA float64
	HeterogeneityB float64

	// Degenerate counts NaN scalar descriptors over all objects
	Degenerate int

	Duration time.Duration
}

// RunSummary reports the totals of a batch run
type RunSummary struct {
	RunID    string
	Tiles    int
	Failed   int
	Objects  int
	Features string
	Duration time.Duration
}

// Analyzer runs the nuclei pipeline with a fixed configuration.
//
// The analysis of one tile consists of:
// 1. Building the reference field (channel selection, gamma, smoothing)
// 2. Segmenting nuclei into a labeled mask
// 3. Measuring every nucleus for the configured channel pair in parallel
// 4. Computing nearest-neighbor distances and whole-tile heterogeneity
type Analyzer struct {
	// cfg is treated as read-only once the analyzer is created
	cfg *config.Config

	logger *logrus.Logger
}

// NewAnalyzer creates an analyzer. A nil logger discards log output.
//
// Parameters:
//   - cfg: validated run configuration
//   - logger: destination for progress and diagnostics
//
// Returns:
//   - A new Analyzer, or an error wrapping models.ErrInvalidConfiguration
func NewAnalyzer(cfg *config.Config, logger *logrus.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Analyzer{cfg: cfg, logger: logger}, nil
}

// workers returns the size of the per-tile worker pool
func (a *Analyzer) workers() int {
	if a.cfg.Processing.NumWorkers > 0 {
		return a.cfg.Processing.NumWorkers
	}
	return runtime.NumCPU()
}

// AnalyzeTile segments one tile and measures every nucleus in it
func (a *Analyzer) AnalyzeTile(tile *models.Tile) (*TileResult, error) {
	start := time.Now()
	log := a.logger.WithField("tile", tile.ID)

	if err := a.cfg.ValidateChannels(len(tile.Channels)); err != nil {
		return nil, fmt.Errorf("tile %s: %w", tile.ID, err)
	}

	ref, err := preprocess.Reference(tile.Channels, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("tile %s: preprocessing failed: %w", tile.ID, err)
	}

	labels, err := segmentation.Segment(ref, a.cfg.Nucleus)
	if err != nil {
		return nil, fmt.Errorf("tile %s: segmentation failed: %w", tile.ID, err)
	}
	objects := segmentation.Objects(labels)
	log.WithFields(logrus.Fields{
		"objects": len(objects),
		"elapsed": time.Since(start).String(),
	}).Debug("Segmentation complete")

	chA := tile.Channels[a.cfg.Coupling.ChannelA]
	chB := tile.Channels[a.cfg.Coupling.ChannelB]

	var regions [][]int
	if a.cfg.Coupling.HeterogeneityScope == config.ScopeObject {
		regions = objectPixels(labels, objects)
	}

	results, err := a.measureObjects(chA, chB, objects, regions)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", tile.ID, err)
	}

	centroids := make([]models.Centroid, len(objects))
	for i, o := range objects {
		centroids[i] = o.Centroid
	}
	for i, d := range neighbors.Nearest(centroids) {
		results[i].NearestNeighbor = d
	}

	result := &TileResult{
		TileID:    tile.ID,
		Shape:     tile.Shape(),
		Reference: ref,
		Labels:    labels,
		Objects:   results,
	}
	if result.HeterogeneityA, err = features.Heterogeneity(chA, nil); err != nil {
		return nil, fmt.Errorf("tile %s: %w", tile.ID, err)
	}
	if result.HeterogeneityB, err = features.Heterogeneity(chB, nil); err != nil {
		return nil, fmt.Errorf("tile %s: %w", tile.ID, err)
	}
	for _, r := range results {
		result.Degenerate += r.Measurement.Degenerate()
	}
	result.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"objects":    len(results),
		"degenerate": result.Degenerate,
		"elapsed":    result.Duration.String(),
	}).Info("Tile analyzed")

	return result, nil
}

// objectPixels lists the pixel indices of every object; entry i is id i+1
func objectPixels(labels *models.Labels, objects []models.Object) [][]int {
	regions := make([][]int, len(objects))
	for i, o := range objects {
		regions[i] = make([]int, 0, o.Area)
	}
	for idx, id := range labels.Data {
		if id > 0 {
			regions[id-1] = append(regions[id-1], idx)
		}
	}
	return regions
}

// measureObjects computes the descriptors of every object on a bounded pool
// of goroutines. Each worker writes only its own result slots. With regions
// set, heterogeneity is measured over each object's own pixels.
func (a *Analyzer) measureObjects(chA, chB *models.Field, objects []models.Object, regions [][]int) ([]ObjectResult, error) {
	params := features.ParamsFromConfig(a.cfg.Coupling)
	results := make([]ObjectResult, len(objects))

	// Create a channel for results
	type measureResult struct {
		index       int
		measurement *features.Measurement
		err         error
	}
	jobs := make(chan int)
	resultChan := make(chan measureResult)

	var wg sync.WaitGroup
	for w := 0; w < min(a.workers(), max(1, len(objects))); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				var region []int
				if regions != nil {
					region = regions[i]
				}
				m, err := features.MeasureRegion(chA, chB, objects[i].Centroid, region, params)
				resultChan <- measureResult{index: i, measurement: m, err: err}
			}
		}()
	}

	go func() {
		for i := range objects {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// Collect results
	var errs []error
	for res := range resultChan {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("object %d: %w", objects[res.index].Label, res.err))
			continue
		}
		results[res.index] = ObjectResult{Object: objects[res.index], Measurement: res.measurement}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return results, nil
}

// Rows flattens the tile result into feature table rows
func (r *TileResult) Rows(runID string, coupling config.Coupling) []export.Row {
	rows := make([]export.Row, 0, len(r.Objects))
	for _, o := range r.Objects {
		m := o.Measurement
		rows = append(rows, export.Row{
			RunID:           runID,
			TileID:          r.TileID,
			ObjectID:        o.Object.Label,
			ChannelA:        coupling.ChannelA,
			ChannelB:        coupling.ChannelB,
			Area:            o.Object.Area,
			CentroidRow:     o.Object.Centroid.Row,
			CentroidCol:     o.Object.Centroid.Col,
			NearestNeighbor: o.NearestNeighbor,
			PerinuclearA:    m.PerinuclearA,
			PerinuclearB:    m.PerinuclearB,
			HeterogeneityA:  m.HeterogeneityA,
			HeterogeneityB:  m.HeterogeneityB,
			Coupling:        m.Coupling,
			ProfileA:        m.ProfileA.Means,
			ProfileB:        m.ProfileB.Means,
		})
	}
	return rows
}

// Summary condenses the tile result into one line of the tile table
func (r *TileResult) Summary() export.TileSummary {
	areas := make([]float64, len(r.Objects))
	for i, o := range r.Objects {
		areas[i] = float64(o.Object.Area)
	}
	meanArea := math.NaN()
	if len(areas) > 0 {
		meanArea = stat.Mean(areas, nil)
	}
	return export.TileSummary{
		TileID:         r.TileID,
		Rows:           r.Shape.Rows,
		Cols:           r.Shape.Cols,
		Objects:        len(r.Objects),
		MeanArea:       meanArea,
		HeterogeneityA: r.HeterogeneityA,
		HeterogeneityB: r.HeterogeneityB,
		Degenerate:     r.Degenerate,
		Duration:       r.Duration,
	}
}

// MeanProfiles averages the object profiles bin by bin, ignoring NaN bins.
// Radii are the mean bin centers, since automatic radii differ per object.
func (r *TileResult) MeanProfiles() (radii, meanA, meanB []float64) {
	bins := 0
	if len(r.Objects) > 0 {
		bins = len(r.Objects[0].Measurement.ProfileA.Means)
	}
	radii = make([]float64, bins)
	meanA = make([]float64, bins)
	meanB = make([]float64, bins)

	for b := 0; b < bins; b++ {
		var centers, va, vb []float64
		for _, o := range r.Objects {
			m := o.Measurement
			centers = append(centers, m.ProfileA.Centers[b])
			if features.Defined(m.ProfileA.Means[b]) {
				va = append(va, m.ProfileA.Means[b])
			}
			if features.Defined(m.ProfileB.Means[b]) {
				vb = append(vb, m.ProfileB.Means[b])
			}
		}
		radii[b] = stat.Mean(centers, nil)
		meanA[b], meanB[b] = math.NaN(), math.NaN()
		if len(va) > 0 {
			meanA[b] = stat.Mean(va, nil)
		}
		if len(vb) > 0 {
			meanB[b] = stat.Mean(vb, nil)
		}
	}
	return radii, meanA, meanB
}

// Process runs the whole batch: every discovered tile is analyzed, its
// outputs are written and the tables and manifest are produced. A failing
// tile is logged and counted; the remaining tiles are still processed.
func (a *Analyzer) Process() (*RunSummary, error) {
	started := time.Now()
	runID := uuid.New().String()
	log := a.logger.WithField("run", runID)

	sources, err := tileio.Discover(a.cfg.Paths.InputDir, a.cfg.Paths.TilePrefix, a.cfg.Paths.Recursive)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no tiles found in %s", a.cfg.Paths.InputDir)
	}
	log.WithFields(logrus.Fields{
		"tiles":   len(sources),
		"input":   a.cfg.Paths.InputDir,
		"workers": a.workers(),
	}).Info("Starting analysis")

	outDir := a.cfg.Paths.OutputDir
	writer, err := export.NewFeatureWriter(outDir, a.cfg.Coupling.RadialBins, a.cfg.Output.Compress)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{RunID: runID, Tiles: len(sources), Features: writer.Path()}
	summaries := make([]export.TileSummary, 0, len(sources))

	for i, src := range sources {
		result, err := a.processTile(src, outDir)
		if err != nil {
			summary.Failed++
			summaries = append(summaries, export.TileSummary{TileID: src.ID, Error: err.Error()})
			log.WithError(err).WithField("tile", src.ID).Error("Tile failed")
			continue
		}

		if err := writer.Write(result.Rows(runID, a.cfg.Coupling)...); err != nil {
			writer.Close()
			return nil, err
		}
		summaries = append(summaries, result.Summary())

		log.WithFields(logrus.Fields{
			"tile":     src.ID,
			"progress": fmt.Sprintf("%d/%d", i+1, len(sources)),
		}).Debug("Progress")
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close feature table: %w", err)
	}
	summary.Objects = writer.Rows()
	if err := export.WriteTileSummaries(outDir, summaries); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(started)
	manifest := &export.Manifest{
		RunID:    runID,
		Started:  started,
		Finished: time.Now(),
		Tiles:    summary.Tiles,
		Failed:   summary.Failed,
		Objects:  summary.Objects,
		Features: filepath.Base(writer.Path()),
		Config:   a.cfg,
	}
	if err := export.WriteManifest(outDir, manifest); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"tiles":   summary.Tiles,
		"failed":  summary.Failed,
		"objects": summary.Objects,
		"elapsed": summary.Duration.String(),
	}).Info("Analysis complete")

	return summary, nil
}

// processTile reads, analyzes and writes the optional per-tile images
func (a *Analyzer) processTile(src tileio.Source, outDir string) (*TileResult, error) {
	tile, err := tileio.ReadTile(src)
	if err != nil {
		return nil, err
	}

	result, err := a.AnalyzeTile(tile)
	if err != nil {
		return nil, err
	}

	if a.cfg.Output.SaveLabels {
		path := filepath.Join(outDir, "labels", tile.ID+"_labels.png")
		if err := tileio.SaveLabels(result.Labels, path); err != nil {
			return nil, err
		}
	}

	if a.cfg.Output.SavePreviews {
		previewDir := filepath.Join(outDir, "previews")
		viewer := visualization.NewViewer(tile, result.Labels, a.cfg.Preview)
		if err := viewer.SavePreviews(previewDir); err != nil {
			a.logger.WithError(err).WithField("tile", tile.ID).Warn("Failed to save previews")
		}
		if err := tileio.SaveField(result.Reference, filepath.Join(previewDir, tile.ID+"_reference.png")); err != nil {
			a.logger.WithError(err).WithField("tile", tile.ID).Warn("Failed to save reference image")
		}
	}

	if a.cfg.Output.SaveProfilePlots && len(result.Objects) > 0 {
		radii, meanA, meanB := result.MeanProfiles()
		series := []visualization.ProfileSeries{
			{Name: fmt.Sprintf("channel %d", a.cfg.Coupling.ChannelA), Radii: radii, Means: meanA, Color: chart.ColorBlue},
			{Name: fmt.Sprintf("channel %d", a.cfg.Coupling.ChannelB), Radii: radii, Means: meanB, Color: chart.ColorRed, Dashed: true},
		}
		path := filepath.Join(outDir, "plots", tile.ID+"_profile.png")
		err := visualization.SaveProfilePlot(path, tile.ID, series)
		if err != nil && !errors.Is(err, visualization.ErrNoPlotData) {
			a.logger.WithError(err).WithField("tile", tile.ID).Warn("Failed to save profile plot")
		}
	}

	return result, nil
}
