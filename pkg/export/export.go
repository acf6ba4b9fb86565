// Package export writes the per-object feature table, the per-tile summary
// and the run manifest.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"nucleiradial/pkg/config"
)

// File names inside the output directory
const (
	FeaturesFile = "features.csv"
	TilesFile    = "tiles.csv"
	ManifestFile = "manifest.yaml"
)

// Row is one object measured for one channel pair
type Row struct {
	RunID    string
	TileID   string
	ObjectID int
	ChannelA int
	ChannelB int

	Area            int
	CentroidRow     float64
	CentroidCol     float64
	NearestNeighbor float64

	PerinuclearA   float64
	PerinuclearB   float64
	HeterogeneityA float64
	HeterogeneityB float64
	Coupling       float64

	ProfileA []float64
	ProfileB []float64
}

// Header returns the feature table columns for the given number of radial bins
func Header(bins int) []string {
	header := []string{
		"run_id", "tile_id", "object_id", "channel_a", "channel_b",
		"area_px", "centroid_row", "centroid_col", "nearest_neighbor_px",
		"perinuclear_a", "perinuclear_b", "heterogeneity_a", "heterogeneity_b", "coupling",
	}
	for i := 0; i < bins; i++ {
		header = append(header, fmt.Sprintf("profile_a_%02d", i))
	}
	for i := 0; i < bins; i++ {
		header = append(header, fmt.Sprintf("profile_b_%02d", i))
	}
	return header
}

// Record formats the row in Header order, padding short profiles with NaN
func (r Row) Record(bins int) []string {
	rec := []string{
		r.RunID, r.TileID, strconv.Itoa(r.ObjectID), strconv.Itoa(r.ChannelA), strconv.Itoa(r.ChannelB),
		strconv.Itoa(r.Area), formatFloat(r.CentroidRow), formatFloat(r.CentroidCol), formatFloat(r.NearestNeighbor),
		formatFloat(r.PerinuclearA), formatFloat(r.PerinuclearB),
		formatFloat(r.HeterogeneityA), formatFloat(r.HeterogeneityB), formatFloat(r.Coupling),
	}
	for _, profile := range [][]float64{r.ProfileA, r.ProfileB} {
		for i := 0; i < bins; i++ {
			if i < len(profile) {
				rec = append(rec, formatFloat(profile[i]))
			} else {
				rec = append(rec, "NaN")
			}
		}
	}
	return rec
}

// formatFloat writes NaN as "NaN" and everything else in shortest form
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FeatureWriter streams rows into the feature table
type FeatureWriter struct {
	path string
	bins int

	file    *os.File
	encoder *zstd.Encoder
	csv     *csv.Writer
	rows    int
}

// NewFeatureWriter creates the feature table in dir and writes the header.
// With compress set to config.CompressZstd the file is "features.csv.zst".
func NewFeatureWriter(dir string, bins int, compress string) (*FeatureWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, FeaturesFile)
	if compress == config.CompressZstd {
		path += ".zst"
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature table: %w", err)
	}

	w := &FeatureWriter{path: path, bins: bins, file: file}
	var out io.Writer = file
	if compress == config.CompressZstd {
		w.encoder, err = zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		out = w.encoder
	}
	w.csv = csv.NewWriter(out)

	if err := w.csv.Write(Header(bins)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return w, nil
}

// Path returns the location of the table
func (w *FeatureWriter) Path() string { return w.path }

// Rows returns the number of rows written so far
func (w *FeatureWriter) Rows() int { return w.rows }

// Write appends rows
func (w *FeatureWriter) Write(rows ...Row) error {
	for _, r := range rows {
		if err := w.csv.Write(r.Record(w.bins)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		w.rows++
	}
	return nil
}

// Close flushes and closes the table
func (w *FeatureWriter) Close() error {
	w.csv.Flush()
	err := w.csv.Error()
	if w.encoder != nil {
		if cerr := w.encoder.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadTable loads a CSV table, transparently decompressing ".zst" files
func ReadTable(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var in io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer decoder.Close()
		in = decoder
	}
	return csv.NewReader(in).ReadAll()
}

// TileSummary is one line of the per-tile table
type TileSummary struct {
	TileID         string
	Rows, Cols     int
	Objects        int
	MeanArea       float64
	HeterogeneityA float64
	HeterogeneityB float64
	Degenerate     int
	Duration       time.Duration
	Error          string
}

// WriteTileSummaries writes the per-tile table to dir
func WriteTileSummaries(dir string, summaries []TileSummary) error {
	file, err := os.Create(filepath.Join(dir, TilesFile))
	if err != nil {
		return fmt.Errorf("failed to create tile summary: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	w.Write([]string{
		"tile_id", "rows", "cols", "objects", "mean_area_px",
		"heterogeneity_a", "heterogeneity_b", "degenerate_features", "duration_ms", "error",
	})
	for _, s := range summaries {
		w.Write([]string{
			s.TileID, strconv.Itoa(s.Rows), strconv.Itoa(s.Cols), strconv.Itoa(s.Objects),
			formatFloat(s.MeanArea), formatFloat(s.HeterogeneityA), formatFloat(s.HeterogeneityB),
			strconv.Itoa(s.Degenerate), strconv.FormatInt(s.Duration.Milliseconds(), 10), s.Error,
		})
	}
	w.Flush()
	return w.Error()
}

// Manifest records how a run was produced
type Manifest struct {
	RunID    string         `yaml:"runId"`
	Started  time.Time      `yaml:"started"`
	Finished time.Time      `yaml:"finished"`
	Tiles    int            `yaml:"tiles"`
	Failed   int            `yaml:"failed"`
	Objects  int            `yaml:"objects"`
	Features string         `yaml:"features"`
	Config   *config.Config `yaml:"config"`
}

// WriteManifest saves the manifest as YAML in dir
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	return m, nil
}
