package analysis

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/config"
	"nucleiradial/pkg/export"
	"nucleiradial/pkg/features"
)

var testCenters = []models.Centroid{{Row: 20, Col: 20}, {Row: 55, Col: 60}}

// createTestTile builds an 80x80 tile: nuclei in channel 0, a signal
// concentrated on the nuclei in channel 1 and a radial falloff in channel 2
func createTestTile() *models.Tile {
	const size = 80
	tile := &models.Tile{ID: "tile_001"}
	for k := 0; k < 3; k++ {
		tile.Channels = append(tile.Channels, models.NewField(size, size))
	}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			nearest := math.Inf(1)
			for _, ctr := range testCenters {
				nearest = math.Min(nearest, math.Hypot(float64(r)-ctr.Row, float64(c)-ctr.Col))
			}
			if nearest <= 12 {
				tile.Channels[0].Set(r, c, 1000)
			}
			if nearest <= 6 {
				tile.Channels[1].Set(r, c, 100)
			} else {
				tile.Channels[1].Set(r, c, 20)
			}
			tile.Channels[2].Set(r, c, 200-4*math.Min(nearest, 30))
		}
	}
	return tile
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Paths.InputDir = filepath.Join(t.TempDir(), "input")
	cfg.Paths.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.Nucleus.MinArea = 50
	cfg.Coupling.InnerRadiusPx = 5
	cfg.Coupling.OuterRadiusPx = 15
	cfg.Coupling.RadialBins = 6
	cfg.Coupling.MaxRadiusPx = 18
	cfg.Processing.NumWorkers = 2
	return cfg
}

// saveChannel writes a field as a 16-bit PNG
func saveChannel(t *testing.T, f *models.Field, path string) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, f.Cols, f.Rows))
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			img.SetGray16(c, r, color.Gray16{Y: uint16(f.At(r, c))})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("Failed to save %s: %v", path, err)
	}
}

// TestAnalyzeTile verifies segmentation, features and neighbors on a synthetic tile
func TestAnalyzeTile(t *testing.T) {
	analyzer, err := NewAnalyzer(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	result, err := analyzer.AnalyzeTile(createTestTile())
	if err != nil {
		t.Fatalf("AnalyzeTile failed: %v", err)
	}
	if len(result.Objects) != 2 {
		t.Fatalf("Expected 2 nuclei, got %d", len(result.Objects))
	}

	separation := math.Hypot(35, 40)
	for i, o := range result.Objects {
		if o.Object.Label != i+1 {
			t.Errorf("Object %d has label %d", i, o.Object.Label)
		}
		c := o.Object.Centroid
		if math.Hypot(c.Row-testCenters[i].Row, c.Col-testCenters[i].Col) > 1 {
			t.Errorf("Object %d centroid %v far from %v", i+1, c, testCenters[i])
		}
		if math.Abs(o.NearestNeighbor-separation) > 1 {
			t.Errorf("Object %d: expected neighbor distance %.1f, got %.1f", i+1, separation, o.NearestNeighbor)
		}
		m := o.Measurement
		if !(m.PerinuclearA > 1) {
			t.Errorf("Object %d: expected perinuclear enrichment in channel 1, got %f", i+1, m.PerinuclearA)
		}
		if len(m.ProfileA.Means) != 6 || m.ProfileA.Edges[6] != 18 {
			t.Errorf("Object %d: unexpected profile geometry %v", i+1, m.ProfileA.Edges)
		}
		if math.IsNaN(m.Coupling) {
			t.Errorf("Object %d: coupling should be defined", i+1)
		}
	}

	if math.IsNaN(result.HeterogeneityA) || result.HeterogeneityA <= 0 {
		t.Errorf("Expected positive tile heterogeneity, got %f", result.HeterogeneityA)
	}

	rows := result.Rows("run", config.DefaultCoupling())
	if len(rows) != 2 || rows[1].ObjectID != 2 || rows[0].TileID != "tile_001" {
		t.Errorf("Unexpected rows: %+v", rows)
	}
	if s := result.Summary(); s.Objects != 2 || s.MeanArea <= 0 {
		t.Errorf("Unexpected summary: %+v", s)
	}

	radii, meanA, _ := result.MeanProfiles()
	if len(radii) != 6 || radii[0] != 1.5 || meanA[0] != 100 {
		t.Errorf("Unexpected mean profile: radii %v, means %v", radii, meanA)
	}
}

// TestAnalyzeTileHeterogeneityScope verifies object heterogeneity follows the
// label region by default and the outer disk when configured
func TestAnalyzeTileHeterogeneityScope(t *testing.T) {
	tile := createTestTile()
	cfg := testConfig(t)

	analyzer, err := NewAnalyzer(cfg, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	object, err := analyzer.AnalyzeTile(tile)
	if err != nil {
		t.Fatalf("AnalyzeTile failed: %v", err)
	}

	chA := tile.Channels[cfg.Coupling.ChannelA]
	for i, o := range object.Objects {
		mask := models.NewMask(object.Labels.Rows, object.Labels.Cols)
		for idx, id := range object.Labels.Data {
			mask.Data[idx] = int(id) == i+1
		}
		want, err := features.Heterogeneity(chA, mask)
		if err != nil {
			t.Fatalf("Heterogeneity failed: %v", err)
		}
		if got := o.Measurement.HeterogeneityA; math.Abs(got-want) > 1e-12 {
			t.Errorf("Object %d: expected region heterogeneity %f, got %f", i+1, want, got)
		}
	}

	diskCfg := testConfig(t)
	diskCfg.Coupling.HeterogeneityScope = config.ScopeDisk
	analyzer, err = NewAnalyzer(diskCfg, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	disk, err := analyzer.AnalyzeTile(tile)
	if err != nil {
		t.Fatalf("AnalyzeTile failed: %v", err)
	}
	for i := range disk.Objects {
		a, b := object.Objects[i].Measurement.HeterogeneityA, disk.Objects[i].Measurement.HeterogeneityA
		if math.Abs(a-b) < 1e-6 {
			t.Errorf("Object %d: region and disk heterogeneity should differ, both %f", i+1, a)
		}
	}
}

// TestAnalyzeTileChannelOutOfRange verifies channel indices are checked per tile
func TestAnalyzeTileChannelOutOfRange(t *testing.T) {
	analyzer, err := NewAnalyzer(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	tile := createTestTile()
	tile.Channels = tile.Channels[:2]

	if _, err := analyzer.AnalyzeTile(tile); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

// TestAnalyzeEmptyTile verifies a blank tile yields no objects and no error
func TestAnalyzeEmptyTile(t *testing.T) {
	analyzer, err := NewAnalyzer(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	tile := &models.Tile{ID: "blank"}
	for k := 0; k < 3; k++ {
		tile.Channels = append(tile.Channels, models.NewField(30, 30))
	}

	result, err := analyzer.AnalyzeTile(tile)
	if err != nil {
		t.Fatalf("AnalyzeTile failed: %v", err)
	}
	if len(result.Objects) != 0 {
		t.Errorf("Expected no objects, got %d", len(result.Objects))
	}
	if !math.IsNaN(result.Summary().MeanArea) {
		t.Error("Expected NaN mean area for a blank tile")
	}
}

// TestNewAnalyzerInvalidConfig verifies configuration is validated up front
func TestNewAnalyzerInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Coupling.RadialBins = 0
	if _, err := NewAnalyzer(cfg, nil); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

// TestProcess runs a batch over split-channel files, including a corrupt tile
func TestProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testConfig(t)
	cfg.Output.SavePreviews = true
	cfg.Output.SaveProfilePlots = true
	cfg.Output.Compress = config.CompressZstd

	if err := os.MkdirAll(cfg.Paths.InputDir, 0755); err != nil {
		t.Fatalf("Failed to create input dir: %v", err)
	}
	tile := createTestTile()
	for k, ch := range tile.Channels {
		saveChannel(t, ch, filepath.Join(cfg.Paths.InputDir, fmt.Sprintf("tile_001_c%d.png", k)))
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.InputDir, "tile_002.png"), []byte("not an image"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt tile: %v", err)
	}

	analyzer, err := NewAnalyzer(cfg, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	summary, err := analyzer.Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if summary.Tiles != 2 || summary.Failed != 1 || summary.Objects != 2 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	table, err := export.ReadTable(summary.Features)
	if err != nil {
		t.Fatalf("Failed to read features: %v", err)
	}
	if len(table) != 3 {
		t.Errorf("Expected header and 2 rows, got %d lines", len(table))
	}
	if len(table[0]) != len(export.Header(6)) {
		t.Errorf("Expected %d columns, got %d", len(export.Header(6)), len(table[0]))
	}

	out := cfg.Paths.OutputDir
	for _, name := range []string{
		export.TilesFile,
		export.ManifestFile,
		filepath.Join("labels", "tile_001_labels.png"),
		filepath.Join("previews", "tile_001_rgb.png"),
		filepath.Join("previews", "tile_001_overlay.png"),
		filepath.Join("previews", "tile_001_reference.png"),
		filepath.Join("plots", "tile_001_profile.png"),
	} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("Expected output %s: %v", name, err)
		}
	}

	manifest, err := export.ReadManifest(out)
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	if manifest.RunID != summary.RunID || manifest.Failed != 1 {
		t.Errorf("Unexpected manifest: %+v", manifest)
	}
}
