package tileio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"nucleiradial/internal/models"
)

// writeGray16 saves a width x height 16-bit gradient image
func writeGray16(t *testing.T, path string, width, height int, scale uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(x+y*width) * scale})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("Failed to save %s: %v", path, err)
	}
}

// writeStack saves an uncompressed 8-bit grayscale TIFF with one page per
// entry of pages, each width x height in row-major order
func writeStack(t *testing.T, path string, width, height int, pages [][]uint8) {
	t.Helper()
	const entries = 9
	ifdSize := 2 + entries*12 + 4
	pixels := width * height
	padded := pixels + pixels%2

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(8+padded))

	for i, page := range pages {
		dataOffset := 8 + i*(padded+ifdSize)
		buf.Write(page)
		if padded > pixels {
			buf.WriteByte(0)
		}

		next := uint32(0)
		if i < len(pages)-1 {
			next = uint32(dataOffset + padded + ifdSize + padded)
		}
		binary.Write(&buf, le, uint16(entries))
		for _, e := range [][3]uint32{
			{256, 3, uint32(width)},      // ImageWidth
			{257, 3, uint32(height)},     // ImageLength
			{258, 3, 8},                  // BitsPerSample
			{259, 3, 1},                  // Compression: none
			{262, 3, 1},                  // PhotometricInterpretation: BlackIsZero
			{273, 4, uint32(dataOffset)}, // StripOffsets
			{277, 3, 1},                  // SamplesPerPixel
			{278, 3, uint32(height)},     // RowsPerStrip
			{279, 4, uint32(pixels)},     // StripByteCounts
		} {
			binary.Write(&buf, le, uint16(e[0]))
			binary.Write(&buf, le, uint16(e[1]))
			binary.Write(&buf, le, uint32(1))
			binary.Write(&buf, le, e[2])
		}
		binary.Write(&buf, le, next)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// createTileDir lays out combined, split, preview and unrelated files
func createTileDir(t *testing.T) string {
	dir := t.TempDir()
	writeGray16(t, filepath.Join(dir, "tile_001.png"), 4, 3, 100)
	writeGray16(t, filepath.Join(dir, "tile_002_c1.png"), 4, 3, 20)
	writeGray16(t, filepath.Join(dir, "tile_002_c0.png"), 4, 3, 10)
	writeGray16(t, filepath.Join(dir, "tile_002_rgb.png"), 4, 3, 1)
	writeGray16(t, filepath.Join(dir, "other.png"), 4, 3, 1)
	writeGray16(t, filepath.Join(dir, "tile_001_labels.png"), 4, 3, 1)
	writeGray16(t, filepath.Join(dir, "nested", "tile_003.tif"), 4, 3, 1)
	if err := os.WriteFile(filepath.Join(dir, "tile_notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write notes: %v", err)
	}
	return dir
}

// TestDiscover verifies filtering, grouping and ordering of tiles
func TestDiscover(t *testing.T) {
	dir := createTileDir(t)

	testCases := []struct {
		name      string
		prefix    string
		recursive bool
		want      []string
	}{
		{"flat with prefix", "tile_", false, []string{"tile_001", "tile_002"}},
		{"recursive with prefix", "tile_", true, []string{"nested/tile_003", "tile_001", "tile_002"}},
		{"flat without prefix", "", false, []string{"other", "tile_001", "tile_002"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sources, err := Discover(dir, tc.prefix, tc.recursive)
			if err != nil {
				t.Fatalf("Discover failed: %v", err)
			}
			if len(sources) != len(tc.want) {
				t.Fatalf("Expected %d tiles, got %d: %+v", len(tc.want), len(sources), sources)
			}
			for i, id := range tc.want {
				if sources[i].ID != id {
					t.Errorf("Tile %d: expected %s, got %s", i, id, sources[i].ID)
				}
			}
		})
	}

	sources, _ := Discover(dir, "tile_", false)
	split := sources[1]
	if len(split.Paths) != 2 || filepath.Base(split.Paths[0]) != "tile_002_c0.png" {
		t.Errorf("Expected channel files in order, got %v", split.Paths)
	}
}

// TestDiscoverMissingChannel verifies gaps in split channels are reported
func TestDiscoverMissingChannel(t *testing.T) {
	dir := t.TempDir()
	writeGray16(t, filepath.Join(dir, "tile_9_c0.png"), 2, 2, 1)
	writeGray16(t, filepath.Join(dir, "tile_9_c2.png"), 2, 2, 1)

	if _, err := Discover(dir, "", false); err == nil {
		t.Error("Expected error for missing channel 1")
	}
}

// TestReadTile checks channel counts and pixel values
func TestReadTile(t *testing.T) {
	dir := createTileDir(t)
	sources, err := Discover(dir, "tile_", false)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	single, err := ReadTile(sources[0])
	if err != nil {
		t.Fatalf("ReadTile failed: %v", err)
	}
	if len(single.Channels) != 1 {
		t.Fatalf("Expected 1 channel, got %d", len(single.Channels))
	}
	if single.Shape() != (models.Shape{Rows: 3, Cols: 4}) {
		t.Errorf("Expected 3x4, got %s", single.Shape())
	}
	if got := single.Channels[0].At(2, 1); got != 900 {
		t.Errorf("Expected pixel (2,1) = 900, got %f", got)
	}

	split, err := ReadTile(sources[1])
	if err != nil {
		t.Fatalf("ReadTile failed: %v", err)
	}
	if len(split.Channels) != 2 {
		t.Fatalf("Expected 2 channels, got %d", len(split.Channels))
	}
	if split.Channels[0].At(0, 1) != 10 || split.Channels[1].At(0, 1) != 20 {
		t.Errorf("Channels out of order: %f %f", split.Channels[0].At(0, 1), split.Channels[1].At(0, 1))
	}
}

// TestReadTileStack verifies a multi-page TIFF becomes one channel per page
func TestReadTileStack(t *testing.T) {
	dir := t.TempDir()
	pages := make([][]uint8, 3)
	for k := range pages {
		pages[k] = make([]uint8, 12)
		for i := range pages[k] {
			pages[k][i] = uint8(50*k + i)
		}
	}
	path := filepath.Join(dir, "tile_004.tif")
	writeStack(t, path, 4, 3, pages)

	sources, err := Discover(dir, "tile_", false)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(sources) != 1 || sources[0].ID != "tile_004" {
		t.Fatalf("Expected tile_004, got %+v", sources)
	}

	tile, err := ReadTile(sources[0])
	if err != nil {
		t.Fatalf("ReadTile failed: %v", err)
	}
	if len(tile.Channels) != 3 {
		t.Fatalf("Expected 3 channels, got %d", len(tile.Channels))
	}
	if tile.Shape() != (models.Shape{Rows: 3, Cols: 4}) {
		t.Errorf("Expected 3x4, got %s", tile.Shape())
	}
	for k, ch := range tile.Channels {
		if got, want := ch.At(2, 1), float64(50*k+9); got != want {
			t.Errorf("Channel %d: expected pixel (2,1) = %.0f, got %f", k, want, got)
		}
	}

	// a stack cannot stand in for a single split channel
	other := filepath.Join(dir, "split_c1.png")
	writeGray16(t, other, 4, 3, 1)
	if _, err := ReadTile(Source{ID: "split", Paths: []string{path, other}}); err == nil {
		t.Error("Expected error for a stack used as a split channel")
	}
}

// TestReadTileShapeMismatch verifies differing channel sizes are rejected
func TestReadTileShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "t_c0.png")
	b := filepath.Join(dir, "t_c1.png")
	writeGray16(t, a, 4, 3, 1)
	writeGray16(t, b, 3, 3, 1)

	_, err := ReadTile(Source{ID: "t", Paths: []string{a, b}})
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

// TestChannelsColor verifies color images split into RGB channels
func TestChannelsColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	img.Set(1, 0, color.NRGBA{R: 0, G: 0, B: 255, A: 255})

	channels := Channels(img)
	if len(channels) != 3 {
		t.Fatalf("Expected 3 channels, got %d", len(channels))
	}
	if channels[0].At(0, 0) != 65535 || channels[2].At(0, 0) != 0 {
		t.Errorf("Unexpected red pixel: %f %f", channels[0].At(0, 0), channels[2].At(0, 0))
	}
	if channels[2].At(0, 1) != 65535 {
		t.Errorf("Unexpected blue pixel: %f", channels[2].At(0, 1))
	}
}

// TestSaveLabels verifies labels survive a 16-bit PNG round trip
func TestSaveLabels(t *testing.T) {
	labels := models.NewLabels(3, 3)
	labels.Data[4] = 7
	labels.Data[8] = 300

	path := filepath.Join(t.TempDir(), "out", "labels.png")
	if err := SaveLabels(labels, path); err != nil {
		t.Fatalf("SaveLabels failed: %v", err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen labels: %v", err)
	}
	field := Channels(img)[0]
	if field.At(1, 1) != 7 || field.At(2, 2) != 300 || field.At(0, 0) != 0 {
		t.Errorf("Unexpected label values %v", field.Data)
	}
}

// TestSaveField verifies a field is stretched onto the 16-bit range
func TestSaveField(t *testing.T) {
	f := &models.Field{Shape: models.Shape{Rows: 1, Cols: 3}, Data: []float64{2, 3, 4}}

	path := filepath.Join(t.TempDir(), "previews", "t_reference.png")
	if err := SaveField(f, path); err != nil {
		t.Fatalf("SaveField failed: %v", err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen field: %v", err)
	}
	got := Channels(img)[0]
	want := []float64{0, 32768, 65535}
	for i, w := range want {
		if got.Data[i] != w {
			t.Errorf("Pixel %d: expected %.0f, got %f", i, w, got.Data[i])
		}
	}
}
