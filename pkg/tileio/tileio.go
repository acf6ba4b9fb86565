// Package tileio discovers microscopy tiles on disk, decodes them into
// channel fields and writes label images back.
package tileio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"

	"nucleiradial/internal/models"
	"nucleiradial/pkg/preprocess"
)

// Source names one tile and the files holding its channels
type Source struct {
	ID string

	// Paths has one entry for multi-channel files, or one file per channel
	// in channel order for split tiles
	Paths []string
}

// channelSuffix matches split-channel file stems such as "tile_003_c1"
var channelSuffix = regexp.MustCompile(`^(.+)_c(\d+)$`)

// generatedSuffixes mark previews and label images written by a previous run
var generatedSuffixes = []string{"_rgb", "_overlay", "_labels", "_profile", "_reference"}

var tileExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
}

// Discover lists the tiles under dir, sorted by id.
//
// Parameters:
//   - dir: directory to search
//   - prefix: only file names starting with prefix are considered (empty = all)
//   - recursive: descend into subdirectories
//
// Files named "<id>_c<k>.<ext>" in the same directory are grouped into one
// tile with channel k. Generated images (stems ending in "_rgb", "_overlay",
// "_labels", "_profile" or "_reference") are skipped.
func Discover(dir, prefix string, recursive bool) ([]Source, error) {
	type channelFile struct {
		index int
		path  string
	}
	single := make(map[string]string)
	split := make(map[string][]channelFile)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		lower := strings.ToLower(name)
		ext := filepath.Ext(lower)
		if !tileExtensions[ext] || isGenerated(strings.TrimSuffix(lower, ext)) {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		stem := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))

		if m := channelSuffix.FindStringSubmatch(stem); m != nil {
			k, _ := strconv.Atoi(m[2])
			split[m[1]] = append(split[m[1]], channelFile{index: k, path: path})
			return nil
		}
		single[stem] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	sources := make([]Source, 0, len(single)+len(split))
	for id, path := range single {
		sources = append(sources, Source{ID: id, Paths: []string{path}})
	}
	for id, files := range split {
		if _, dup := single[id]; dup {
			return nil, fmt.Errorf("tile %s has both a combined file and split channel files", id)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
		paths := make([]string, len(files))
		for i, f := range files {
			if f.index != i {
				return nil, fmt.Errorf("tile %s: missing channel %d", id, i)
			}
			paths[i] = f.path
		}
		sources = append(sources, Source{ID: id, Paths: paths})
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

func isGenerated(stem string) bool {
	for _, suffix := range generatedSuffixes {
		if strings.HasSuffix(stem, suffix) {
			return true
		}
	}
	return false
}

// ReadTile decodes every file of a source into channel fields.
// A multi-page TIFF stack yields one channel per page, a single grayscale
// image one channel and a single color image red, green and blue. Split
// files contribute one channel each.
func ReadTile(src Source) (*models.Tile, error) {
	if len(src.Paths) == 0 {
		return nil, fmt.Errorf("tile %s has no files", src.ID)
	}

	split := len(src.Paths) > 1
	tile := &models.Tile{ID: src.ID, Paths: src.Paths}
	for _, path := range src.Paths {
		pages, err := readImages(path)
		if err != nil {
			return nil, err
		}

		switch {
		case len(pages) > 1 && split:
			return nil, fmt.Errorf("tile %s: channel file %s holds %d pages", src.ID, path, len(pages))
		case len(pages) > 1:
			for _, page := range pages {
				tile.Channels = append(tile.Channels, pageChannel(page))
			}
		case split:
			tile.Channels = append(tile.Channels, pageChannel(pages[0]))
		default:
			tile.Channels = append(tile.Channels, Channels(pages[0])...)
		}
	}

	shape := tile.Channels[0].Shape
	for i, ch := range tile.Channels {
		if ch.Shape != shape {
			return nil, fmt.Errorf("%w: tile %s channel %d is %s, expected %s",
				models.ErrShapeMismatch, src.ID, i, ch.Shape, shape)
		}
	}
	return tile, nil
}

// readImages decodes a file into its pages. TIFF files may hold a stack of
// pages; every other format has exactly one.
func readImages(path string) ([]image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".tif" && ext != ".tiff" {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return []image.Image{img}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	decoded, errs, err := tiff.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	// Sub-images (thumbnails, reduced resolutions) are ignored
	pages := make([]image.Image, 0, len(decoded))
	for i := range decoded {
		if len(decoded[i]) == 0 {
			continue
		}
		if errs[i][0] != nil {
			return nil, fmt.Errorf("failed to decode page %d of %s: %w", i, path, errs[i][0])
		}
		pages = append(pages, decoded[i][0])
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s holds no images", path)
	}
	return pages, nil
}

// pageChannel converts one image into a single channel: raw intensities for
// grayscale images, luminance otherwise.
func pageChannel(img image.Image) *models.Field {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return Channels(img)[0]
	}
	return luminance(img)
}

// Channels converts a decoded image into fields of raw intensities:
// one field for grayscale images, three (R, G, B) otherwise.
func Channels(img image.Image) []*models.Field {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()

	switch src := img.(type) {
	case *image.Gray:
		f := models.NewField(rows, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				f.Set(r, c, float64(src.GrayAt(b.Min.X+c, b.Min.Y+r).Y))
			}
		}
		return []*models.Field{f}
	case *image.Gray16:
		f := models.NewField(rows, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				f.Set(r, c, float64(src.Gray16At(b.Min.X+c, b.Min.Y+r).Y))
			}
		}
		return []*models.Field{f}
	}

	red, green, blue := models.NewField(rows, cols), models.NewField(rows, cols), models.NewField(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cr, cg, cb, _ := img.At(b.Min.X+c, b.Min.Y+r).RGBA()
			red.Set(r, c, float64(cr))
			green.Set(r, c, float64(cg))
			blue.Set(r, c, float64(cb))
		}
	}
	return []*models.Field{red, green, blue}
}

func luminance(img image.Image) *models.Field {
	b := img.Bounds()
	f := models.NewField(b.Dy(), b.Dx())
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+c, b.Min.Y+r)).(color.Gray16)
			f.Set(r, c, float64(g.Y))
		}
	}
	return f
}

// labelImage renders labels as a 16-bit grayscale image, one gray level per id
func labelImage(labels *models.Labels) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, labels.Cols, labels.Rows))
	for r := 0; r < labels.Rows; r++ {
		for c := 0; c < labels.Cols; c++ {
			id := labels.At(r, c)
			img.SetGray16(c, r, color.Gray16{Y: uint16(min(int(id), math.MaxUint16))})
		}
	}
	return img
}

// SaveLabels writes labels as a 16-bit image; the format follows the extension
func SaveLabels(labels *models.Labels, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create label directory: %w", err)
	}
	if err := imaging.Save(labelImage(labels), path); err != nil {
		return fmt.Errorf("failed to save labels to %s: %w", path, err)
	}
	return nil
}

// SaveField writes a field as a 16-bit grayscale image stretched over the
// full intensity range; the format follows the extension
func SaveField(f *models.Field, path string) error {
	img := image.NewGray16(image.Rect(0, 0, f.Cols, f.Rows))
	for i, v := range preprocess.ToUint16(f) {
		img.SetGray16(i%f.Cols, i/f.Cols, color.Gray16{Y: v})
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
