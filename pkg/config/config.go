// Package config provides configuration loading and management for nucleiradial.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"nucleiradial/internal/models"
)

// Threshold methods accepted by Nucleus.ThresholdMethod
const (
	ThresholdOtsu       = "otsu"
	ThresholdPercentile = "percentile"
)

// Regions accepted by Coupling.HeterogeneityScope
const (
	// ScopeObject measures heterogeneity over the nucleus label region
	ScopeObject = "object"

	// ScopeDisk measures heterogeneity within OuterRadiusPx of the centroid
	ScopeDisk = "disk"
)

// Compression modes accepted by Output.Compress
const (
	CompressNone = "none"
	CompressZstd = "zstd"
)

// Paths locates inputs and outputs
type Paths struct {
	// InputDir is searched for tile images
	InputDir string `yaml:"inputDir"`

	// OutputDir receives tables, label images and previews
	OutputDir string `yaml:"outputDir"`

	// TilePrefix restricts discovery to file names starting with it (empty = all)
	TilePrefix string `yaml:"tilePrefix"`

	// Recursive descends into subdirectories of InputDir
	Recursive bool `yaml:"recursive"`
}

// Preprocess controls the intensity conditioning applied before segmentation
type Preprocess struct {
	ApplyGamma    bool    `yaml:"applyGamma"`
	Gamma         float64 `yaml:"gamma"`
	GaussianSigma float64 `yaml:"gaussianSigma"`
}

// Nucleus holds the segmentation parameters for the reference channel
type Nucleus struct {
	// Channel is the reference channel index; -1 uses the max projection of all channels
	Channel int `yaml:"channel"`

	// ThresholdMethod is "otsu" or "percentile"
	ThresholdMethod string `yaml:"thresholdMethod"`

	// Percentile is used when ThresholdMethod is "percentile", in [0, 100]
	Percentile float64 `yaml:"percentile"`

	MinArea int `yaml:"minArea"`

	// MaxArea bounds object size from above; 0 disables the bound
	MaxArea int `yaml:"maxArea"`

	ClosingRadius int `yaml:"closingRadius"`
	OpeningRadius int `yaml:"openingRadius"`

	// SplitTouching enables distance-transform watershed splitting
	SplitTouching bool `yaml:"splitTouching"`

	// DistanceSigma smooths the distance transform before peak detection; <= 0 disables
	DistanceSigma float64 `yaml:"distanceSigma"`

	// MinPeakDistance is the minimum separation of watershed seeds in pixels
	MinPeakDistance int `yaml:"minPeakDistance"`
}

// Coupling selects the channel pair and the radial geometry of the features
type Coupling struct {
	ChannelA int `yaml:"channelA"`
	ChannelB int `yaml:"channelB"`

	RadialBins int `yaml:"radialBins"`

	// MaxRadiusPx caps the radial profile; 0 uses the farthest pixel of the tile
	MaxRadiusPx float64 `yaml:"maxRadiusPx"`

	InnerRadiusPx float64 `yaml:"innerRadiusPx"`
	OuterRadiusPx float64 `yaml:"outerRadiusPx"`

	// HeterogeneityScope is "object" or "disk"
	HeterogeneityScope string `yaml:"heterogeneityScope"`
}

// Preview controls the optional RGB previews and overlays
type Preview struct {
	// RGBChannels maps tile channels to red, green and blue; -1 leaves a plane black
	RGBChannels  []int   `yaml:"rgbChannels"`
	OverlayAlpha float64 `yaml:"overlayAlpha"`

	// MaxSize bounds the longest preview side; 0 keeps the tile size
	MaxSize int `yaml:"maxSize"`
}

// Processing controls parallelism
type Processing struct {
	// NumWorkers bounds the goroutines measuring objects of one tile
	NumWorkers int `yaml:"numWorkers"`
}

// Output selects which artifacts are written
type Output struct {
	SaveLabels       bool `yaml:"saveLabels"`
	SavePreviews     bool `yaml:"savePreviews"`
	SaveProfilePlots bool `yaml:"saveProfilePlots"`

	// Compress is "none" or "zstd" and applies to the feature table
	Compress string `yaml:"compress"`

	// Verbose enables debug logging
	Verbose bool `yaml:"verbose"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Paths      Paths      `yaml:"paths"`
	Preprocess Preprocess `yaml:"preprocess"`
	Nucleus    Nucleus    `yaml:"nucleus"`
	Coupling   Coupling   `yaml:"coupling"`
	Preview    Preview    `yaml:"preview"`
	Processing Processing `yaml:"processing"`
	Output     Output     `yaml:"output"`
}

// DefaultNucleus returns the default segmentation parameters
func DefaultNucleus() Nucleus {
	return Nucleus{
		Channel:         0,
		ThresholdMethod: ThresholdOtsu,
		Percentile:      99.0,
		MinArea:         200,
		MaxArea:         0,
		ClosingRadius:   2,
		OpeningRadius:   1,
		SplitTouching:   true,
		DistanceSigma:   1.0,
		MinPeakDistance: 8,
	}
}

// DefaultCoupling returns the default feature geometry
func DefaultCoupling() Coupling {
	return Coupling{
		ChannelA:      1,
		ChannelB:      2,
		RadialBins:    12,
		MaxRadiusPx:   0,
		InnerRadiusPx: 20,
		OuterRadiusPx: 80,

		HeterogeneityScope: ScopeObject,
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Paths.InputDir = filepath.Join("data", "toy_data", "images")
	cfg.Paths.OutputDir = "results"
	cfg.Paths.TilePrefix = "tile_"
	cfg.Paths.Recursive = true

	cfg.Preprocess.ApplyGamma = true
	cfg.Preprocess.Gamma = 0.9
	cfg.Preprocess.GaussianSigma = 1.0

	cfg.Nucleus = DefaultNucleus()
	cfg.Coupling = DefaultCoupling()

	cfg.Preview.RGBChannels = []int{1, 2, 0}
	cfg.Preview.OverlayAlpha = 0.35
	cfg.Preview.MaxSize = 1024

	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default

	cfg.Output.SaveLabels = true
	cfg.Output.SavePreviews = false
	cfg.Output.SaveProfilePlots = false
	cfg.Output.Compress = CompressNone
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks every parameter that does not depend on the tile being processed.
// Errors wrap models.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if err := c.Nucleus.Validate(); err != nil {
		return err
	}
	if err := c.Coupling.Validate(); err != nil {
		return err
	}
	if c.Preprocess.ApplyGamma && c.Preprocess.Gamma <= 0 {
		return invalid("gamma must be positive, got %g", c.Preprocess.Gamma)
	}
	if c.Preview.OverlayAlpha < 0 || c.Preview.OverlayAlpha > 1 {
		return invalid("overlay alpha must be in [0, 1], got %g", c.Preview.OverlayAlpha)
	}
	if c.Preview.MaxSize < 0 {
		return invalid("preview max size must be non-negative, got %d", c.Preview.MaxSize)
	}
	if c.Processing.NumWorkers < 0 {
		return invalid("numWorkers must be non-negative, got %d", c.Processing.NumWorkers)
	}
	switch c.Output.Compress {
	case "", CompressNone, CompressZstd:
	default:
		return invalid("unknown compression %q", c.Output.Compress)
	}
	return nil
}

// Validate checks the segmentation parameters
func (n Nucleus) Validate() error {
	switch n.ThresholdMethod {
	case ThresholdOtsu, ThresholdPercentile:
	default:
		return invalid("unknown threshold method %q", n.ThresholdMethod)
	}
	if n.Percentile < 0 || n.Percentile > 100 {
		return invalid("percentile must be in [0, 100], got %g", n.Percentile)
	}
	if n.MinArea < 0 {
		return invalid("minArea must be non-negative, got %d", n.MinArea)
	}
	if n.MaxArea < 0 || (n.MaxArea > 0 && n.MaxArea < n.MinArea) {
		return invalid("maxArea %d inconsistent with minArea %d", n.MaxArea, n.MinArea)
	}
	if n.SplitTouching && n.MinPeakDistance < 1 {
		return invalid("minPeakDistance must be at least 1, got %d", n.MinPeakDistance)
	}
	if n.Channel < -1 {
		return invalid("nucleus channel %d", n.Channel)
	}
	return nil
}

// Validate checks the feature geometry
func (c Coupling) Validate() error {
	if c.RadialBins <= 0 {
		return invalid("radialBins must be positive, got %d", c.RadialBins)
	}
	if c.MaxRadiusPx < 0 {
		return invalid("maxRadiusPx must be non-negative, got %g", c.MaxRadiusPx)
	}
	if c.InnerRadiusPx < 0 || c.OuterRadiusPx < c.InnerRadiusPx {
		return invalid("radii inner=%g outer=%g", c.InnerRadiusPx, c.OuterRadiusPx)
	}
	if c.ChannelA < 0 || c.ChannelB < 0 {
		return invalid("coupling channels %d/%d", c.ChannelA, c.ChannelB)
	}
	switch c.HeterogeneityScope {
	case ScopeObject, ScopeDisk:
	default:
		return invalid("unknown heterogeneity scope %q", c.HeterogeneityScope)
	}
	return nil
}

// ValidateChannels checks the channel indices against a tile with n channels
func (c *Config) ValidateChannels(n int) error {
	if c.Nucleus.Channel >= n {
		return invalid("nucleus channel %d out of range for %d channels", c.Nucleus.Channel, n)
	}
	if c.Coupling.ChannelA >= n || c.Coupling.ChannelB >= n {
		return invalid("coupling channels %d/%d out of range for %d channels",
			c.Coupling.ChannelA, c.Coupling.ChannelB, n)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{models.ErrInvalidConfiguration}, args...)...)
}
