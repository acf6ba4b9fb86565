package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"nucleiradial/pkg/analysis"
	"nucleiradial/pkg/config"
)

// initLogger configures the application logger: readable text with full
// timestamps when debugging, JSON otherwise
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	inputDir := flag.String("input", "", "Directory containing tiles (overrides config)")
	outputDir := flag.String("output", "", "Directory for results (overrides config)")
	numWorkers := flag.Int("workers", 0, "Goroutines measuring nuclei per tile (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this path and exit")
	previews := flag.Bool("previews", false, "Save RGB previews and label overlays")
	plots := flag.Bool("plots", false, "Save mean radial profile plots")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *inputDir != "" {
		cfg.Paths.InputDir = *inputDir
	}
	if *outputDir != "" {
		cfg.Paths.OutputDir = *outputDir
	}
	if *numWorkers > 0 {
		cfg.Processing.NumWorkers = *numWorkers
	}
	if *previews {
		cfg.Output.SavePreviews = true
	}
	if *plots {
		cfg.Output.SaveProfilePlots = true
	}

	logger := initLogger(*debug || cfg.Output.Verbose)

	analyzer, err := analysis.NewAnalyzer(cfg, logger)
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	summary, err := analyzer.Process()
	if err != nil {
		logger.Fatalf("Analysis failed: %v", err)
	}

	fmt.Println("================================")
	fmt.Printf("Run %s\n", summary.RunID)
	fmt.Printf("Tiles processed: %d (%d failed)\n", summary.Tiles, summary.Failed)
	fmt.Printf("Nuclei measured: %d\n", summary.Objects)
	fmt.Printf("Feature table:   %s\n", summary.Features)
	fmt.Printf("Total time:      %.2f seconds\n", summary.Duration.Seconds())
	fmt.Println("================================")

	if summary.Failed > 0 {
		os.Exit(2)
	}
}
