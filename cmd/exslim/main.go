// Package main provides the CLI entry point for exslim-go.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ukaji3/exslim-go/internal/config"
	"github.com/ukaji3/exslim-go/internal/server"
	"github.com/ukaji3/exslim-go/pkg/exslim"
	"github.com/ukaji3/exslim-go/pkg/exslim/imaging"
	"github.com/ukaji3/exslim-go/pkg/exslim/models"
)

var (
	outputPath     string
	configPath     string
	cleanNames     bool
	slimImages     bool
	precisionStage bool
	aggressive     bool
	xmlCleanup     bool
	forceCustom    bool
	maxEdge        int
	quality        int
	convertTo      string
	convertFrom    string
	workers        int
	verifyOutput   bool
	jsonReport     bool
	verbose        bool
	addr           string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "exslim [input.xlsx]",
		Short: "Reduce the size of Excel workbooks",
		Long: `exslim-go removes unused defined names, recompresses oversized images
and strips auxiliary parts from .xlsx/.xlsm packages without changing what
the workbook shows.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (.json with comments, .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every step")

	f := rootCmd.Flags()
	f.StringVarP(&outputPath, "output", "o", "", "Output file path (default: <stem>_complete<ext> in the output directory)")
	f.BoolVar(&cleanNames, "clean", true, "Remove unused defined names")
	f.BoolVar(&slimImages, "image", true, "Downscale and recompress images")
	f.BoolVar(&precisionStage, "precision", false, "Run the precision stage")
	f.BoolVar(&aggressive, "aggressive", false, "Treat hidden-sheet-only names as unused; convert PNG to JPEG in the precision stage")
	f.BoolVar(&xmlCleanup, "xml-cleanup", false, "Remove calcChain, printer settings and thumbnails (precision stage)")
	f.BoolVar(&forceCustom, "force-custom", false, "Also remove customXml and custom document properties (precision stage)")
	f.IntVar(&maxEdge, "max-edge", imaging.DefaultMaxEdge, "Longest image edge in pixels (200-10000)")
	f.IntVar(&quality, "quality", imaging.DefaultQuality, "JPEG quality (10-100)")
	f.StringVar(&convertTo, "convert-to", "", "Convert images to this format in the precision stage: jpeg, png")
	f.StringVar(&convertFrom, "convert-from", "", "Only convert images of this format")
	f.IntVar(&workers, "workers", 0, "Concurrent image workers (default: CPU count, at most 8)")
	f.BoolVar(&verifyOutput, "verify", false, "Reopen the output and compare cell values with the input")
	f.BoolVar(&jsonReport, "json", false, "Print the run report as JSON")

	serveCmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve the slimming pipeline over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runServe,
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	inputPath := args[0]

	// Validate input file exists
	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		return fmt.Errorf("file not found: %s", inputPath)
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &settings); err != nil {
		return err
	}
	logger := newLogger(settings)

	opts := settings.Options(logger)
	report, err := exslim.SlimFileContext(cmd.Context(), inputPath, opts)
	if err != nil {
		return fmt.Errorf("slimming failed: %w", err)
	}

	dest := outputPath
	if dest == "" {
		dest, err = outputPathFor(inputPath, settings.OutputDir)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(dest, report.Output, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if settings.KeepBackup {
		if err := writeBackup(inputPath, filepath.Dir(dest)); err != nil {
			logger.Warn("cannot keep backup", "error", err)
		}
	}

	if jsonReport {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("serialization failed: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	printSummary(dest, report)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(settings)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.New(settings, logger).Run(ctx, addr)
}

// loadSettings reads --config, or the per-user settings file when present.
func loadSettings() (config.Settings, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	path, err := config.DefaultPath()
	if err != nil {
		return config.Default(), nil
	}
	return config.LoadOrDefault(path)
}

// applyFlags overrides settings with the flags given on the command line.
func applyFlags(cmd *cobra.Command, s *config.Settings) error {
	flags := cmd.Flags()
	bools := map[string]*bool{
		"clean":        &s.Pipeline.CleanNames,
		"image":        &s.Pipeline.SlimImages,
		"precision":    &s.Pipeline.Precision,
		"aggressive":   &s.Pipeline.Aggressive,
		"xml-cleanup":  &s.Pipeline.XMLCleanup,
		"force-custom": &s.Pipeline.ForceCustomXML,
		"verify":       &s.Pipeline.Verify,
	}
	values := map[string]bool{
		"clean": cleanNames, "image": slimImages, "precision": precisionStage,
		"aggressive": aggressive, "xml-cleanup": xmlCleanup, "force-custom": forceCustom,
		"verify": verifyOutput,
	}
	for name, dst := range bools {
		if flags.Changed(name) {
			*dst = values[name]
		}
	}
	if flags.Changed("max-edge") {
		s.ImageMaxEdge = maxEdge
	}
	if flags.Changed("quality") {
		s.ImageQuality = quality
	}
	if flags.Changed("workers") {
		s.Pipeline.Workers = workers
	}
	if flags.Changed("convert-to") {
		s.Pipeline.ConvertTo = convertTo
	}
	if flags.Changed("convert-from") {
		s.Pipeline.ConvertFrom = convertFrom
	}
	if err := s.Validate(); err != nil {
		return err
	}
	*s = s.Normalize()
	return nil
}

func newLogger(s config.Settings) *slog.Logger {
	level := s.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printSummary(dest string, r *models.Report) {
	if !r.Changed {
		fmt.Printf("%s: nothing to reduce\n", dest)
		return
	}
	fmt.Printf("%s\n", dest)
	fmt.Printf("  size:   %.2f MB -> %.2f MB, saved %.2f MB (%.1f%%)\n",
		mb(r.InputBytes), mb(r.OutputBytes), mb(r.BytesSaved()), (1-r.Ratio())*100)
	s := r.Summary
	if s.NamesTotal > 0 {
		fmt.Printf("  names:  %d of %d removed\n", s.NamesRemoved, s.NamesTotal)
	}
	if s.ImagesProcessed > 0 {
		fmt.Printf("  images: %d recompressed, %d skipped, saved %.2f MB\n",
			s.ImagesRecompressed, s.ImagesSkipped, mb(s.ImageBytesSaved))
	}
	if s.PartsRemoved > 0 || s.Conversions > 0 {
		fmt.Printf("  parts:  %d removed, %d images converted\n", s.PartsRemoved, s.Conversions)
	}
	if r.Verification != nil {
		fmt.Printf("  verify: %d sheets, %d rows identical\n", r.Verification.Sheets, r.Verification.Rows)
	}
}

func mb(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
