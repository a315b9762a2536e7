package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"scantamper/internal/logging"
	"scantamper/pkg/annotations"
	"scantamper/pkg/augment"
	"scantamper/pkg/config"
	"scantamper/pkg/model"
	"scantamper/pkg/resolver"
	"scantamper/pkg/scanio"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command and returns its exit code, after all deferred
// cleanup has run.
func run(args []string) int {
	fs := flag.NewFlagSet("scantamper", flag.ContinueOnError)

	// Parse command line arguments
	configPath := fs.String("config", "scantamper.yaml", "Configuration file")
	modelDir := fs.String("model", "", "Model artifact directory (overrides config)")
	outputDir := fs.String("out", "", "Output directory for tampered scans (overrides config)")
	mode := fs.String("mode", "", "Coordinate source: label or annotation (overrides config)")
	space := fs.String("space", "", "Coordinate space of label records: voxel or world (overrides config)")
	annotationsPath := fs.String("annotations", "", "Annotation table, CSV or SQLite (overrides config)")
	format := fs.String("format", "", "Output format: zvol, npy or dicom (overrides config)")
	workers := fs.Int("workers", 0, "Number of scans processed concurrently (overrides config)")
	saveIntermediary := fs.Bool("save-intermediary", false, "Save intermediary cubes as slice images")
	initConfig := fs.Bool("init-config", false, "Write a default configuration file and exit")
	importCSV := fs.String("import-annotations", "", "Import a CSV annotation table into the SQLite database given by -annotations and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Printf("Failed to write default configuration: %v", err)
			return 1
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	// Command line overrides
	if *modelDir != "" {
		cfg.Model.Path = *modelDir
	}
	if *outputDir != "" {
		cfg.Augment.OutputDir = *outputDir
	}
	if *mode != "" {
		cfg.Resolver.Mode = *mode
	}
	if *space != "" {
		cfg.Resolver.LabelSpace = *space
	}
	if *annotationsPath != "" {
		cfg.Resolver.Annotations = *annotationsPath
	}
	if *format != "" {
		cfg.Augment.OutputFormat = *format
	}
	if *workers > 0 {
		cfg.Augment.Workers = *workers
	}
	if *saveIntermediary {
		cfg.Output.SaveIntermediaryResults = true
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("%v", err)
		return 1
	}

	logger, closer, err := logging.Setup(cfg)
	if err != nil {
		log.Printf("Failed to set up logging: %v", err)
		return 1
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *importCSV != "" {
		if err := importAnnotations(ctx, *importCSV, cfg.Resolver.Annotations); err != nil {
			log.Printf("Import failed: %v", err)
			return 1
		}
		return 0
	}

	scanPaths := fs.Args()
	if len(scanPaths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: scantamper [flags] scan...")
		fs.PrintDefaults()
		return 2
	}

	fmt.Println("================================")
	fmt.Println("SCANTAMPER: CT SCAN TAMPERING PIPELINE")
	fmt.Println("================================")

	store := scanio.NewStore(logger)
	res, resCloser, err := resolver.New(cfg, store, logger)
	if err != nil {
		log.Printf("Failed to set up coordinate resolver: %v", err)
		return 1
	}
	defer resCloser.Close()

	artifact := model.LoadArtifact(cfg.Model.Path, logger)
	if artifact.Degraded {
		fmt.Printf("Warning: model unavailable (%v); scans will be saved untouched\n", artifact.Reason)
	}

	report := augment.NewService(cfg, store, res, artifact, logger).Run(ctx, scanPaths)

	fmt.Printf("\nProcessed %d scans in %.2f seconds (run %s)\n", len(scanPaths), report.Duration.Seconds(), report.RunID)
	for _, o := range report.Completed {
		r := o.Result
		if r.Skipped {
			fmt.Printf("  %s -> %s (untouched)\n", filepath.Base(o.Instance.ScanPath), o.Output)
			continue
		}
		fmt.Printf("  %s -> %s at %v: RMSE %.3f, SSIM %.3f, repaired %d\n",
			filepath.Base(o.Instance.ScanPath), o.Output, r.Anchor, r.Metrics.RMSE, r.Metrics.SSIM, r.Repaired)
	}
	for _, f := range report.Failures {
		fmt.Printf("  FAILED %s\n", f.Error())
	}

	if *saveIntermediary || cfg.Output.SaveIntermediaryResults {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", cfg.Output.IntermediaryDir)
		fmt.Println("The following stages were saved per scan:")
		fmt.Println("- 01_clean_cube: Region cut out of the scan")
		fmt.Println("- 02_model_input: Cube as presented to the model")
		fmt.Println("- 03_model_output: Cube synthesized by the model")
		fmt.Println("- 04_final_cube: Region after writing back into the scan")
	}

	if len(report.Failures) > 0 {
		return 1
	}
	return 0
}

func importAnnotations(ctx context.Context, csvPath, dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("-annotations must name the SQLite database to import into")
	}
	src, err := annotations.LoadCSV(csvPath)
	if err != nil {
		return err
	}
	db, err := annotations.OpenSQLite(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Import(ctx, src); err != nil {
		return err
	}
	n, err := db.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d annotations into %s (%d rows total)\n", len(src.Rows()), dbPath, n)
	return nil
}
