package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/combatscribe/combatscribe/pkg/batch"
	"github.com/combatscribe/combatscribe/pkg/config"
	"github.com/combatscribe/combatscribe/pkg/export"
	"github.com/combatscribe/combatscribe/pkg/sessionio"
	"github.com/combatscribe/combatscribe/pkg/stats"
	"github.com/combatscribe/combatscribe/pkg/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the triple directory and normalize sessions as they arrive",
	Long: `Watch the triple directory for new or updated session triple files and
normalize each one as soon as it settles on disk.

Examples:
  combatscribe watch
  combatscribe watch --triples incoming --events data --out normalized`,
	RunE: runWatch,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export normalized output to a single Parquet file",
	Long: `Convert every normalized JSONL file in the output directory into one
Parquet file for analytical tooling.

Examples:
  combatscribe export -o dataset.parquet
  combatscribe export --out normalized -o dataset.parquet --compression zstd`,
	RunE: runExport,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over normalized output",
	Long: `Summarize the normalized output directory: session and triple counts,
per-record averages, and the most frequent speakers.`,
	RunE: runStats,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("combatscribe %s (%s)\n", version, commit)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to the user config file",
	RunE:  runConfigInit,
}

func init() {
	watchCmd.Flags().StringVar(&tripleDir, "triples", "", "Directory of per-session triple files (*.jsonl.gz)")
	watchCmd.Flags().StringVar(&eventDir, "events", "", "Directory of per-session event-log directories")
	watchCmd.Flags().StringVarP(&outputDir, "out", "o", "", "Output directory for normalized JSONL files")

	exportCmd.Flags().StringVar(&outputDir, "out", "", "Directory of normalized JSONL files")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "dataset.parquet", "Parquet output path")
	exportCmd.Flags().StringVar(&exportCompression, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd)")

	statsCmd.Flags().StringVar(&outputDir, "out", "", "Directory of normalized JSONL files")
	statsCmd.Flags().IntVar(&statsLimit, "top", 10, "Number of speakers to list")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	applyConfig(cmd, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	shutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	if shutdown != nil {
		defer shutdown(context.WithoutCancel(ctx))
	}

	runner := batch.NewRunner(batch.Options{
		TripleDir: tripleDir,
		EventDir:  eventDir,
		OutputDir: outputDir,
		Process:   processConfig(cfg),
	})

	watcher, err := watch.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watcher.OnSession = func(path string) error {
		report, err := runner.RunSession(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("  %s: %d → %d triples (%s)\n",
			sessionio.SessionID(path), report.TriplesIn, report.TriplesOut,
			humanDuration(report.Duration))
		return nil
	}
	watcher.OnError = func(path string, err error) {
		fmt.Fprintf(os.Stderr, "  %s: %v\n", filepath.Base(path), err)
	}

	if err := watcher.Watch(tripleDir); err != nil {
		return err
	}

	fmt.Printf("Watching %s for session triple files...\n", tripleDir)
	return watcher.Run(ctx)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	if !cmd.Flags().Changed("out") {
		outputDir = cfg.Output.Dir
	}

	ctx, cancel := signalContext()
	defer cancel()

	exportCfg := export.DefaultConfig()
	exportCfg.Compression = export.Compression(exportCompression)

	rows, err := export.ExportDir(ctx, outputDir, exportOutput, exportCfg)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("Exported %d records to %s\n", rows, exportOutput)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	if !cmd.Flags().Changed("out") {
		outputDir = cfg.Output.Dir
	}

	ctx, cancel := signalContext()
	defer cancel()

	collector, err := stats.NewCollector()
	if err != nil {
		return err
	}
	defer collector.Close()

	summary, err := collector.Summarize(ctx, outputDir)
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	fmt.Printf("Sessions:  %d\n", summary.Sessions)
	fmt.Printf("Triples:   %d\n", summary.Triples)
	fmt.Printf("Speakers:  %d\n", summary.Speakers)
	fmt.Printf("Averages per record:\n")
	fmt.Printf("  before utterances: %.2f\n", summary.AvgBeforeUtterances)
	fmt.Printf("  commands:          %.2f\n", summary.AvgCommands)
	fmt.Printf("  targets:           %.2f\n", summary.AvgTargets)
	fmt.Printf("  history entries:   %.2f\n", summary.AvgHistory)

	speakers, err := collector.TopSpeakers(ctx, outputDir, statsLimit)
	if err != nil {
		return err
	}
	if len(speakers) > 0 {
		fmt.Printf("Top speakers:\n")
		for _, s := range speakers {
			fmt.Printf("  %-22s %d\n", s.SpeakerID, s.Triples)
		}
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	mgr := config.Global()
	cfg := mgr.Get()

	fmt.Printf("Triple dir:  %s\n", cfg.Input.TripleDir)
	fmt.Printf("Event dir:   %s\n", cfg.Input.EventDir)
	fmt.Printf("Output dir:  %s\n", cfg.Output.Dir)
	fmt.Printf("Workers:     %d\n", cfg.Runner.Workers)
	fmt.Printf("Window cap:  %d\n", cfg.Process.WindowCap)
	fmt.Printf("History:     %d\n", cfg.Process.HistoryDepth)
	fmt.Printf("Prefix:      %s\n", cfg.Process.CanonicalPrefix)
	fmt.Printf("Checkpoint:  enabled=%v backend=%s\n",
		cfg.Runner.Checkpoint.Enabled, cfg.Runner.Checkpoint.Backend)
	fmt.Printf("Telemetry:   enabled=%v\n", cfg.Telemetry.Enabled)

	paths := mgr.GetPaths()
	if len(paths) > 0 {
		fmt.Printf("Loaded from:\n")
		for _, p := range paths {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	mgr := config.Global()
	if err := mgr.Save(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Println("Configuration written.")
	return nil
}
