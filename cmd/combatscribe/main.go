// CombatScribe - Combat log normalizer for language-model training data.
// Replays recorded combat sessions and converts utterance/command/state
// triples into normalized JSONL training records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/combatscribe/combatscribe/pkg/batch"
	"github.com/combatscribe/combatscribe/pkg/checkpoint"
	"github.com/combatscribe/combatscribe/pkg/config"
	"github.com/combatscribe/combatscribe/pkg/telemetry"
	"github.com/combatscribe/combatscribe/pkg/triple"
	"github.com/combatscribe/combatscribe/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	tripleDir string
	eventDir  string
	outputDir string
	workers   int
	verbose   bool

	resumeRun    bool
	noCheckpoint bool

	windowCap       int
	historyDepth    int
	canonicalPrefix string

	exportOutput      string
	exportCompression string

	statsLimit int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "combatscribe",
	Short: "CombatScribe - Normalize combat session logs into training data",
	Long: `CombatScribe replays recorded combat session event logs and converts raw
utterance/command/state triples into fully normalized JSONL training records.

Each session contributes one triple file and one event-log directory; the
output is one JSONL file per session that produced at least one record.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize every session triple file in a directory",
	Long: `Normalize all session triple files under the triple directory against
their event logs and write one JSONL output file per kept session.

Examples:
  combatscribe normalize --triples triples --events data --out normalized
  combatscribe normalize --workers 8
  combatscribe normalize --resume`,
	RunE: runNormalize,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	normalizeCmd.Flags().StringVar(&tripleDir, "triples", "", "Directory of per-session triple files (*.jsonl.gz)")
	normalizeCmd.Flags().StringVar(&eventDir, "events", "", "Directory of per-session event-log directories")
	normalizeCmd.Flags().StringVarP(&outputDir, "out", "o", "", "Output directory for normalized JSONL files")
	normalizeCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent sessions (0 = one per CPU)")
	normalizeCmd.Flags().IntVar(&windowCap, "window-cap", 0, "Utterance windows longer than this are emptied")
	normalizeCmd.Flags().IntVar(&historyDepth, "history-depth", 0, "Utterance history entries per record")
	normalizeCmd.Flags().StringVar(&canonicalPrefix, "prefix", "", "Canonical command prefix")
	normalizeCmd.Flags().BoolVar(&resumeRun, "resume", false, "Resume an earlier incomplete run over the same triple directory")
	normalizeCmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "Disable checkpointing even when configured")

	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
}

func runNormalize(cmd *cobra.Command, args []string) error {
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

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}

	tui.PrintHeader(version)

	runner := batch.NewRunner(batch.Options{
		TripleDir:    tripleDir,
		EventDir:     eventDir,
		OutputDir:    outputDir,
		Workers:      workers,
		Process:      processConfig(cfg),
		Checkpoint:   backend,
		Resume:       resumeRun,
		ShowProgress: true,
	})

	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("normalization failed: %w", err)
	}

	tui.PrintRunReport(report)
	return nil
}

// applyConfig fills in any flag the user left unset from the loaded
// configuration.
func applyConfig(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("triples") {
		tripleDir = cfg.Input.TripleDir
	}
	if !cmd.Flags().Changed("events") {
		eventDir = cfg.Input.EventDir
	}
	if !cmd.Flags().Changed("out") {
		outputDir = cfg.Output.Dir
	}
	if !cmd.Flags().Changed("workers") {
		workers = cfg.Runner.Workers
	}
}

// processConfig builds the per-triple settings, letting flags override the
// configuration file.
func processConfig(cfg *config.Config) triple.Config {
	pc := triple.Config{
		WindowCap:          cfg.Process.WindowCap,
		HistoryDepth:       cfg.Process.HistoryDepth,
		AutomationAuthorID: cfg.Process.AutomationAuthorID,
		CanonicalPrefix:    cfg.Process.CanonicalPrefix,
	}
	if windowCap > 0 {
		pc.WindowCap = windowCap
	}
	if historyDepth > 0 {
		pc.HistoryDepth = historyDepth
	}
	if canonicalPrefix != "" {
		pc.CanonicalPrefix = canonicalPrefix
	}
	def := triple.DefaultConfig()
	if pc.WindowCap <= 0 {
		pc.WindowCap = def.WindowCap
	}
	if pc.HistoryDepth <= 0 {
		pc.HistoryDepth = def.HistoryDepth
	}
	if pc.AutomationAuthorID == "" {
		pc.AutomationAuthorID = def.AutomationAuthorID
	}
	if pc.CanonicalPrefix == "" {
		pc.CanonicalPrefix = def.CanonicalPrefix
	}
	return pc
}

// openBackend sets up the configured checkpoint backend, or returns nil
// when checkpointing is off.
func openBackend(cfg *config.Config) (checkpoint.Backend, error) {
	if noCheckpoint || !cfg.Runner.Checkpoint.Enabled {
		return nil, nil
	}

	switch cfg.Runner.Checkpoint.Backend {
	case "", "file":
		return checkpoint.NewLocalBackend(cfg.Runner.Checkpoint.Dir)
	case "redis":
		return checkpoint.NewRedisBackend(checkpoint.DefaultRedisConfig(cfg.Runner.Checkpoint.Addr))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", cfg.Runner.Checkpoint.Backend)
	}
}

// initTelemetry starts OTLP tracing when the configuration enables it.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Telemetry.Enabled {
		return nil, nil
	}

	otelCfg := telemetry.DefaultConfig("combatscribe")
	otelCfg.ServiceVersion = version
	if cfg.Telemetry.Endpoint != "" {
		otelCfg.Endpoint = cfg.Telemetry.Endpoint
	}

	shutdown, err := telemetry.Init(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	if verbose {
		fmt.Printf("Telemetry: exporting traces to %s\n", otelCfg.Endpoint)
	}
	return shutdown, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, cleaning up...")
		cancel()
	}()

	return ctx, cancel
}

// humanDuration formats a duration for report lines.
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
