package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/xfidelity/xfidelity/internal/config"
	"github.com/xfidelity/xfidelity/internal/configcache"
	"github.com/xfidelity/xfidelity/internal/engine"
	"github.com/xfidelity/xfidelity/internal/history"
	"github.com/xfidelity/xfidelity/internal/progress"
	"github.com/xfidelity/xfidelity/internal/telemetry"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// Process exit codes, per spec.md §6: 0 is a clean run, 1 is a completed
// analysis that found non-fatal issues (warning/error/exempt but no
// fatality), and anything above 1 marks either a fatal finding or a
// setup failure that never produced a result at all.
const (
	exitClean        = 0
	exitIssuesFound  = 1
	exitFatalOrSetup = 2
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "xfidelity",
		Short: "Codebase conformance analyzer",
		Long:  "X-Fidelity — rules-driven conformance analysis for a codebase against an archetype's expectations.",
	}

	var opts analyzeOptions
	var cliConfigPath string

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one conformance analysis over a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runAnalyze(cmd.Context(), opts, cliConfigPath)
			if err != nil {
				return err
			}
			if code != exitClean {
				os.Exit(code)
			}
			return nil
		},
	}
	analyzeCmd.Flags().StringVar(&opts.Dir, "dir", "", "workspace path (required)")
	analyzeCmd.Flags().StringVar(&opts.Archetype, "archetype", "", "archetype name (default from xfidelity.yaml, else node-fullstack)")
	analyzeCmd.Flags().StringVar(&opts.RepoURL, "repo-url", "", "repository URL recorded in the artifact and matched against exemptions")
	analyzeCmd.Flags().StringVar(&opts.ConfigServer, "config-server", "", "remote config server base URL")
	analyzeCmd.Flags().StringVar(&opts.LocalConfig, "local-config", "", "local archetype overlay directory")
	analyzeCmd.Flags().StringVar(&opts.LocalExemptions, "local-exemptions", "", "local exemptions JSON file")
	analyzeCmd.Flags().StringVar(&opts.RulesSearchPath, "rules-search-path", "", "local rules search directory")
	analyzeCmd.Flags().StringVar(&opts.TelemetryCollector, "telemetry-collector", "", "telemetry collector URL")
	analyzeCmd.Flags().StringVar(&opts.OutputFormat, "output-format", "json", "result format printed to stdout: json|summary")
	analyzeCmd.Flags().StringVar(&opts.Mode, "mode", "cli", "cli|vscode: vscode additionally streams per-file progress over a local websocket")
	analyzeCmd.Flags().BoolVar(&opts.OpenAIEnabled, "openai-enabled", false, "allow openai-prefixed facts to load (also requires OPENAI_API_KEY)")
	analyzeCmd.Flags().IntVar(&opts.MaxConcurrentFiles, "max-concurrent-files", 0, "worker pool size; 0 defers to min(NumCPU, 8)")
	analyzeCmd.Flags().StringVar(&opts.HistoryPath, "history-db", "", "sqlite run-history path; empty disables run history")
	analyzeCmd.MarkFlagRequired("dir")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("xfidelity %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", buildDate)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cliConfigPath, "config", "", "path to xfidelity.yaml CLI defaults (default: ./xfidelity.yaml)")
	rootCmd.AddCommand(analyzeCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFatalOrSetup)
	}
}

// analyzeOptions holds the `analyze` subcommand's resolved flags, the CLI
// boundary described in spec.md §6 -- mapped onto engine.RunOptions after
// CLI-defaults overlay and correlation-ID resolution.
type analyzeOptions struct {
	Dir                 string
	Archetype           string
	RepoURL             string
	ConfigServer        string
	LocalConfig         string
	LocalExemptions     string
	RulesSearchPath     string
	TelemetryCollector  string
	OutputFormat        string
	Mode                string
	OpenAIEnabled       bool
	MaxConcurrentFiles  int
	HistoryPath         string
}

// runAnalyze wires one invocation's dependencies (config manager,
// telemetry client, progress hub, history store) and drives a single
// engine.Run, then prints and exits according to the result.
func runAnalyze(ctx context.Context, opts analyzeOptions, cliConfigPath string) (int, error) {
	if cliConfigPath == "" {
		cliConfigPath = "xfidelity.yaml"
	}
	defaults, err := config.LoadCLIDefaults(cliConfigPath)
	if err != nil {
		return exitFatalOrSetup, fmt.Errorf("load CLI defaults: %w", err)
	}
	applyDefaults(&opts, defaults)

	logger := newLogger(defaults.LogLevel)

	correlationID := os.Getenv("XFI_CORRELATION_ID")
	if correlationID == "" {
		correlationID = ulid.Make().String()
	}
	logger = logger.With("correlation_id", correlationID)

	cache := configcache.New(5*time.Minute, logger)
	manager := config.NewManager(cache, logger,
		config.WithLocalOverlayDir(opts.LocalConfig),
		config.WithConfigServer(opts.ConfigServer),
	)

	telemetryClient := telemetry.New(opts.TelemetryCollector, os.Getenv("XFI_TELEMETRY_SECRET"), logger)

	var progressHub *progress.Hub
	if opts.Mode == "vscode" {
		progressHub = progress.NewHub(logger)
	}

	var historyStore *history.Store
	if opts.HistoryPath != "" {
		historyStore, err = history.Open(opts.HistoryPath)
		if err != nil {
			logger.Warn("run history unavailable, continuing without it", "path", opts.HistoryPath, "error", err)
		} else if initErr := historyStore.Initialize(); initErr != nil {
			logger.Warn("run history unavailable, continuing without it", "path", opts.HistoryPath, "error", initErr)
			historyStore.Close()
			historyStore = nil
		} else {
			defer historyStore.Close()
		}
	}

	eng := engine.New(manager, telemetryClient, progressHub, historyStore, 5*time.Minute, logger)

	res, runErr := eng.Run(ctx, engine.RunOptions{
		Dir:                 opts.Dir,
		RepoURL:             opts.RepoURL,
		Archetype:           opts.Archetype,
		ConfigServer:        opts.ConfigServer,
		TelemetryCollector:  opts.TelemetryCollector,
		LocalOverlayDir:     opts.LocalConfig,
		LocalExemptionsPath: opts.LocalExemptions,
		RulesSearchPath:     opts.RulesSearchPath,
		OpenAIEnabled:       opts.OpenAIEnabled,
		MaxConcurrentFiles:  opts.MaxConcurrentFiles,
		CorrelationID:       correlationID,
		Mode:                opts.Mode,
	})

	if res != nil {
		if printErr := printResult(res, opts.OutputFormat); printErr != nil {
			logger.Warn("failed to print result", "error", printErr)
		}
	}

	if runErr != nil {
		return exitFatalOrSetup, runErr
	}
	return exitCodeForResult(res), nil
}

// exitCodeForResult maps a completed analysis to the process exit code
// described in spec.md §6. A nil result (should not happen once runErr is
// nil, but guarded defensively) is treated as a setup failure.
func exitCodeForResult(res *xfitypes.XFIResult) int {
	if res == nil || res.FatalityCount > 0 {
		return exitFatalOrSetup
	}
	if res.TotalIssues > 0 {
		return exitIssuesFound
	}
	return exitClean
}

func applyDefaults(opts *analyzeOptions, defaults config.CLIDefaults) {
	if opts.Archetype == "" {
		opts.Archetype = defaults.DefaultArchetype
	}
	if opts.ConfigServer == "" {
		opts.ConfigServer = defaults.ConfigServer
	}
	if opts.TelemetryCollector == "" {
		opts.TelemetryCollector = defaults.TelemetryCollector
	}
	if opts.LocalConfig == "" {
		opts.LocalConfig = defaults.LocalConfigPath
	}
	if opts.RulesSearchPath == "" {
		opts.RulesSearchPath = defaults.RulesSearchPath
	}
	if !opts.OpenAIEnabled {
		opts.OpenAIEnabled = defaults.OpenAIEnabled
	}
	if opts.MaxConcurrentFiles == 0 {
		opts.MaxConcurrentFiles = defaults.MaxConcurrentFiles
	}
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// printResult renders the result either as the full JSON artifact or a
// short human-readable summary, per --output-format.
func printResult(res any, format string) error {
	if format == "summary" {
		fmt.Println(summarize(res))
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func summarize(res any) string {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf("analysis complete (summary unavailable: %v)", err)
	}
	var parsed struct {
		Archetype     string `json:"archetype"`
		FileCount     int    `json:"fileCount"`
		TotalIssues   int    `json:"totalIssues"`
		WarningCount  int    `json:"warningCount"`
		ErrorCount    int    `json:"errorCount"`
		FatalityCount int    `json:"fatalityCount"`
		ExemptCount   int    `json:"exemptCount"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Sprintf("analysis complete (summary unavailable: %v)", err)
	}
	return fmt.Sprintf(
		"archetype=%s files=%d totalIssues=%d (warning=%d error=%d fatality=%d exempt=%d)",
		parsed.Archetype, parsed.FileCount, parsed.TotalIssues,
		parsed.WarningCount, parsed.ErrorCount, parsed.FatalityCount, parsed.ExemptCount,
	)
}

