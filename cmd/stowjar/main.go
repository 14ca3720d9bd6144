// Package main provides the CLI entrypoint for stowjar.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/chainio"
	"github.com/Floozutter/stowjar/internal/config"
	"github.com/Floozutter/stowjar/internal/ingest"
	"github.com/Floozutter/stowjar/internal/inspect"
	"github.com/Floozutter/stowjar/internal/logging"
	"github.com/Floozutter/stowjar/internal/model"
	"github.com/Floozutter/stowjar/internal/report"
	"github.com/Floozutter/stowjar/internal/store"
)

const (
	defaultHistoryLimit = 20
	defaultReportTop    = 15
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
)

var (
	logLevel  string
	logFormat string

	buildChainPath    string
	buildFormat       string
	buildSinkDuration int64
	buildSinkWeight   int64
	buildJobs         int
	buildRecord       bool
	buildDB           string

	rebuildChainPath    string
	rebuildFormat       string
	rebuildSinkDuration int64
	rebuildSinkWeight   int64
	rebuildDB           string

	historyLimit int
	historyDB    string

	reportFormat string
	reportTop    int

	inspectFormat  string
	validateFormat string

	fileCfg config.FileConfig
	logger  = logging.Discard()
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "stowjar KEYLOG... -c CHAIN",
		Short:             "Build a keystroke Markov chain from keylogs",
		Args:              cobra.MinimumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     false,
		PersistentPreRunE: setupCmd,
		RunE:              runBuildCmd,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "log format (text, json)")

	rootCmd.Flags().StringVarP(&buildChainPath, "chain", "c", "", "output chain file")
	rootCmd.Flags().StringVar(&buildFormat, "format", "", "chain format (json, yaml, toml, msgpack; default from extension)")
	rootCmd.Flags().Int64Var(&buildSinkDuration, "sink-duration", chain.DefaultSinkPolicy.Duration, "duration of synthetic edges from sinks to the empty state")
	rootCmd.Flags().Int64Var(&buildSinkWeight, "sink-weight", chain.DefaultSinkPolicy.Weight, "count of synthetic edges from sinks to the empty state")
	rootCmd.Flags().IntVarP(&buildJobs, "jobs", "j", runtime.GOMAXPROCS(0), "keylog files parsed concurrently")
	rootCmd.Flags().BoolVar(&buildRecord, "record", false, "record the raw counts in the run history")
	rootCmd.Flags().StringVar(&buildDB, "db", "", "run history database (path, sqlite:// or postgres:// URL; implies --record)")
	if err := rootCmd.MarkFlagRequired("chain"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newRebuildCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// setupCmd loads the config file and builds the logger before any command runs.
func setupCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fileCfg = cfg
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-format", &logFormat, fileCfg.Log.Format)
	l, err := logging.New(logging.Options{Level: logLevel, Format: logFormat, Output: cmd.ErrOrStderr()})
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	logger = l
	return nil
}

func runBuildCmd(cmd *cobra.Command, args []string) error {
	applyStringConfig(cmd, "format", &buildFormat, fileCfg.Build.Format)
	applyInt64Config(cmd, "sink-duration", &buildSinkDuration, fileCfg.Build.SinkDuration)
	applyInt64Config(cmd, "sink-weight", &buildSinkWeight, fileCfg.Build.SinkWeight)
	applyIntConfig(cmd, "jobs", &buildJobs, fileCfg.Build.Jobs)
	applyStringConfig(cmd, "db", &buildDB, fileCfg.Build.DB)

	cfg := model.BuildConfig{
		Inputs:       args,
		ChainPath:    buildChainPath,
		Format:       buildFormat,
		SinkDuration: buildSinkDuration,
		SinkWeight:   buildSinkWeight,
		Jobs:         buildJobs,
		Record:       buildRecord || cmd.Flags().Changed("db"),
		DBURL:        buildDB,
	}
	if err := validateBuildConfig(cfg); err != nil {
		return err
	}
	format, err := chainio.ResolveFormat(cfg.Format, cfg.ChainPath)
	if err != nil {
		return fmt.Errorf("failed to resolve chain format: %w", err)
	}
	policy := chain.SinkPolicy{Duration: cfg.SinkDuration, Weight: cfg.SinkWeight}

	started := time.Now()
	counter, streams, err := ingest.Run(cmd.Context(), cfg.Inputs, ingest.Options{Jobs: cfg.Jobs, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to process keylogs: %w", err)
	}
	c, err := finalizeAndWrite(counter, policy, cfg.ChainPath, format)
	if err != nil {
		return err
	}
	if !cfg.Record {
		return nil
	}

	run := model.RunSummary{
		ID:           store.NewRunID(),
		StartedAt:    started,
		FinishedAt:   time.Now(),
		ChainPath:    cfg.ChainPath,
		Format:       string(format),
		SinkDuration: policy.Duration,
		SinkWeight:   policy.Weight,
		Streams:      len(streams),
		States:       c.Len(),
	}
	for _, s := range streams {
		run.Events += s.Events
		run.Transitions += s.Transitions
	}
	st, err := openStore(cfg.DBURL)
	if err != nil {
		return err
	}
	defer closeStore(st)
	if err := st.InsertRun(cmd.Context(), run, streams, counter); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	logger.Info("run recorded", "id", run.ID, "streams", run.Streams, "events", run.Events)
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), run.ID); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// finalizeAndWrite eliminates sinks, normalizes and writes the chain.
func finalizeAndWrite(counter *chain.Counter, policy chain.SinkPolicy, path string, format chainio.Format) (*chain.Chain, error) {
	for _, s := range counter.Sinks() {
		if s.IsEmpty() {
			continue
		}
		logger.Debug("sink routed to empty", "state", s.String(), "duration", policy.Duration, "weight", policy.Weight)
	}
	c, err := chain.Finalize(counter, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize chain: %w", err)
	}
	if err := c.Validate(chain.Tolerance); err != nil {
		return nil, fmt.Errorf("failed to finalize chain: %w", err)
	}
	if err := chainio.WriteFile(path, format, c); err != nil {
		return nil, fmt.Errorf("failed to write chain: %w", err)
	}
	logger.Info("chain written",
		"path", path,
		"format", string(format),
		"states", c.Len(),
		"transitions", c.TransitionCount(),
	)
	return c, nil
}

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild RUN_ID -c CHAIN",
		Short: "Re-finalize the raw counts of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRebuildCmd,
	}
	cmd.Flags().StringVarP(&rebuildChainPath, "chain", "c", "", "output chain file")
	cmd.Flags().StringVar(&rebuildFormat, "format", "", "chain format (default from extension)")
	cmd.Flags().Int64Var(&rebuildSinkDuration, "sink-duration", chain.DefaultSinkPolicy.Duration, "sink edge duration (default: the recorded run's)")
	cmd.Flags().Int64Var(&rebuildSinkWeight, "sink-weight", chain.DefaultSinkPolicy.Weight, "sink edge weight (default: the recorded run's)")
	cmd.Flags().StringVar(&rebuildDB, "db", "", "run history database")
	if err := cmd.MarkFlagRequired("chain"); err != nil {
		panic(err)
	}
	return cmd
}

func runRebuildCmd(cmd *cobra.Command, args []string) error {
	applyStringConfig(cmd, "format", &rebuildFormat, fileCfg.Build.Format)
	applyStringConfig(cmd, "db", &rebuildDB, fileCfg.Build.DB)
	format, err := chainio.ResolveFormat(rebuildFormat, rebuildChainPath)
	if err != nil {
		return fmt.Errorf("failed to resolve chain format: %w", err)
	}

	st, err := openStore(rebuildDB)
	if err != nil {
		return err
	}
	defer closeStore(st)

	runID := args[0]
	run, err := st.GetRun(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	policy := chain.SinkPolicy{Duration: run.SinkDuration, Weight: run.SinkWeight}
	if cmd.Flags().Changed("sink-duration") {
		policy.Duration = rebuildSinkDuration
	}
	if cmd.Flags().Changed("sink-weight") {
		policy.Weight = rebuildSinkWeight
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	counter, err := st.LoadCounter(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("failed to load counts: %w", err)
	}
	_, err = finalizeAndWrite(counter, policy, rebuildChainPath, format)
	return err
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recorded runs, or the streams of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistoryCmd,
	}
	cmd.Flags().IntVar(&historyLimit, "limit", defaultHistoryLimit, "number of runs to show (0 for all)")
	cmd.Flags().StringVar(&historyDB, "db", "", "run history database")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	applyStringConfig(cmd, "db", &historyDB, fileCfg.Build.DB)
	if historyLimit < 0 {
		return fmt.Errorf("--limit must be >= 0")
	}
	st, err := openStore(historyDB)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if len(args) == 1 {
		if _, err := st.GetRun(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}
		streams, err := st.ListStreams(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list streams: %w", err)
		}
		return report.RenderStreams(cmd.OutOrStdout(), streams)
	}
	runs, err := st.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	return report.RenderRuns(cmd.OutOrStdout(), runs)
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report CHAIN",
		Short: "Summarize a chain file",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportCmd,
	}
	cmd.Flags().StringVar(&reportFormat, "format", "", "chain format (default from extension)")
	cmd.Flags().IntVar(&reportTop, "top", defaultReportTop, "number of states to list")
	return cmd
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	if reportTop < 1 {
		return fmt.Errorf("--top must be > 0")
	}
	c, err := readChain(args[0], reportFormat)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := report.RenderSummary(out, c); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := report.RenderStateTable(out, c, reportTop); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := report.RenderDwell(out, c, report.TopStatesByDegree(c, reportTop), 0); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect CHAIN",
		Short: "Browse a chain file interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspectCmd,
	}
	cmd.Flags().StringVar(&inspectFormat, "format", "", "chain format (default from extension)")
	return cmd
}

func runInspectCmd(_ *cobra.Command, args []string) error {
	c, err := readChain(args[0], inspectFormat)
	if err != nil {
		return err
	}
	program := tea.NewProgram(inspect.NewModel(args[0], c), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run inspect TUI: %w", err)
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate CHAIN",
		Short: "Check a chain file against the schema and chain invariants",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidateCmd,
	}
	cmd.Flags().StringVar(&validateFormat, "format", "", "chain format (default from extension)")
	return cmd
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	path := args[0]
	format, err := chainio.ResolveFormat(validateFormat, path)
	if err != nil {
		return fmt.Errorf("failed to resolve chain format: %w", err)
	}
	doc, err := chainio.ReadDocument(path, format)
	if err != nil {
		return fmt.Errorf("failed to read chain: %w", err)
	}
	if err := chainio.ValidateSchema(doc); err != nil {
		return fmt.Errorf("schema check failed: %w", err)
	}
	c, err := doc.Chain()
	if err != nil {
		return fmt.Errorf("chain check failed: %w", err)
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d states, %d transitions)\n", path, c.Len(), c.TransitionCount()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		// A broken config file must not stop the user from opening it.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE:              runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := writeConfigTemplate(path); err != nil {
		return err
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

// writeConfigTemplate creates the commented template unless a config already exists.
func writeConfigTemplate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}
	return nil
}

func readChain(path, formatName string) (*chain.Chain, error) {
	format, err := chainio.ResolveFormat(formatName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chain format: %w", err)
	}
	c, err := chainio.ReadFile(path, format)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}
	return c, nil
}

func openStore(dbURL string) (*store.Store, error) {
	if dbURL == "" {
		dbURL = config.DefaultDBPath()
	}
	st, err := store.Open(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if cerr := st.Close(); cerr != nil {
		logger.Warn("failed to close db", slog.Any("err", cerr))
	}
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyInt64Config(cmd *cobra.Command, name string, target, value *int64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# stowjar configuration
# Uncomment a value to enable it. CLI flags override config values.

[build]
# format = "json"         # Chain format when the extension is ambiguous (json, yaml, toml, msgpack)
# sink-duration = %d       # Duration of synthetic sink -> empty edges
# sink-weight = %d         # Count of synthetic sink -> empty edges
# jobs = %d                # Keylog files parsed concurrently
# db = %q                  # Run history (path, sqlite:// or postgres:// URL)

[log]
# level = %q               # debug, info, warn, error
# format = %q              # text, json
`,
		chain.DefaultSinkPolicy.Duration,
		chain.DefaultSinkPolicy.Weight,
		runtime.GOMAXPROCS(0),
		config.DefaultDBPath(),
		defaultLogLevel,
		defaultLogFormat,
	)
}

func validateBuildConfig(cfg model.BuildConfig) error {
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("at least one keylog is required")
	}
	if strings.TrimSpace(cfg.ChainPath) == "" {
		return fmt.Errorf("--chain must not be empty")
	}
	if cfg.Jobs < 1 {
		return fmt.Errorf("--jobs must be > 0")
	}
	policy := chain.SinkPolicy{Duration: cfg.SinkDuration, Weight: cfg.SinkWeight}
	if err := policy.Validate(); err != nil {
		return err
	}
	if cfg.Format != "" {
		if _, err := chainio.ParseFormat(cfg.Format); err != nil {
			return err
		}
	}
	return nil
}
