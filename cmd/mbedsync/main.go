package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/schaermu/mbedsync/internal/config"
	"github.com/schaermu/mbedsync/internal/inspect"
	"github.com/schaermu/mbedsync/internal/libjson"
	"github.com/schaermu/mbedsync/internal/logging"
	"github.com/schaermu/mbedsync/internal/reconcile"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Command flags
	dryRun       bool
	outputFormat string
	checkRoot    string
	sourceDir    string

	// Filesystem used by all commands
	appFs = afero.NewOsFs()
)

var (
	// errUsage marks invocations that should be answered with usage help
	errUsage = errors.New("wrong usage")
	// errNotInSync is returned by status after the report was printed
	errNotInSync = errors.New("framework tree is not in sync with its baseline")
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and maps the outcome to an exit status: 0 on
// success, 2 for configuration and usage errors, 1 for everything else
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return 0
	}
	if errors.Is(err, errNotInSync) {
		return 1
	}

	_, _ = fmt.Fprintf(stderr, "\nERROR: %v\n", err)
	if errors.Is(err, errUsage) || errors.Is(err, reconcile.ErrInvalidInput) {
		_, _ = fmt.Fprintf(stderr, "\n%s", cmd.UsageString())
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "mbedsync",
	Short: "Keep an mbed-os framework in line with a project's .mbedignore",
	Long: `mbedsync applies a project's .mbedignore to the mbed-os framework used by
PlatformIO. Every directory listed in the project's .mbedignore is excluded from
the Mbed build by a '*' line in its own .mbedignore; directories dropped from the
list since the previous run are included again.

It also installs custom library.json files over the ones shipped with
PlatformIO library dependencies.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var applyCmd = &cobra.Command{
	Use:   "apply [<path to .mbedignore> <path to mbed-os framework>]",
	Short: "Apply a .mbedignore to the mbed-os framework",
	Long: `Apply marks every directory listed in the .mbedignore as ignored in the
mbed-os framework and unmarks directories that were listed by the previous run
but are no longer. The applied .mbedignore is then copied to the framework's
root directory to remember it for the next run.

Without arguments the paths are taken from the configuration
(framework.manifest and framework.root).`,
	Example: `  mbedsync apply /home/user/Workspace/SomePioProject/.mbedignore /home/user/.platformio/packages/framework-mbed`,
	RunE:    runApply,
}

var statusCmd = &cobra.Command{
	Use:   "status [<path to mbed-os framework>]",
	Short: "Compare the framework's markers with the last applied .mbedignore",
	Long: `Status lists the directories currently ignored in the mbed-os framework and
reports drift from the last applied .mbedignore: listed directories without a
marker, marked directories that are not listed, and marker files holding the
marker more than once.

The exit status is 1 when the framework is not in sync.`,
	RunE: runStatus,
}

var checkCmd = &cobra.Command{
	Use:   "check <path relative to the framework root>",
	Short: "Tell whether the Mbed build would skip a path",
	Long: `Check evaluates every .mbedignore from the framework root down to the given
path and prints whether the path is excluded from the Mbed build, and by which
file.`,
	Example: `  mbedsync check features/nfc/source/nfc.c --root ~/.platformio/packages/framework-mbed`,
	RunE:    runCheck,
}

var libjsonCmd = &cobra.Command{
	Use:   "libjson [library...]",
	Short: "Install custom library.json files into PlatformIO's library directory",
	Long: `Libjson copies <PROJECT_DIR>/<source dir>/<library>/library.json over
<PROJECT_LIBDEPS_DIR>/<PIOENV>/<library>/library.json when the installed copy
is missing or different. Libraries that are not installed yet are skipped.

The PlatformIO variables are read from the environment (PROJECT_DIR, PIOENV,
PROJECT_LIBDEPS_DIR) or from the platformio section of the configuration.
Without arguments the libraries listed in library_json.libraries are used.`,
	Example: `  PROJECT_DIR=$PWD PIOENV=nucleo_f429zi mbedsync libjson mbed-os --source-dir custom_library_json`,
	RunE:    runLibJSON,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "mbedsync %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/mbedsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	// Command flags
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", inspect.FormatText, "output format (text, json, yaml)")
	checkCmd.Flags().StringVar(&checkRoot, "root", "", "path to the mbed-os framework (default from framework.root)")
	libjsonCmd.Flags().StringVar(&sourceDir, "source-dir", "", "directory holding the custom library.json files, relative to PROJECT_DIR")

	// Add commands
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(libjsonCmd)
	rootCmd.AddCommand(versionCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)

	manifestPath, frameworkRoot := cfg.Framework.Manifest, cfg.Framework.Root
	switch len(args) {
	case 0:
		if manifestPath == "" || frameworkRoot == "" {
			return fmt.Errorf("%w: no paths given and framework.manifest or framework.root is not configured", errUsage)
		}
	case 2:
		manifestPath, frameworkRoot = args[0], args[1]
	default:
		return fmt.Errorf("%w: wrong number of parameters", errUsage)
	}

	req := reconcile.Request{
		ManifestPath:  manifestPath,
		FrameworkRoot: frameworkRoot,
		DryRun:        dryRun,
	}
	if cfg.Framework.Baseline != "" {
		req.Baseline = reconcile.NewBaseline(appFs, cfg.Framework.Baseline)
	}

	engine := reconcile.NewEngine(appFs, logger)
	result, err := engine.Run(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("reconcile failed")
		return err
	}

	if result.DryRun {
		out := cmd.OutOrStdout()
		for _, op := range result.Plan.Ignore {
			_, _ = fmt.Fprintf(out, "ignore   %s\n", op.RelPath)
		}
		for _, op := range result.Plan.Unignore {
			_, _ = fmt.Fprintf(out, "unignore %s\n", op.RelPath)
		}
	}

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: status takes at most one framework path", errUsage)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)

	root := cfg.Framework.Root
	if len(args) == 1 {
		root = args[0]
	}
	if root == "" {
		return fmt.Errorf("%w: no framework path given and framework.root is not configured", errUsage)
	}

	report, err := inspect.Inspect(appFs, root, cfg.Framework.Baseline)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", root, err)
	}
	if err := inspect.Render(cmd.OutOrStdout(), report, outputFormat); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if !report.InSync() {
		logger.Warn().
			Int("missing", len(report.Missing)).
			Int("duplicates", len(report.Duplicates)).
			Msg("framework is not in sync")
		return errNotInSync
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: check takes exactly one path", errUsage)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_ = setupLogger(cmd, cfg)

	root := checkRoot
	if root == "" {
		root = cfg.Framework.Root
	}
	if root == "" {
		return fmt.Errorf("%w: no --root given and framework.root is not configured", errUsage)
	}
	if isDir, err := afero.IsDir(appFs, root); err != nil || !isDir {
		return fmt.Errorf("%w: the specified path to the mbed-os framework is not a directory: %s", errUsage, root)
	}

	decision, err := inspect.NewChecker(appFs, root).Excluded(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	out := cmd.OutOrStdout()
	if decision.Excluded {
		_, _ = fmt.Fprintf(out, "%s: excluded by %s\n", decision.Path, decision.MarkerFile)
	} else {
		_, _ = fmt.Fprintf(out, "%s: included\n", decision.Path)
	}
	return nil
}

func runLibJSON(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)

	libraries := args
	if len(libraries) == 0 {
		libraries = cfg.LibraryJSON.Libraries
	}
	if len(libraries) == 0 {
		return fmt.Errorf("%w: no libraries given and library_json.libraries is not configured", errUsage)
	}

	dir := sourceDir
	if dir == "" {
		dir = cfg.LibraryJSON.SourceDir
	}
	if dir == "" {
		return fmt.Errorf("%w: no --source-dir given and library_json.source_dir is not configured", errUsage)
	}

	env, err := libjson.EnvironmentFromMap(cfg.PlatformIOVars())
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	copier := libjson.NewCopier(appFs, env, logger)
	outcomes, err := copier.ApplyAll(dir, libraries)

	out := cmd.OutOrStdout()
	for _, lib := range libraries {
		if outcome, ok := outcomes[lib]; ok {
			_, _ = fmt.Fprintf(out, "%s: %s\n", lib, outcome)
		}
	}
	return err
}

// setupLogger builds the logger from the configuration; explicitly set
// flags take precedence
func setupLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	level, format := cfg.Log.Level, cfg.Log.Format
	if cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		format = logFormat
	}

	logger := logging.New(cmd.ErrOrStderr(), level, format)
	logger.Debug().
		Str("framework", cfg.Framework.Root).
		Str("manifest", cfg.Framework.Manifest).
		Str("pioenv", cfg.PlatformIO.Env).
		Msg("configuration loaded")
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
