package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/rclonesync/internal/config"
	"github.com/Ning0612/rclonesync/internal/domain"
	"github.com/Ning0612/rclonesync/internal/engine"
	"github.com/Ning0612/rclonesync/internal/identity"
	"github.com/Ning0612/rclonesync/internal/logger"
	"github.com/Ning0612/rclonesync/internal/output"
	"github.com/Ning0612/rclonesync/internal/service"
	"github.com/Ning0612/rclonesync/internal/state"
)

var timeNow = time.Now

// app carries the process-wide collaborators of every command
type app struct {
	stdout io.Writer
	stderr io.Writer

	// runner replaces the configured rclone binary when set
	runner engine.Runner
	// lockDir holds pair lock files; empty means the temporary directory
	lockDir string
	// executableDir locates the default exclude file; empty means next to
	// the running binary
	executableDir string
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

// exitError ends the process with code after its message was already
// printed in the run's own format
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// execute runs the command line and returns the process exit code
func execute(ctx context.Context, a *app, args []string) int {
	defer logger.Shutdown()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintln(a.stderr, "Error:", err)
	return 1
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rclonesync <source> <destination> [rclone flags...]",
		Short: "Mirror a source into <destination>/latest with rclone, one run per pair at a time",
		Long: `rclonesync syncs <source> into <destination>/latest with rclone.

Files the sync would overwrite or delete are moved into a backup directory
<destination>/<YYYY-MM-DDTHHMMSSZ> named after the run's start time. Only
one run per (source, destination) pair can be active at a time; a second
run exits with code 1 without touching anything.

Everything after the destination is passed to rclone unchanged and last,
so it can override the generated flags.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd, args)
		},
	}

	// Flags after the source belong to rclone
	cmd.Flags().SetInterspersed(false)

	cmd.PersistentFlags().String("env-file", "", "dotenv file read beneath the environment")
	cmd.PersistentFlags().StringP("config", "c", "", "YAML config file read beneath the environment")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "print debug diagnostics on stderr")
	cmd.PersistentFlags().String("diag-log", "", "also write diagnostics to this rotating file")

	cmd.AddCommand(
		newStatusCmd(a),
		newHistoryCmd(a),
		newScheduleCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

func (a *app) runSync(cmd *cobra.Command, args []string) error {
	cfg, err := a.setup(cmd, args, false)
	if err != nil {
		return a.configFailure(args, err)
	}

	deps, closeHistory := a.deps(cfg)
	defer closeHistory()

	svc, err := service.NewSyncService(cfg, deps)
	if err != nil {
		return a.configFailure(args, err)
	}

	res := svc.Run(cmd.Context())
	if res.ExitCode != 0 {
		return &exitError{code: res.ExitCode, err: res.Err}
	}
	return nil
}

// setup loads the configuration and starts diagnostics. The pair is
// taken from the first two args; settingsOnly allows it to be absent.
func (a *app) setup(cmd *cobra.Command, args []string, settingsOnly bool) (*config.Config, error) {
	opts := config.LoadOptions{
		ExecutableDir: a.executableDir,
		SettingsOnly:  settingsOnly,
	}
	if len(args) >= 2 {
		opts.Source, opts.Destination = args[0], args[1]
		opts.ExtraArgs = args[2:]
	}
	opts.EnvFile, _ = cmd.Flags().GetString("env-file")
	opts.ConfigFile, _ = cmd.Flags().GetString("config")

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	diagLog, _ := cmd.Flags().GetString("diag-log")
	if err := a.initLogging(cfg, verbose, diagLog); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) initLogging(cfg *config.Config, verbose bool, diagLog string) error {
	level, err := logger.LookupLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: RCLONESYNC_LOG_LEVEL: %v", domain.ErrConfigInvalid, err)
	}
	if verbose {
		level = logger.LevelDebug
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = level
	logCfg.Outputs = []logger.OutputConfig{{Type: logger.OutputStderr, Writer: a.stderr}}
	if diagLog != "" {
		logCfg.Outputs = append(logCfg.Outputs, logger.OutputConfig{Type: logger.OutputFile})
		logCfg.File = logger.FileConfig{
			Enabled:    true,
			Path:       config.ExpandPath(diagLog),
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}
	}

	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// deps wires the production collaborators. History is best-effort: a store
// that cannot be opened only costs a warning when the run is recorded.
func (a *app) deps(cfg *config.Config) (service.Deps, func()) {
	deps := service.Deps{
		Runner:  a.runner,
		Stdout:  a.stdout,
		LockDir: a.lockDir,
	}

	// Opened on the first save, after the run holds its lock
	store := state.NewLazyStore(cfg.StateDir)
	deps.History = store
	return deps, func() {
		if err := store.Close(); err != nil {
			logger.Get().Warn("failed to close run history", "error", err)
		}
	}
}

// configFailure prints the one formatted line a fatal configuration error
// gets and ends the process with code 1
func (a *app) configFailure(args []string, err error) error {
	var pair domain.Pair
	if len(args) >= 2 {
		pair = domain.Pair{Source: args[0], Destination: args[1]}
	}
	ident := identity.New(identity.NewHasher(), pair, timeNow())

	out := output.New(a.stdout, ident)
	out.Printf("invalid configuration: %v, script will exit", err)
	return &exitError{code: 1, err: err}
}
