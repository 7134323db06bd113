// Package cmd provides the CLI commands for forge.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forge-ai/forge/internal/config"
	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/logging"
	"github.com/forge-ai/forge/internal/profiling"
	"github.com/forge-ai/forge/pkg/version"
)

// rootOptions holds the persistent flags and the logging state shared by
// every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
	profile    profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the forge CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forge",
		Short: "Index frontend projects for code generation agents",
		Long: `forge scans a frontend project, extracts its components, routes and
API calls, and builds a semantic index over redacted source chunks.

Downstream agents query the index through 'forge query' or the MCP
server started by 'forge serve', and read the manifest written to the
output directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("forge version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Explicit config file, applied after .forge.yaml")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to stderr and ~/.forge/logs/")

	cmd.PersistentFlags().StringVar(&opts.profile.CPUPath, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&opts.profile.HeapPath, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.TracePath, "profile-trace", "", "Write an execution trace to this file")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		opts.stopLogging()
		return opts.stopProfiling()
	}

	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure the way the rest of
// forge reports errors.
func Execute() error {
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	err := cmd.Execute()
	if perr := opts.stopProfiling(); err == nil {
		err = perr
	}
	opts.stopLogging()
	if err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), ferrors.FormatForCLI(err))
	}
	return err
}

// project is a resolved project root with its configuration.
type project struct {
	root string
	cfg  *config.Config
}

// dataDir returns the project's state directory.
func (p *project) dataDir() string {
	return filepath.Join(p.root, config.DataDirName)
}

// outputDir returns the configured output directory.
func (p *project) outputDir() string {
	return config.ResolvePath(p.root, p.cfg.Output.Directory)
}

// loadProject resolves path, loads the layered configuration and starts
// logging at the configured level.
func (o *rootOptions) loadProject(path string) (*project, error) {
	if path == "" {
		path = "."
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeRootInvalid, "failed to resolve path", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeRootInvalid, fmt.Sprintf("cannot access %s", root), err)
	}
	if !info.IsDir() {
		return nil, ferrors.New(ferrors.ErrCodeRootInvalid, fmt.Sprintf("%s is not a directory", root), nil)
	}

	cfg, err := config.Load(root, o.configPath)
	if err != nil {
		return nil, err
	}
	o.startLogging(cfg.Logging.Level)
	return &project{root: root, cfg: cfg}, nil
}

// startLogging installs the file logger once per process. Logging is
// not critical; a setup failure leaves the default logger in place.
func (o *rootOptions) startLogging(level string) {
	if o.loggingCleanup != nil {
		return
	}
	logCfg := logging.DefaultConfig()
	if o.debug {
		logCfg = logging.DebugConfig()
	} else if level != "" {
		logCfg.Level = level
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "warning: logging disabled: %v\n", err)
		return
	}
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("logging_started",
		slog.String("log_file", logCfg.FilePath),
		slog.String("level", logCfg.Level),
		slog.String("version", version.Version))
}

func (o *rootOptions) stopLogging() {
	if o.loggingCleanup == nil {
		return
	}
	o.loggingCleanup()
	o.loggingCleanup = nil
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() || o.profiler != nil {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return err
	}
	o.profiler = s
	return nil
}

func (o *rootOptions) stopProfiling() error {
	if o.profiler == nil {
		return nil
	}
	err := o.profiler.Stop()
	o.profiler = nil
	return err
}
