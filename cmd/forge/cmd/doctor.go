package cmd

import (
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/preflight"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor [path]",
		Short: "Check the system and project before scanning",
		Long: `Run the preflight checks: configuration, disk space, write
permissions, file descriptor limit, the embedding provider, the
summarizer and the persisted index.

Exits non-zero when a required check fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDoctor(cmd, root, path, jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")

	return cmd
}

type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func runDoctor(cmd *cobra.Command, root *rootOptions, path string, jsonOutput, verbose bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	// A broken config is reported by the config check, not returned.
	cfg, err := config.Load(abs, root.configPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	checker := preflight.New(cfg,
		preflight.WithVerbose(verbose),
		preflight.WithConfigPath(root.configPath),
	)
	results := checker.RunAll(cmd.Context(), abs)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(doctorReport{Status: checker.SummaryStatus(results), Checks: results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(output.NewConsole(cmd.OutOrStdout()), results)
	}

	if checker.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}
	return nil
}
