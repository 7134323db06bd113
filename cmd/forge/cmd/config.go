package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forge-ai/forge/configs"
	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage forge configuration files.

Configuration precedence (lowest to highest):
  1. Defaults
  2. User config (~/.config/forge/config.yaml)
  3. Project config (.forge.yaml)
  4. Explicit file (--config)
  5. Environment variables (FORGE_*)`,
		Example: `  # Write a commented .forge.yaml
  forge config init

  # Write the machine-wide config
  forge config init --user

  # Show the effective configuration
  forge config show

  # Print config file paths
  forge config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		user  bool
		full  bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented configuration template",
		Long: `Write .forge.yaml from a commented template of the project settings.

With --user the machine template (Ollama host, models, workers, log
level) is written to the user config path instead. With --full every
option is written at its default value without comments. An existing
file is kept unless --force is given, in which case it is backed up
first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runConfigInit(cmd, path, user, force, full)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file after backing it up")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&full, "full", false, "Write every option with its default value")

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources, or only the
defaults with --source defaults.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runConfigShow(cmd, root, path, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print config file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user:    %s\n", config.GetUserConfigPath())
			if cwd, err := os.Getwd(); err == nil {
				project := config.FindProjectConfig(cwd)
				if project == "" {
					project = filepath.Join(cwd, config.ProjectConfigNames[0]) + " (not found)"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "project: %s\n", project)
			}
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, path string, user, force, full bool) error {
	out := output.NewConsole(cmd.OutOrStdout())

	target := config.GetUserConfigPath()
	template := configs.UserConfigTemplate
	if !user {
		template = configs.ProjectConfigTemplate
		root, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		target = filepath.Join(root, config.ProjectConfigNames[0])
	}

	if _, err := os.Stat(target); err == nil {
		if !force {
			out.Warningf("Configuration already exists: %s", target)
			out.Status("💡", "Use --force to overwrite it (a backup is kept)")
			return nil
		}
		backup, err := config.Backup(target)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("💾", "Backup: %s", backup)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if full {
		if err := config.NewConfig().WriteYAML(target); err != nil {
			return err
		}
	} else if err := os.WriteFile(target, []byte(template), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Successf("Wrote configuration: %s", target)
	out.Status("📋", "Run 'forge config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, root *rootOptions, path string, jsonOutput bool, source string) error {
	var cfg *config.Config
	switch source {
	case "merged":
		p, err := root.loadProject(path)
		if err != nil {
			return err
		}
		cfg = p.cfg
	case "defaults":
		cfg = config.NewConfig()
	default:
		return fmt.Errorf("unknown source %q (use merged or defaults)", source)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
