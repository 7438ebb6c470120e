package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage fingerprint configuration settings.

Configuration is loaded from:
  1. the file named by --config
  2. $XDG_CONFIG_HOME/fingerprint/config.yaml (if set)
  3. ~/.config/fingerprint/config.yaml

Environment variables override config file settings using the FINGERPRINT_ prefix:
  FINGERPRINT_WORK_DIR=/tmp/scan
  FINGERPRINT_SCAN_QUICK=true
  FINGERPRINT_STORE_ROOT=~/.local/share/fingerprint/store`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if f := viper.ConfigFileUsed(); f != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", f)
	} else {
		fmt.Fprintf(out, "Config file: (using defaults, no file found)\n\n")
	}

	fmt.Fprintln(out, "Current Configuration:")
	fmt.Fprintln(out, "----------------------")
	fmt.Fprintf(out, "work_dir:                %s\n", cfg.WorkDir)
	fmt.Fprintf(out, "overwrite:               %t\n", cfg.Overwrite)
	fmt.Fprintf(out, "policy:                  %s\n", cfg.Policy)
	fmt.Fprintf(out, "scan.quick:              %t\n", cfg.Scan.Quick)
	fmt.Fprintf(out, "scan.exclude:            %v\n", cfg.Scan.Exclude)
	fmt.Fprintf(out, "scan.use_catalog:        %t\n", cfg.Scan.UseCatalog)
	fmt.Fprintf(out, "templates.file:          %s\n", templateOrDefault(cfg.Templates.File))
	fmt.Fprintf(out, "templates.symlink:       %s\n", templateOrDefault(cfg.Templates.Symlink))
	fmt.Fprintf(out, "templates.dir:           %s\n", templateOrDefault(cfg.Templates.Dir))
	fmt.Fprintf(out, "store.root:              %s\n", cfg.Store.Root)
	fmt.Fprintf(out, "output.format:           %s\n", cfg.Output.Format)
	fmt.Fprintf(out, "history.enabled:         %t\n", cfg.History.Enabled)
	fmt.Fprintf(out, "history.retention_days:  %d\n", cfg.History.RetentionDays)
	fmt.Fprintf(out, "logging.level:           %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "logging.path:            %s\n", logCfg.Path)

	fmt.Fprintln(out, "\nEnvironment Overrides:")
	fmt.Fprintln(out, "----------------------")
	overridden := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix+"_") {
			fmt.Fprintln(out, kv)
			overridden = true
		}
	}
	if !overridden {
		fmt.Fprintln(out, "(none)")
	}
	return nil
}

func templateOrDefault(fields []string) string {
	if len(fields) == 0 {
		return "(default)"
	}
	return strings.Join(fields, ",")
}

func runConfigEdit(_ *cobra.Command, _ []string) error {
	path, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	printVerbose("Opening %s with %s", path, editor)

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		printInfo("Config file already exists: %s", path)
		printInfo("Use 'fingerprint config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	printInfo("Created default config file: %s", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)

	if _, err := os.Stat(path); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
