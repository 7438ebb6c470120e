package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/config"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logCfg  logging.Config

	rootCmd = &cobra.Command{
		Use:   "fingerprint",
		Short: "Fingerprint directory trees and find duplicate files and directories",
		Long: `Fingerprint walks a directory tree into a scan stream of files, symlinks and
directories, each carrying content and metadata digests. Later stages read
the stream to find duplicate files and duplicate directory subtrees.

Each stage writes its artifacts into the work directory:
  scan.fpr              the scan stream
  analysis.json         size histograms
  dupfiles.json         duplicate file groups
  digests.json          every file digest computed while grouping
  dupfiles-report.json  duplicate files ranked by redundant bytes
  dupdirs.json          duplicate directory groups

Examples:
  fingerprint run ~/photos            # every stage, skipping fresh outputs
  fingerprint scan --quick ~/photos   # metadata only, hash on demand later
  fingerprint report -o plain         # print the ranked report
  fingerprint export sqlite scan.db   # load the scan into SQLite`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/fingerprint/config.yaml)")
	flags.StringP("work-dir", "w", "", "directory holding stage artifacts")
	flags.String("store", "", "content-addressed store root")
	flags.Bool("overwrite", false, "replace existing artifacts")
	flags.StringP("output", "o", "", "output format (pretty, plain, csv, json, jsonl, yaml)")
	flags.BoolP("no-interactive", "n", false, "disable the progress view")
	flags.BoolP("quiet", "q", false, "minimal output")
	flags.BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("work_dir", flags.Lookup("work-dir"))
	_ = viper.BindPFlag("store.root", flags.Lookup("store"))
	_ = viper.BindPFlag("overwrite", flags.Lookup("overwrite"))
	_ = viper.BindPFlag("output.format", flags.Lookup("output"))
	_ = viper.BindPFlag("no_interactive", flags.Lookup("no-interactive"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
}

// setup loads configuration and starts logging before every command.
func setup(cmd *cobra.Command, _ []string) error {
	bindScanFlags(cmd)
	v := viper.GetViper()
	if err := config.Prepare(v, cfgFile); err != nil {
		return err
	}
	if err := config.Read(v); err != nil {
		return err
	}

	var err error
	cfg, err = config.FromViper(v)
	if err != nil {
		return err
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = config.DefaultWorkDir
	}

	logCfg, err = cfg.LogConfig()
	if err != nil {
		return err
	}
	switch {
	case getVerbose():
		logCfg.ConsoleLevel = "debug"
	case !getQuiet():
		logCfg.ConsoleLevel = "warn"
	}
	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Get("cli").Debug("configuration loaded", "config", v.ConfigFileUsed(), "work_dir", cfg.WorkDir)
	return nil
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()
	return rootCmd.Execute()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func workspace() artifact.Workspace {
	return artifact.Workspace{Dir: cfg.WorkDir}
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
