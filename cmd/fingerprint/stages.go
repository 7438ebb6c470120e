package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/fingerprint/cmd/fingerprint/tui"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/config"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/dirdupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/history"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/output"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/pipeline"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/store"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/types"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/walker"
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Walk a directory tree into the scan stream",
	Long: `Walk a directory tree and write scan.fpr into the work directory.

Every file is hashed with SHA-256 unless --quick is given; directories carry
recursive sizes, counts and content digests. With a store configured, file
content is ingested into it during the walk.`,
	Args: cobra.ExactArgs(1),
	RunE: runScanCmd,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Build file and directory size histograms from the scan",
	Args:  cobra.NoArgs,
	RunE:  stageRunner(pipeline.StageAnalyze),
}

var dupfilesCmd = &cobra.Command{
	Use:   "dupfiles",
	Short: "Group files with identical content",
	Long: `Group files whose size is shared by another file by their SHA-256 digest.
Digests recorded in the scan are reused; the rest are computed from disk.`,
	Args: cobra.NoArgs,
	RunE: stageRunner(pipeline.StageDupFiles),
}

var dupdirsCmd = &cobra.Command{
	Use:   "dupdirs",
	Short: "Group directories with identical content",
	Long: `Group directories whose recursive content hash can be confirmed from
the duplicate file groups and whose size is shared by another directory.`,
	Args: cobra.NoArgs,
	RunE: runDupDirsCmd,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Rank duplicate files by redundant bytes",
	Args:  cobra.NoArgs,
	RunE:  runReportCmd,
}

var runCmd = &cobra.Command{
	Use:   "run <path>",
	Short: "Run every stage over a directory tree",
	Long: `Run scan, analyze, dupfiles, dupdirs and report in order.

The --policy flag decides which stages run:
  always      every stage runs and replaces its outputs
  lazy        a stage runs only when one of its outputs is missing
  dependency  a stage also runs when an input is newer than its outputs`,
	Args: cobra.ExactArgs(1),
	RunE: runRunCmd,
}

func init() {
	for _, c := range []*cobra.Command{scanCmd, runCmd} {
		c.Flags().Bool("quick", false, "skip content hashing")
		c.Flags().StringSliceP("exclude", "e", nil, "exclude glob patterns (can be specified multiple times)")
		c.Flags().Bool("use-catalog", false, "reuse digests from the store catalog")
	}
	runCmd.Flags().String("policy", "", "stage policy: always, lazy, dependency")
	dupdirsCmd.Flags().Bool("show", false, "print the groups after writing them")

	rootCmd.AddCommand(scanCmd, analyzeCmd, dupfilesCmd, dupdirsCmd, reportCmd, runCmd)
}

// bindScanFlags binds the walker flags of c when it has them. Binding
// happens per invocation because scan and run share keys.
func bindScanFlags(c *cobra.Command) {
	if c.Flags().Lookup("quick") == nil {
		return
	}
	_ = viper.BindPFlag("scan.quick", c.Flags().Lookup("quick"))
	_ = viper.BindPFlag("scan.exclude", c.Flags().Lookup("exclude"))
	_ = viper.BindPFlag("scan.use_catalog", c.Flags().Lookup("use-catalog"))
	if f := c.Flags().Lookup("policy"); f != nil {
		_ = viper.BindPFlag("policy", f)
	}
}

// session holds the stages and the resources they borrow.
type session struct {
	stages  *pipeline.Stages
	journal *history.Journal
	store   *store.Store

	// silent suppresses outcome lines while the progress view owns the terminal.
	silent bool
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			printError("closing store: %v", err)
		}
	}
}

func newSession(withStore bool) (*session, error) {
	templates, err := cfg.DigestTemplates()
	if err != nil {
		return nil, err
	}
	s := &session{stages: &pipeline.Stages{
		Workspace:  workspace(),
		Quick:      cfg.Scan.Quick,
		Exclude:    cfg.Scan.Exclude,
		Templates:  templates,
		Overwrite:  cfg.Overwrite,
		Version:    version,
		UseCatalog: cfg.Scan.UseCatalog,
	}}

	if cfg.History.Enabled {
		j, err := history.New(workspace().History())
		if err != nil {
			return nil, err
		}
		s.journal = j
	}

	if withStore && cfg.Store.Root != "" {
		st, err := store.Open(cfg.Store.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
		s.stages.Store = st
	}
	return s, nil
}

func (s *session) run(ctx context.Context, jobs []pipeline.Job) ([]pipeline.Outcome, error) {
	var opts []pipeline.Option
	if s.journal != nil {
		opts = append(opts, pipeline.WithJournal(s.journal))
	}
	outcomes, err := pipeline.New(jobs, opts...).Run(ctx)
	if !s.silent {
		printOutcomes(outcomes)
	}
	return outcomes, err
}

// job returns the named stage with the always policy.
func (s *session) job(root, name string) pipeline.Job {
	for _, j := range s.stages.Jobs(root, pipeline.Always) {
		if j.Name == name {
			return j
		}
	}
	panic("unknown stage " + name)
}

func printOutcomes(outcomes []pipeline.Outcome) {
	for _, o := range outcomes {
		if !o.Ran {
			printInfo("%-9s skipped (%s)", o.Name, o.Reason)
			continue
		}
		printInfo("%-9s done in %s", o.Name, o.Duration.Round(time.Millisecond))
		for _, k := range sortedKeys(o.Summary) {
			printVerbose("  %s=%d", k, o.Summary[k])
		}
	}
}

func stageRunner(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		s, err := newSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		_, err = s.run(ctx, []pipeline.Job{s.job("", name)})
		return err
	}
}

func resolveRoot(arg string) (string, error) {
	expanded, err := config.ExpandPath(arg)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", abs)
		}
		return "", fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", abs)
	}
	return abs, nil
}

func interactive() bool {
	return !viper.GetBool("no_interactive") && !getQuiet() && isTerminal()
}

// quietLogging moves console logging out of the way of the progress view.
func quietLogging() error {
	quiet := logCfg
	quiet.Quiet = true
	return logging.Init(quiet)
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if interactive() {
		if err := quietLogging(); err != nil {
			return err
		}
	}
	s, err := newSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if !interactive() {
		printInfo("Scanning %s...", root)
		_, err := s.run(ctx, []pipeline.Job{s.job(root, pipeline.StageScan)})
		return err
	}

	s.silent = true
	scan := func(ctx context.Context, progress func(walker.Stats)) (pipeline.Summary, error) {
		s.stages.Progress = progress
		outcomes, err := s.run(ctx, []pipeline.Job{s.job(root, pipeline.StageScan)})
		if err != nil || len(outcomes) == 0 {
			return nil, err
		}
		return outcomes[0].Summary, nil
	}
	summary, err := tui.Run(ctx, root, scan)
	if errors.Is(err, tui.ErrInterrupted) {
		printInfo("Scan interrupted; no stream written.")
		return err
	}
	if err != nil {
		return err
	}
	printInfo("Scanned %s dirs, %s files, %s",
		types.FormatCount(summary["dirs"]), types.FormatCount(summary["files"]), types.FormatSize(summary["bytes"]))
	return nil
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args[0])
	if err != nil {
		return err
	}
	policy, err := pipeline.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := newSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	printVerbose("Running pipeline over %s with policy %s", root, policy)
	if _, err := s.run(ctx, s.stages.Jobs(root, policy)); err != nil {
		return err
	}
	return printFileReport(cmd)
}

func runDupDirsCmd(cmd *cobra.Command, args []string) error {
	if err := stageRunner(pipeline.StageDupDirs)(cmd, args); err != nil {
		return err
	}
	if show, _ := cmd.Flags().GetBool("show"); !show {
		return nil
	}

	var dup dirdupes.Duplicates
	if err := artifact.ReadJSON(workspace().DupDirs(), &dup); err != nil {
		return err
	}
	return render(cmd, output.FromGroups(output.KindDirs, dup.CollectionByDirSize))
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	if err := stageRunner(pipeline.StageReport)(cmd, args); err != nil {
		return err
	}
	return printFileReport(cmd)
}

func printFileReport(cmd *cobra.Command) error {
	var rep filedupes.Report
	if err := artifact.ReadJSON(workspace().Report(), &rep); err != nil {
		return err
	}
	r := output.FromReport(&rep)
	if m := readManifestRoot(); m != "" {
		r.Source = m
	}
	return render(cmd, r)
}

func render(cmd *cobra.Command, r *output.Result) error {
	formatter, err := output.Get(cfg.Output.Format)
	if err != nil {
		return fmt.Errorf("%w (available: %v)", err, output.Available())
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

// readManifestRoot returns the root recorded in the scan stream, if any.
func readManifestRoot() string {
	r, err := record.Open(workspace().Scan())
	if err != nil {
		return ""
	}
	defer func() { _ = r.Close() }()

	first, err := r.Next()
	if err != nil {
		return ""
	}
	if m, ok := first.(*record.Manifest); ok {
		return m.Root
	}
	return ""
}

func sortedKeys(s pipeline.Summary) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
