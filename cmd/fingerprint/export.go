package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/dirdupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/export"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/types"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the scan stream into other formats",
}

var exportSQLiteCmd = &cobra.Command{
	Use:   "sqlite <database>",
	Short: "Load the scan stream into a SQLite database",
	Long: `Load scan.fpr into a SQLite database with dirs, rollups and entries tables.

Duplicate groups from dupfiles.json and dupdirs.json are loaded into the
file_dupes and dir_dupes tables when those artifacts exist. The database is
written beside its final name and renamed into place only when complete.`,
	Args: cobra.ExactArgs(1),
	RunE: runExportSQLite,
}

func init() {
	exportCmd.AddCommand(exportSQLiteCmd)
	rootCmd.AddCommand(exportCmd)
}

func runExportSQLite(cmd *cobra.Command, args []string) error {
	dbPath := args[0]
	ws := workspace()
	if err := artifact.CheckInputs(ws.Scan()); err != nil {
		return err
	}
	if err := artifact.CheckOutputs(cfg.Overwrite, dbPath); err != nil {
		return err
	}

	var opts []export.Option
	var files filedupes.Duplicates
	switch err := artifact.ReadJSON(ws.DupFiles(), &files); {
	case err == nil:
		opts = append(opts, export.WithFileDuplicates(files.CollectionByFileSize))
	case !errors.Is(err, artifact.ErrMissingInput):
		return err
	}
	var dirs dirdupes.Duplicates
	switch err := artifact.ReadJSON(ws.DupDirs(), &dirs); {
	case err == nil:
		opts = append(opts, export.WithDirDuplicates(dirs.CollectionByDirSize))
	case !errors.Is(err, artifact.ErrMissingInput):
		return err
	}

	r, err := record.Open(ws.Scan())
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	printInfo("Exporting %s to %s...", ws.Scan(), dbPath)
	stats, err := export.SQLite(ctx, record.NewCursor(r), dbPath, opts...)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s dirs, %s files, %s symlinks, %s file dupes, %s dir dupes\n",
		types.FormatCount(stats.Dirs), types.FormatCount(stats.Files), types.FormatCount(stats.Symlinks),
		types.FormatCount(stats.FileDupes), types.FormatCount(stats.DirDupes))
	return nil
}
