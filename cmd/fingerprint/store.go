package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/store"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/types"
)

var errNoStore = errors.New("no store configured (use --store or store.root)")

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the content-addressed store",
	Long: `Commands for the content-addressed store.

Blobs live under filedata/ in a three-level fan-out of their SHA-256 digest.
The catalog remembers the digest of every ingested file so rescans of
unchanged files can skip hashing (scan --use-catalog).`,
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show blob and catalog counts",
	Args:  cobra.NoArgs,
	RunE:  runStoreStats,
}

var storeVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash every blob",
	Long:  `Re-hash every blob and report blobs whose bytes or location do not match their name.`,
	Args:  cobra.NoArgs,
	RunE:  runStoreVerify,
}

var storePathCmd = &cobra.Command{
	Use:   "path <digest>",
	Short: "Print the blob path for a digest",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorePath,
}

var storeIngestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Copy files into the store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStoreIngest,
}

func init() {
	storeCmd.AddCommand(storeStatsCmd)
	storeCmd.AddCommand(storeVerifyCmd)
	storeCmd.AddCommand(storePathCmd)
	storeCmd.AddCommand(storeIngestCmd)
	rootCmd.AddCommand(storeCmd)
}

func openStore() (*store.Store, error) {
	if cfg.Store.Root == "" {
		return nil, errNoStore
	}
	st, err := store.Open(cfg.Store.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func runStoreStats(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Store location:  %s\n", st.Root())
	fmt.Fprintf(out, "Blobs:           %s\n", types.FormatCount(stats.Blobs))
	fmt.Fprintf(out, "Size:            %s\n", types.FormatSize(stats.Bytes))
	fmt.Fprintf(out, "Catalog entries: %s\n", types.FormatCount(int64(stats.CatalogEntries)))
	return nil
}

func runStoreVerify(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	printInfo("Verifying %s...", st.Root())
	rep, err := st.Verify(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range rep.Corrupt {
		fmt.Fprintf(out, "corrupt    %s\n", p)
	}
	for _, p := range rep.Misplaced {
		fmt.Fprintf(out, "misplaced  %s\n", p)
	}
	printInfo("Checked %s blobs.", types.FormatCount(rep.Checked))
	if !rep.OK() {
		return fmt.Errorf("store has %d corrupt and %d misplaced blobs", len(rep.Corrupt), len(rep.Misplaced))
	}
	return nil
}

func runStorePath(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	p, err := st.Path(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p)
	if ok, _ := st.Has(args[0]); !ok {
		printVerbose("Blob is not present")
	}
	return nil
}

func runStoreIngest(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out := cmd.OutOrStdout()
	for _, src := range args {
		sum, stored, err := st.Ingest(src)
		if err != nil {
			return err
		}
		state := "present"
		if stored {
			state = "stored"
		}
		fmt.Fprintf(out, "%s  %-7s  %s\n", sum, state, src)
	}
	return nil
}
