package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devac/devac/internal/integrity"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devac-verify",
	Short: "Check a package's parquet seed files for integrity",
	Long: `devac-verify checks parquet openability, referential consistency,
tombstone invariants, and stray temp files for a package's branch partition.

Exit Codes:
  0 - valid
  2 - verifier failed`,
	Version: Version,
	RunE:    runVerify,
}

var (
	packageDir string
	branch     string
)

func init() {
	rootCmd.Flags().StringVar(&packageDir, "package", ".", "Package directory to verify")
	rootCmd.Flags().StringVar(&branch, "branch", "base", "Branch partition to verify")

	rootCmd.SetVersionTemplate(`devac-verify {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)
}

func runVerify(cmd *cobra.Command, args []string) error {
	report, err := integrity.Verify(packageDir, branch)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	fmt.Printf("valid=%v nodes=%d edges=%d refs=%d unresolvedRefs=%d orphanedEdges=%d\n",
		report.Valid, report.Stats.NodeCount, report.Stats.EdgeCount, report.Stats.RefCount,
		report.Stats.UnresolvedRefs, report.Stats.OrphanedEdges)

	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "error: %s\n", e)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if !report.Valid {
		os.Exit(2)
	}
	return nil
}
