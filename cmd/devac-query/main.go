package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devac/devac/internal/hub"
	"github.com/devac/devac/internal/query"
	"github.com/devac/devac/internal/store"
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
	Use:   "devac-query [sql]",
	Short: "Run a federated SQL query across every registered package",
	Long: `devac-query runs one SQL statement against the unified nodes/edges/
external_refs/effects tables assembled from every package the hub knows
about, scoped by @package / @* macros in the query text.

Examples:
  devac-query "SELECT COUNT(*) AS c FROM nodes"
  devac-query --branch feature-x "@myservice SELECT * FROM nodes WHERE kind='function'"`,
	Version: Version,
	Args:    cobra.ExactArgs(1),
	RunE:    runQuery,
}

var (
	hubDir        string
	branch        string
	jsonOutput    bool
	redisAddr     string
	redisPassword string
)

func init() {
	rootCmd.Flags().StringVar(&hubDir, "hub-dir", defaultHubDir(), "Central hub directory")
	rootCmd.Flags().StringVar(&branch, "branch", "base", "Branch to query")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit rows as JSON instead of a table")
	rootCmd.Flags().StringVar(&redisAddr, "redis-addr", os.Getenv("DEVAC_REDIS_ADDR"), "Redis address for a shared query cache (default: local sqlite cache)")
	rootCmd.Flags().StringVar(&redisPassword, "redis-password", os.Getenv("DEVAC_REDIS_PASSWORD"), "Redis password, if required")

	rootCmd.SetVersionTemplate(`devac-query {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)
}

func defaultHubDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devac/hub"
	}
	return filepath.Join(home, ".devac", "hub")
}

func runQuery(cmd *cobra.Command, args []string) error {
	h, err := hub.Open(hubDir)
	if err != nil {
		return fmt.Errorf("open hub: %w", err)
	}
	defer h.Close()

	if redisAddr != "" {
		if err := h.EnableRemoteCache(context.Background(), redisAddr, redisPassword); err != nil {
			return fmt.Errorf("enable redis query cache: %w", err)
		}
	}

	pool, err := store.Initialize(store.Config{Path: filepath.Join(hubDir, "query-scratch.db")})
	if err != nil {
		return fmt.Errorf("initialize store pool: %w", err)
	}
	defer pool.Shutdown()

	result, err := query.HubQuery(context.Background(), h, pool, args[0], query.Options{Branch: branch, JSON: jsonOutput})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printTable(result)
	return nil
}

func printTable(result *query.Result) {
	if len(result.Rows) == 0 {
		fmt.Println("(0 rows)")
		return
	}
	var columns []string
	for col := range result.Rows[0] {
		columns = append(columns, col)
	}
	for _, row := range result.Rows {
		for _, col := range columns {
			fmt.Printf("%s=%v ", col, row[col])
		}
		fmt.Println()
	}
	fmt.Printf("(%d rows, %dms)\n", result.RowCount, result.TimeMs)
}
