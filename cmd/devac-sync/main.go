package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	devacerrors "github.com/devac/devac/internal/errors"
	"github.com/devac/devac/internal/hub"
	"github.com/devac/devac/internal/logging"
	"github.com/devac/devac/internal/parser"
	"github.com/devac/devac/internal/resolver"
	"github.com/devac/devac/internal/rules"
	"github.com/devac/devac/internal/syncx"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "devac-sync",
	Short: "Build, resolve, rule-process, and publish one package's graph",
	Long: `devac-sync - run the build -> resolve -> rules -> hub update -> verify
pipeline for one package on one branch.

Exit Codes:
  0 - success
  1 - sync failed
  2 - verifier failed
  3 - hub unavailable
  4 - prerequisites unmet

Examples:
  devac-sync --package . --repo-id myrepo --branch base
  devac-sync --package ./services/api --hub-dir ~/.devac/hub`,
	Version: Version,
	RunE:    runSync,
}

var (
	packageDir   string
	repoID       string
	branch       string
	hubDir       string
	disableRules  bool
	rulesFile     string
	redisAddr     string
	redisPassword string
)

func init() {
	rootCmd.Flags().StringVar(&packageDir, "package", ".", "Package directory to sync")
	rootCmd.Flags().StringVar(&repoID, "repo-id", "", "Repository identifier (required)")
	rootCmd.Flags().StringVar(&branch, "branch", "base", "Branch partition to sync")
	rootCmd.Flags().StringVar(&hubDir, "hub-dir", defaultHubDir(), "Central hub directory")
	rootCmd.Flags().BoolVar(&disableRules, "disable-rules", false, "Skip rule engine processing")
	rootCmd.Flags().StringVar(&rulesFile, "rules-file", "", "YAML file of additional rules to load alongside the built-ins")
	rootCmd.Flags().StringVar(&redisAddr, "redis-addr", os.Getenv("DEVAC_REDIS_ADDR"), "Redis address for a shared query cache (default: local sqlite cache)")
	rootCmd.Flags().StringVar(&redisPassword, "redis-password", os.Getenv("DEVAC_REDIS_PASSWORD"), "Redis password, if required")
	rootCmd.MarkFlagRequired("repo-id")

	rootCmd.SetVersionTemplate(`devac-sync {{.Version}}
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

// prerequisiteExit marks an error as an unmet-prerequisite failure (exit 4).
type prerequisiteExit struct{ error }

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(prerequisiteExit); ok {
		return 4
	}
	if devacerrors.GetKind(err) == devacerrors.KindHubWriteError {
		return 3
	}
	return 1
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := logging.Default().With("component", "devac-sync")

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

	if !h.IsWritable() {
		return prerequisiteExit{fmt.Errorf("hub_writable prerequisite unmet: %s is held by another process", hubDir)}
	}
	if err := h.AcquireWriteLock(); err != nil {
		return prerequisiteExit{err}
	}
	defer h.ReleaseWriteLock()

	if err := h.AddRepo(hub.Repo{RepoID: repoID, Name: repoID, RootPath: packageDir}); err != nil {
		return fmt.Errorf("register repo: %w", err)
	}

	ruleEngine := rules.New(!disableRules)
	if rulesFile != "" {
		if err := ruleEngine.LoadFile(rulesFile); err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
	}

	report, err := syncx.Sync(packageDir, syncx.Options{
		RepoID:   repoID,
		Branch:   branch,
		Resolver: resolver.New(resolver.Config{Enabled: true}),
		Rules:    ruleEngine,
		Hub:      h,
		Parse:    parser.ParseFile(repoID, filepath.Base(packageDir)),
	})
	if err != nil {
		return err
	}

	logger.Info("sync complete",
		"nodes", report.Build.NodeCount, "edges", report.Build.EdgeCount,
		"resolved", reportResolved(report), "failed", report.Failed, "stage", report.FailureStage)

	for _, w := range report.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if report.Failed {
		if report.FailureStage == "verify" {
			os.Exit(2)
		}
		os.Exit(1)
	}
	return nil
}

func reportResolved(r *syncx.Report) int {
	if r.Resolve == nil {
		return 0
	}
	return r.Resolve.Resolved
}
