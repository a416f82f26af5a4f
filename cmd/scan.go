package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/config"
	"github.com/xkilldash9x/applens/internal/observability"
	"github.com/xkilldash9x/applens/internal/scan"
)

// newScanCmd creates the `scan` command.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan owner/repo [owner/repo...]",
		Short: "Scans repositories and builds the service dependency graph",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override config and env.
			if err := viper.BindPFlag("scanner.repo_concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("github.use_clone", cmd.Flags().Lookup("clone")); err != nil {
				return err
			}
			return viper.BindPFlag("github.token", cmd.Flags().Lookup("token"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			branch, _ := cmd.Flags().GetString("branch")
			output, _ := cmd.Flags().GetString("output")
			verbose, _ := cmd.Flags().GetBool("diagnostics")

			repos, err := parseRepoRefs(args, branch)
			if err != nil {
				return err
			}

			app, cleanup, err := newApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize scan components: %w", err)
			}
			defer cleanup()

			logger.Info("Starting scan",
				zap.Int("repos", len(repos)),
				zap.String("branch", branch),
				zap.Bool("clone", cfg.GitHub.UseClone))

			job, result, err := app.RunScan(ctx, repos)
			if err != nil {
				if errors.Is(err, scan.ErrAllReposFailed) && job != nil {
					printRepoErrors(cmd, job.PerRepoErrors)
				}
				return err
			}

			printScanSummary(cmd, job, result)
			if verbose {
				for _, d := range result.Diagnostics {
					cmd.Printf("  diagnostic: %s %s: %s\n", d.Repo, d.File, d.Reason)
				}
			}

			if output != "" {
				if err := writeGraphFile(output, result.Graph); err != nil {
					return err
				}
				cmd.Printf("Graph written to %s\n", output)
			}
			return nil
		},
	}

	scanCmd.Flags().StringP("branch", "b", "", "Branch to scan (default: the repository's default branch)")
	scanCmd.Flags().StringP("output", "o", "", "Write the graph JSON to this file")
	scanCmd.Flags().Int("concurrency", 0, "Repositories scanned in parallel (overrides config/env)")
	scanCmd.Flags().Bool("clone", false, "Shallow-clone repositories instead of using the GitHub API")
	scanCmd.Flags().String("token", "", "GitHub token (overrides config/env)")
	scanCmd.Flags().Bool("diagnostics", false, "Print per-file diagnostics after the scan")
	return scanCmd
}

func printScanSummary(cmd *cobra.Command, job *schemas.ScanJob, result *scan.Result) {
	cmd.Printf("Scan %s: %s\n", job.ID, job.Status)
	cmd.Printf("  files scanned:  %d\n", result.FilesScanned)
	cmd.Printf("  call sites:     %d\n", result.CallSites)
	cmd.Printf("  services:       %d\n", len(result.Graph.Nodes))
	cmd.Printf("  interactions:   %d\n", len(result.Graph.Links))
	if len(result.Diagnostics) > 0 {
		cmd.Printf("  diagnostics:    %d\n", len(result.Diagnostics))
	}
	printRepoErrors(cmd, job.PerRepoErrors)
}

func printRepoErrors(cmd *cobra.Command, perRepo map[string]string) {
	for repo, reason := range perRepo {
		cmd.Printf("  repo failed:    %s: %s\n", repo, reason)
	}
}
