package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/issueforge/internal/config"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a planned issue graph",
	Long: `Execute every issue in FILE level by level.

Issues in the same level run concurrently. Completed branches are merged
into an integration branch after each level, and the state is checkpointed
under the artifacts directory so an interrupted build can be resumed with
'issueforge resume'.

Examples:
  issueforge run --issues plan/issues.yaml
  issueforge run --repo ../service --issues issues.json --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue an interrupted build from its checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

var (
	runRepo        string
	runIssues      string
	runArtifacts   string
	runBuildID     string
	runMetricsAddr string

	resumeArtifacts   string
	resumeMetricsAddr string
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)

	runCmd.Flags().StringVar(&runRepo, "repo", ".", "Repository the issues are implemented in")
	runCmd.Flags().StringVar(&runIssues, "issues", "", "Issue list (YAML or JSON)")
	runCmd.Flags().StringVar(&runArtifacts, "artifacts", "", "Artifacts directory (default <repo>/.issueforge/builds/<build-id>)")
	runCmd.Flags().StringVar(&runBuildID, "build-id", "", "Build identifier (default random)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	_ = runCmd.MarkFlagRequired("issues")

	resumeCmd.Flags().StringVar(&resumeArtifacts, "artifacts", "", "Artifacts directory of the build")
	resumeCmd.Flags().StringVar(&resumeMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	_ = resumeCmd.MarkFlagRequired("artifacts")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	repo, err := filepath.Abs(runRepo)
	if err != nil {
		return fmt.Errorf("resolve repo: %w", err)
	}
	issues, err := dag.LoadIssues(runIssues)
	if err != nil {
		return err
	}

	buildID := runBuildID
	if buildID == "" {
		buildID = dag.NewBuildID()
	}
	artifacts := runArtifacts
	if artifacts == "" {
		artifacts = filepath.Join(repo, ".issueforge", "builds", buildID)
	}
	if artifacts, err = filepath.Abs(artifacts); err != nil {
		return fmt.Errorf("resolve artifacts: %w", err)
	}

	cp := dag.NewCheckpointer(artifacts)
	if cp.Exists() {
		return errors.NewValidationError(fmt.Sprintf("a checkpoint already exists in %s; use 'issueforge resume --artifacts %s'", artifacts, artifacts))
	}

	state, err := dag.NewDAGState(buildID, repo, artifacts, issues)
	if err != nil {
		return err
	}
	state.Workspace = cfg.Workspace.Manifest(repo)
	state.IntegrationBranch = cfg.Workspace.IntegrationBranch(buildID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, engineOptions{
		artifactsDir: artifacts,
		buildID:      buildID,
		metricsAddr:  runMetricsAddr,
		out:          cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	final, err := eng.scheduler.Run(ctx, state)
	return finishBuild(cmd, final, artifacts, err)
}

func runResume(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	artifacts, err := filepath.Abs(resumeArtifacts)
	if err != nil {
		return fmt.Errorf("resolve artifacts: %w", err)
	}

	// Peek at the build ID so the log lines carry it from the start.
	state, err := dag.NewCheckpointer(artifacts).Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, engineOptions{
		artifactsDir: artifacts,
		buildID:      state.BuildID,
		metricsAddr:  resumeMetricsAddr,
		out:          cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	final, err := eng.scheduler.Resume(ctx, eng.cp)
	return finishBuild(cmd, final, artifacts, err)
}

// finishBuild reports how a build ended. An interrupted build points at
// the resume command.
func finishBuild(cmd *cobra.Command, state *dag.DAGState, artifacts string, err error) error {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.OutOrStdout(), warningStyle.Render("Interrupted. Resume with: issueforge resume --artifacts "+artifacts))
		return nil
	}
	if err != nil {
		return err
	}
	if state != nil && state.Aborted {
		return fmt.Errorf("build aborted: %s", state.AbortReason)
	}
	return nil
}
