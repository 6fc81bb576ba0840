package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/capability/capabilitytest"
	"github.com/Iron-Ham/issueforge/internal/config"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// setupTestEnvironment isolates viper and command flags from other tests
// and from the user's config file.
func setupTestEnvironment(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	viper.Reset()
	resetFlags(rootCmd)
	t.Cleanup(func() {
		viper.Reset()
		resetFlags(rootCmd)
	})
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

const sampleIssues = `
issues:
  - name: core
    title: Core types
  - name: api
    title: HTTP API
    depends_on: [core]
  - name: ui
    title: Web UI
    depends_on: [api]
  - name: cli
    title: Command line
    depends_on: [core]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "issueforge", rootCmd.Use)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "resume", "status", "validate", "logs", "config"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestValidateCommand_PrintsLevels(t *testing.T) {
	setupTestEnvironment(t)
	path := writeFile(t, t.TempDir(), "issues.yaml", sampleIssues)

	out, err := executeCommand(rootCmd, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "4 issues in 3 levels")
	assert.Contains(t, out, "api, cli")
}

func TestValidateCommand_JSON(t *testing.T) {
	setupTestEnvironment(t)
	path := writeFile(t, t.TempDir(), "issues.yaml", sampleIssues)

	out, err := executeCommand(rootCmd, "validate", "--json", path)
	require.NoError(t, err)

	var got validateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 4, got.Issues)
	assert.Equal(t, [][]string{{"core"}, {"api", "cli"}, {"ui"}}, got.Levels)
}

func TestValidateCommand_RejectsCycle(t *testing.T) {
	setupTestEnvironment(t)
	path := writeFile(t, t.TempDir(), "issues.yaml", `
- name: a
  depends_on: [b]
- name: b
  depends_on: [a]
`)

	_, err := executeCommand(rootCmd, "validate", path)
	assert.ErrorIs(t, err, errors.ErrDependencyCycle)
}

func savedState(t *testing.T) (*dag.DAGState, string) {
	t.Helper()
	artifacts := t.TempDir()
	issues, err := dag.ParseIssues([]byte(sampleIssues), false)
	require.NoError(t, err)
	state, err := dag.NewDAGState("b1", "/repo", artifacts, issues)
	require.NoError(t, err)
	state.IntegrationBranch = "integration/b1"
	state.CurrentLevel = 2
	state.RecordResult(dag.IssueResult{Issue: "core", Outcome: dag.OutcomeCompleted, Attempts: 1})
	state.RecordResult(dag.IssueResult{Issue: "api", Outcome: dag.OutcomeFailedUnrecoverable, Attempts: 3, Error: "tests keep failing"})
	state.RecordResult(dag.IssueResult{Issue: "cli", Outcome: dag.OutcomeCompletedWithDebt, Attempts: 2})
	state.RecordReplan(dag.ReplanRecord{
		Level:       1,
		TriggeredBy: []string{"api"},
		Decision:    dag.ReplanDecision{Action: dag.ReplanContinue, Rationale: "ui can wait"},
	})
	require.NoError(t, dag.NewCheckpointer(artifacts).Save(state))
	return state, artifacts
}

func TestStatusCommand_JSON(t *testing.T) {
	setupTestEnvironment(t)
	_, artifacts := savedState(t)

	out, err := executeCommand(rootCmd, "status", "--artifacts", artifacts, "--json")
	require.NoError(t, err)

	var got statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "b1", got.BuildID)
	assert.Equal(t, 3, got.TotalLevels)
	assert.Equal(t, 2, got.Summary.Completed)
	assert.Equal(t, 1, got.Summary.Failed)
	assert.Equal(t, 1, got.Summary.Pending)
	require.Len(t, got.Issues, 4)

	byName := map[string]issueStatus{}
	for _, iss := range got.Issues {
		byName[iss.Name] = iss
	}
	assert.Equal(t, "FAILED_UNRECOVERABLE", byName["api"].Outcome)
	assert.Equal(t, "tests keep failing", byName["api"].Error)
	assert.Equal(t, "PENDING", byName["ui"].Outcome)
	assert.Equal(t, 2, byName["ui"].Level)
}

func TestStatusCommand_MissingCheckpoint(t *testing.T) {
	setupTestEnvironment(t)

	_, err := executeCommand(rootCmd, "status", "--artifacts", t.TempDir())
	assert.ErrorIs(t, err, errors.ErrCheckpointNotFound)
}

func TestRenderStatus(t *testing.T) {
	state, _ := savedState(t)

	out := renderStatus(state, 120)
	for _, want := range []string{"Build b1", "3/3", "integration/b1", "core", "COMPLETED_WITH_DEBT", "PENDING", "tests keep failing", "Replans", "ui can wait"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderStatus_TruncatesErrors(t *testing.T) {
	state, _ := savedState(t)
	state.FailedIssues[0].Error = strings.Repeat("x", 500)

	out := renderStatus(state, 80)
	assert.NotContains(t, out, strings.Repeat("x", 100))
	assert.Contains(t, out, "...")
}

func TestWatchCheckpoint_RedrawsOnSave(t *testing.T) {
	state, artifacts := savedState(t)
	cp := dag.NewCheckpointer(artifacts)

	ctx, cancel := context.WithCancel(context.Background())
	var redraws atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchCheckpoint(ctx, cp, func() { redraws.Add(1) })
	}()

	require.Eventually(t, func() bool { return redraws.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_ = cp.Save(state)
		return redraws.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watchCheckpoint did not return after cancel")
	}
}

func writeLogs(t *testing.T, artifacts string) {
	t.Helper()
	logger, err := logging.NewLogger(dag.ExecutionDir(artifacts), "debug", logging.DefaultRotationConfig())
	require.NoError(t, err)
	logger = logger.WithBuild("b1")
	logger.WithIssue("core").Info("core started")
	logger.WithIssue("core").WithPhase("coder").Debug("coder iteration")
	logger.WithIssue("api").Warn("api review rejected")
	logger.WithLevel(1).Error("merge failed")
	require.NoError(t, logger.Close())
}

func TestLogsCommand_FiltersByIssue(t *testing.T) {
	setupTestEnvironment(t)
	artifacts := t.TempDir()
	writeLogs(t, artifacts)

	out, err := executeCommand(rootCmd, "logs", "--artifacts", artifacts, "--issue", "core", "-n", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "core started")
	assert.Contains(t, out, "coder iteration")
	assert.NotContains(t, out, "api review rejected")
}

func TestLogsCommand_LevelAndJSON(t *testing.T) {
	setupTestEnvironment(t)
	artifacts := t.TempDir()
	writeLogs(t, artifacts)

	out, err := executeCommand(rootCmd, "logs", "--artifacts", artifacts, "--level", "warn", "--format", "json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first logging.LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "api review rejected", first.Message)
	assert.Equal(t, "api", first.Issue)
}

func TestLogsCommand_DAGLevelAndTail(t *testing.T) {
	setupTestEnvironment(t)
	artifacts := t.TempDir()
	writeLogs(t, artifacts)

	out, err := executeCommand(rootCmd, "logs", "--artifacts", artifacts, "--dag-level", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "merge failed")
	assert.NotContains(t, out, "core started")

	out, err = executeCommand(rootCmd, "logs", "--artifacts", artifacts, "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "merge failed")
	assert.NotContains(t, out, "api review rejected")
}

func TestLogsCommand_InvalidLevel(t *testing.T) {
	setupTestEnvironment(t)

	_, err := executeCommand(rootCmd, "logs", "--artifacts", t.TempDir(), "--level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid level")
}

func TestPrintFrom_ReadsOnlyCompleteLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logging.LogFileName)
	line := `{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"first","issue":"core"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line+`{"time":"2026-01-02T10:00:01Z"`), 0o644))

	var buf bytes.Buffer
	next, err := printFrom(&buf, path, 0, logging.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(line)), next)
	assert.Contains(t, buf.String(), "first")

	buf.Reset()
	again, err := printFrom(&buf, path, next, logging.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, next, again)
	assert.Empty(t, buf.String())
}

func TestProgressLine(t *testing.T) {
	passed := false
	tests := []struct {
		name string
		ev   event.Event
		want []string
	}{
		{"build started", event.NewBuildStartedEvent("b1", 4, 3, false, 0), []string{"Build b1", "4 issues in 3 levels"}},
		{"resumed", event.NewBuildStartedEvent("b1", 4, 3, true, 1), []string{"Resuming build b1 at level 2/3"}},
		{"level", event.NewLevelStartedEvent(1, []string{"api", "cli"}), []string{"Level 1", "api, cli"}},
		{"issue", event.NewIssueFinishedEvent("api", 1, "FAILED_ESCALATED", 4, 2), []string{"api", "FAILED_ESCALATED", "4 attempts, 2 advisor"}},
		{"merge", event.NewMergeCompletedEvent(1, []string{"api"}, []string{"cli"}, &passed), []string{"merged 1", "unmerged cli", "integration tests failed"}},
		{"replan", event.NewReplanAppliedEvent("MODIFY_DAG", []string{"api"}, false, "drop ui"), []string{"MODIFY_DAG", "api", "drop ui"}},
		{"build done", event.NewBuildCompletedEvent("b1", 3, 1, 0, false, "3 of 4 issues completed; 1 failed", time.Second), []string{"Build b1 finished", "1 failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := progressLine(tt.ev)
			for _, w := range tt.want {
				assert.Contains(t, line, w)
			}
		})
	}

	assert.Empty(t, progressLine(event.NewCheckpointSavedEvent("/x", 0)))
}

func TestParseConfigValue(t *testing.T) {
	setupTestEnvironment(t)
	config.SetDefaults()

	v, err := parseConfigValue("execution.max_replans", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = parseConfigValue("execution.enable_replanning", "false")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = parseConfigValue("execution.coder_timeout", "20m")
	require.NoError(t, err)
	assert.Equal(t, "20m0s", v)

	v, err = parseConfigValue("logging.level", "debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", v)

	_, err = parseConfigValue("execution.max_replans", "many")
	assert.Error(t, err)

	_, err = parseConfigValue("nope.missing", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration key")
}

func TestConfigCommand_InitAndPath(t *testing.T) {
	setupTestEnvironment(t)

	out, err := executeCommand(rootCmd, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, config.ConfigFile())
	_, err = os.Stat(config.ConfigFile())
	require.NoError(t, err)

	_, err = executeCommand(rootCmd, "config", "init")
	assert.Error(t, err)

	out, err = executeCommand(rootCmd, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "config.yaml")
}

// useFakeCaller serves every capability from fake for the duration of t.
func useFakeCaller(t *testing.T, fake *capabilitytest.Fake) {
	t.Helper()
	prev := newCaller
	newCaller = func(*config.Config, *logging.Logger) capability.Caller { return fake }
	t.Cleanup(func() { newCaller = prev })

	viper.Set("execution.enable_git_isolation", false)
	viper.Set("capabilities.native_git", false)
}

func approvingFake() *capabilitytest.Fake {
	return capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "done"}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Approved: true})
}

func TestRunCommand_CompletesBuild(t *testing.T) {
	setupTestEnvironment(t)
	fake := approvingFake()
	useFakeCaller(t, fake)

	dir := t.TempDir()
	path := writeFile(t, dir, "issues.yaml", sampleIssues)
	artifacts := filepath.Join(dir, "artifacts")

	out, err := executeCommand(rootCmd, "run", "--repo", dir, "--issues", path, "--artifacts", artifacts, "--build-id", "b1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Build b1: 4 issues in 3 levels")
	assert.Contains(t, out, "all issues completed")
	assert.Equal(t, 4, fake.CallCount(capability.KindCoder))

	state, err := dag.NewCheckpointer(artifacts).Load()
	require.NoError(t, err)
	assert.Len(t, state.CompletedIssues, 4)
	assert.Equal(t, "integration/b1", state.IntegrationBranch)

	_, err = os.Stat(filepath.Join(dag.ExecutionDir(artifacts), logging.LogFileName))
	assert.NoError(t, err)
}

func TestRunCommand_RefusesExistingCheckpoint(t *testing.T) {
	setupTestEnvironment(t)
	useFakeCaller(t, approvingFake())
	_, artifacts := savedState(t)
	path := writeFile(t, t.TempDir(), "issues.yaml", sampleIssues)

	_, err := executeCommand(rootCmd, "run", "--issues", path, "--artifacts", artifacts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issueforge resume")
}

func TestResumeCommand_RunsRemainingIssues(t *testing.T) {
	setupTestEnvironment(t)
	fake := approvingFake()
	useFakeCaller(t, fake)

	artifacts := t.TempDir()
	issues, err := dag.ParseIssues([]byte(sampleIssues), false)
	require.NoError(t, err)
	state, err := dag.NewDAGState("b1", t.TempDir(), artifacts, issues)
	require.NoError(t, err)
	state.CurrentLevel = 1
	state.RecordResult(dag.IssueResult{Issue: "core", Outcome: dag.OutcomeCompleted, Attempts: 1})
	require.NoError(t, dag.NewCheckpointer(artifacts).Save(state))

	out, err := executeCommand(rootCmd, "resume", "--artifacts", artifacts)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Resuming build b1")

	var coded []string
	for _, req := range capabilitytest.Payloads[capability.CoderRequest](fake, capability.KindCoder) {
		coded = append(coded, req.Issue.Name)
	}
	assert.ElementsMatch(t, []string{"api", "cli", "ui"}, coded)

	final, err := dag.NewCheckpointer(artifacts).Load()
	require.NoError(t, err)
	assert.Len(t, final.CompletedIssues, 4)
}
