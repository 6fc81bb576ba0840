package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/issueforge/internal/dag"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	e := cfg.Execution
	if e.MaxCodingIterations != 5 {
		t.Errorf("Execution.MaxCodingIterations = %d, want 5", e.MaxCodingIterations)
	}
	if e.MaxAdvisorInvocations != 2 {
		t.Errorf("Execution.MaxAdvisorInvocations = %d, want 2", e.MaxAdvisorInvocations)
	}
	if !e.EnableIssueAdvisor {
		t.Error("Execution.EnableIssueAdvisor should be true by default")
	}
	if e.MaxReplans != 2 {
		t.Errorf("Execution.MaxReplans = %d, want 2", e.MaxReplans)
	}
	if !e.EnableGitIsolation {
		t.Error("Execution.EnableGitIsolation should be true by default")
	}
	if e.MaxIntegrationTestRetries != 1 {
		t.Errorf("Execution.MaxIntegrationTestRetries = %d, want 1", e.MaxIntegrationTestRetries)
	}
	if e.CoderTimeout != 45*time.Minute {
		t.Errorf("Execution.CoderTimeout = %v, want 45m", e.CoderTimeout)
	}
	if e.MaxConcurrentIssues != 0 {
		t.Errorf("Execution.MaxConcurrentIssues = %d, want 0", e.MaxConcurrentIssues)
	}

	if !cfg.Capabilities.NativeGit {
		t.Error("Capabilities.NativeGit should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestConfig_ExecutionConfig(t *testing.T) {
	cfg := Default()
	cfg.Execution.MaxReplans = 7
	cfg.Execution.CapabilityRateLimit = 2.5

	got := cfg.ExecutionConfig()
	want := dag.DefaultExecutionConfig()
	want.MaxReplans = 7
	want.CapabilityRateLimit = 2.5

	if got != want {
		t.Errorf("ExecutionConfig() = %+v, want %+v", got, want)
	}
}

func TestWorkspaceConfig_ResolveWorktreeDir(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name        string
		worktreeDir string
		repoDir     string
		want        string
	}{
		{"empty uses default", "", "/repo", "/repo/.issueforge/worktrees"},
		{"absolute", "/fast/worktrees", "/repo", "/fast/worktrees"},
		{"relative", "wt", "/repo", "/repo/wt"},
		{"home", "~/wt", "/repo", filepath.Join(home, "wt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WorkspaceConfig{WorktreeDir: tt.worktreeDir}
			if got := w.ResolveWorktreeDir(tt.repoDir); got != tt.want {
				t.Errorf("ResolveWorktreeDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWorkspaceConfig_IntegrationBranch(t *testing.T) {
	w := WorkspaceConfig{}
	if got := w.IntegrationBranch("ab12"); got != "integration/ab12" {
		t.Errorf("IntegrationBranch() = %q, want %q", got, "integration/ab12")
	}
	w.IntegrationBranchPrefix = "forge"
	if got := w.IntegrationBranch(""); got != "forge" {
		t.Errorf("IntegrationBranch() = %q, want %q", got, "forge")
	}
}

func TestWorkspaceConfig_Manifest(t *testing.T) {
	w := WorkspaceConfig{}
	if w.Manifest("/base") != nil {
		t.Error("Manifest() should be nil without repos")
	}

	w.Repos = []RepoConfig{
		{Name: "api", Path: "api"},
		{Name: "lib", Path: "/abs/lib"},
	}
	m := w.Manifest("/base")
	if m == nil || len(m.Repos) != 2 {
		t.Fatalf("Manifest() = %+v, want 2 repos", m)
	}
	if m.Repos[0].Path != "/base/api" || m.Repos[0].Role != dag.RolePrimary {
		t.Errorf("Repos[0] = %+v, want primary at /base/api", m.Repos[0])
	}
	if m.Repos[1].Path != "/abs/lib" || m.Repos[1].Role != dag.RoleDependency {
		t.Errorf("Repos[1] = %+v, want dependency at /abs/lib", m.Repos[1])
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/issueforge" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/issueforge")
		}
		if got := ConfigFile(); got != "/custom/config/issueforge/config.yaml" {
			t.Errorf("ConfigFile() = %q, want %q", got, "/custom/config/issueforge/config.yaml")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "issueforge")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
execution:
  max_coding_iterations: 3
  coder_timeout: 10m
  enable_issue_advisor: false
capabilities:
  command: ["agent", "serve"]
  overrides:
    coder: ["coder-bin"]
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Execution.MaxCodingIterations != 3 {
		t.Errorf("MaxCodingIterations = %d, want 3", cfg.Execution.MaxCodingIterations)
	}
	if cfg.Execution.CoderTimeout != 10*time.Minute {
		t.Errorf("CoderTimeout = %v, want 10m", cfg.Execution.CoderTimeout)
	}
	if cfg.Execution.EnableIssueAdvisor {
		t.Error("EnableIssueAdvisor = true, want false")
	}
	if cfg.Execution.MaxReplans != 2 {
		t.Errorf("MaxReplans = %d, want default 2", cfg.Execution.MaxReplans)
	}
	if len(cfg.Capabilities.Command) != 2 || cfg.Capabilities.Command[0] != "agent" {
		t.Errorf("Capabilities.Command = %v, want [agent serve]", cfg.Capabilities.Command)
	}
	if got := cfg.Capabilities.Overrides["coder"]; len(got) != 1 || got[0] != "coder-bin" {
		t.Errorf("Capabilities.Overrides[coder] = %v, want [coder-bin]", got)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("execution.max_coding_iterations", 0)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for max_coding_iterations = 0")
	}
	if _, ok := err.(ValidationErrors); !ok {
		t.Errorf("Load() error type = %T, want ValidationErrors", err)
	}
}
