package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/issueforge/internal/dag"
)

// Config represents the complete issueforge configuration
type Config struct {
	Execution    ExecutionSettings  `mapstructure:"execution"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// ExecutionSettings are the build tunables. They are frozen into a
// dag.ExecutionConfig when a build starts.
type ExecutionSettings struct {
	// MaxCodingIterations caps coder→review cycles per advisor round (default: 5)
	MaxCodingIterations int `mapstructure:"max_coding_iterations"`
	// MaxAdvisorInvocations caps advisor consultations per issue (default: 2)
	MaxAdvisorInvocations int `mapstructure:"max_advisor_invocations"`
	// EnableIssueAdvisor consults the issue advisor after coding-loop failures (default: true)
	EnableIssueAdvisor bool `mapstructure:"enable_issue_advisor"`
	// MaxReplans caps outer replanner invocations per build (default: 2)
	MaxReplans int `mapstructure:"max_replans"`
	// EnableReplanning consults the replanner on unrecoverable failures (default: true)
	EnableReplanning bool `mapstructure:"enable_replanning"`
	// EnableIntegrationTesting runs the integration tester after merges that ask for it (default: true)
	EnableIntegrationTesting bool `mapstructure:"enable_integration_testing"`
	// MaxIntegrationTestRetries is the number of re-runs after a failing integration test (default: 1)
	MaxIntegrationTestRetries int `mapstructure:"max_integration_test_retries"`
	// EnableGitIsolation gives every issue its own branch and worktree (default: true)
	EnableGitIsolation bool `mapstructure:"enable_git_isolation"`
	// MaxConcurrentIssues bounds fan-out within a level (default: 0 = unbounded)
	MaxConcurrentIssues int `mapstructure:"max_concurrent_issues"`

	CapabilityTimeout      time.Duration `mapstructure:"capability_timeout"`
	CoderTimeout           time.Duration `mapstructure:"coder_timeout"`
	MergeTimeout           time.Duration `mapstructure:"merge_timeout"`
	IntegrationTestTimeout time.Duration `mapstructure:"integration_test_timeout"`

	// CapabilityRateLimit is the sustained capability call rate per second (default: 0 = unlimited)
	CapabilityRateLimit float64 `mapstructure:"capability_rate_limit"`
	// CapabilityBurst is the burst size allowed above the rate (default: 1)
	CapabilityBurst int `mapstructure:"capability_burst"`
}

// CapabilitiesConfig controls how capabilities are served.
type CapabilitiesConfig struct {
	// Command is the default external command for agent capabilities.
	// It receives a JSON envelope on stdin and writes the result on stdout.
	Command []string `mapstructure:"command"`
	// Overrides maps a capability name (e.g. "coder") to its own command.
	Overrides map[string][]string `mapstructure:"overrides"`
	// NativeGit serves workspace-setup, workspace-cleanup, merger and git-init
	// in-process instead of through Command (default: true)
	NativeGit bool `mapstructure:"native_git"`
	// Env holds extra KEY=VALUE entries for capability commands.
	Env []string `mapstructure:"env"`
}

// WorkspaceConfig describes where code lives.
type WorkspaceConfig struct {
	// WorktreeDir is the directory where issue worktrees are created.
	// If empty, defaults to ".issueforge/worktrees" inside each repository.
	// Supports ~ for home directory expansion.
	WorktreeDir string `mapstructure:"worktree_dir"`
	// IntegrationBranchPrefix names the integration branch
	// "<prefix>/<build_id>" (default: "integration")
	IntegrationBranchPrefix string `mapstructure:"integration_branch_prefix"`
	// Repos lists the repositories of a multi-repository build. When empty
	// the build uses the single --repo directory.
	Repos []RepoConfig `mapstructure:"repos"`
}

// RepoConfig is one repository entry of a multi-repository workspace.
type RepoConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
	// Role is "primary" or "dependency"
	Role string `mapstructure:"role"`
}

// LoggingConfig controls engine logging
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// TelemetryConfig controls tracing and metrics export.
type TelemetryConfig struct {
	// Tracing enables span export (default: false)
	Tracing bool `mapstructure:"tracing"`
	// TraceFile is where spans are written as JSON lines.
	// If empty, defaults to <artifacts>/execution/traces.jsonl.
	TraceFile string `mapstructure:"trace_file"`
	// MetricsAddr serves Prometheus metrics on /metrics when set (e.g. ":9090")
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// ResolveWorktreeDir returns the resolved worktree directory for a repository.
// If WorktreeDir is empty, it returns the default path inside repoDir.
// If WorktreeDir starts with ~, it expands to the user's home directory.
// If WorktreeDir is a relative path, it's resolved relative to repoDir.
func (w *WorkspaceConfig) ResolveWorktreeDir(repoDir string) string {
	if w.WorktreeDir == "" {
		return filepath.Join(repoDir, ".issueforge", "worktrees")
	}

	path := w.WorktreeDir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(repoDir, path)
	}
	return path
}

// IntegrationBranch returns the integration branch name for a build.
func (w *WorkspaceConfig) IntegrationBranch(buildID string) string {
	prefix := w.IntegrationBranchPrefix
	if prefix == "" {
		prefix = "integration"
	}
	if buildID == "" {
		return prefix
	}
	return prefix + "/" + buildID
}

// Manifest returns the multi-repository manifest, or nil for single-repository
// builds. Relative paths are resolved against baseDir.
func (w *WorkspaceConfig) Manifest(baseDir string) *dag.WorkspaceManifest {
	if len(w.Repos) == 0 {
		return nil
	}
	m := &dag.WorkspaceManifest{}
	for i, r := range w.Repos {
		path := r.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		role := dag.RepoRole(r.Role)
		if role == "" {
			role = dag.RoleDependency
			if i == 0 {
				role = dag.RolePrimary
			}
		}
		m.Repos = append(m.Repos, dag.WorkspaceRepo{Name: r.Name, Path: path, Role: role})
	}
	return m
}

// ExecutionConfig freezes the execution settings for one build.
func (c *Config) ExecutionConfig() dag.ExecutionConfig {
	e := c.Execution
	return dag.ExecutionConfig{
		MaxCodingIterations:       e.MaxCodingIterations,
		MaxAdvisorInvocations:     e.MaxAdvisorInvocations,
		EnableIssueAdvisor:        e.EnableIssueAdvisor,
		MaxReplans:                e.MaxReplans,
		EnableReplanning:          e.EnableReplanning,
		EnableIntegrationTesting:  e.EnableIntegrationTesting,
		MaxIntegrationTestRetries: e.MaxIntegrationTestRetries,
		EnableGitIsolation:        e.EnableGitIsolation,
		MaxConcurrentIssues:       e.MaxConcurrentIssues,
		CapabilityTimeout:         e.CapabilityTimeout,
		CoderTimeout:              e.CoderTimeout,
		MergeTimeout:              e.MergeTimeout,
		IntegrationTestTimeout:    e.IntegrationTestTimeout,
		CapabilityRateLimit:       e.CapabilityRateLimit,
		CapabilityBurst:           e.CapabilityBurst,
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	d := dag.DefaultExecutionConfig()
	return &Config{
		Execution: ExecutionSettings{
			MaxCodingIterations:       d.MaxCodingIterations,
			MaxAdvisorInvocations:     d.MaxAdvisorInvocations,
			EnableIssueAdvisor:        d.EnableIssueAdvisor,
			MaxReplans:                d.MaxReplans,
			EnableReplanning:          d.EnableReplanning,
			EnableIntegrationTesting:  d.EnableIntegrationTesting,
			MaxIntegrationTestRetries: d.MaxIntegrationTestRetries,
			EnableGitIsolation:        d.EnableGitIsolation,
			MaxConcurrentIssues:       d.MaxConcurrentIssues,
			CapabilityTimeout:         d.CapabilityTimeout,
			CoderTimeout:              d.CoderTimeout,
			MergeTimeout:              d.MergeTimeout,
			IntegrationTestTimeout:    d.IntegrationTestTimeout,
			CapabilityRateLimit:       d.CapabilityRateLimit,
			CapabilityBurst:           d.CapabilityBurst,
		},
		Capabilities: CapabilitiesConfig{
			NativeGit: true,
		},
		Workspace: WorkspaceConfig{
			IntegrationBranchPrefix: "integration",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Execution defaults
	e := defaults.Execution
	viper.SetDefault("execution.max_coding_iterations", e.MaxCodingIterations)
	viper.SetDefault("execution.max_advisor_invocations", e.MaxAdvisorInvocations)
	viper.SetDefault("execution.enable_issue_advisor", e.EnableIssueAdvisor)
	viper.SetDefault("execution.max_replans", e.MaxReplans)
	viper.SetDefault("execution.enable_replanning", e.EnableReplanning)
	viper.SetDefault("execution.enable_integration_testing", e.EnableIntegrationTesting)
	viper.SetDefault("execution.max_integration_test_retries", e.MaxIntegrationTestRetries)
	viper.SetDefault("execution.enable_git_isolation", e.EnableGitIsolation)
	viper.SetDefault("execution.max_concurrent_issues", e.MaxConcurrentIssues)
	viper.SetDefault("execution.capability_timeout", e.CapabilityTimeout)
	viper.SetDefault("execution.coder_timeout", e.CoderTimeout)
	viper.SetDefault("execution.merge_timeout", e.MergeTimeout)
	viper.SetDefault("execution.integration_test_timeout", e.IntegrationTestTimeout)
	viper.SetDefault("execution.capability_rate_limit", e.CapabilityRateLimit)
	viper.SetDefault("execution.capability_burst", e.CapabilityBurst)

	// Capability defaults
	viper.SetDefault("capabilities.command", defaults.Capabilities.Command)
	viper.SetDefault("capabilities.native_git", defaults.Capabilities.NativeGit)
	viper.SetDefault("capabilities.env", defaults.Capabilities.Env)

	// Workspace defaults
	viper.SetDefault("workspace.worktree_dir", defaults.Workspace.WorktreeDir)
	viper.SetDefault("workspace.integration_branch_prefix", defaults.Workspace.IntegrationBranchPrefix)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Telemetry defaults
	viper.SetDefault("telemetry.tracing", defaults.Telemetry.Tracing)
	viper.SetDefault("telemetry.trace_file", defaults.Telemetry.TraceFile)
	viper.SetDefault("telemetry.metrics_addr", defaults.Telemetry.MetricsAddr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "issueforge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".issueforge"
	}
	return filepath.Join(home, ".config", "issueforge")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
