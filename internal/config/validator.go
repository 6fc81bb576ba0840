package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "execution.max_replans")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates the integration branch prefix
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_/-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateExecution()...)
	errors = append(errors, c.validateCapabilities()...)
	errors = append(errors, c.validateWorkspace()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateExecution validates the ExecutionSettings
func (c *Config) validateExecution() []ValidationError {
	var errors []ValidationError
	e := c.Execution

	if e.MaxCodingIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_coding_iterations",
			Value:   e.MaxCodingIterations,
			Message: "must be at least 1",
		})
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"execution.max_advisor_invocations", e.MaxAdvisorInvocations},
		{"execution.max_replans", e.MaxReplans},
		{"execution.max_integration_test_retries", e.MaxIntegrationTestRetries},
		{"execution.max_concurrent_issues", e.MaxConcurrentIssues},
	}
	for _, n := range nonNegative {
		if n.value < 0 {
			errors = append(errors, ValidationError{
				Field:   n.field,
				Value:   n.value,
				Message: "must be non-negative",
			})
		}
	}

	timeouts := []struct {
		field string
		value any
		ok    bool
	}{
		{"execution.capability_timeout", e.CapabilityTimeout, e.CapabilityTimeout > 0},
		{"execution.coder_timeout", e.CoderTimeout, e.CoderTimeout > 0},
		{"execution.merge_timeout", e.MergeTimeout, e.MergeTimeout > 0},
		{"execution.integration_test_timeout", e.IntegrationTestTimeout, e.IntegrationTestTimeout > 0},
	}
	for _, to := range timeouts {
		if !to.ok {
			errors = append(errors, ValidationError{
				Field:   to.field,
				Value:   to.value,
				Message: "must be positive",
			})
		}
	}

	if e.CapabilityRateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.capability_rate_limit",
			Value:   e.CapabilityRateLimit,
			Message: "must be non-negative (0 disables rate limiting)",
		})
	}
	if e.CapabilityRateLimit > 0 && e.CapabilityBurst < 1 {
		errors = append(errors, ValidationError{
			Field:   "execution.capability_burst",
			Value:   e.CapabilityBurst,
			Message: "must be at least 1 when rate limiting is enabled",
		})
	}

	return errors
}

// validateCapabilities validates the CapabilitiesConfig
func (c *Config) validateCapabilities() []ValidationError {
	var errors []ValidationError

	for name, cmd := range c.Capabilities.Overrides {
		if _, ok := capability.ParseKind(name); !ok {
			errors = append(errors, ValidationError{
				Field:   "capabilities.overrides." + name,
				Value:   name,
				Message: fmt.Sprintf("unknown capability; must be one of: %s", strings.Join(capability.Targets(), ", ")),
			})
			continue
		}
		if len(cmd) == 0 {
			errors = append(errors, ValidationError{
				Field:   "capabilities.overrides." + name,
				Value:   cmd,
				Message: "command must not be empty",
			})
		}
	}

	for _, kv := range c.Capabilities.Env {
		if !strings.Contains(kv, "=") {
			errors = append(errors, ValidationError{
				Field:   "capabilities.env",
				Value:   kv,
				Message: "entries must have the form KEY=VALUE",
			})
		}
	}

	return errors
}

// validateWorkspace validates the WorkspaceConfig
func (c *Config) validateWorkspace() []ValidationError {
	var errors []ValidationError
	w := c.Workspace

	if w.IntegrationBranchPrefix != "" && !branchPrefixRegex.MatchString(w.IntegrationBranchPrefix) {
		errors = append(errors, ValidationError{
			Field:   "workspace.integration_branch_prefix",
			Value:   w.IntegrationBranchPrefix,
			Message: "must start with a letter and contain only letters, digits, '-', '_' or '/'",
		})
	}

	seen := map[string]bool{}
	primaries := 0
	for i, r := range w.Repos {
		field := fmt.Sprintf("workspace.repos[%d]", i)
		if r.Name == "" {
			errors = append(errors, ValidationError{Field: field + ".name", Value: r.Name, Message: "must not be empty"})
		} else if seen[r.Name] {
			errors = append(errors, ValidationError{Field: field + ".name", Value: r.Name, Message: "duplicate repository name"})
		}
		seen[r.Name] = true

		if r.Path == "" {
			errors = append(errors, ValidationError{Field: field + ".path", Value: r.Path, Message: "must not be empty"})
		}

		validRoles := []string{string(dag.RolePrimary), string(dag.RoleDependency)}
		if r.Role != "" && !slices.Contains(validRoles, r.Role) {
			errors = append(errors, ValidationError{
				Field:   field + ".role",
				Value:   r.Role,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(validRoles, ", ")),
			})
		}
		if r.Role == string(dag.RolePrimary) {
			primaries++
		}
	}
	if primaries > 1 {
		errors = append(errors, ValidationError{
			Field:   "workspace.repos",
			Value:   primaries,
			Message: "at most one repository may be primary",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
