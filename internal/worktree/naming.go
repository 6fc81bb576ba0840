package worktree

import (
	"fmt"
	"strings"
)

// BranchPrefix is the namespace for per-issue branches.
const BranchPrefix = "issue/"

// DirPrefix is the prefix of per-issue worktree directories.
const DirPrefix = "issue-"

// issueStem renders "<build>-NN-<name>", omitting the build segment when
// buildID is empty.
func issueStem(buildID string, seq int, name string) string {
	stem := fmt.Sprintf("%02d-%s", seq, name)
	if buildID != "" {
		stem = buildID + "-" + stem
	}
	return stem
}

// BranchName returns issue/<build>-NN-<name>.
func BranchName(buildID string, seq int, name string) string {
	return BranchPrefix + issueStem(buildID, seq, name)
}

// DirName returns issue-<build>-NN-<name>.
func DirName(buildID string, seq int, name string) string {
	return DirPrefix + issueStem(buildID, seq, name)
}

// IsIssueBranch reports whether branch is in the per-issue namespace.
func IsIssueBranch(branch string) bool {
	return strings.HasPrefix(branch, BranchPrefix)
}
