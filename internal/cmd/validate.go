package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/issueforge/internal/dag"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check an issue list and print its execution levels",
	Long: `Validate an issue list (YAML or JSON) without running it.

This command checks:
  - The file parses as a list of issues or {issues: [...]}
  - Issue names are unique and non-empty
  - Every dependency names an issue in the list
  - The dependency graph has no cycles

The exit code is non-zero when the list is invalid.

Examples:
  issueforge validate plan/issues.yaml
  issueforge validate --json issues.json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var validateJSON bool

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output the computed levels as JSON")
}

// validateOutput is the --json document.
type validateOutput struct {
	FilePath string     `json:"file_path"`
	Issues   int        `json:"issues"`
	Levels   [][]string `json:"levels"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	issues, err := dag.LoadIssues(args[0])
	if err != nil {
		return err
	}
	levels, err := dag.ComputeLevels(issues)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if validateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(validateOutput{FilePath: args[0], Issues: len(issues), Levels: levels})
	}

	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("%s: %d issues in %d levels", args[0], len(issues), len(levels))))
	for i, names := range levels {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("level %d", i)), strings.Join(names, ", "))
	}
	return nil
}
