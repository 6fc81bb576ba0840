package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/issueforge/internal/config"
)

// ProjectConfigFile is the per-repository config file name.
const ProjectConfigFile = "issueforge.yaml"

// Version is stamped at build time with -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "issueforge",
	Short: "Self-healing DAG executor for planned coding issues",
	Long: `Issueforge executes a planned set of coding issues level by level.

Each issue runs in its own git worktree through a coder and reviewer loop,
with an advisor that can relax, redirect, split, or escalate failing issues
and a replanner that can rewrite the remaining graph. Progress is
checkpointed so an interrupted build can be resumed.`,
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/issueforge/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if _, err := os.Stat(ProjectConfigFile); err == nil {
		// A project file in the working directory wins over the user config.
		viper.SetConfigFile(ProjectConfigFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ISSUEFORGE")
	// e.g. ISSUEFORGE_EXECUTION_MAX_REPLANS for execution.max_replans
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
