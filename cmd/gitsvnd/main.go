// Command gitsvnd serves Git repositories to Subversion clients over svn://.
package main

import (
	"fmt"
	"os"

	"github.com/mfaure/git-as-svn/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gitsvnd",
	Short: "gitsvnd - read-only Subversion access to Git repositories",
	Long: `gitsvnd exposes the first-parent history of a Git branch as a sequence
of Subversion revisions and serves it over the svn:// protocol.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var (
	flagDebug     bool
	flagLogFormat string
	flagConfig    string
	flagRepos     string
	flagData      string
	flagBranch    string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&flagConfig, "config", "", "YAML configuration file")
	pf.StringVar(&flagRepos, "repos", "", "Directory holding the Git repositories (default: ./repos)")
	pf.StringVar(&flagData, "data", "", "Directory holding the revision indexes (default: ./data)")
	pf.StringVar(&flagBranch, "branch", "", "Branch exposed as revision history (default: master)")

	rootCmd.AddCommand(serveCmd, indexCmd, lsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	switch flagLogFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", flagLogFormat)
	}
	logrus.SetLevel(logrus.InfoLevel)
	if flagDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// loadConfig layers the environment, the config file and the flags, in
// that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.FromEnv()
	if flagConfig != "" {
		if err := config.LoadFile(cfg, flagConfig); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("repos") {
		cfg.ReposDir = flagRepos
	}
	if flags.Changed("data") {
		cfg.DataDir = flagData
	}
	if flags.Changed("branch") {
		cfg.Branch = flagBranch
	}
	if flags.Changed("debug") {
		cfg.Debug = flagDebug
	}
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return cfg, nil
}
