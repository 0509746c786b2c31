package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jacentio/trellis/config"
	"github.com/jacentio/trellis/logging"
)

// commandOptions holds the flags shared by every subcommand.
type commandOptions struct {
	ConfigFile string
	Verbose    bool
	JSONOutput bool
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mirror",
		Short:         "Mirror a remote collection and print it as it changes",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to mirror.yml or mirror.toml")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDocCmd())
	cmd.AddCommand(newDemoCmd())
	return cmd
}

func getOptions(cmd *cobra.Command) commandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return commandOptions{
		ConfigFile: configFile,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// getLogger returns the command logger, raised to debug with --verbose.
func getLogger(cmd *cobra.Command) *logrus.Entry {
	if getOptions(cmd).Verbose {
		logging.SetLevel(logrus.DebugLevel)
	}
	return logging.NewLogger("mirror")
}

// loadDefaults reads --config when given and the environment otherwise.
func loadDefaults(cmd *cobra.Command) (*config.Defaults, error) {
	if file := getOptions(cmd).ConfigFile; file != "" {
		return config.Load(file)
	}
	return config.FromEnv()
}
