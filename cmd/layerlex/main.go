package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
	driver     string
	dsn        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "layerlex",
		Short: "Classify raw layer names and feature codes into canonical identities",
		Long: `layerlex turns inconsistent identifiers (CAD layer names, survey feature codes)
into canonical structured names.

Raw names are matched against prioritized extraction patterns, the extracted
components and attributes are resolved against tiered mapping rules, and every
step is recorded in a deterministic pipeline log.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file; overrides LAYERLEX_CONFIG and the search paths")
	flags.StringVar(&opts.driver, "driver", "", "Database driver override (sqlite or postgres)")
	flags.StringVar(&opts.dsn, "dsn", "", "Database DSN override")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level override")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newExtractCmd(opts),
		newResolveCmd(opts),
		newClassifyCmd(opts),
		newPatternsCmd(opts),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
