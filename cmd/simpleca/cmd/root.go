package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	caDir string
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "simpleca",
	Short: "SimpleCA is a tool to easily manage a certificate authority",
	Long: `A minimal private certificate authority manager: it bootstraps a root
signing key and certificate, then issues leaf certificates signed by that
root, all backed by a plain CA directory on disk.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			With().Timestamp().Logger()
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&caDir, "ca-dir", "./ca", "directory where the CA is stored")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
