package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jmcleod/simpleca/ca"
	"github.com/jmcleod/simpleca/store"
)

var initKeyBits int

var initcaCmd = &cobra.Command{
	Use:   "initca",
	Short: "Initialize the CA directory",
	Long: `Create the CA directory structure and initial files, including the
root CA key pair and self-signed certificate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().Str("dir", caDir).Msg("initializing new CA")

		c := ca.New(caDir, ca.WithKeyBits(initKeyBits))
		if err := c.Init(); err != nil {
			if errors.Is(err, store.ErrAlreadyInitialized) {
				// Dedicated exit path: naming the conflicting directory is
				// the one failure an operator is expected to branch on.
				fmt.Fprintf(os.Stderr, "The CA directory (%s) exists, not doing anything\n", caDir)
				os.Exit(1)
			}
			return err
		}

		log.Info().Str("dir", caDir).Msg("CA initialized")
		return nil
	},
}

func init() {
	initcaCmd.Flags().IntVar(&initKeyBits, "key-bits", ca.DefaultKeyBits, "RSA key strength in bits")
	rootCmd.AddCommand(initcaCmd)
}
