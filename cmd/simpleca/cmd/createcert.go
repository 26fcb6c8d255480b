package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jmcleod/simpleca/ca"
	"github.com/jmcleod/simpleca/issuer"
)

var createCertCmd = &cobra.Command{
	Use:   "create-cert COMMONNAME",
	Short: "Create a certificate with the specified COMMONNAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commonName := args[0]

		c := ca.New(caDir)
		cert, err := c.IssueLeaf(commonName)
		if err != nil {
			return err
		}

		log.Info().
			Str("subject", issuer.PrettyName(cert.Subject)).
			Str("serial", cert.SerialNumber.String()).
			Time("not_after", cert.NotAfter).
			Msg("certificate issued")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCertCmd)
}
